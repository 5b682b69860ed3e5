package resilience

import (
	"time"
)

// FromRetryConfig builds a RetryConfig from flat configuration values,
// keeping defaults for anything unset or out of range.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = positiveOr(maxAttempts, cfg.MaxAttempts)
	if d := millis(initialBackoffMs); d > 0 {
		cfg.InitialBackoff = d
	}
	if d := millis(maxBackoffMs); d > 0 {
		cfg.MaxBackoff = d
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	// Zero jitter is a valid setting, so only negatives fall back.
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromCircuitConfig builds a CircuitBreakerConfig from flat configuration
// values, keeping defaults for anything unset.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = positiveOr(failureThreshold, cfg.FailureThreshold)
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func millis(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Millisecond
}
