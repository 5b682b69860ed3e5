package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Ledger    LedgerConfig    `yaml:"ledger" mapstructure:"ledger"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Policy    PolicyConfig    `yaml:"policy" mapstructure:"policy"`
	Project   ProjectConfig   `yaml:"project" mapstructure:"project"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the entity state store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// LedgerConfig configures the budget ledger backend. The ledger may live in
// a different database than the state store.
type LedgerConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// PolicyConfig holds the business rules quoted to the model and enforced at
// the dispatch gate.
type PolicyConfig struct {
	ApprovalThreshold string  `yaml:"approval_threshold" mapstructure:"approval_threshold"`
	MaxContingency    string  `yaml:"max_contingency" mapstructure:"max_contingency"`
	MinConfidence     float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
}

// Thresholds parses the money-valued policy fields. Kept as strings in the
// config so they round-trip exactly.
func (p PolicyConfig) Thresholds() (approval, contingency decimal.Decimal, err error) {
	approval, err = decimal.NewFromString(p.ApprovalThreshold)
	if err != nil {
		return decimal.Zero, decimal.Zero, eris.Wrapf(err, "config: approval_threshold %q", p.ApprovalThreshold)
	}
	contingency, err = decimal.NewFromString(p.MaxContingency)
	if err != nil {
		return decimal.Zero, decimal.Zero, eris.Wrapf(err, "config: max_contingency %q", p.MaxContingency)
	}
	return approval, contingency, nil
}

// ProjectConfig is optional project framing included in evidence packages.
type ProjectConfig struct {
	Name  string `yaml:"name" mapstructure:"name"`
	Floor string `yaml:"floor" mapstructure:"floor"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentChanges int `yaml:"max_concurrent_changes" mapstructure:"max_concurrent_changes"`
}

// RetryConfig configures transient-error retries for model calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the model-call circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RECONCILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "reconcile.db")
	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.sqlite_path", "reconcile.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_changes", 4)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.requests_per_second", 2.0)
	v.SetDefault("policy.approval_threshold", "5000")
	v.SetDefault("policy.max_contingency", "0.10")
	v.SetDefault("policy.min_confidence", 0.85)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable for the given mode.
// Modes: "reconcile" (full pipeline), "serve" (webhook server), "ledger"
// (store-only commands like migrate, pending, summary).
func (c *Config) Validate(mode string) error {
	var problems []string

	checkStore := func(name string, driver, url, path string) {
		switch driver {
		case "sqlite":
			if path == "" {
				problems = append(problems, name+".sqlite_path is required for the sqlite driver")
			}
		case "postgres":
			if url == "" {
				problems = append(problems, name+".database_url is required for the postgres driver")
			}
		default:
			problems = append(problems, name+".driver must be sqlite or postgres")
		}
	}

	checkPolicy := func() {
		if c.Policy.MinConfidence < 0 || c.Policy.MinConfidence > 1 {
			problems = append(problems, "policy.min_confidence must be between 0 and 1")
		}
		if _, _, err := c.Policy.Thresholds(); err != nil {
			problems = append(problems, "policy thresholds must be decimal numbers")
		}
	}

	switch mode {
	case "reconcile":
		checkStore("store", c.Store.Driver, c.Store.DatabaseURL, c.Store.SQLitePath)
		checkStore("ledger", c.Ledger.Driver, c.Ledger.DatabaseURL, c.Ledger.SQLitePath)
		checkPolicy()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Batch.MaxConcurrentChanges < 1 || c.Batch.MaxConcurrentChanges > 50 {
			problems = append(problems, "batch.max_concurrent_changes must be between 1 and 50")
		}
	case "serve":
		checkStore("store", c.Store.Driver, c.Store.DatabaseURL, c.Store.SQLitePath)
		checkStore("ledger", c.Ledger.Driver, c.Ledger.DatabaseURL, c.Ledger.SQLitePath)
		checkPolicy()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "ledger":
		checkStore("ledger", c.Ledger.Driver, c.Ledger.DatabaseURL, c.Ledger.SQLitePath)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
