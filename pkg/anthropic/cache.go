package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// cacheTTL is the prompt-cache lifetime for the shared system framing. One
// reconciliation run finishes well inside an hour.
const cacheTTL = "1h"

// BuildCachedSystemBlocks wraps the shared system prompt in a single content
// block carrying a cache breakpoint. The evidence header is identical across
// every change in a run, so one warm entry serves the whole batch.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{{
		Text:         text,
		CacheControl: &CacheControl{TTL: cacheTTL},
	}}
}

// PrimerRequest issues one message up front to populate the prompt cache
// before the per-change evaluations fan out. The response body is usually
// discarded; callers only care that the cache entry now exists.
func PrimerRequest(ctx context.Context, client Client, req MessageRequest) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: primer request")
	}
	return resp, nil
}
