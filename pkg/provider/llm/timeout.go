package llm

import (
	"context"
	"time"

	"github.com/hollowvale/dreadhex/pkg/types"
)

// WithRequestTimeout bounds every Complete call on p with a per-request
// deadline. It exists for backends whose SDK exposes no timeout knob of its
// own; backends with a native HTTP timeout should prefer that.
// A non-positive d returns p unchanged.
func WithRequestTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{inner: p, timeout: d}
}

type timeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

func (t *timeoutProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Complete(ctx, req)
}

func (t *timeoutProvider) CountTokens(messages []types.Message) (int, error) {
	return t.inner.CountTokens(messages)
}

func (t *timeoutProvider) Capabilities() types.ModelCapabilities {
	return t.inner.Capabilities()
}
