package pipeline

import (
	"context"

	"github.com/hollowvale/dreadhex/internal/resilience"
	"github.com/hollowvale/dreadhex/pkg/provider/llm"
	"github.com/hollowvale/dreadhex/pkg/types"
)

// offlineProvider stands in for the oracle when no backend is configured.
// Cache hits never reach it; every miss fails immediately with
// [ErrOracleUnavailable], marked permanent so the retry loop does not spin.
type offlineProvider struct{}

var _ llm.Provider = offlineProvider{}

func (offlineProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, resilience.NewPermanent(ErrOracleUnavailable)
}

func (offlineProvider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total, nil
}

func (offlineProvider) Capabilities() types.ModelCapabilities {
	return types.ModelCapabilities{}
}
