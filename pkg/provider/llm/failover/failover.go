// Package failover composes a primary oracle with fallbacks behind per-entry
// circuit breakers, so a long batch run survives a provider outage by
// switching to the next healthy backend.
package failover

import (
	"context"

	"github.com/hollowvale/dreadhex/internal/resilience"
	"github.com/hollowvale/dreadhex/pkg/provider/llm"
	"github.com/hollowvale/dreadhex/pkg/types"
)

// Provider implements llm.Provider over a resilience.FallbackGroup.
// Completions rotate to fallbacks on failure; token counting and capability
// queries always answer from the primary, since budget math must be stable
// across a run.
type Provider struct {
	primary llm.Provider
	group   *resilience.FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*Provider)(nil)

// New creates a failover Provider with primary as the first entry.
func New(primary llm.Provider, name string, cfg resilience.FallbackConfig) *Provider {
	return &Provider{
		primary: primary,
		group:   resilience.NewFallbackGroup(primary, name, cfg),
	}
}

// AddFallback appends a fallback backend. Must not race with Complete.
func (p *Provider) AddFallback(name string, backend llm.Provider) {
	p.group.AddFallback(name, backend)
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return resilience.ExecuteWithResult(p.group, func(backend llm.Provider) (*llm.CompletionResponse, error) {
		return backend.Complete(ctx, req)
	})
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return p.primary.CountTokens(messages)
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.primary.Capabilities()
}
