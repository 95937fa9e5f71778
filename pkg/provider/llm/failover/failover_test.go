package failover_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hollowvale/dreadhex/internal/resilience"
	"github.com/hollowvale/dreadhex/pkg/provider/llm"
	"github.com/hollowvale/dreadhex/pkg/provider/llm/failover"
	"github.com/hollowvale/dreadhex/pkg/provider/llm/mock"
)

func TestCompleteUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "primary"},
	}
	backup := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "backup"},
	}
	p := failover.New(primary, "primary", resilience.FallbackConfig{})
	p.AddFallback("backup", backup)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "primary" {
		t.Errorf("content = %q, want primary", resp.Content)
	}
	if backup.Calls() != 0 {
		t.Error("backup should not be called while primary is healthy")
	}
}

func TestCompleteFailsOverOnPrimaryError(t *testing.T) {
	primary := &mock.Provider{CompleteErr: errors.New("rate limited")}
	backup := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "backup"},
	}
	p := failover.New(primary, "primary", resilience.FallbackConfig{})
	p.AddFallback("backup", backup)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "backup" {
		t.Errorf("content = %q, want backup", resp.Content)
	}
}

func TestCompleteAllBackendsFailing(t *testing.T) {
	primary := &mock.Provider{CompleteErr: errors.New("down")}
	p := failover.New(primary, "primary", resilience.FallbackConfig{})

	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestOpenBreakerSkipsPrimary(t *testing.T) {
	primary := &mock.Provider{CompleteErr: errors.New("down")}
	backup := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "backup"},
	}
	p := failover.New(primary, "primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1},
	})
	p.AddFallback("backup", backup)

	for i := 0; i < 3; i++ {
		if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
			t.Fatalf("Complete %d: %v", i, err)
		}
	}
	// One real failure trips the breaker; later calls skip the primary.
	if calls := primary.Calls(); calls != 1 {
		t.Errorf("primary calls = %d, want 1", calls)
	}
}

func TestCountTokensAlwaysPrimary(t *testing.T) {
	primary := &mock.Provider{TokenCount: 42}
	backup := &mock.Provider{TokenCount: 7}
	p := failover.New(primary, "primary", resilience.FallbackConfig{})
	p.AddFallback("backup", backup)

	n, err := p.CountTokens(nil)
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n != 42 {
		t.Errorf("tokens = %d, want primary's 42", n)
	}
}
