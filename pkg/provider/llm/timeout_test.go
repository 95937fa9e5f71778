package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hollowvale/dreadhex/pkg/provider/llm"
	"github.com/hollowvale/dreadhex/pkg/provider/llm/mock"
)

func TestWithRequestTimeoutSetsDeadline(t *testing.T) {
	var deadline time.Time
	var hasDeadline bool
	inner := &mock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			deadline, hasDeadline = ctx.Deadline()
			return &llm.CompletionResponse{Content: "ok"}, nil
		},
	}

	p := llm.WithRequestTimeout(inner, 30*time.Second)
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !hasDeadline {
		t.Fatal("inner provider saw no deadline")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 30*time.Second {
		t.Errorf("deadline %v from now, want within 30s", remaining)
	}
}

func TestWithRequestTimeoutExpires(t *testing.T) {
	inner := &mock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	p := llm.WithRequestTimeout(inner, time.Millisecond)
	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestWithRequestTimeoutZeroIsPassthrough(t *testing.T) {
	inner := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	if got := llm.WithRequestTimeout(inner, 0); got != llm.Provider(inner) {
		t.Error("zero timeout should return the provider unchanged")
	}
}
