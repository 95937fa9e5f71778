package config

import (
	"errors"
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hollowvale/dreadhex/internal/resilience"
	"github.com/hollowvale/dreadhex/pkg/provider/llm"
	"github.com/hollowvale/dreadhex/pkg/provider/llm/anyllm"
	"github.com/hollowvale/dreadhex/pkg/provider/llm/failover"
	"github.com/hollowvale/dreadhex/pkg/provider/llm/openai"
)

// ErrOracleNotRegistered is returned by [Registry.CreateOracle] when the
// configured oracle name has no registered factory.
var ErrOracleNotRegistered = errors.New("config: oracle not registered")

// Registry maps oracle backend names to constructor functions. It lets the
// driver translate an [OracleConfig] into a live [llm.Provider] without
// hard-coding backend imports at every call site.
type Registry struct {
	oracles map[string]func(OracleConfig) (llm.Provider, error)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		oracles: make(map[string]func(OracleConfig) (llm.Provider, error)),
	}
}

// RegisterOracle registers a factory for the given backend name, replacing
// any previous registration.
func (r *Registry) RegisterOracle(name string, factory func(OracleConfig) (llm.Provider, error)) {
	r.oracles[name] = factory
}

// CreateOracle constructs the oracle provider selected by entry.Name.
func (r *Registry) CreateOracle(entry OracleConfig) (llm.Provider, error) {
	factory, ok := r.oracles[entry.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrOracleNotRegistered, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create oracle %q: %w", entry.Name, err)
	}
	return p, nil
}

// BuildOracle constructs the full oracle stack for entry: the primary backend
// plus, when entry.Fallbacks is non-empty, a failover wrapper that tries each
// fallback backend in order once the primary is unhealthy.
func BuildOracle(entry OracleConfig, reg *Registry) (llm.Provider, error) {
	primary, err := reg.CreateOracle(entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	fo := failover.New(primary, entry.Name, resilience.FallbackConfig{})
	for _, fb := range entry.Fallbacks {
		backend, err := reg.CreateOracle(fb)
		if err != nil {
			return nil, fmt.Errorf("config: create fallback oracle %q: %w", fb.Name, err)
		}
		fo.AddFallback(fb.Name, backend)
	}
	return fo, nil
}

// DefaultRegistry returns a registry with the built-in oracle backends.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterOracle("openai", func(entry OracleConfig) (llm.Provider, error) {
		opts := []openai.Option{openai.WithTimeout(entry.RequestTimeout())}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})
	for _, name := range []string{"anthropic", "ollama"} {
		r.RegisterOracle(name, func(entry OracleConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(entry.Name, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			// any-llm-go has no timeout knob; bound the request by deadline.
			return llm.WithRequestTimeout(p, entry.RequestTimeout()), nil
		})
	}
	return r
}
