package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hollowvale/dreadhex/internal/extract"
	"github.com/hollowvale/dreadhex/internal/observe"
	"github.com/hollowvale/dreadhex/internal/resilience"
	"github.com/hollowvale/dreadhex/pkg/provider/llm"
	"github.com/hollowvale/dreadhex/pkg/types"
)

// AnalysisError reports a per-cluster failure. Clusters fail independently;
// the orchestrator keeps going and the caller decides whether a partial run
// is acceptable.
type AnalysisError struct {
	Category string
	Cluster  string
	Stage    string // "prompt", "complete", "decode", "validate"
	Err      error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis %s/%s (%s): %v", e.Category, e.Cluster, e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

const (
	defaultMaxPromptTokens = 4000
	defaultMaxWorkers      = 4
)

// Orchestrator fans extraction clusters out to an oracle and collects the
// structured inventories it returns. Results land in the on-disk cache so an
// interrupted run resumes where it stopped.
type Orchestrator struct {
	provider        llm.Provider
	cache           *Cache
	limiter         *rate.Limiter
	maxWorkers      int
	maxPromptTokens int
	retry           resilience.RetryConfig
	log             *slog.Logger
	metrics         *observe.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxWorkers bounds concurrent oracle calls.
func WithMaxWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

// WithMaxPromptTokens caps the composed prompt size per cluster.
func WithMaxPromptTokens(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPromptTokens = n
		}
	}
}

// WithRateLimit throttles oracle calls to n per second.
func WithRateLimit(n float64) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(n), 1)
		}
	}
}

// WithRetryConfig overrides the transport retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(o *Orchestrator) { o.retry = cfg }
}

// WithLogger sets the logger used for per-cluster progress.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithMetrics sets the metrics instance oracle calls are recorded against.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// NewOrchestrator builds an orchestrator over the given oracle provider and
// inventory cache.
func NewOrchestrator(provider llm.Provider, cache *Cache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:        provider,
		cache:           cache,
		limiter:         rate.NewLimiter(rate.Inf, 1),
		maxWorkers:      defaultMaxWorkers,
		maxPromptTokens: defaultMaxPromptTokens,
		retry: resilience.RetryConfig{
			Name:        "oracle",
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result carries the outcome of an AnalyzeAll run.
type Result struct {
	Inventories []*Inventory
	CacheHits   int
	OracleCalls int
	Failures    []*AnalysisError
	TotalUsage  llm.Usage
}

// AnalyzeAll processes every cluster, skipping those whose cached inventory
// still matches the cluster hash. Cluster failures are collected, not fatal;
// ctx cancellation stops the run.
func (o *Orchestrator) AnalyzeAll(ctx context.Context, clusters []*extract.Cluster) (*Result, error) {
	res := &Result{}

	type outcome struct {
		inv   *Inventory
		hit   bool
		usage llm.Usage
		err   *AnalysisError
	}
	outcomes := make([]outcome, len(clusters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxWorkers)

	for i, cluster := range clusters {
		g.Go(func() error {
			o.metrics.ActiveWorkers.Add(gctx, 1)
			defer o.metrics.ActiveWorkers.Add(gctx, -1)

			hash := cluster.BaseHash()
			if inv, ok := o.cache.Get(string(cluster.Key.Category), cluster.Key.Name, hash); ok {
				o.log.Debug("analysis cache hit",
					"category", cluster.Key.Category, "cluster", cluster.Key.Name)
				outcomes[i] = outcome{inv: inv, hit: true}
				return nil
			}

			inv, usage, err := o.analyzeCluster(gctx, cluster, hash)
			if err != nil {
				var aerr *AnalysisError
				if ae, ok := err.(*AnalysisError); ok {
					aerr = ae
				} else {
					aerr = &AnalysisError{
						Category: string(cluster.Key.Category),
						Cluster:  cluster.Key.Name,
						Stage:    "complete",
						Err:      err,
					}
				}
				o.log.Error("cluster analysis failed",
					"category", aerr.Category, "cluster", aerr.Cluster,
					"stage", aerr.Stage, "error", aerr.Err)
				outcomes[i] = outcome{err: aerr}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return nil
			}
			outcomes[i] = outcome{inv: inv, usage: usage}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}

	for _, oc := range outcomes {
		switch {
		case oc.err != nil:
			res.Failures = append(res.Failures, oc.err)
		case oc.inv != nil:
			res.Inventories = append(res.Inventories, oc.inv)
			if oc.hit {
				res.CacheHits++
			} else {
				res.OracleCalls++
				res.TotalUsage.PromptTokens += oc.usage.PromptTokens
				res.TotalUsage.CompletionTokens += oc.usage.CompletionTokens
			}
		}
	}
	sort.Slice(res.Inventories, func(a, b int) bool {
		if res.Inventories[a].Category != res.Inventories[b].Category {
			return res.Inventories[a].Category < res.Inventories[b].Category
		}
		return res.Inventories[a].Cluster < res.Inventories[b].Cluster
	})
	return res, nil
}

func (o *Orchestrator) analyzeCluster(ctx context.Context, cluster *extract.Cluster, hash string) (*Inventory, llm.Usage, error) {
	category := string(cluster.Key.Category)
	spec := SpecFor(cluster.Key.Category)

	req, err := o.composePrompt(cluster, spec)
	if err != nil {
		return nil, llm.Usage{}, &AnalysisError{
			Category: category, Cluster: cluster.Key.Name, Stage: "prompt", Err: err,
		}
	}

	start := time.Now()
	var (
		inv   *Inventory
		usage llm.Usage
		stage = "complete"
	)
	err = resilience.Retry(ctx, o.retry, func() error {
		if err := o.limiter.Wait(ctx); err != nil {
			return resilience.NewPermanent(err)
		}
		callStart := time.Now()
		resp, err := o.provider.Complete(ctx, req)
		o.metrics.OracleDuration.Record(ctx, time.Since(callStart).Seconds())
		if err != nil {
			o.metrics.RecordOracleRequest(ctx, "analysis", "error")
			return err
		}
		o.metrics.RecordOracleRequest(ctx, "analysis", "ok")
		usage = resp.Usage

		decoded, err := decodeInventory(resp.Content)
		if err != nil {
			stage = "decode"
			return fmt.Errorf("decode inventory: %w", err)
		}
		decoded.Category = cluster.Key.Category
		decoded.Cluster = cluster.Key.Name
		decoded.BaseHash = hash

		if err := ValidateInventory(decoded); err != nil {
			stage = "validate"
			return resilience.NewPermanent(err)
		}
		if spec.Validate != nil {
			if err := spec.Validate(decoded); err != nil {
				stage = "validate"
				return resilience.NewPermanent(err)
			}
		}
		stage = "complete"
		inv = decoded
		return nil
	})
	if err != nil {
		return nil, usage, &AnalysisError{
			Category: category, Cluster: cluster.Key.Name, Stage: stage, Err: err,
		}
	}

	if err := o.cache.Put(inv); err != nil {
		return nil, usage, err
	}
	o.log.Info("cluster analyzed",
		"category", category, "cluster", cluster.Key.Name,
		"models", len(inv.Models), "duration", time.Since(start).Round(time.Millisecond))
	return inv, usage, nil
}

// composePrompt assembles the system and user messages for a cluster and
// enforces the token budget by shrinking the HTML sample until it fits.
func (o *Orchestrator) composePrompt(cluster *extract.Cluster, spec CategorySpec) (llm.CompletionRequest, error) {
	system := spec.Instructions + "\n\nRespond with a single JSON object matching this schema:\n" + inventoryJSONSchema

	sampleBudget := int(float64(o.maxPromptTokens) * spec.SampleShare)
	for {
		sample := CompressSample(cluster, sampleBudget)
		var b strings.Builder
		fmt.Fprintf(&b, "Cluster: %s (%d pages)\n", cluster.Key.String(), len(cluster.Entities))
		if len(spec.Focus) > 0 {
			b.WriteString("Focus: " + strings.Join(spec.Focus, ", ") + "\n")
		}
		b.WriteString("\n" + sample)

		req := llm.CompletionRequest{
			SystemPrompt: system,
			Messages:     []types.Message{{Role: "user", Content: b.String()}},
			Temperature:  0,
			ForceJSON:    true,
		}
		total, err := o.provider.CountTokens(req.Messages)
		if err != nil {
			return llm.CompletionRequest{}, err
		}
		total += len(system) / charsPerToken
		if total <= o.maxPromptTokens {
			return req, nil
		}
		sampleBudget = sampleBudget * 3 / 4
		if sampleBudget < 200 {
			return llm.CompletionRequest{}, fmt.Errorf("cannot fit cluster sample in %d token budget", o.maxPromptTokens)
		}
	}
}

func decodeInventory(content string) (*Inventory, error) {
	// Some backends wrap JSON in markdown fences even with JSON mode on.
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	var inv Inventory
	dec := json.NewDecoder(strings.NewReader(content))
	if err := dec.Decode(&inv); err != nil {
		return nil, err
	}
	return &inv, nil
}
