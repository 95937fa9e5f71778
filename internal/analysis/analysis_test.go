package analysis_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hollowvale/dreadhex/internal/analysis"
	"github.com/hollowvale/dreadhex/internal/extract"
	"github.com/hollowvale/dreadhex/internal/observe"
	"github.com/hollowvale/dreadhex/internal/resilience"
	"github.com/hollowvale/dreadhex/pkg/provider/llm"
	"github.com/hollowvale/dreadhex/pkg/provider/llm/mock"
)

const validInventoryJSON = `{
  "models": [
    {
      "model_name": "Settlement",
      "fields": [
        {"name": "uuid", "type_tag": "uuid", "required": true, "is_uuid": true},
        {"name": "name", "type_tag": "string", "required": true},
        {"name": "population", "type_tag": "int"}
      ]
    }
  ]
}`

func testCluster(category extract.Category, name string, n int) *extract.Cluster {
	c := &extract.Cluster{Key: extract.ClusterKey{Category: category, Name: name}}
	for i := 0; i < n; i++ {
		c.Entities = append(c.Entities, extract.RawEntity{
			UUID:  fmt.Sprintf("page%08d", i),
			HTML:  fmt.Sprintf("<h1>Entry %d</h1><p>A cold place where nothing good happens.</p>", i),
			Title: fmt.Sprintf("Entry %d", i),
		})
	}
	return c
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		Name:        "test",
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestAnalyzeAllProducesInventory(t *testing.T) {
	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: validInventoryJSON,
			Usage:   llm.Usage{PromptTokens: 100, CompletionTokens: 50},
		},
	}
	cache := analysis.NewCache(t.TempDir())
	o := analysis.NewOrchestrator(p, cache, analysis.WithRetryConfig(fastRetry()))

	cluster := testCluster(extract.CategorySettlements, "Blackfen", 3)
	res, err := o.AnalyzeAll(context.Background(), []*extract.Cluster{cluster})
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if len(res.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", res.Failures)
	}
	if len(res.Inventories) != 1 {
		t.Fatalf("got %d inventories, want 1", len(res.Inventories))
	}

	inv := res.Inventories[0]
	if inv.Category != extract.CategorySettlements || inv.Cluster != "Blackfen" {
		t.Errorf("inventory addressed to %s/%s", inv.Category, inv.Cluster)
	}
	if inv.BaseHash != cluster.BaseHash() {
		t.Errorf("inventory hash %q does not match cluster hash %q", inv.BaseHash, cluster.BaseHash())
	}
	if res.OracleCalls != 1 || res.CacheHits != 0 {
		t.Errorf("calls=%d hits=%d, want 1/0", res.OracleCalls, res.CacheHits)
	}
	if res.TotalUsage.PromptTokens != 100 {
		t.Errorf("usage not accumulated: %+v", res.TotalUsage)
	}
}

func TestAnalyzeAllRecordsOracleMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: validInventoryJSON},
	}
	o := analysis.NewOrchestrator(p, analysis.NewCache(t.TempDir()),
		analysis.WithRetryConfig(fastRetry()),
		analysis.WithMetrics(metrics),
	)

	cluster := testCluster(extract.CategorySettlements, "Blackfen", 2)
	if _, err := o.AnalyzeAll(context.Background(), []*extract.Cluster{cluster}); err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var requests int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "dreadhex.oracle.requests" {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					requests += dp.Value
				}
			}
		}
	}
	if requests != 1 {
		t.Errorf("oracle requests recorded = %d, want 1", requests)
	}
}

func TestAnalyzeAllCacheHitSkipsOracle(t *testing.T) {
	dir := t.TempDir()
	cluster := testCluster(extract.CategoryNPCs, "Blackfen", 2)

	p1 := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: validInventoryJSON},
	}
	cache := analysis.NewCache(dir)
	o1 := analysis.NewOrchestrator(p1, cache, analysis.WithRetryConfig(fastRetry()))
	if _, err := o1.AnalyzeAll(context.Background(), []*extract.Cluster{cluster}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Second run over the same backpack content must not touch the oracle.
	p2 := &mock.Provider{CompleteErr: errors.New("oracle must not be called")}
	o2 := analysis.NewOrchestrator(p2, analysis.NewCache(dir), analysis.WithRetryConfig(fastRetry()))
	res, err := o2.AnalyzeAll(context.Background(), []*extract.Cluster{cluster})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if p2.Calls() != 0 {
		t.Errorf("oracle called %d times on cache hit", p2.Calls())
	}
	if res.CacheHits != 1 || len(res.Inventories) != 1 {
		t.Errorf("hits=%d inventories=%d, want 1/1", res.CacheHits, len(res.Inventories))
	}
}

func TestAnalyzeAllContentChangeInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	cluster := testCluster(extract.CategoryDwellings, "combined", 2)

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: validInventoryJSON},
	}
	o := analysis.NewOrchestrator(p, analysis.NewCache(dir), analysis.WithRetryConfig(fastRetry()))
	if _, err := o.AnalyzeAll(context.Background(), []*extract.Cluster{cluster}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	cluster.Entities[0].HTML += "<p>An addition that changes the page length.</p>"
	res, err := o.AnalyzeAll(context.Background(), []*extract.Cluster{cluster})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.CacheHits != 0 || res.OracleCalls != 1 {
		t.Errorf("hits=%d calls=%d after content change, want 0/1", res.CacheHits, res.OracleCalls)
	}
	if p.Calls() != 2 {
		t.Errorf("oracle called %d times total, want 2", p.Calls())
	}
}

func TestAnalyzeAllSchemaFailureIsNotRetried(t *testing.T) {
	p := &mock.Provider{
		// Valid JSON but violates the inventory schema: no models.
		CompleteResponse: &llm.CompletionResponse{Content: `{"models": []}`},
	}
	o := analysis.NewOrchestrator(p, analysis.NewCache(t.TempDir()),
		analysis.WithRetryConfig(fastRetry()))

	res, err := o.AnalyzeAll(context.Background(),
		[]*extract.Cluster{testCluster(extract.CategoryFactions, "combined", 1)})
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(res.Failures))
	}
	if got := res.Failures[0].Stage; got != "validate" {
		t.Errorf("failure stage = %q, want validate", got)
	}
	if p.Calls() != 1 {
		t.Errorf("oracle called %d times for a schema failure, want 1", p.Calls())
	}
}

func TestAnalyzeAllTransportErrorIsRetried(t *testing.T) {
	p := &mock.Provider{
		CompleteErrs: []error{
			errors.New("connection reset"),
			errors.New("connection reset"),
		},
		CompleteResponse: &llm.CompletionResponse{Content: validInventoryJSON},
	}
	o := analysis.NewOrchestrator(p, analysis.NewCache(t.TempDir()),
		analysis.WithRetryConfig(fastRetry()))

	res, err := o.AnalyzeAll(context.Background(),
		[]*extract.Cluster{testCluster(extract.CategoryShops, "combined", 1)})
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if len(res.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", res.Failures)
	}
	if p.Calls() != 3 {
		t.Errorf("oracle called %d times, want 3 (two failures then success)", p.Calls())
	}
}

func TestAnalyzeAllClusterFailuresAreIsolated(t *testing.T) {
	p := &mock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if strings.Contains(req.Messages[0].Content, "dungeons/") {
				return &llm.CompletionResponse{Content: "not json at all"}, nil
			}
			return &llm.CompletionResponse{Content: validInventoryJSON}, nil
		},
	}
	o := analysis.NewOrchestrator(p, analysis.NewCache(t.TempDir()),
		analysis.WithRetryConfig(resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond}))

	clusters := []*extract.Cluster{
		testCluster(extract.CategorySettlements, "Blackfen", 1),
		testCluster(extract.CategoryDungeons, "Blackfen", 1),
	}
	res, err := o.AnalyzeAll(context.Background(), clusters)
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if len(res.Inventories) != 1 {
		t.Errorf("got %d inventories, want 1 surviving cluster", len(res.Inventories))
	}
	if len(res.Failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(res.Failures))
	}
	if res.Failures[0].Category != "dungeons" || res.Failures[0].Stage != "decode" {
		t.Errorf("failure = %s/%s stage=%s", res.Failures[0].Category,
			res.Failures[0].Cluster, res.Failures[0].Stage)
	}
}

func TestAnalyzeAllPromptStaysInBudget(t *testing.T) {
	budget := 800
	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: validInventoryJSON},
	}
	o := analysis.NewOrchestrator(p, analysis.NewCache(t.TempDir()),
		analysis.WithMaxPromptTokens(budget),
		analysis.WithRetryConfig(fastRetry()))

	// Enough pages that the raw HTML exceeds the budget many times over.
	cluster := testCluster(extract.CategorySettlements, "Blackfen", 200)
	res, err := o.AnalyzeAll(context.Background(), []*extract.Cluster{cluster})
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if len(res.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", res.Failures)
	}
	if p.Calls() != 1 {
		t.Fatalf("oracle called %d times, want 1", p.Calls())
	}

	req := p.CompleteCalls[0].Req
	if !req.ForceJSON {
		t.Error("request did not force JSON mode")
	}
	msgTokens := (len(req.Messages[0].Content) + 3) / 4
	sysTokens := len(req.SystemPrompt) / 4
	if msgTokens+sysTokens > budget {
		t.Errorf("composed prompt is ~%d tokens, budget %d", msgTokens+sysTokens, budget)
	}
}

func TestAnalyzeAllHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &mock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			cancel()
			return nil, ctx.Err()
		},
	}
	o := analysis.NewOrchestrator(p, analysis.NewCache(t.TempDir()),
		analysis.WithMaxWorkers(1),
		analysis.WithRetryConfig(resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond}))

	clusters := []*extract.Cluster{
		testCluster(extract.CategorySettlements, "a", 1),
		testCluster(extract.CategorySettlements, "b", 1),
		testCluster(extract.CategorySettlements, "c", 1),
	}
	_, err := o.AnalyzeAll(ctx, clusters)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if p.Calls() > 1 {
		t.Errorf("oracle called %d times after cancellation", p.Calls())
	}
}

func TestCacheRoundTrip(t *testing.T) {
	cache := analysis.NewCache(t.TempDir())
	inv := &analysis.Inventory{
		Category: extract.CategorySettlements,
		Cluster:  "The Mirelands / Blackfen",
		BaseHash: "deadbeef00112233",
		Models: []analysis.ModelSpec{{
			ModelName: "Settlement",
			Fields:    []analysis.FieldSpec{{Name: "uuid", TypeTag: "uuid", Required: true, IsUUID: true}},
		}},
	}
	if err := cache.Put(inv); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := cache.Get("settlements", "The Mirelands / Blackfen", "deadbeef00112233")
	if !ok {
		t.Fatal("Get missed a freshly written entry")
	}
	if got.Models[0].ModelName != "Settlement" {
		t.Errorf("round trip lost model: %+v", got)
	}

	if _, ok := cache.Get("settlements", "The Mirelands / Blackfen", "0000000000000000"); ok {
		t.Error("Get returned an entry for a different hash")
	}
}

func TestCacheInvalidate(t *testing.T) {
	cache := analysis.NewCache(t.TempDir())
	inv := &analysis.Inventory{
		Category: extract.CategoryNPCs,
		Cluster:  "The Lamplighter",
		BaseHash: "feedface00112233",
		Models: []analysis.ModelSpec{{
			ModelName: "NPC",
			Fields:    []analysis.FieldSpec{{Name: "uuid", TypeTag: "uuid", IsUUID: true}},
		}},
	}
	if err := cache.Put(inv); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := cache.Invalidate("npcs", "The Lamplighter"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := cache.Get("npcs", "The Lamplighter", "feedface00112233"); ok {
		t.Error("Get returned an invalidated entry")
	}

	// Invalidating an absent entry is not an error.
	if err := cache.Invalidate("npcs", "Nobody"); err != nil {
		t.Errorf("Invalidate on missing entry: %v", err)
	}
}

func TestCacheLoadAll(t *testing.T) {
	dir := t.TempDir()
	cache := analysis.NewCache(dir)
	for _, c := range []string{"a", "b"} {
		inv := &analysis.Inventory{
			Category: extract.CategoryNPCs,
			Cluster:  c,
			BaseHash: "1111111111111111",
			Models: []analysis.ModelSpec{{
				ModelName: "NPC",
				Fields:    []analysis.FieldSpec{{Name: "uuid", TypeTag: "uuid", IsUUID: true}},
			}},
		}
		if err := cache.Put(inv); err != nil {
			t.Fatalf("Put(%s): %v", c, err)
		}
	}

	all, err := cache.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d entries, want 2", len(all))
	}

	// Empty cache root is not an error.
	empty := analysis.NewCache(filepath.Join(dir, "missing"))
	none, err := empty.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll on missing dir: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d entries from missing dir", len(none))
	}
}
