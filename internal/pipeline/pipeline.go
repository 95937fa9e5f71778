// Package pipeline runs the worldbook transformation end to end: load,
// extract, hash, analyze, resolve, audit, emit, generate, bridge. Stages run
// strictly in order; only the oracle stages parallelise internally.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/hollowvale/dreadhex/internal/analysis"
	"github.com/hollowvale/dreadhex/internal/assetbridge"
	"github.com/hollowvale/dreadhex/internal/audit"
	"github.com/hollowvale/dreadhex/internal/config"
	"github.com/hollowvale/dreadhex/internal/content"
	"github.com/hollowvale/dreadhex/internal/emit"
	"github.com/hollowvale/dreadhex/internal/extract"
	"github.com/hollowvale/dreadhex/internal/hashing"
	"github.com/hollowvale/dreadhex/internal/hbf"
	"github.com/hollowvale/dreadhex/internal/manifest"
	"github.com/hollowvale/dreadhex/internal/observe"
	"github.com/hollowvale/dreadhex/internal/resolve"
	"github.com/hollowvale/dreadhex/pkg/provider/llm"
)

// Exit codes of the pipeline driver.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitInvalidInput     = 2
	ExitOracleRequired   = 3
	ExitSchemaValidation = 4
	ExitEmission         = 5
	ExitManifestLocked   = 6
)

// ErrOracleUnavailable is reported when a stage needs an oracle call but no
// backend is configured and the cache has no entry for the work item.
var ErrOracleUnavailable = errors.New("pipeline: oracle unavailable and cache incomplete")

// maxStageRespawns bounds how often a panicking stage is restarted before the
// run is declared failed.
const maxStageRespawns = 3

// Runner coordinates one pipeline run.
type Runner struct {
	cfg      *config.Config
	provider llm.Provider
	reporter *audit.Reporter
	metrics  *observe.Metrics
	log      *slog.Logger
	repair   bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithProvider sets the oracle backend. Without one the run is offline: the
// AI stages succeed only from cache.
func WithProvider(p llm.Provider) Option {
	return func(r *Runner) { r.provider = p }
}

// WithReporter sets the audit report writer. Nil disables audit output.
func WithReporter(rep *audit.Reporter) Option {
	return func(r *Runner) { r.reporter = rep }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the run logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithRepair enables manifest rebuild when the on-disk manifest fails to
// parse.
func WithRepair(repair bool) Option {
	return func(r *Runner) { r.repair = repair }
}

// New builds a Runner for cfg.
func New(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Result carries everything a run produced, including partial results of a
// failed run. Artifacts already written stay on disk either way.
type Result struct {
	Summary  *audit.RunSummary
	Analysis *analysis.Result
	World    *resolve.World
	Handles  []assetbridge.Handle
	ExitCode int
}

// Run executes the full stage sequence. The returned error is the fatal
// failure, if any; warnings are counted in Result.Summary instead. Result is
// never nil.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	run := &runState{
		Runner:  r,
		ctx:     ctx,
		summary: audit.NewRunSummary(),
		out:     r.cfg.Paths.Out,
	}
	if run.out == "" {
		run.out = "out"
	}

	res := &Result{Summary: run.summary}
	err := run.execute(res)
	res.ExitCode = run.exitCode(err)
	r.writeSummary(run)
	return res, err
}

// runState is the per-run mutable state shared between stages.
type runState struct {
	*Runner

	ctx     context.Context
	summary *audit.RunSummary
	out     string

	snapshot  *hbf.Snapshot
	extracted *extract.Result
	manifest  *manifest.Manifest
	lock      *manifest.Lock

	exitHint int
}

func (s *runState) execute(res *Result) error {
	defer func() {
		if s.lock != nil {
			if err := s.lock.Release(); err != nil {
				s.log.Warn("manifest lock release failed", "err", err)
			}
		}
	}()

	type stageFn struct {
		name string
		fn   func(*Result) error
	}
	stages := []stageFn{
		{"load", s.stageLoad},
		{"extract", s.stageExtract},
		{"manifest", s.stageManifest},
		{"analyze", s.stageAnalyze},
		{"resolve", s.stageResolve},
		{"emit", s.stageEmit},
		{"content", s.stageContent},
		{"assetbridge", s.stageAssetBridge},
	}
	for _, st := range stages {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := runGuarded(s.log, st.name, func() error { return st.fn(res) })
		d := time.Since(start)
		s.metrics.StageDuration.Record(s.ctx, d.Seconds(),
			metric.WithAttributes(observe.Attr("stage", st.name)))
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		s.summary.RecordStage(st.name, d, detail, err != nil)
		if err != nil {
			s.log.Error("stage failed", "stage", st.name, "err", err)
			return err
		}
		s.log.Info("stage complete", "stage", st.name, "duration", d)
	}
	return nil
}

func (s *runState) stageLoad(res *Result) error {
	snap, err := hbf.Load(s.cfg.Paths.HBF)
	if err != nil {
		s.summary.Add(audit.KindInput, 1)
		s.exitHint = ExitInvalidInput
		return err
	}
	s.snapshot = snap
	if err := hbf.Export(snap, s.out); err != nil {
		s.summary.Add(audit.KindInput, 1)
		s.exitHint = ExitInvalidInput
		return err
	}
	return nil
}

func (s *runState) stageExtract(res *Result) error {
	s.extracted = extract.Partition(s.snapshot)
	s.summary.Add(audit.KindCategorization, len(s.extracted.Uncategorized))

	for key, c := range s.extracted.Clusters {
		s.metrics.EntitiesProcessed.Add(s.ctx, int64(len(c.Entities)),
			metric.WithAttributes(observe.Attr("category", string(key.Category))))
	}

	s.reporter.Write(audit.UncategorizedEntities(s.extracted))
	s.reporter.Write(audit.ClusterSizes(s.extracted))
	return nil
}

func (s *runState) stageManifest(res *Result) error {
	path := s.cfg.Paths.AssetManifest
	if path == "" {
		return nil
	}

	lock, err := manifest.Acquire(path)
	if err != nil {
		s.summary.Add(audit.KindManifest, 1)
		if errors.Is(err, manifest.ErrLocked) {
			s.exitHint = ExitManifestLocked
		}
		return err
	}
	s.lock = lock

	m, err := manifest.Load(path)
	if err != nil {
		if !s.repair {
			s.summary.Add(audit.KindManifest, 1)
			s.exitHint = ExitInvalidInput
			return err
		}
		s.log.Warn("manifest unreadable, rebuilding from filesystem scan", "err", err)
		m, err = s.rebuildManifest(path)
		if err != nil {
			s.summary.Add(audit.KindManifest, 1)
			s.exitHint = ExitInvalidInput
			return err
		}
	}

	if err := s.refreshManifest(m); err != nil {
		s.summary.Add(audit.KindInput, 1)
		s.exitHint = ExitInvalidInput
		return err
	}
	s.manifest = m
	return nil
}

// refreshManifest re-hashes every asset source next to the manifest and drops
// entries whose sources are gone. The manifest is saved only when every hash
// succeeded, so a broken asset family leaves it untouched.
func (s *runState) refreshManifest(m *manifest.Manifest) error {
	sources, err := scanAssetSources(filepath.Dir(s.cfg.Paths.AssetManifest))
	if err != nil {
		return err
	}
	pending := 0
	for _, src := range sources {
		hash, err := hashAsset(src)
		if err != nil {
			return fmt.Errorf("pipeline: hash %q: %w", src, err)
		}
		if m.NeedsConversion(src, hash) {
			pending++
		}
	}
	if stale := m.CleanupStaleEntries(); len(stale) > 0 {
		s.log.Info("dropped stale manifest entries", "count", len(stale))
	}
	if pending > 0 {
		s.log.Info("assets awaiting external conversion", "count", pending)
	}
	return m.Save()
}

func (s *runState) rebuildManifest(path string) (*manifest.Manifest, error) {
	sources, err := scanAssetSources(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	hashes := make(map[string]string, len(sources))
	dsts := make(map[string]string, len(sources))
	for _, src := range sources {
		hash, err := hashAsset(src)
		if err != nil {
			return nil, fmt.Errorf("pipeline: hash %q: %w", src, err)
		}
		hashes[src] = hash
		dsts[src] = convertedPath(src)
	}
	return manifest.Repair(path, hashes, dsts)
}

func (s *runState) stageAnalyze(res *Result) error {
	provider := s.provider
	if provider == nil {
		provider = offlineProvider{}
	}
	cache := analysis.NewCache(filepath.Join(s.out, "analysis"))
	orch := analysis.NewOrchestrator(provider, cache,
		analysis.WithMaxWorkers(s.cfg.Pipeline.MaxWorkers),
		analysis.WithMaxPromptTokens(s.cfg.Oracle.MaxPromptTokens),
		analysis.WithRateLimit(s.cfg.Oracle.RequestsPerSecond),
		analysis.WithLogger(s.log),
		analysis.WithMetrics(s.metrics),
	)

	result, err := orch.AnalyzeAll(s.ctx, s.extracted.Sorted())
	if err != nil {
		return err
	}
	res.Analysis = result

	s.metrics.CacheEvents.Add(s.ctx, int64(result.CacheHits),
		metric.WithAttributes(observe.Attr("stage", "analysis"), observe.Attr("result", "hit")))
	s.metrics.CacheEvents.Add(s.ctx, int64(result.OracleCalls),
		metric.WithAttributes(observe.Attr("stage", "analysis"), observe.Attr("result", "miss")))
	s.metrics.RecordTokens(s.ctx, result.TotalUsage.PromptTokens, result.TotalUsage.CompletionTokens)

	if n := len(result.Failures); n > 0 {
		s.summary.Add(audit.KindAnalysis, n)
		s.reporter.Write(audit.AnalysisFailures(result.Failures))
		s.exitHint = analysisExit(result.Failures)
		s.log.Warn("clusters failed analysis, continuing with the rest",
			"failed", n, "total", n+len(result.Inventories))
	}
	return nil
}

func (s *runState) stageResolve(res *Result) error {
	var inventories []*analysis.Inventory
	if res.Analysis != nil {
		inventories = res.Analysis.Inventories
	}
	world, err := resolve.NewResolver(s.log).Resolve(s.snapshot, s.extracted, inventories)
	if err != nil {
		s.summary.Add(audit.KindInput, 1)
		s.exitHint = ExitInvalidInput
		return err
	}
	res.World = world

	s.summary.Add(audit.KindResolution, len(world.Dangling)+len(world.Conflicts))
	s.metrics.ResolutionWarnings.Add(s.ctx, int64(len(world.Dangling)),
		metric.WithAttributes(observe.Attr("kind", "dangling_edge")))
	s.metrics.ResolutionWarnings.Add(s.ctx, int64(len(world.Conflicts)),
		metric.WithAttributes(observe.Attr("kind", "authority_conflict")))

	s.reporter.Write(audit.DanglingEdges(world))
	s.reporter.Write(audit.AuthorityConflicts(world))

	return world.Save(filepath.Join(s.out, "resolved", "world.json"))
}

func (s *runState) stageEmit(res *Result) error {
	files, err := emit.New(filepath.Join(s.out, "generated")).Emit(res.World)
	if err != nil {
		s.summary.Add(audit.KindEmission, 1)
		s.exitHint = ExitEmission
		return err
	}
	s.log.Info("emitted worldbook sources", "files", len(files))
	return nil
}

func (s *runState) stageContent(res *Result) error {
	jobs := len(s.cfg.Content.Dialogues) + len(s.cfg.Content.Quests)
	if jobs == 0 {
		return nil
	}
	provider := s.provider
	if provider == nil {
		provider = offlineProvider{}
	}
	gen := content.NewGenerator(provider, filepath.Join(s.out, "content"),
		content.WithMaxPromptTokens(s.cfg.Oracle.MaxPromptTokens),
		content.WithRateLimit(s.cfg.Oracle.RequestsPerSecond),
		content.WithLogger(s.log),
		content.WithMetrics(s.metrics),
	)

	var failures []audit.ContentFailure
	oracleDown := false
	for _, job := range s.cfg.Content.Dialogues {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		req := content.DialogueRequest{
			Archetype:  job.Archetype,
			Dread:      job.Dread,
			Context:    job.Context,
			Transition: job.Transition,
		}
		art, err := gen.GenerateDialogue(s.ctx, req, res.World)
		if err != nil {
			oracleDown = oracleDown || errors.Is(err, ErrOracleUnavailable)
			failures = append(failures, audit.ContentFailure{
				Artifact: fmt.Sprintf("dialogue %s dread %d", job.Archetype, job.Dread),
				Reason:   err.Error(),
			})
			continue
		}
		s.recordArtifact("dialogue", art)
	}
	for _, job := range s.cfg.Content.Quests {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		complexity, err := content.ParseComplexity(job.Complexity)
		if err == nil {
			var art *content.Artifact
			req := content.QuestRequest{
				QuestType:  job.Type,
				Dread:      job.Dread,
				Complexity: complexity,
				Transition: job.Transition,
			}
			art, err = gen.GenerateQuest(s.ctx, req, res.World)
			if err == nil {
				s.recordArtifact("quest", art)
				continue
			}
		}
		oracleDown = oracleDown || errors.Is(err, ErrOracleUnavailable)
		failures = append(failures, audit.ContentFailure{
			Artifact: fmt.Sprintf("quest %s dread %d", job.Type, job.Dread),
			Reason:   err.Error(),
		})
	}

	if len(failures) > 0 {
		s.summary.Add(audit.KindAnalysis, len(failures))
		s.reporter.Write(audit.ContentFailures(failures))
		if oracleDown {
			s.exitHint = ExitOracleRequired
		} else if s.exitHint == 0 {
			s.exitHint = ExitFailure
		}
		s.log.Warn("content jobs failed", "count", len(failures), "total", jobs)
	}
	return nil
}

func (s *runState) recordArtifact(kind string, art *content.Artifact) {
	result := "miss"
	if art.Cached {
		result = "hit"
	}
	s.metrics.RecordCacheEvent(s.ctx, "content", art.Cached)
	s.metrics.RecordTokens(s.ctx, art.Usage.PromptTokens, art.Usage.CompletionTokens)
	s.log.Info("content artifact ready", "kind", kind, "yarn", art.YarnPath, "cache", result)
}

func (s *runState) stageAssetBridge(res *Result) error {
	if s.manifest == nil {
		return nil
	}
	handles := assetbridge.NewBridge(s.log).Resolve(s.manifest)
	res.Handles = handles

	stubs := 0
	for _, h := range handles {
		if h.Stub {
			stubs++
		}
	}
	s.summary.Add(audit.KindAssetBridge, stubs)

	return assetbridge.WriteTable(filepath.Join(s.out, "manifests", "assets.json"), handles)
}

// exitCode maps the run outcome to the driver's exit code contract. A nil
// err with a non-zero hint is a partial failure: later stages ran, but some
// work items were lost and are reported in the summary.
func (s *runState) exitCode(err error) int {
	if s.exitHint != 0 {
		return s.exitHint
	}
	if err != nil {
		return ExitFailure
	}
	return ExitOK
}

func (r *Runner) writeSummary(run *runState) {
	r.reporter.Write(run.summary.Report())
	if r.cfg.Audit.PDFSummary && r.cfg.Audit.ReportsDir != "" {
		path := filepath.Join(r.cfg.Audit.ReportsDir, "runs",
			time.Now().Format("20060102"), "run_summary.pdf")
		if err := run.summary.WritePDF(path); err != nil {
			r.log.Warn("run summary PDF failed", "err", err)
		}
	}
}

// analysisExit picks the exit code for a run with cluster failures. Schema
// and decode failures mean the oracle responded but unusably; transport
// failures against the offline provider mean the cache was incomplete.
func analysisExit(failures []*analysis.AnalysisError) int {
	code := ExitFailure
	for _, f := range failures {
		if errors.Is(f.Err, ErrOracleUnavailable) {
			return ExitOracleRequired
		}
		if f.Stage == "validate" || f.Stage == "decode" {
			code = ExitSchemaValidation
		}
	}
	return code
}

// runGuarded executes fn, containing panics. A panicking stage is restarted
// up to maxStageRespawns times before the run fails.
func runGuarded(log *slog.Logger, name string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		panicked, err := invoke(fn)
		if !panicked {
			return err
		}
		if attempt >= maxStageRespawns {
			return fmt.Errorf("pipeline: stage %s gave up after %d panics: %w", name, attempt+1, err)
		}
		log.Error("stage panicked, respawning", "stage", name, "attempt", attempt+1, "err", err)
	}
}

func invoke(fn func() error) (panicked bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			panicked = true
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return false, fn()
}

// scanAssetSources lists the convertible asset files under dir. MTL files
// and textures belong to an OBJ family and are covered by its family hash.
func scanAssetSources(dir string) ([]string, error) {
	var sources []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".obj", ".glb", ".gltf", ".fbx", ".wav", ".ogg":
			sources = append(sources, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: scan assets under %q: %w", dir, err)
	}
	return sources, nil
}

func hashAsset(src string) (string, error) {
	if strings.EqualFold(filepath.Ext(src), ".obj") {
		return hashing.ObjFamilyHash(src)
	}
	return hashing.QuickHash(src)
}

// convertedPath is the external converter's output convention: the source
// path with a .glb extension under the same directory.
func convertedPath(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".glb"
}
