package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hollowvale/dreadhex/internal/hashing"
	"github.com/hollowvale/dreadhex/internal/narrative"
	"github.com/hollowvale/dreadhex/internal/observe"
	"github.com/hollowvale/dreadhex/internal/resilience"
	"github.com/hollowvale/dreadhex/internal/resolve"
	"github.com/hollowvale/dreadhex/pkg/provider/llm"
	"github.com/hollowvale/dreadhex/pkg/types"
)

// DialogueRequest asks for one dialogue tree.
type DialogueRequest struct {
	Archetype  string
	Dread      int
	Context    string
	Transition string // optional transition scenario name
}

// QuestRequest asks for one quest chain.
type QuestRequest struct {
	QuestType  string
	Dread      int
	Complexity Complexity
	Transition string
}

// Artifact is the pair of files one generation produces.
type Artifact struct {
	YarnPath string
	JSONPath string
	Cached   bool
	Usage    llm.Usage
}

// storedTree is the raw JSON artifact: the tree plus the request hash that
// produced it, which doubles as the cache key.
type storedTree struct {
	RequestHash string          `json:"request_hash"`
	Tree        *narrative.Tree `json:"tree"`
}

const (
	defaultMaxPromptTokens = 4000
	charsPerToken          = 4
)

// Generator produces dialogue and quest artifacts under its output root.
// It shares the analysis stage's discipline: cache by request hash, bounded
// prompts, exponential-backoff retry with no retry on validation failure.
type Generator struct {
	provider        llm.Provider
	root            string
	limiter         *rate.Limiter
	maxPromptTokens int
	retry           resilience.RetryConfig
	log             *slog.Logger
	metrics         *observe.Metrics
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithMaxPromptTokens caps composed prompt size.
func WithMaxPromptTokens(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxPromptTokens = n
		}
	}
}

// WithRateLimit throttles oracle calls to n per second.
func WithRateLimit(n float64) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(n), 1)
		}
	}
}

// WithRetryConfig overrides the transport retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) GeneratorOption {
	return func(g *Generator) { g.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.log = log }
}

// WithMetrics sets the metrics instance oracle calls are recorded against.
func WithMetrics(m *observe.Metrics) GeneratorOption {
	return func(g *Generator) {
		if m != nil {
			g.metrics = m
		}
	}
}

// NewGenerator builds a generator writing under root (artifacts land in
// root/dialogues and root/quests).
func NewGenerator(provider llm.Provider, root string, opts ...GeneratorOption) *Generator {
	g := &Generator{
		provider:        provider,
		root:            root,
		limiter:         rate.NewLimiter(rate.Inf, 1),
		maxPromptTokens: defaultMaxPromptTokens,
		retry: resilience.RetryConfig{
			Name:        "content",
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateDialogue produces a dialogue tree for one companion archetype.
func (g *Generator) GenerateDialogue(ctx context.Context, req DialogueRequest, w *resolve.World) (*Artifact, error) {
	if req.Dread < 0 || req.Dread > MaxDread {
		return nil, fmt.Errorf("content: dread level %d out of range 0..%d", req.Dread, MaxDread)
	}
	stem := fmt.Sprintf("%s_dread%d_%s", req.Archetype, req.Dread, req.Context)
	hash := hashing.HashString(fmt.Sprintf("dialogue|%s|%d|%s|%s", req.Archetype, req.Dread, req.Context, req.Transition))

	prompt, err := g.dialoguePrompt(req, w)
	if err != nil {
		return nil, err
	}
	return g.generate(ctx, filepath.Join(g.root, "dialogues"), stem, hash, prompt)
}

// GenerateQuest produces a quest chain. The moral complexity bound is checked
// before any oracle call; a rejected request writes nothing.
func (g *Generator) GenerateQuest(ctx context.Context, req QuestRequest, w *resolve.World) (*Artifact, error) {
	if err := CheckComplexity(req.Dread, req.Complexity); err != nil {
		return nil, err
	}
	stem := fmt.Sprintf("quest_dread%d_%s", req.Dread, req.QuestType)
	hash := hashing.HashString(fmt.Sprintf("quest|%s|%d|%s|%s", req.QuestType, req.Dread, req.Complexity, req.Transition))

	prompt, err := g.questPrompt(req, w)
	if err != nil {
		return nil, err
	}
	return g.generate(ctx, filepath.Join(g.root, "quests"), stem, hash, prompt)
}

// generate runs the shared cache-check / dispatch / validate / write path.
func (g *Generator) generate(ctx context.Context, dir, stem, hash string, req llm.CompletionRequest) (*Artifact, error) {
	art := &Artifact{
		YarnPath: filepath.Join(dir, stem+".yarn"),
		JSONPath: filepath.Join(dir, stem+".json"),
	}

	if tree, ok := g.cached(art.JSONPath, hash); ok {
		// The yarn render is cheap; rewrite it in case an earlier run died
		// between the two files.
		if _, err := os.Stat(art.YarnPath); err != nil {
			if err := atomicWrite(art.YarnPath, []byte(narrative.Render(tree))); err != nil {
				return nil, err
			}
		}
		g.log.Debug("content cache hit", "artifact", stem)
		art.Cached = true
		return art, nil
	}

	var tree *narrative.Tree
	err := resilience.Retry(ctx, g.retry, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return resilience.NewPermanent(err)
		}
		callStart := time.Now()
		resp, err := g.provider.Complete(ctx, req)
		g.metrics.OracleDuration.Record(ctx, time.Since(callStart).Seconds())
		if err != nil {
			g.metrics.RecordOracleRequest(ctx, "content", "error")
			return err
		}
		g.metrics.RecordOracleRequest(ctx, "content", "ok")
		art.Usage = resp.Usage

		decoded, err := decodeTree(resp.Content)
		if err != nil {
			return fmt.Errorf("decode narrative tree: %w", err)
		}
		if err := decoded.Validate(); err != nil {
			return resilience.NewPermanent(err)
		}
		tree = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := g.write(art, tree, hash); err != nil {
		return nil, err
	}
	g.log.Info("content generated", "artifact", stem, "nodes", len(tree.Nodes))
	return art, nil
}

// cached reports whether the JSON artifact exists and was produced by an
// identical request.
func (g *Generator) cached(jsonPath, hash string) (*narrative.Tree, bool) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, false
	}
	var st storedTree
	if err := json.Unmarshal(data, &st); err != nil || st.RequestHash != hash {
		return nil, false
	}
	return st.Tree, true
}

// write publishes both artifacts, JSON first so a crash between the two
// leaves a cache entry that regenerates the yarn on the next run.
func (g *Generator) write(art *Artifact, tree *narrative.Tree, hash string) error {
	if err := os.MkdirAll(filepath.Dir(art.JSONPath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(storedTree{RequestHash: hash, Tree: tree}, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(art.JSONPath, append(data, '\n')); err != nil {
		return err
	}
	return atomicWrite(art.YarnPath, []byte(narrative.Render(tree)))
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

const treeJSONSchema = `{
  "nodes": [
    {
      "id": "string",
      "content": {"speaker": "string", "text": "string", "emotion": "string?"},
      "choices": [
        {"label": "string", "next_node": "string", "trust_delta": "int?",
         "flags_set": ["string"], "flags_unset": ["string"]}
      ]
    }
  ]
}`

var dreadDescriptors = [MaxDread + 1]string{
	"quiet unease at the edges of ordinary life",
	"something is wrong and everyone politely ignores it",
	"the wrongness has a shape and it knows your name",
	"safety is a memory; every kindness has a price",
	"the world is ending one person at a time",
}

func (g *Generator) dialoguePrompt(req DialogueRequest, w *resolve.World) (llm.CompletionRequest, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a branching dialogue for the %q companion archetype.\n", req.Archetype)
	fmt.Fprintf(&b, "Context tag: %s\n", req.Context)
	fmt.Fprintf(&b, "Dread level %d: %s\n", req.Dread, dreadDescriptors[req.Dread])
	if req.Transition != "" {
		tr, err := TransitionByName(req.Transition)
		if err != nil {
			return llm.CompletionRequest{}, err
		}
		fmt.Fprintf(&b, "Transition scenario %q (act %d, %s): %s\n", tr.Name, tr.Act, tr.Kind, tr.Invariant)
	}
	writeWorldContext(&b, w)
	return g.compose(b.String())
}

func (g *Generator) questPrompt(req QuestRequest, w *resolve.World) (llm.CompletionRequest, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s quest chain of complexity %q.\n", req.QuestType, req.Complexity)
	fmt.Fprintf(&b, "Dread level %d: %s\n", req.Dread, dreadDescriptors[req.Dread])
	if req.Transition != "" {
		tr, err := TransitionByName(req.Transition)
		if err != nil {
			return llm.CompletionRequest{}, err
		}
		fmt.Fprintf(&b, "Transition scenario %q (act %d, %s): %s\n", tr.Name, tr.Act, tr.Kind, tr.Invariant)
	}
	writeWorldContext(&b, w)
	return g.compose(b.String())
}

// writeWorldContext adds a deterministic sample of world facts so generated
// content references real places and people.
func writeWorldContext(b *strings.Builder, w *resolve.World) {
	if w == nil {
		return
	}
	const maxFacts = 8
	var facts []string
	for _, u := range w.SortedSettlementUUIDs() {
		s := w.Settlements[u]
		facts = append(facts, fmt.Sprintf("%s %q", s.Kind, s.Name))
	}
	for _, u := range w.SortedNPCUUIDs() {
		facts = append(facts, fmt.Sprintf("person %q", w.NPCs[u].Name))
	}
	sort.Strings(facts)
	if len(facts) > maxFacts {
		facts = facts[:maxFacts]
	}
	if len(facts) > 0 {
		b.WriteString("Known world facts: " + strings.Join(facts, "; ") + "\n")
	}
}

func (g *Generator) compose(user string) (llm.CompletionRequest, error) {
	system := "You write branching horror dialogue as a single JSON object matching this schema. " +
		"The tree must have exactly one root node and no cycles; terminal nodes have no choices.\n" +
		treeJSONSchema

	req := llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []types.Message{{Role: "user", Content: user}},
		Temperature:  0.7,
		ForceJSON:    true,
	}
	total, err := g.provider.CountTokens(req.Messages)
	if err != nil {
		return llm.CompletionRequest{}, err
	}
	total += len(system) / charsPerToken
	if total > g.maxPromptTokens {
		return llm.CompletionRequest{}, fmt.Errorf("content: prompt is ~%d tokens, budget %d", total, g.maxPromptTokens)
	}
	return req, nil
}

func decodeTree(content string) (*narrative.Tree, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	var t narrative.Tree
	if err := json.Unmarshal([]byte(content), &t); err != nil {
		return nil, err
	}
	return &t, nil
}
