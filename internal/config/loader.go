package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/hollowvale/dreadhex/internal/content"
)

// ValidOracleNames lists the backends [DefaultRegistry] registers.
// Used by [Validate] to warn about unrecognised names.
var ValidOracleNames = []string{"openai", "anthropic", "ollama"}

// Load reads the YAML configuration file at path, applies environment
// variable overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment variable
// overrides, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays well-known environment variables onto cfg. A set variable
// always wins over the file value.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := os.Getenv("AUDIT_REPORTS_DIR"); v != "" {
		cfg.Audit.ReportsDir = v
	}
	if v := os.Getenv("OUT_DIR"); v != "" {
		cfg.Paths.Out = v
	}
	if v := os.Getenv("HBF_PATH"); v != "" {
		cfg.Paths.HBF = v
	}
	if v := os.Getenv("PIPELINE_MAX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			slog.Warn("ignoring invalid PIPELINE_MAX_WORKERS", "value", v)
		} else {
			cfg.Pipeline.MaxWorkers = n
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.MaxSizeMB < 0 {
		errs = append(errs, fmt.Errorf("log.max_size_mb %d must not be negative", cfg.Log.MaxSizeMB))
	}

	if cfg.Oracle.Name != "" && !slices.Contains(ValidOracleNames, cfg.Oracle.Name) {
		slog.Warn("unknown oracle name, may be a typo or third-party backend",
			"name", cfg.Oracle.Name,
			"known", ValidOracleNames,
		)
	}
	for _, fb := range cfg.Oracle.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("oracle.fallbacks entries need a name"))
		}
		if len(fb.Fallbacks) > 0 {
			slog.Warn("nested oracle fallbacks are ignored", "name", fb.Name)
		}
	}
	if cfg.Oracle.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("oracle.requests_per_second %.2f must not be negative", cfg.Oracle.RequestsPerSecond))
	}
	if cfg.Oracle.MaxPromptTokens < 0 {
		errs = append(errs, fmt.Errorf("oracle.max_prompt_tokens %d must not be negative", cfg.Oracle.MaxPromptTokens))
	}
	if cfg.Oracle.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("oracle.timeout_seconds %d must not be negative", cfg.Oracle.TimeoutSeconds))
	}
	if cfg.Pipeline.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_workers %d must not be negative", cfg.Pipeline.MaxWorkers))
	}

	if cfg.Oracle.Name == "" && (len(cfg.Content.Dialogues) > 0 || len(cfg.Content.Quests) > 0) {
		slog.Warn("no oracle configured; content generation will fail unless a cached artifact exists for every job")
	}

	archetypesSeen := make(map[string]int, len(cfg.Content.Archetypes))
	for i, a := range cfg.Content.Archetypes {
		prefix := fmt.Sprintf("content.archetypes[%d]", i)
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := archetypesSeen[a.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of content.archetypes[%d]", prefix, a.Name, prev))
		}
		archetypesSeen[a.Name] = i
	}

	for i, job := range cfg.Content.Dialogues {
		prefix := fmt.Sprintf("content.dialogues[%d]", i)
		if job.Archetype == "" {
			errs = append(errs, fmt.Errorf("%s.archetype is required", prefix))
		} else if _, ok := archetypesSeen[job.Archetype]; !ok && len(cfg.Content.Archetypes) > 0 {
			slog.Warn("dialogue job references an archetype missing from the catalog",
				"archetype", job.Archetype,
			)
		}
		errs = append(errs, validateDread(prefix, job.Dread)...)
		errs = append(errs, validateTransition(prefix, job.Transition)...)
	}

	for i, job := range cfg.Content.Quests {
		prefix := fmt.Sprintf("content.quests[%d]", i)
		if job.Type == "" {
			errs = append(errs, fmt.Errorf("%s.type is required", prefix))
		}
		errs = append(errs, validateDread(prefix, job.Dread)...)
		errs = append(errs, validateTransition(prefix, job.Transition)...)
		if job.Complexity != "" {
			c, err := content.ParseComplexity(job.Complexity)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s.complexity: %w", prefix, err))
			} else if err := content.CheckComplexity(job.Dread, c); err != nil {
				errs = append(errs, fmt.Errorf("%s: complexity %q exceeds what dread level %d permits", prefix, job.Complexity, job.Dread))
			}
		}
	}

	return errors.Join(errs...)
}

func validateDread(prefix string, dread int) []error {
	if dread < 0 || dread > content.MaxDread {
		return []error{fmt.Errorf("%s.dread %d is out of range [0, %d]", prefix, dread, content.MaxDread)}
	}
	return nil
}

func validateTransition(prefix, name string) []error {
	if name == "" {
		return nil
	}
	if _, err := content.TransitionByName(name); err != nil {
		return []error{fmt.Errorf("%s.transition: %w", prefix, err)}
	}
	return nil
}
