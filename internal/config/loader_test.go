package config_test

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hollowvale/dreadhex/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	yaml := `
log:
  level: debug
  file: /tmp/dreadhex.log
paths:
  hbf: worldbook.hbf
  out: out
  asset_manifest: manifests/conversions.json
oracle:
  name: openai
  model: gpt-4o
  requests_per_second: 2
  max_prompt_tokens: 3000
  timeout_seconds: 120
pipeline:
  max_workers: 8
audit:
  reports_dir: reports
  pdf_summary: true
content:
  archetypes:
    - name: lamplighter
      profile:
        fear: darkness
  dialogues:
    - archetype: lamplighter
      dread: 2
      context: campfire
      transition: shared_shelter
  quests:
    - type: fetch
      dread: 3
      complexity: ambiguous
      transition: the_ask
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Log.Level != config.LogDebug {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Oracle.Model != "gpt-4o" {
		t.Errorf("oracle model = %q, want gpt-4o", cfg.Oracle.Model)
	}
	if cfg.Pipeline.MaxWorkers != 8 {
		t.Errorf("max workers = %d, want 8", cfg.Pipeline.MaxWorkers)
	}
	if got := cfg.Oracle.RequestTimeout(); got != 120*time.Second {
		t.Errorf("request timeout = %v, want 120s", got)
	}
	if len(cfg.Content.Archetypes) != 1 || cfg.Content.Archetypes[0].Name != "lamplighter" {
		t.Errorf("archetypes = %+v", cfg.Content.Archetypes)
	}
	if cfg.Content.Archetypes[0].Profile["fear"] != "darkness" {
		t.Errorf("archetype profile not passed through: %+v", cfg.Content.Archetypes[0].Profile)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	yaml := `
oracel:
  name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoadFromReader_EmptyConfigIsValid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := `
log:
  level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log.level") {
		t.Errorf("error should name log.level, got: %v", err)
	}
}

func TestValidate_DuplicateArchetypeNames(t *testing.T) {
	yaml := `
content:
  archetypes:
    - name: lamplighter
    - name: lamplighter
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate archetype names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_QuestComplexityExceedsDread(t *testing.T) {
	yaml := `
content:
  quests:
    - type: fetch
      dread: 1
      complexity: devastating
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for devastating complexity at dread 1, got nil")
	}
	if !strings.Contains(err.Error(), "dread level 1") {
		t.Errorf("error should name the dread level, got: %v", err)
	}
}

func TestValidate_QuestComplexityWithinDread(t *testing.T) {
	yaml := `
oracle:
  name: openai
content:
  quests:
    - type: fetch
      dread: 4
      complexity: devastating
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
}

func TestValidate_UnknownTransition(t *testing.T) {
	yaml := `
content:
  dialogues:
    - archetype: lamplighter
      dread: 0
      transition: nonexistent_scene
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown transition, got nil")
	}
	if !strings.Contains(err.Error(), "nonexistent_scene") {
		t.Errorf("error should name the transition, got: %v", err)
	}
}

func TestValidate_DreadOutOfRange(t *testing.T) {
	yaml := `
content:
  dialogues:
    - archetype: lamplighter
      dread: 7
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for dread 7, got nil")
	}
}

func TestOracleTimeoutDefaultsTo60s(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("oracle:\n  name: openai\n  model: gpt-4o\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := cfg.Oracle.RequestTimeout(); got != 60*time.Second {
		t.Errorf("request timeout = %v, want 60s default", got)
	}
}

func TestValidate_NegativeOracleTimeout(t *testing.T) {
	yaml := `
oracle:
  name: openai
  timeout_seconds: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative timeout, got nil")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")
	t.Setenv("PIPELINE_MAX_WORKERS", "2")
	t.Setenv("HBF_PATH", "/data/override.hbf")

	yaml := `
oracle:
  name: openai
  model: gpt-4o
paths:
  hbf: worldbook.hbf
pipeline:
  max_workers: 16
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Oracle.Model != "gpt-4o-mini" {
		t.Errorf("oracle model = %q, want env override gpt-4o-mini", cfg.Oracle.Model)
	}
	if cfg.Pipeline.MaxWorkers != 2 {
		t.Errorf("max workers = %d, want env override 2", cfg.Pipeline.MaxWorkers)
	}
	if cfg.Paths.HBF != "/data/override.hbf" {
		t.Errorf("hbf path = %q, want env override", cfg.Paths.HBF)
	}
}

func TestEnvInvalidWorkerCountIgnored(t *testing.T) {
	t.Setenv("PIPELINE_MAX_WORKERS", "many")

	yaml := `
pipeline:
  max_workers: 3
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Pipeline.MaxWorkers != 3 {
		t.Errorf("max workers = %d, want file value 3", cfg.Pipeline.MaxWorkers)
	}
}

func TestSlogLevelMapping(t *testing.T) {
	cases := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := tc.in.SlogLevel(); got != tc.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
