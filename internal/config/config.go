// Package config provides the configuration schema, loader, and oracle
// provider registry for the dreadhex pipeline.
package config

import "time"

// LogLevel controls log verbosity for the pipeline driver.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the pipeline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Paths    PathsConfig    `yaml:"paths"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Audit    AuditConfig    `yaml:"audit"`
	Content  ContentConfig  `yaml:"content"`
}

// LogConfig holds logging settings for the pipeline driver.
type LogConfig struct {
	// Level controls verbosity.
	Level LogLevel `yaml:"level"`

	// File enables a rotating log file sink when non-empty. Logs always go
	// to stderr regardless.
	File string `yaml:"file"`

	// MaxSizeMB is the size at which the log file is rotated. 0 means 50.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept. 0 means 5.
	MaxBackups int `yaml:"max_backups"`
}

// PathsConfig holds the filesystem locations the pipeline reads and writes.
type PathsConfig struct {
	// HBF is the path to the worldbook backpack file.
	HBF string `yaml:"hbf"`

	// Out is the root output directory. Analysis cache, resolved world,
	// generated code, and content artifacts all live under it.
	Out string `yaml:"out"`

	// AssetManifest is the path to the conversion manifest consumed by the
	// asset bridge. Empty disables the bridge stage.
	AssetManifest string `yaml:"asset_manifest"`
}

// OracleConfig selects and configures the AI oracle backend.
type OracleConfig struct {
	// Name selects the registered oracle implementation
	// (e.g., "openai", "anthropic", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the oracle's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the oracle's default API endpoint.
	// Leave empty to use the backend's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// RequestsPerSecond caps the oracle call rate. 0 means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// MaxPromptTokens bounds every composed prompt. 0 means 4000.
	MaxPromptTokens int `yaml:"max_prompt_tokens"`

	// TimeoutSeconds bounds each oracle request. 0 means 60.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Fallbacks lists backup oracle backends tried in order when the
	// primary fails. Nested fallbacks are ignored.
	Fallbacks []OracleConfig `yaml:"fallbacks"`
}

// RequestTimeout returns the per-request oracle deadline.
func (o OracleConfig) RequestTimeout() time.Duration {
	if o.TimeoutSeconds > 0 {
		return time.Duration(o.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// PipelineConfig holds execution settings for the stage coordinator.
type PipelineConfig struct {
	// MaxWorkers bounds concurrent oracle analysis workers. 0 means 4.
	MaxWorkers int `yaml:"max_workers"`
}

// AuditConfig holds settings for the audit report writer.
type AuditConfig struct {
	// ReportsDir is the root directory for CSV audit reports.
	// Empty disables report writing.
	ReportsDir string `yaml:"reports_dir"`

	// PDFSummary enables the one-page PDF run summary.
	PDFSummary bool `yaml:"pdf_summary"`
}

// ContentConfig describes the content generation workload.
type ContentConfig struct {
	// Archetypes is the companion archetype catalog. The generator reads
	// only the names; profiles are design data passed through untouched.
	Archetypes []ArchetypeConfig `yaml:"archetypes"`

	// Dialogues lists the dialogue trees to generate.
	Dialogues []DialogueJobConfig `yaml:"dialogues"`

	// Quests lists the quest structures to generate.
	Quests []QuestJobConfig `yaml:"quests"`
}

// ArchetypeConfig is one entry of the companion archetype catalog.
type ArchetypeConfig struct {
	// Name is the archetype identifier referenced by dialogue jobs.
	Name string `yaml:"name"`

	// Profile holds design-authored personality data. The pipeline does not
	// interpret it.
	Profile map[string]any `yaml:"profile"`
}

// DialogueJobConfig describes one dialogue tree to generate.
type DialogueJobConfig struct {
	Archetype string `yaml:"archetype"`

	// Dread is the dread level in [0, 4].
	Dread int `yaml:"dread"`

	// Context is a short scene slug (e.g., "campfire").
	Context string `yaml:"context"`

	// Transition names the act transition scenario this dialogue serves.
	Transition string `yaml:"transition"`
}

// QuestJobConfig describes one quest structure to generate.
type QuestJobConfig struct {
	// Type is the quest type slug (e.g., "fetch", "escort").
	Type string `yaml:"type"`

	// Dread is the dread level in [0, 4].
	Dread int `yaml:"dread"`

	// Complexity is the moral complexity tier
	// (simple, nuanced, ambiguous, devastating).
	Complexity string `yaml:"complexity"`

	// Transition names the act transition scenario this quest serves.
	Transition string `yaml:"transition"`
}
