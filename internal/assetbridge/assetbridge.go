// Package assetbridge adapts the external asset converter's manifest into a
// flat handle table the engine can load. The bridge is pure data: it reads
// the manifest, probes the filesystem, and writes manifests/assets.json. It
// never invokes the converter itself.
package assetbridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hollowvale/dreadhex/internal/hashing"
	"github.com/hollowvale/dreadhex/internal/manifest"
)

// State is the lifecycle position of one asset entry, driven solely by the
// manifest and filesystem probes.
type State string

const (
	// StateUnknown means the source file is gone; nothing can be said.
	StateUnknown State = "unknown"
	// StateStaged means the source exists but no conversion has landed.
	StateStaged State = "staged"
	// StateUpToDate means the destination exists and the recorded hash still
	// matches the source.
	StateUpToDate State = "up_to_date"
	// StateStale means the source changed since conversion or the
	// destination vanished; the converter needs another pass.
	StateStale State = "stale"
)

// Handle maps a logical asset name to its resolved destination.
type Handle struct {
	Name  string `json:"name"`
	Src   string `json:"src"`
	Dst   string `json:"dst,omitempty"`
	State State  `json:"state"`

	// Stub marks a handle whose destination is missing. The engine loads a
	// placeholder for stubs instead of failing.
	Stub bool `json:"stub,omitempty"`
}

// Bridge computes handle tables from a conversion manifest.
type Bridge struct {
	log *slog.Logger
}

// NewBridge returns a bridge logging through log (nil means the default
// logger).
func NewBridge(log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{log: log}
}

// Resolve probes every manifest entry and returns the handle table sorted by
// logical name. Entries with a missing destination produce a warning and a
// stub handle; they never fail the bridge.
func (b *Bridge) Resolve(m *manifest.Manifest) []Handle {
	handles := make([]Handle, 0, m.Len())
	for _, src := range m.Sources() {
		entry, _ := m.Entry(src)
		h := Handle{
			Name:  logicalName(src),
			Src:   src,
			Dst:   entry.Dst,
			State: b.state(src, entry),
		}
		if h.State != StateUpToDate {
			h.Stub = true
			b.log.Warn("asset not usable, emitting stub handle",
				"asset", h.Name, "src", src, "state", h.State)
		}
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Name < handles[j].Name })
	return handles
}

// state runs the entry's state machine from filesystem evidence.
func (b *Bridge) state(src string, entry manifest.Entry) State {
	if _, err := os.Stat(src); err != nil {
		return StateUnknown
	}
	if entry.Dst == "" {
		return StateStaged
	}
	if _, err := os.Stat(entry.Dst); err != nil {
		return StateStale
	}
	hash, err := hashing.QuickHash(src)
	if err != nil || hash != entry.Hash {
		return StateStale
	}
	return StateUpToDate
}

// WriteTable writes the handle table to path (conventionally
// manifests/assets.json) with an atomic rename.
func WriteTable(path string, handles []Handle) error {
	data, err := json.MarshalIndent(handles, "", "  ")
	if err != nil {
		return fmt.Errorf("assetbridge: marshal handles: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("assetbridge: publish handle table: %w", err)
	}
	return nil
}

// logicalName derives the engine-facing asset name from the source path:
// the path below the last "assets" segment (or the basename), without
// extension, with separators flattened to underscores.
func logicalName(src string) string {
	clean := filepath.ToSlash(filepath.Clean(src))
	parts := strings.Split(clean, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == "assets" {
			parts = parts[i+1:]
			break
		}
	}
	if len(parts) == 0 {
		return ""
	}
	last := parts[len(parts)-1]
	parts[len(parts)-1] = strings.TrimSuffix(last, filepath.Ext(last))
	return strings.Join(parts, "_")
}
