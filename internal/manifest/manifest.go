// Package manifest persists the mapping from source paths to content hashes
// and conversion destinations, which is what makes pipeline runs idempotent:
// a source whose hash and destination both still match is never reprocessed.
//
// The manifest is a single JSON file written atomically (write temp file, then
// rename). Concurrent writers are disallowed; callers take a [Lock] on the
// manifest path for the duration of a pipeline run.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrParse indicates the manifest file exists but could not be decoded.
// Fatal unless the caller opts into a repair rebuild.
var ErrParse = errors.New("manifest: parse failure")

// Entry records one completed conversion.
type Entry struct {
	// Hash is the 16-hex-digit content hash of the source at conversion time.
	Hash string `json:"hash"`

	// Dst is the path of the converted artifact.
	Dst string `json:"dst"`

	// ConvertedAt is the conversion time in unix seconds.
	ConvertedAt int64 `json:"converted_at"`
}

// file is the on-disk JSON shape.
type file struct {
	Entries map[string]Entry `json:"entries"`
}

// Manifest is the in-memory view. Not safe for concurrent use — the pipeline
// owns it through a single coordinator and a process-wide [Lock].
type Manifest struct {
	path    string
	entries map[string]Entry
	now     func() time.Time
}

// Load reads the manifest at path, or returns an empty manifest when the file
// does not exist yet. A file that exists but cannot be decoded yields
// [ErrParse]; see [Repair] for recovery.
func Load(path string) (*Manifest, error) {
	m := &Manifest{
		path:    path,
		entries: make(map[string]Entry),
		now:     time.Now,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: read %q: %w", path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrParse, path, err)
	}
	if f.Entries != nil {
		m.entries = f.Entries
	}
	return m, nil
}

// NeedsConversion reports whether src must be (re)processed: true when no
// entry exists, when the stored hash differs from currentHash, or when the
// recorded destination no longer exists on disk.
func (m *Manifest) NeedsConversion(src, currentHash string) bool {
	entry, ok := m.entries[src]
	if !ok {
		return true
	}
	if entry.Hash != currentHash {
		return true
	}
	if _, err := os.Stat(entry.Dst); err != nil {
		return true
	}
	return false
}

// RecordConversion stores or replaces the entry for src.
func (m *Manifest) RecordConversion(src, hash, dst string) {
	m.entries[src] = Entry{
		Hash:        hash,
		Dst:         dst,
		ConvertedAt: m.now().Unix(),
	}
}

// Entry returns the stored entry for src, if any.
func (m *Manifest) Entry(src string) (Entry, bool) {
	e, ok := m.entries[src]
	return e, ok
}

// Len returns the number of entries.
func (m *Manifest) Len() int { return len(m.entries) }

// Sources returns all recorded source paths in sorted order.
func (m *Manifest) Sources() []string {
	out := make([]string, 0, len(m.entries))
	for src := range m.entries {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// CleanupStaleEntries drops entries whose source or destination vanished from
// disk and returns the removed source paths, sorted.
func (m *Manifest) CleanupStaleEntries() []string {
	var removed []string
	for src, entry := range m.entries {
		_, srcErr := os.Stat(src)
		_, dstErr := os.Stat(entry.Dst)
		if srcErr != nil || dstErr != nil {
			delete(m.entries, src)
			removed = append(removed, src)
		}
	}
	sort.Strings(removed)
	return removed
}

// Save writes the manifest atomically: the JSON is written to a temp file in
// the same directory and renamed over the target, so readers never observe a
// torn manifest.
func (m *Manifest) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("manifest: create dir: %w", err)
	}

	data, err := json.MarshalIndent(file{Entries: m.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("manifest: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("manifest: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("manifest: close temp: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("manifest: rename into place: %w", err)
	}
	return nil
}

// Repair rebuilds a manifest by scanning the conversion output directory and
// re-hashing every source that still exists. Used when the on-disk manifest
// fails to parse and the caller passed --repair.
func Repair(path string, hashes map[string]string, dsts map[string]string) (*Manifest, error) {
	m := &Manifest{
		path:    path,
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	for src, hash := range hashes {
		dst, ok := dsts[src]
		if !ok {
			continue
		}
		if _, err := os.Stat(dst); err != nil {
			continue
		}
		m.RecordConversion(src, hash, dst)
	}
	if err := m.Save(); err != nil {
		return nil, err
	}
	return m, nil
}
