package hbf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Export writes the normalized form of snap under dir:
//
//	dir/map.json           — the map payload
//	dir/entities/<uuid>.html — one file per entity fragment
//	dir/refs.json          — refs as a uuid-sorted JSON array
//
// The output is deterministic for a given snapshot so re-exports of unchanged
// inputs produce byte-identical files.
func Export(snap *Snapshot, dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, "entities"), 0o755); err != nil {
		return fmt.Errorf("hbf: create export dir: %w", err)
	}

	mapJSON, err := json.MarshalIndent(&snap.Map, "", "  ")
	if err != nil {
		return fmt.Errorf("hbf: marshal map: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "map.json"), append(mapJSON, '\n'), 0o644); err != nil {
		return fmt.Errorf("hbf: write map.json: %w", err)
	}

	for uuid, html := range snap.Entities {
		p := filepath.Join(dir, "entities", uuid+".html")
		if err := os.WriteFile(p, []byte(html), 0o644); err != nil {
			return fmt.Errorf("hbf: write entity %s: %w", uuid, err)
		}
	}

	refs := make([]Ref, 0, len(snap.Refs))
	for _, r := range snap.Refs {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].UUID < refs[j].UUID })

	refsJSON, err := json.MarshalIndent(refs, "", "  ")
	if err != nil {
		return fmt.Errorf("hbf: marshal refs: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "refs.json"), append(refsJSON, '\n'), 0o644); err != nil {
		return fmt.Errorf("hbf: write refs.json: %w", err)
	}
	return nil
}

// Import reads a directory previously written by [Export] back into a
// [Snapshot]. Export followed by Import yields a snapshot equal to the
// original under entity-set and field equality.
func Import(dir string) (*Snapshot, error) {
	snap := &Snapshot{
		Entities: make(map[string]string),
		Refs:     make(map[string]Ref),
	}

	mapJSON, err := os.ReadFile(filepath.Join(dir, "map.json"))
	if err != nil {
		return nil, fmt.Errorf("hbf: read map.json: %w", err)
	}
	if err := json.Unmarshal(mapJSON, &snap.Map); err != nil {
		return nil, &MapParseError{Err: err}
	}

	entries, err := os.ReadDir(filepath.Join(dir, "entities"))
	if err != nil {
		return nil, fmt.Errorf("hbf: read entities dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".html") {
			continue
		}
		html, err := os.ReadFile(filepath.Join(dir, "entities", name))
		if err != nil {
			return nil, fmt.Errorf("hbf: read entity %s: %w", name, err)
		}
		snap.Entities[strings.TrimSuffix(name, ".html")] = string(html)
	}

	refsJSON, err := os.ReadFile(filepath.Join(dir, "refs.json"))
	if err != nil {
		return nil, fmt.Errorf("hbf: read refs.json: %w", err)
	}
	var refs []Ref
	if err := json.Unmarshal(refsJSON, &refs); err != nil {
		return nil, fmt.Errorf("hbf: decode refs.json: %w", err)
	}
	for _, r := range refs {
		snap.Refs[r.UUID] = r
	}
	return snap, nil
}
