package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Cache persists validated inventories under dir/{category}/{cluster}.json.
// Entries are keyed by the cluster's content hash stored inside the file, so
// a re-run of an unchanged cluster is a pure disk read. Two workers writing
// the same entry race harmlessly: both produce identical bytes and the
// rename makes one of them win whole.
type Cache struct {
	dir string
}

// NewCache creates a cache rooted at dir.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// entryPath sanitises the cluster name for the filesystem; region names carry
// spaces and punctuation.
func (c *Cache) entryPath(category, cluster string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, cluster)
	return filepath.Join(c.dir, category, safe+".json")
}

// Get returns the cached inventory for (category, cluster) when one exists
// and its stored hash equals baseHash. A stale or unreadable entry is a miss.
func (c *Cache) Get(category, cluster, baseHash string) (*Inventory, bool) {
	data, err := os.ReadFile(c.entryPath(category, cluster))
	if err != nil {
		return nil, false
	}
	var inv Inventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, false
	}
	if inv.BaseHash != baseHash {
		return nil, false
	}
	return &inv, true
}

// Put writes inv atomically under its category/cluster path.
func (c *Cache) Put(inv *Inventory) error {
	path := c.entryPath(string(inv.Category), inv.Cluster)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("analysis: create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return fmt.Errorf("analysis: marshal inventory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".inv-*")
	if err != nil {
		return fmt.Errorf("analysis: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("analysis: write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("analysis: rename cache entry: %w", err)
	}
	return nil
}

// Invalidate removes the cached entry for (category, cluster). Removing a
// missing entry is not an error.
func (c *Cache) Invalidate(category, cluster string) error {
	err := os.Remove(c.entryPath(category, cluster))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("analysis: invalidate cache entry: %w", err)
	}
	return nil
}

// LoadAll reads every cached inventory under the cache root, regardless of
// hash. Used by pipeline stages that run after analysis (resolve, emit) and
// by the standalone audit command.
func (c *Cache) LoadAll() ([]*Inventory, error) {
	var out []*Inventory
	err := filepath.WalkDir(c.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var inv Inventory
		if err := json.Unmarshal(data, &inv); err != nil {
			return fmt.Errorf("analysis: corrupt cache entry %q: %w", path, err)
		}
		out = append(out, &inv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
