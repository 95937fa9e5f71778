package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// CombinedCluster is the cluster name for categories that do not cluster by
// region.
const CombinedCluster = "combined"

// ClusterKey addresses one cluster: a coarse category plus the containing
// region's name (or [CombinedCluster]).
type ClusterKey struct {
	Category Category
	Name     string
}

// String renders the key as "category/name", the form used in CLI arguments
// and cache paths.
func (k ClusterKey) String() string {
	return fmt.Sprintf("%s/%s", k.Category, k.Name)
}

// Cluster is a category-scoped, region-scoped partition of raw entities — the
// unit of AI analysis. A raw entity belongs to at most one cluster.
type Cluster struct {
	Key      ClusterKey
	Entities []RawEntity
}

// BaseHash returns the 16-hex-digit content hash of the cluster: a SHA-256
// over the sorted member UUIDs and their HTML bytes. Member order does not
// affect the hash; any page edit does, so edited pages invalidate the
// analysis cache.
func (c *Cluster) BaseHash() string {
	lines := make([]string, len(c.Entities))
	for i, e := range c.Entities {
		sum := sha256.Sum256([]byte(e.HTML))
		lines[i] = fmt.Sprintf("%s:%s", e.UUID, hex.EncodeToString(sum[:]))
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Result is the output of [Partition]: all clusters plus the bucket of
// entities that resisted categorization. The disjoint union of cluster members
// and the uncategorized bucket equals the snapshot's entity set.
type Result struct {
	Clusters      map[ClusterKey]*Cluster
	Uncategorized []RawEntity
}

// Sorted returns the clusters ordered by category then name, for deterministic
// iteration.
func (r *Result) Sorted() []*Cluster {
	out := make([]*Cluster, 0, len(r.Clusters))
	for _, c := range r.Clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Category != out[j].Key.Category {
			return out[i].Key.Category < out[j].Key.Category
		}
		return out[i].Key.Name < out[j].Key.Name
	})
	return out
}

// EntityCount returns the total number of entities across all clusters and
// the uncategorized bucket.
func (r *Result) EntityCount() int {
	n := len(r.Uncategorized)
	for _, c := range r.Clusters {
		n += len(c.Entities)
	}
	return n
}
