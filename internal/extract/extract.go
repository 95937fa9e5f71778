package extract

import (
	"log/slog"
	"sort"

	"github.com/hollowvale/dreadhex/internal/hbf"
)

// Partition categorizes every entity in snap and assigns each to exactly one
// cluster (or to the uncategorized bucket). For region-owned categories the
// cluster name is the containing region's name, resolved through the map:
// an entity sits on the hex whose feature UUID it is, or hangs off a parent
// page that does. Entities whose region cannot be established, and all
// regionless categories, cluster under [CombinedCluster].
func Partition(snap *hbf.Snapshot) *Result {
	res := &Result{Clusters: make(map[ClusterKey]*Cluster)}

	// Hex the entity lives on, keyed by the page the hex points at.
	regionOf := make(map[string]string) // entity uuid → region uuid
	for _, tile := range snap.Map.Tiles {
		if tile.FeatureUUID != "" {
			regionOf[tile.FeatureUUID] = tile.RegionUUID
		}
	}

	// Deterministic iteration: sorted UUIDs, so warning order and cluster
	// member order are stable run to run.
	uuids := make([]string, 0, len(snap.Entities))
	for uuid := range snap.Entities {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	entities := make(map[string]RawEntity, len(uuids))
	for _, uuid := range uuids {
		var ref *hbf.Ref
		if r, ok := snap.Refs[uuid]; ok {
			ref = &r
		}
		entities[uuid] = Categorize(uuid, snap.Entities[uuid], ref)
	}

	for _, uuid := range uuids {
		ent := entities[uuid]
		if ent.PageType == PageUnknown {
			res.Uncategorized = append(res.Uncategorized, ent)
			continue
		}

		cat := ent.PageType.Category()
		name := CombinedCluster
		if cat.RegionScoped() {
			if region, ok := resolveRegion(snap, regionOf, ent, entities); ok {
				name = region
			}
		}

		key := ClusterKey{Category: cat, Name: name}
		cluster, ok := res.Clusters[key]
		if !ok {
			cluster = &Cluster{Key: key}
			res.Clusters[key] = cluster
		}
		cluster.Entities = append(cluster.Entities, ent)
	}

	slog.Info("snapshot partitioned",
		"entities", res.EntityCount(),
		"clusters", len(res.Clusters),
		"uncategorized", len(res.Uncategorized))
	return res
}

// resolveRegion finds the region name owning ent. Direct placement (the
// entity is a hex feature) wins; otherwise the entity's linked pages are
// followed one hop — an NPC links to its settlement, the settlement sits on a
// hex. Lookup failures leave the entity in the combined cluster.
func resolveRegion(snap *hbf.Snapshot, regionOf map[string]string, ent RawEntity, all map[string]RawEntity) (string, bool) {
	if regionUUID, ok := regionOf[ent.UUID]; ok {
		return regionName(snap, regionUUID)
	}
	for _, parent := range ent.ParentRefs {
		if regionUUID, ok := regionOf[parent]; ok {
			return regionName(snap, regionUUID)
		}
		// Second hop: NPC → shop → settlement chains.
		if p, ok := all[parent]; ok {
			for _, grand := range p.ParentRefs {
				if regionUUID, ok := regionOf[grand]; ok {
					return regionName(snap, regionUUID)
				}
			}
		}
	}
	return "", false
}

func regionName(snap *hbf.Snapshot, regionUUID string) (string, bool) {
	region, ok := snap.Map.Regions[regionUUID]
	if !ok || region.Name == "" {
		return "", false
	}
	return region.Name, true
}
