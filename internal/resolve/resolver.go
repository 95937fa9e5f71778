package resolve

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hollowvale/dreadhex/internal/analysis"
	"github.com/hollowvale/dreadhex/internal/extract"
	"github.com/hollowvale/dreadhex/internal/hashing"
	"github.com/hollowvale/dreadhex/internal/hbf"
)

// Resolver builds a [World] from the snapshot and the categorized entity
// clusters. The snapshot's map is authoritative for all spatial facts; entity
// pages that disagree are recorded as conflicts and overruled.
type Resolver struct {
	log *slog.Logger
}

// NewResolver returns a resolver logging through log (nil means the default
// logger).
func NewResolver(log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{log: log}
}

// entityInfo carries per-entity context gathered during indexing.
type entityInfo struct {
	entity  extract.RawEntity
	cluster extract.ClusterKey
}

// Resolve cross-references every categorized entity into typed edges and
// computes the spatial indexes. The inventories from the analysis stage name
// each cluster's connection fields; edges are attributed to those fields and
// a required connection with no link in the page is reported as dangling.
// Resolve never fails on dangling references; those land in World.Dangling
// for the audit stage.
func (r *Resolver) Resolve(snap *hbf.Snapshot, extracted *extract.Result, inventories []*analysis.Inventory) (*World, error) {
	w := NewWorld()

	index := map[string]entityInfo{}
	for key, cluster := range extracted.Clusters {
		for _, e := range cluster.Entities {
			index[e.UUID] = entityInfo{entity: e, cluster: key}
		}
	}

	connections := map[extract.ClusterKey][]analysis.FieldSpec{}
	for _, inv := range inventories {
		key := extract.ClusterKey{Category: inv.Category, Name: inv.Cluster}
		connections[key] = connectionFields(inv)
	}

	featureHex := r.resolveHexes(snap, w)
	r.resolveEntities(snap, index, featureHex, w)
	r.resolveEdges(snap, index, connections, w)
	r.applyMapAuthority(index, w)
	r.buildSpatialIndex(w)
	r.validateDungeonGraphs(w)
	r.sortEdgeLists(w)

	r.log.Info("world resolved",
		"hexes", len(w.Hexes),
		"settlements", len(w.Settlements),
		"dungeons", len(w.Dungeons),
		"npcs", len(w.NPCs),
		"factions", len(w.Factions),
		"dangling", len(w.Dangling),
		"conflicts", len(w.Conflicts))
	return w, nil
}

// resolveHexes materialises every map tile and returns the feature-UUID →
// hex-UUID lookup used to pin feature pages to tiles.
func (r *Resolver) resolveHexes(snap *hbf.Snapshot, w *World) map[string]string {
	featureHex := map[string]string{}
	for _, t := range snap.Map.Tiles {
		h := &Hex{
			UUID:       t.UUID,
			Coord:      HexCoord{Q: t.Q, R: t.R},
			Biome:      t.Biome,
			Feature:    t.Feature,
			RegionUUID: t.RegionUUID,
			Rivers:     t.Rivers,
			Trails:     t.Trails,
		}
		if reg, ok := snap.Map.Regions[t.RegionUUID]; ok {
			h.RegionName = reg.Name
		} else {
			h.Unaffiliated = true
			h.RegionUUID = ""
			w.Conflicts = append(w.Conflicts, AuthorityConflict{
				EntityUUID: t.UUID,
				Detail:     fmt.Sprintf("hex (%d,%d) names region %q which the map does not define", t.Q, t.R, t.RegionUUID),
			})
			r.log.Warn("unaffiliated hex", "coord", h.Coord, "region", t.RegionUUID)
		}
		w.Hexes[t.UUID] = h
		if t.FeatureUUID != "" {
			featureHex[t.FeatureUUID] = t.UUID
		}
		if h.RegionUUID != "" {
			w.RegionHexes[h.RegionUUID] = append(w.RegionHexes[h.RegionUUID], h.Coord.String())
		}
	}
	for _, coords := range w.RegionHexes {
		sort.Strings(coords)
	}
	return featureHex
}

func (r *Resolver) resolveEntities(snap *hbf.Snapshot, index map[string]entityInfo, featureHex map[string]string, w *World) {
	uuids := make([]string, 0, len(index))
	for uuid := range index {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	for _, uuid := range uuids {
		info := index[uuid]
		e := info.entity
		name := e.Title
		if ref, ok := snap.Ref(uuid); ok && ref.Value != "" {
			name = ref.Value
		}

		switch e.PageType.Category() {
		case extract.CategorySettlements:
			s := &Settlement{UUID: uuid, Name: name, Kind: string(e.PageType)}
			if hexUUID, ok := featureHex[uuid]; ok {
				s.HexUUID = hexUUID
				s.RegionUUID = w.Hexes[hexUUID].RegionUUID
				w.Hexes[hexUUID].SettlementUUIDs = append(w.Hexes[hexUUID].SettlementUUIDs, uuid)
			}
			w.Settlements[uuid] = s

		case extract.CategoryDungeons:
			d := &Dungeon{UUID: uuid, Name: name, Kind: string(e.PageType)}
			d.Areas = parseAreas(uuid, e.HTML)
			if hexUUID, ok := featureHex[uuid]; ok {
				d.HexUUID = hexUUID
				w.Hexes[hexUUID].DungeonUUIDs = append(w.Hexes[hexUUID].DungeonUUIDs, uuid)
			}
			w.Dungeons[uuid] = d

		case extract.CategoryNPCs:
			w.NPCs[uuid] = &NPC{UUID: uuid, Name: name}

		case extract.CategoryFactions:
			w.Factions[uuid] = &Faction{UUID: uuid, Name: name}

		case extract.CategoryTables:
			w.Tables[uuid] = &DataTable{
				UUID:    uuid,
				Name:    name,
				Kind:    string(e.PageType),
				Entries: parseTableEntries(e.HTML),
			}
		}
	}
}

// resolveEdges walks every entity's outbound links and promotes them to typed
// edges. Each link is attributed to the connection field its cluster's
// inventory names where the page markup allows it; a link whose target is
// absent from the snapshot becomes a dangling edge, and a required connection
// field with no link at all is reported the same way.
func (r *Resolver) resolveEdges(snap *hbf.Snapshot, index map[string]entityInfo, connections map[extract.ClusterKey][]analysis.FieldSpec, w *World) {
	uuids := make([]string, 0, len(index))
	for uuid := range index {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	for _, uuid := range uuids {
		info := index[uuid]
		srcCat := info.entity.PageType.Category()
		fields := connections[info.cluster]
		attributed := attributeConnections(info.entity.HTML, fields)
		covered := map[string]bool{}

		for _, target := range info.entity.ParentRefs {
			field := attributed[target]
			if field == "" {
				field = "link"
			} else {
				covered[field] = true
			}
			ti, found := index[target]
			if !found {
				w.Dangling = append(w.Dangling, DanglingEdge{
					SourceUUID: uuid,
					Field:      field,
					TargetUUID: target,
					Reason:     danglingReason(snap, target),
				})
				continue
			}
			r.placeEdge(w, uuid, srcCat, target, ti.entity.PageType.Category())
		}

		for _, f := range fields {
			if f.Required && !covered[f.Name] {
				w.Dangling = append(w.Dangling, DanglingEdge{
					SourceUUID: uuid,
					Field:      f.Name,
					Reason:     "required connection field has no link in the page",
				})
			}
		}
	}
}

// connectionFields returns the union of connection-bearing fields across an
// inventory's models, deduplicated by name.
func connectionFields(inv *analysis.Inventory) []analysis.FieldSpec {
	var out []analysis.FieldSpec
	seen := map[string]bool{}
	for _, m := range inv.Models {
		for _, f := range m.Fields {
			if f.IsConnection && !seen[f.Name] {
				seen[f.Name] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// attributeConnections maps each linked UUID in the page to the connection
// field whose name appears in the link's enclosing block. snake_case field
// names match their space-separated form too. Links in blocks naming no
// known field stay unattributed.
func attributeConnections(html string, fields []analysis.FieldSpec) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	out := map[string]string{}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		target := uuidFromHref(href)
		if target == "" {
			return
		}
		block := a.Closest("li, tr, dd, p, div")
		if block.Length() == 0 {
			return
		}
		text := strings.ToLower(block.Text())
		for _, f := range fields {
			if strings.Contains(text, strings.ReplaceAll(f.Name, "_", " ")) ||
				strings.Contains(text, f.Name) {
				out[target] = f.Name
				return
			}
		}
	})
	return out
}

// placeEdge records an edge between two resolved entities on the typed field
// the category pair implies. Pairs without a typed field are ignored; the
// link text remains in the page HTML for the content generator.
func (r *Resolver) placeEdge(w *World, src string, srcCat extract.Category, dst string, dstCat extract.Category) {
	switch {
	case srcCat == extract.CategorySettlements && dstCat == extract.CategoryNPCs:
		w.Settlements[src].NPCUUIDs = appendUnique(w.Settlements[src].NPCUUIDs, dst)
		if w.NPCs[dst].SettlementUUID == "" {
			w.NPCs[dst].SettlementUUID = src
		}
	case srcCat == extract.CategoryNPCs && dstCat == extract.CategorySettlements:
		if w.NPCs[src].SettlementUUID == "" {
			w.NPCs[src].SettlementUUID = dst
		}
		w.Settlements[dst].NPCUUIDs = appendUnique(w.Settlements[dst].NPCUUIDs, src)
	case srcCat == extract.CategoryNPCs && dstCat == extract.CategoryFactions:
		w.NPCs[src].FactionUUIDs = appendUnique(w.NPCs[src].FactionUUIDs, dst)
		w.Factions[dst].MemberUUIDs = appendUnique(w.Factions[dst].MemberUUIDs, src)
	case srcCat == extract.CategoryFactions && dstCat == extract.CategoryNPCs:
		w.Factions[src].MemberUUIDs = appendUnique(w.Factions[src].MemberUUIDs, dst)
		w.NPCs[dst].FactionUUIDs = appendUnique(w.NPCs[dst].FactionUUIDs, src)
	case srcCat == extract.CategoryNPCs && dstCat == extract.CategoryDungeons:
		w.NPCs[src].DungeonUUIDs = appendUnique(w.NPCs[src].DungeonUUIDs, dst)
	case srcCat == extract.CategoryFactions && (dstCat == extract.CategoryHexes || dstCat == extract.CategorySettlements):
		w.Factions[src].TerritoryUUIDs = appendUnique(w.Factions[src].TerritoryUUIDs, dst)
		if s, ok := w.Settlements[dst]; ok && s.HexUUID != "" {
			w.Hexes[s.HexUUID].FactionUUIDs = appendUnique(w.Hexes[s.HexUUID].FactionUUIDs, src)
		}
	case srcCat == extract.CategorySettlements && dstCat == extract.CategoryShops:
		w.Settlements[src].ShopUUIDs = appendUnique(w.Settlements[src].ShopUUIDs, dst)
	case srcCat == extract.CategorySettlements && dstCat == extract.CategoryDwellings:
		w.Settlements[src].DwellingUUIDs = appendUnique(w.Settlements[src].DwellingUUIDs, dst)
	}
}

// danglingReason names why a target could not be resolved, using the
// search-refs type tag when the worldbook at least knows what the target was.
func danglingReason(snap *hbf.Snapshot, target string) string {
	if ref, ok := snap.Ref(target); ok && ref.Type != "" {
		return fmt.Sprintf("referenced %s UUID not present", ref.Type)
	}
	if _, ok := snap.Entities[target]; ok {
		return "referenced page present but uncategorized"
	}
	return "referenced UUID not present in snapshot"
}

// applyMapAuthority checks each NPC's claimed residence against the map. When
// the page's cluster region disagrees with the map region of the settlement's
// hex, the map wins and the conflict is recorded.
func (r *Resolver) applyMapAuthority(index map[string]entityInfo, w *World) {
	for _, uuid := range w.SortedNPCUUIDs() {
		npc := w.NPCs[uuid]
		if npc.SettlementUUID == "" {
			continue
		}
		s, ok := w.Settlements[npc.SettlementUUID]
		if !ok || s.HexUUID == "" {
			continue
		}
		mapRegion := w.Hexes[s.HexUUID].RegionName
		claimed := index[uuid].cluster.Name
		if claimed == extract.CombinedCluster || claimed == "" || claimed == mapRegion {
			continue
		}
		w.Conflicts = append(w.Conflicts, AuthorityConflict{
			EntityUUID: uuid,
			Detail: fmt.Sprintf("page claims region %q but the map places settlement %s in %q",
				claimed, s.UUID, mapRegion),
		})
		r.log.Warn("map authority overrules page",
			"npc", uuid, "claimed", claimed, "map", mapRegion)
	}
}

// buildSpatialIndex makes the coord → entity index total over the map: every
// tile gets an entry even when nothing stands on it.
func (r *Resolver) buildSpatialIndex(w *World) {
	for _, h := range w.Hexes {
		key := h.Coord.String()
		entries := []string{}
		entries = append(entries, h.SettlementUUIDs...)
		entries = append(entries, h.DungeonUUIDs...)
		sort.Strings(entries)
		w.SpatialIndex[key] = entries
	}
}

// validateDungeonGraphs checks that every doorway's destination is an area of
// the same dungeon. Broken doorways become dangling edges.
func (r *Resolver) validateDungeonGraphs(w *World) {
	for _, uuid := range w.SortedDungeonUUIDs() {
		d := w.Dungeons[uuid]
		areas := map[string]bool{}
		for _, a := range d.Areas {
			areas[a.UUID] = true
		}
		for _, a := range d.Areas {
			for _, dw := range a.Doorways {
				if dw.LeadsToArea != "" && !areas[dw.LeadsToArea] {
					w.Dangling = append(w.Dangling, DanglingEdge{
						SourceUUID: dw.UUID,
						Field:      "leads_to_area",
						TargetUUID: dw.LeadsToArea,
						Reason:     fmt.Sprintf("doorway target area not present in dungeon %s", uuid),
					})
				}
			}
		}
	}
}

func (r *Resolver) sortEdgeLists(w *World) {
	for _, h := range w.Hexes {
		sort.Strings(h.SettlementUUIDs)
		sort.Strings(h.DungeonUUIDs)
		sort.Strings(h.FactionUUIDs)
	}
	for _, s := range w.Settlements {
		sort.Strings(s.NPCUUIDs)
		sort.Strings(s.ShopUUIDs)
		sort.Strings(s.DwellingUUIDs)
	}
	for _, n := range w.NPCs {
		sort.Strings(n.FactionUUIDs)
		sort.Strings(n.DungeonUUIDs)
	}
	for _, f := range w.Factions {
		sort.Strings(f.MemberUUIDs)
		sort.Strings(f.TerritoryUUIDs)
	}
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// directionWords maps doorway link text fragments to canonical directions.
var directionWords = []string{"north", "south", "east", "west", "up", "down"}

// parseAreas extracts a dungeon's area graph from its page markup. HexRoll
// renders areas as div.area blocks or ul.areas / ol.rooms list items, with
// intra-page anchors linking connected areas.
func parseAreas(dungeonUUID, html string) []Area {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	idToUUID := map[string]string{}
	var areas []Area
	sel := doc.Find("div.area, ul.areas > li, ol.rooms > li")
	sel.Each(func(i int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		uuid := hashing.HashString(dungeonUUID + "/area/" + fmt.Sprint(i))
		if id != "" {
			idToUUID[id] = uuid
		}
		title := strings.TrimSpace(s.Find("h3, h4, strong").First().Text())
		if title == "" {
			title = firstWords(s.Text(), 6)
		}
		areas = append(areas, Area{
			UUID:        uuid,
			Title:       title,
			Description: strings.TrimSpace(s.Find("p").First().Text()),
		})
	})

	sel.Each(func(i int, s *goquery.Selection) {
		s.Find(`a[href^="#"]`).Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			targetID := strings.TrimPrefix(href, "#")
			target, known := idToUUID[targetID]
			if !known {
				// Unresolvable anchors still produce a doorway; graph
				// validation flags them.
				target = hashing.HashString(dungeonUUID + "/missing/" + targetID)
			}
			text := strings.ToLower(a.Text())
			dw := Doorway{
				UUID:        hashing.HashString(areas[i].UUID + "->" + target),
				AreaUUID:    areas[i].UUID,
				LeadsToArea: target,
				Locked:      strings.Contains(text, "locked"),
				Trapped:     strings.Contains(text, "trap"),
				Secret:      strings.Contains(text, "secret"),
			}
			for _, d := range directionWords {
				if strings.Contains(text, d) {
					dw.Direction = d
					break
				}
			}
			areas[i].Doorways = append(areas[i].Doorways, dw)
		})
	})
	return areas
}

// parseTableEntries pulls the rows of a rumor or weather table. The first
// cell is the roll range when the table has two or more columns.
func parseTableEntries(html string) []TableEntry {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var entries []TableEntry
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		var e TableEntry
		if cells.Length() >= 2 {
			e.Roll = strings.TrimSpace(cells.First().Text())
			e.Text = strings.TrimSpace(cells.Eq(1).Text())
		} else {
			e.Text = strings.TrimSpace(cells.First().Text())
		}
		if href, ok := tr.Find("a").First().Attr("href"); ok {
			if m := uuidFromHref(href); m != "" {
				e.SubjectUUID = m
			}
		}
		if e.Text != "" {
			entries = append(entries, e)
		}
	})
	return entries
}

func uuidFromHref(href string) string {
	i := strings.LastIndexAny(href, "#/")
	if i < 0 || i == len(href)-1 {
		return ""
	}
	cand := href[i+1:]
	if len(cand) < 8 || len(cand) > 32 {
		return ""
	}
	for _, r := range cand {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return cand
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
