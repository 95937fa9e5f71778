package resolve_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/hollowvale/dreadhex/internal/analysis"
	"github.com/hollowvale/dreadhex/internal/extract"
	"github.com/hollowvale/dreadhex/internal/hbf"
	"github.com/hollowvale/dreadhex/internal/resolve"
)

func TestHexWorldRoundTrip(t *testing.T) {
	for q := -10; q <= 10; q++ {
		for r := -10; r <= 10; r++ {
			h := resolve.HexCoord{Q: q, R: r}
			x, z := h.ToWorld()
			if got := resolve.FromWorld(x, z); got != h {
				t.Fatalf("round trip (%d,%d) -> (%.4f,%.4f) -> %v", q, r, x, z, got)
			}
		}
	}
}

func TestHexDistance(t *testing.T) {
	tests := []struct {
		a, b resolve.HexCoord
		want int
	}{
		{resolve.HexCoord{0, 0}, resolve.HexCoord{0, 0}, 0},
		{resolve.HexCoord{0, 0}, resolve.HexCoord{1, 0}, 1},
		{resolve.HexCoord{0, 0}, resolve.HexCoord{1, -1}, 1},
		{resolve.HexCoord{0, 0}, resolve.HexCoord{2, -1}, 2},
		{resolve.HexCoord{-2, 1}, resolve.HexCoord{3, -1}, 5},
	}
	for _, tt := range tests {
		if got := resolve.Distance(tt.a, tt.b); got != tt.want {
			t.Errorf("Distance(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestHexNeighborsAreAdjacent(t *testing.T) {
	origin := resolve.HexCoord{Q: 2, R: -1}
	seen := map[resolve.HexCoord]bool{}
	for _, n := range origin.Neighbors() {
		if resolve.Distance(origin, n) != 1 {
			t.Errorf("neighbor %v is at distance %d", n, resolve.Distance(origin, n))
		}
		if seen[n] {
			t.Errorf("duplicate neighbor %v", n)
		}
		seen[n] = true
	}
}

func TestParseHexCoord(t *testing.T) {
	h := resolve.HexCoord{Q: -3, R: 7}
	got, err := resolve.ParseHexCoord(h.String())
	if err != nil {
		t.Fatalf("ParseHexCoord: %v", err)
	}
	if got != h {
		t.Errorf("got %v, want %v", got, h)
	}
	if _, err := resolve.ParseHexCoord("not-a-coord"); err == nil {
		t.Error("ParseHexCoord accepted garbage")
	}
}

// testSnapshot builds a 3-tile map with a settlement on (0,0) and an NPC
// living there.
func testSnapshot() *hbf.Snapshot {
	return &hbf.Snapshot{
		Map: hbf.Map{
			Tiles: []hbf.Tile{
				{Q: 0, R: 0, Biome: "swamp", UUID: "hex00000001", Feature: "village", FeatureUUID: "set00000001", RegionUUID: "reg00000001"},
				{Q: 1, R: 0, Biome: "forest", UUID: "hex00000002", RegionUUID: "reg00000001"},
				{Q: 0, R: 1, Biome: "hills", UUID: "hex00000003", RegionUUID: "reg00000001"},
			},
			Regions: map[string]hbf.Region{
				"reg00000001": {Name: "Blackfen"},
			},
			Realms: map[string]hbf.Realm{},
		},
		Entities: map[string]string{
			"set00000001": "<h1>Marshlight</h1>",
			"npc00000001": "<h1>Ivo the Lamplighter</h1>",
		},
		Refs: map[string]hbf.Ref{
			"set00000001": {UUID: "set00000001", Value: "Marshlight", Type: "village"},
			"npc00000001": {UUID: "npc00000001", Value: "Ivo the Lamplighter", Type: "npc"},
		},
	}
}

func testClusters(entities ...extract.RawEntity) *extract.Result {
	res := &extract.Result{Clusters: map[extract.ClusterKey]*extract.Cluster{}}
	for _, e := range entities {
		key := extract.ClusterKey{Category: e.PageType.Category(), Name: "Blackfen"}
		if !e.PageType.Category().RegionScoped() {
			key.Name = extract.CombinedCluster
		}
		c, ok := res.Clusters[key]
		if !ok {
			c = &extract.Cluster{Key: key}
			res.Clusters[key] = c
		}
		c.Entities = append(c.Entities, e)
	}
	return res
}

func TestResolveLinksSettlementAndNPC(t *testing.T) {
	snap := testSnapshot()
	extracted := testClusters(
		extract.RawEntity{UUID: "set00000001", PageType: extract.PageVillage, Title: "Marshlight",
			ParentRefs: []string{"npc00000001"}},
		extract.RawEntity{UUID: "npc00000001", PageType: extract.PageNPC, Title: "Ivo",
			ParentRefs: []string{"set00000001"}},
	)

	w, err := resolve.NewResolver(nil).Resolve(snap, extracted, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	s := w.Settlements["set00000001"]
	if s == nil {
		t.Fatal("settlement not resolved")
	}
	if s.HexUUID != "hex00000001" {
		t.Errorf("settlement hex = %q, want hex00000001", s.HexUUID)
	}
	if len(s.NPCUUIDs) != 1 || s.NPCUUIDs[0] != "npc00000001" {
		t.Errorf("settlement npc_uuids = %v", s.NPCUUIDs)
	}
	if s.Name != "Marshlight" {
		t.Errorf("settlement name = %q", s.Name)
	}

	n := w.NPCs["npc00000001"]
	if n == nil || n.SettlementUUID != "set00000001" {
		t.Errorf("npc residence not resolved: %+v", n)
	}

	h := w.Hexes["hex00000001"]
	if len(h.SettlementUUIDs) != 1 || h.SettlementUUIDs[0] != "set00000001" {
		t.Errorf("hex settlement_uuids = %v", h.SettlementUUIDs)
	}
	if len(w.Dangling) != 0 {
		t.Errorf("unexpected dangling edges: %v", w.Dangling)
	}
}

func TestResolveDanglingDungeonReference(t *testing.T) {
	snap := testSnapshot()
	// The refs table knows the target was a dungeon, but no page exists.
	snap.Refs["dun00000bad"] = hbf.Ref{UUID: "dun00000bad", Value: "The Sunken Vault", Type: "dungeon"}

	extracted := testClusters(
		extract.RawEntity{UUID: "npc00000001", PageType: extract.PageNPC, Title: "Ivo",
			ParentRefs: []string{"dun00000bad"}},
	)

	w, err := resolve.NewResolver(nil).Resolve(snap, extracted, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(w.Dangling) != 1 {
		t.Fatalf("got %d dangling edges, want 1", len(w.Dangling))
	}
	d := w.Dangling[0]
	if d.SourceUUID != "npc00000001" || d.TargetUUID != "dun00000bad" {
		t.Errorf("dangling edge = %+v", d)
	}
	if d.Reason != "referenced dungeon UUID not present" {
		t.Errorf("reason = %q", d.Reason)
	}
	if len(w.NPCs["npc00000001"].DungeonUUIDs) != 0 {
		t.Error("dangling target leaked into npc dungeon_uuids")
	}
}

func TestResolveAttributesEdgesToConnectionFields(t *testing.T) {
	snap := testSnapshot()
	extracted := testClusters(
		extract.RawEntity{UUID: "set00000001", PageType: extract.PageVillage, Title: "Marshlight"},
		extract.RawEntity{UUID: "npc00000001", PageType: extract.PageNPC, Title: "Ivo",
			HTML:       `<p>Sworn to <a href="#fac0000dead">the Lantern Court</a>.</p>`,
			ParentRefs: []string{"fac0000dead"}},
	)
	inventories := []*analysis.Inventory{{
		Category: extract.CategoryNPCs,
		Cluster:  "Blackfen",
		Models: []analysis.ModelSpec{{
			ModelName: "NPC",
			Fields: []analysis.FieldSpec{
				{Name: "sworn_to", TypeTag: "uuid", IsUUID: true, IsConnection: true},
				{Name: "resident_of", TypeTag: "uuid", IsUUID: true, IsConnection: true, Required: true},
			},
		}},
	}}

	w, err := resolve.NewResolver(nil).Resolve(snap, extracted, inventories)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	var swornTo, residentOf *resolve.DanglingEdge
	for i := range w.Dangling {
		d := &w.Dangling[i]
		switch d.Field {
		case "sworn_to":
			swornTo = d
		case "resident_of":
			residentOf = d
		}
	}
	if swornTo == nil {
		t.Fatalf("missing faction link not attributed to sworn_to: %v", w.Dangling)
	}
	if swornTo.SourceUUID != "npc00000001" || swornTo.TargetUUID != "fac0000dead" {
		t.Errorf("sworn_to edge = %+v", swornTo)
	}
	if residentOf == nil {
		t.Fatalf("required resident_of with no link not reported: %v", w.Dangling)
	}
	if residentOf.SourceUUID != "npc00000001" || residentOf.TargetUUID != "" {
		t.Errorf("resident_of edge = %+v", residentOf)
	}
	if residentOf.Reason != "required connection field has no link in the page" {
		t.Errorf("resident_of reason = %q", residentOf.Reason)
	}
}

func TestResolveSpatialIndexIsTotal(t *testing.T) {
	snap := testSnapshot()
	w, err := resolve.NewResolver(nil).Resolve(snap, testClusters(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(w.SpatialIndex) != len(snap.Map.Tiles) {
		t.Fatalf("spatial index has %d entries, map has %d tiles", len(w.SpatialIndex), len(snap.Map.Tiles))
	}
	for _, tile := range snap.Map.Tiles {
		key := resolve.HexCoord{Q: tile.Q, R: tile.R}.String()
		if _, ok := w.SpatialIndex[key]; !ok {
			t.Errorf("coord %s missing from spatial index", key)
		}
	}
}

func TestResolveUnaffiliatedHex(t *testing.T) {
	snap := testSnapshot()
	snap.Map.Tiles[2].RegionUUID = "reg0000dead"

	w, err := resolve.NewResolver(nil).Resolve(snap, testClusters(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	h := w.Hexes["hex00000003"]
	if !h.Unaffiliated {
		t.Error("hex with undefined region not downgraded to unaffiliated")
	}
	if len(w.Conflicts) != 1 {
		t.Errorf("got %d conflicts, want 1", len(w.Conflicts))
	}
}

func TestResolveMapAuthorityWins(t *testing.T) {
	snap := testSnapshot()
	extracted := testClusters(
		extract.RawEntity{UUID: "set00000001", PageType: extract.PageVillage, Title: "Marshlight"},
	)
	// The NPC page claims a different region than the map assigns.
	key := extract.ClusterKey{Category: extract.CategoryNPCs, Name: "The Mirelands"}
	extracted.Clusters[key] = &extract.Cluster{Key: key, Entities: []extract.RawEntity{
		{UUID: "npc00000001", PageType: extract.PageNPC, Title: "Ivo",
			ParentRefs: []string{"set00000001"}},
	}}

	w, err := resolve.NewResolver(nil).Resolve(snap, extracted, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(w.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1: %v", len(w.Conflicts), w.Conflicts)
	}
	if w.Conflicts[0].EntityUUID != "npc00000001" {
		t.Errorf("conflict entity = %q", w.Conflicts[0].EntityUUID)
	}
	// Residence still resolves; the map's region stands.
	if w.NPCs["npc00000001"].SettlementUUID != "set00000001" {
		t.Error("residence edge dropped on conflict")
	}
}

const dungeonHTML = `
<h1>The Sunken Vault</h1>
<ul class="areas">
  <li id="entry"><strong>Drowned Entry</strong><p>Water to the knees.</p>
    <a href="#crypt">north, a locked door</a></li>
  <li id="crypt"><strong>Flooded Crypt</strong><p>Coffins float here.</p>
    <a href="#entry">south</a>
    <a href="#oubliette">down, secret hatch</a></li>
</ul>`

func TestResolveDungeonAreaGraph(t *testing.T) {
	snap := testSnapshot()
	snap.Map.Tiles[1].Feature = "dungeon"
	snap.Map.Tiles[1].FeatureUUID = "dun00000001"
	snap.Entities["dun00000001"] = dungeonHTML

	extracted := testClusters(
		extract.RawEntity{UUID: "dun00000001", PageType: extract.PageDungeon,
			Title: "The Sunken Vault", HTML: dungeonHTML},
	)

	w, err := resolve.NewResolver(nil).Resolve(snap, extracted, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	d := w.Dungeons["dun00000001"]
	if d == nil {
		t.Fatal("dungeon not resolved")
	}
	if d.HexUUID != "hex00000002" {
		t.Errorf("dungeon hex = %q", d.HexUUID)
	}
	if len(d.Areas) != 2 {
		t.Fatalf("got %d areas, want 2", len(d.Areas))
	}
	if d.Areas[0].Title != "Drowned Entry" || d.Areas[1].Title != "Flooded Crypt" {
		t.Errorf("area titles = %q, %q", d.Areas[0].Title, d.Areas[1].Title)
	}

	entry := d.Areas[0]
	if len(entry.Doorways) != 1 {
		t.Fatalf("entry has %d doorways, want 1", len(entry.Doorways))
	}
	dw := entry.Doorways[0]
	if dw.LeadsToArea != d.Areas[1].UUID {
		t.Errorf("doorway leads to %q, want crypt %q", dw.LeadsToArea, d.Areas[1].UUID)
	}
	if dw.Direction != "north" || !dw.Locked {
		t.Errorf("doorway attributes = %+v", dw)
	}

	// The hatch to "oubliette" has no matching area: one dangling edge.
	if len(w.Dangling) != 1 {
		t.Fatalf("got %d dangling edges, want 1: %v", len(w.Dangling), w.Dangling)
	}
	if w.Dangling[0].Field != "leads_to_area" {
		t.Errorf("dangling field = %q", w.Dangling[0].Field)
	}
}

func TestWorldSaveIsDeterministic(t *testing.T) {
	snap := testSnapshot()
	extracted := testClusters(
		extract.RawEntity{UUID: "set00000001", PageType: extract.PageVillage, Title: "Marshlight",
			ParentRefs: []string{"npc00000001"}},
		extract.RawEntity{UUID: "npc00000001", PageType: extract.PageNPC, Title: "Ivo"},
	)

	dir := t.TempDir()
	var blobs [][]byte
	for i := 0; i < 2; i++ {
		w, err := resolve.NewResolver(nil).Resolve(snap, extracted, nil)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		path := filepath.Join(dir, "world.json")
		if err := w.Save(path); err != nil {
			t.Fatalf("Save: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		blobs = append(blobs, data)
	}
	if !bytes.Equal(blobs[0], blobs[1]) {
		t.Error("two resolutions of the same input produced different world.json bytes")
	}

	w2, err := resolve.LoadWorld(filepath.Join(dir, "world.json"))
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	if len(w2.Settlements) != 1 || len(w2.Hexes) != 3 {
		t.Errorf("round trip lost entities: %d settlements, %d hexes", len(w2.Settlements), len(w2.Hexes))
	}
}
