package resolve

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Hex is a resolved overworld tile.
type Hex struct {
	UUID            string   `json:"uuid"`
	Coord           HexCoord `json:"coord"`
	Biome           string   `json:"biome"`
	Feature         string   `json:"feature,omitempty"`
	RegionUUID      string   `json:"region_uuid,omitempty"`
	RegionName      string   `json:"region_name,omitempty"`
	Unaffiliated    bool     `json:"unaffiliated,omitempty"`
	SettlementUUIDs []string `json:"settlement_uuids,omitempty"`
	DungeonUUIDs    []string `json:"dungeon_uuids,omitempty"`
	FactionUUIDs    []string `json:"faction_uuids,omitempty"`
	Rivers          []int    `json:"rivers,omitempty"`
	Trails          []int    `json:"trails,omitempty"`
}

// Settlement is a resolved settlement page (city, town, village, inn).
type Settlement struct {
	UUID          string   `json:"uuid"`
	Name          string   `json:"name"`
	Kind          string   `json:"kind"`
	HexUUID       string   `json:"hex_uuid,omitempty"`
	RegionUUID    string   `json:"region_uuid,omitempty"`
	NPCUUIDs      []string `json:"npc_uuids,omitempty"`
	ShopUUIDs     []string `json:"shop_uuids,omitempty"`
	DwellingUUIDs []string `json:"dwelling_uuids,omitempty"`
}

// Doorway connects two areas inside a dungeon.
type Doorway struct {
	UUID        string `json:"uuid"`
	AreaUUID    string `json:"area_uuid"`
	Direction   string `json:"direction,omitempty"`
	Material    string `json:"material,omitempty"`
	Condition   string `json:"condition,omitempty"`
	LeadsToArea string `json:"leads_to_area,omitempty"`
	Locked      bool   `json:"locked,omitempty"`
	Trapped     bool   `json:"trapped,omitempty"`
	Secret      bool   `json:"secret,omitempty"`
}

// Area is one room or zone of a dungeon.
type Area struct {
	UUID        string    `json:"uuid"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Doorways    []Doorway `json:"doorways,omitempty"`
}

// Dungeon is a resolved dungeon page (dungeon, cave, temple, tomb) together
// with its parsed area graph.
type Dungeon struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	HexUUID string `json:"hex_uuid,omitempty"`
	Areas   []Area `json:"areas,omitempty"`
}

// NPC is a resolved character page.
type NPC struct {
	UUID           string   `json:"uuid"`
	Name           string   `json:"name"`
	SettlementUUID string   `json:"settlement_uuid,omitempty"`
	FactionUUIDs   []string `json:"faction_uuids,omitempty"`
	DungeonUUIDs   []string `json:"dungeon_uuids,omitempty"`
}

// Faction is a resolved faction page.
type Faction struct {
	UUID           string   `json:"uuid"`
	Name           string   `json:"name"`
	MemberUUIDs    []string `json:"member_uuids,omitempty"`
	TerritoryUUIDs []string `json:"territory_uuids,omitempty"`
}

// TableEntry is one row of a rumor or weather table, carried through to the
// emitted data pools.
type TableEntry struct {
	Roll        string `json:"roll,omitempty"`
	Text        string `json:"text"`
	SubjectUUID string `json:"subject_uuid,omitempty"`
}

// DataTable is a resolved rumor or weather table page.
type DataTable struct {
	UUID    string       `json:"uuid"`
	Name    string       `json:"name"`
	Kind    string       `json:"kind"`
	Entries []TableEntry `json:"entries,omitempty"`
}

// DanglingEdge records a UUID reference that could not be resolved. Dangling
// edges never fail the build; they are enumerated in the audit report.
type DanglingEdge struct {
	SourceUUID string `json:"source_uuid"`
	Field      string `json:"field"`
	TargetUUID string `json:"target_uuid"`
	Reason     string `json:"reason"`
}

// AuthorityConflict records a disagreement between the map and an entity page
// about spatial facts. The map wins; the conflict is reported.
type AuthorityConflict struct {
	EntityUUID string `json:"entity_uuid"`
	Detail     string `json:"detail"`
}

// World is the fully cross-referenced model the emitter and the content
// generator consume. All maps are keyed by UUID except SpatialIndex, which is
// keyed by [HexCoord.String] and is total over the map's coordinates.
type World struct {
	Hexes       map[string]*Hex        `json:"hexes"`
	Settlements map[string]*Settlement `json:"settlements"`
	Dungeons    map[string]*Dungeon    `json:"dungeons"`
	NPCs        map[string]*NPC        `json:"npcs"`
	Factions    map[string]*Faction    `json:"factions"`
	Tables      map[string]*DataTable  `json:"tables"`

	// SpatialIndex maps "q,r" to the UUIDs of entities on that hex. Every
	// coordinate present in the source map has an entry, possibly empty.
	SpatialIndex map[string][]string `json:"spatial_index"`

	// RegionHexes maps a region UUID to the sorted coordinates it contains.
	RegionHexes map[string][]string `json:"region_hexes"`

	Dangling  []DanglingEdge      `json:"dangling,omitempty"`
	Conflicts []AuthorityConflict `json:"conflicts,omitempty"`
}

// NewWorld returns an empty world with all maps allocated.
func NewWorld() *World {
	return &World{
		Hexes:        map[string]*Hex{},
		Settlements:  map[string]*Settlement{},
		Dungeons:     map[string]*Dungeon{},
		NPCs:         map[string]*NPC{},
		Factions:     map[string]*Faction{},
		Tables:       map[string]*DataTable{},
		SpatialIndex: map[string][]string{},
		RegionHexes:  map[string][]string{},
	}
}

// HexByCoord returns the hex at the given coordinate, or nil.
func (w *World) HexByCoord(c HexCoord) *Hex {
	for _, h := range w.Hexes {
		if h.Coord == c {
			return h
		}
	}
	return nil
}

// SortedHexUUIDs returns hex UUIDs in lexical order.
func (w *World) SortedHexUUIDs() []string { return sortedKeys(w.Hexes) }

// SortedSettlementUUIDs returns settlement UUIDs in lexical order.
func (w *World) SortedSettlementUUIDs() []string { return sortedKeys(w.Settlements) }

// SortedDungeonUUIDs returns dungeon UUIDs in lexical order.
func (w *World) SortedDungeonUUIDs() []string { return sortedKeys(w.Dungeons) }

// SortedNPCUUIDs returns NPC UUIDs in lexical order.
func (w *World) SortedNPCUUIDs() []string { return sortedKeys(w.NPCs) }

// SortedFactionUUIDs returns faction UUIDs in lexical order.
func (w *World) SortedFactionUUIDs() []string { return sortedKeys(w.Factions) }

// SortedTableUUIDs returns table UUIDs in lexical order.
func (w *World) SortedTableUUIDs() []string { return sortedKeys(w.Tables) }

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Save writes the world to path as indented JSON with an atomic rename.
// encoding/json sorts map keys, so identical worlds produce identical bytes.
func (w *World) Save(path string) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("resolve: marshal world: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("resolve: write world: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("resolve: rename world: %w", err)
	}
	return nil
}

// LoadWorld reads a world previously written by [World.Save].
func LoadWorld(path string) (*World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	w := NewWorld()
	if err := json.Unmarshal(data, w); err != nil {
		return nil, fmt.Errorf("resolve: parse world %q: %w", path, err)
	}
	return w, nil
}
