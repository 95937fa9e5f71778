// Package emit renders the resolved world into Go source artifacts: static
// entity tables, spatial container builders, and a module index. Output is
// deterministic down to the byte: tables are sorted by UUID, map literals by
// key, and all formatting is fixed. Every file is rendered and validated in
// memory before anything touches disk; an [EmitError] leaves the output
// directory untouched.
package emit

import (
	"fmt"
	"go/format"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hollowvale/dreadhex/internal/resolve"
)

// EmitError is a fatal emission failure: a missing required field or a
// duplicate UUID in an emitted table. The emitter never writes partial
// output.
type EmitError struct {
	File   string
	Detail string
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("emit %s: %s", e.File, e.Detail)
}

// PackageName is the package declared by every emitted file.
const PackageName = "worldbook"

const fileHeader = "// Code generated by dreadhex. DO NOT EDIT.\n\npackage " + PackageName + "\n\n"

// Emitter renders a resolved world into dir.
type Emitter struct {
	dir string
}

// New creates an emitter targeting dir.
func New(dir string) *Emitter {
	return &Emitter{dir: dir}
}

// Emit stages every artifact in memory, validates the whole set, and only
// then writes the files. Returns the emitted file names in index order.
func (e *Emitter) Emit(w *resolve.World) ([]string, error) {
	staged := map[string]string{}

	renderers := []struct {
		file   string
		render func(*resolve.World) (string, error)
	}{
		{"types.go", renderTypes},
		{"hexes.go", renderHexes},
		{"settlements.go", renderSettlements},
		{"dungeons.go", renderDungeons},
		{"npcs.go", renderNPCs},
		{"factions.go", renderFactions},
		{"tables.go", renderTables},
		{"spatial.go", renderSpatial},
	}

	names := make([]string, 0, len(renderers)+1)
	for _, r := range renderers {
		src, err := r.render(w)
		if err != nil {
			return nil, err
		}
		staged[r.file] = src
		names = append(names, r.file)
	}
	staged["worldbook.go"] = renderIndex(names)
	names = append(names, "worldbook.go")

	// Formatting doubles as a syntax check over the whole staged set.
	for name, src := range staged {
		formatted, err := format.Source([]byte(src))
		if err != nil {
			return nil, &EmitError{File: name, Detail: fmt.Sprintf("rendered source does not parse: %v", err)}
		}
		staged[name] = string(formatted)
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, err
	}
	for _, name := range names {
		path := filepath.Join(e.dir, name)
		if err := os.WriteFile(path, []byte(staged[name]), 0o644); err != nil {
			return nil, fmt.Errorf("emit: write %s: %w", name, err)
		}
	}
	return names, nil
}

func renderIndex(files []string) string {
	var b strings.Builder
	b.WriteString("// Code generated by dreadhex. DO NOT EDIT.\n\n")
	b.WriteString("// Package " + PackageName + " holds the static world data emitted by the\n")
	b.WriteString("// worldbook transformation pipeline. Sub-modules:\n")
	for _, f := range files {
		b.WriteString("//   - " + f + "\n")
	}
	b.WriteString("package " + PackageName + "\n\n")
	b.WriteString("// Modules lists every emitted sub-module.\n")
	b.WriteString("var Modules = []string{\n")
	for _, f := range files {
		b.WriteString("\t" + strconv.Quote(f) + ",\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func renderTypes(*resolve.World) (string, error) {
	var b strings.Builder
	b.WriteString(fileHeader)
	b.WriteString(`// Hex is one overworld tile.
type Hex struct {
	UUID            string
	Q, R            int
	Biome           string
	Feature         string
	RegionUUID      string
	Unaffiliated    bool
	SettlementUUIDs []string
	DungeonUUIDs    []string
	FactionUUIDs    []string
}

// Settlement is a populated place.
type Settlement struct {
	UUID     string
	Name     string
	Kind     string
	HexUUID  string
	NPCUUIDs []string
}

// Doorway connects two dungeon areas.
type Doorway struct {
	UUID        string
	Direction   string
	LeadsToArea string
	Locked      bool
	Trapped     bool
	Secret      bool
}

// Area is one dungeon room or zone.
type Area struct {
	UUID     string
	Title    string
	Doorways []Doorway
}

// Dungeon is an explorable site with an area graph.
type Dungeon struct {
	UUID    string
	Name    string
	Kind    string
	HexUUID string
	Areas   []Area
}

// NPC is a named character.
type NPC struct {
	UUID           string
	Name           string
	SettlementUUID string
	FactionUUIDs   []string
}

// Faction is an organised power group.
type Faction struct {
	UUID           string
	Name           string
	MemberUUIDs    []string
	TerritoryUUIDs []string
}

// TableEntry is one row of a rumor or weather pool.
type TableEntry struct {
	Roll        string
	Text        string
	SubjectUUID string
}

// DataTable is a rollable content pool.
type DataTable struct {
	UUID    string
	Name    string
	Kind    string
	Entries []TableEntry
}
`)
	return b.String(), nil
}

// checkUUIDs enforces table-level uniqueness and presence of the uuid field.
func checkUUIDs(file string, uuids []string) error {
	seen := map[string]bool{}
	for _, u := range uuids {
		if u == "" {
			return &EmitError{File: file, Detail: "entity with empty uuid"}
		}
		if seen[u] {
			return &EmitError{File: file, Detail: "duplicate uuid " + u}
		}
		seen[u] = true
	}
	return nil
}

func renderHexes(w *resolve.World) (string, error) {
	uuids := w.SortedHexUUIDs()
	if err := checkUUIDs("hexes.go", uuids); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(fileHeader)
	b.WriteString("// Hexes is the full overworld tile table, sorted by UUID.\nvar Hexes = []Hex{\n")
	for _, u := range uuids {
		h := w.Hexes[u]
		if h.Biome == "" {
			return "", &EmitError{File: "hexes.go", Detail: "hex " + u + " missing biome"}
		}
		b.WriteString("\t{")
		fmt.Fprintf(&b, "UUID: %s, Q: %d, R: %d, Biome: %s", strconv.Quote(h.UUID), h.Coord.Q, h.Coord.R, strconv.Quote(h.Biome))
		if h.Feature != "" {
			fmt.Fprintf(&b, ", Feature: %s", strconv.Quote(h.Feature))
		}
		if h.RegionUUID != "" {
			fmt.Fprintf(&b, ", RegionUUID: %s", strconv.Quote(h.RegionUUID))
		}
		if h.Unaffiliated {
			b.WriteString(", Unaffiliated: true")
		}
		writeStringSliceField(&b, "SettlementUUIDs", h.SettlementUUIDs)
		writeStringSliceField(&b, "DungeonUUIDs", h.DungeonUUIDs)
		writeStringSliceField(&b, "FactionUUIDs", h.FactionUUIDs)
		b.WriteString("},\n")
	}
	b.WriteString("}\n")
	return b.String(), nil
}

func renderSettlements(w *resolve.World) (string, error) {
	uuids := w.SortedSettlementUUIDs()
	if err := checkUUIDs("settlements.go", uuids); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(fileHeader)
	b.WriteString("// Settlements is the settlement table, sorted by UUID.\nvar Settlements = []Settlement{\n")
	for _, u := range uuids {
		s := w.Settlements[u]
		if s.Name == "" {
			return "", &EmitError{File: "settlements.go", Detail: "settlement " + u + " missing name"}
		}
		b.WriteString("\t{")
		fmt.Fprintf(&b, "UUID: %s, Name: %s, Kind: %s", strconv.Quote(s.UUID), strconv.Quote(s.Name), strconv.Quote(s.Kind))
		if s.HexUUID != "" {
			fmt.Fprintf(&b, ", HexUUID: %s", strconv.Quote(s.HexUUID))
		}
		writeStringSliceField(&b, "NPCUUIDs", s.NPCUUIDs)
		b.WriteString("},\n")
	}
	b.WriteString("}\n")
	return b.String(), nil
}

func renderDungeons(w *resolve.World) (string, error) {
	uuids := w.SortedDungeonUUIDs()
	if err := checkUUIDs("dungeons.go", uuids); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(fileHeader)
	b.WriteString("// Dungeons is the dungeon table, sorted by UUID.\nvar Dungeons = []Dungeon{\n")
	for _, u := range uuids {
		d := w.Dungeons[u]
		if d.Name == "" {
			return "", &EmitError{File: "dungeons.go", Detail: "dungeon " + u + " missing name"}
		}
		b.WriteString("\t{")
		fmt.Fprintf(&b, "UUID: %s, Name: %s, Kind: %s", strconv.Quote(d.UUID), strconv.Quote(d.Name), strconv.Quote(d.Kind))
		if d.HexUUID != "" {
			fmt.Fprintf(&b, ", HexUUID: %s", strconv.Quote(d.HexUUID))
		}
		if len(d.Areas) > 0 {
			b.WriteString(", Areas: []Area{\n")
			for _, a := range d.Areas {
				fmt.Fprintf(&b, "\t\t{UUID: %s, Title: %s", strconv.Quote(a.UUID), strconv.Quote(a.Title))
				if len(a.Doorways) > 0 {
					b.WriteString(", Doorways: []Doorway{\n")
					for _, dw := range a.Doorways {
						fmt.Fprintf(&b, "\t\t\t{UUID: %s, Direction: %s, LeadsToArea: %s, Locked: %t, Trapped: %t, Secret: %t},\n",
							strconv.Quote(dw.UUID), strconv.Quote(dw.Direction), strconv.Quote(dw.LeadsToArea),
							dw.Locked, dw.Trapped, dw.Secret)
					}
					b.WriteString("\t\t}")
				}
				b.WriteString("},\n")
			}
			b.WriteString("\t}")
		}
		b.WriteString("},\n")
	}
	b.WriteString("}\n")
	return b.String(), nil
}

func renderNPCs(w *resolve.World) (string, error) {
	uuids := w.SortedNPCUUIDs()
	if err := checkUUIDs("npcs.go", uuids); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(fileHeader)
	b.WriteString("// NPCs is the character table, sorted by UUID.\nvar NPCs = []NPC{\n")
	for _, u := range uuids {
		n := w.NPCs[u]
		if n.Name == "" {
			return "", &EmitError{File: "npcs.go", Detail: "npc " + u + " missing name"}
		}
		b.WriteString("\t{")
		fmt.Fprintf(&b, "UUID: %s, Name: %s", strconv.Quote(n.UUID), strconv.Quote(n.Name))
		if n.SettlementUUID != "" {
			fmt.Fprintf(&b, ", SettlementUUID: %s", strconv.Quote(n.SettlementUUID))
		}
		writeStringSliceField(&b, "FactionUUIDs", n.FactionUUIDs)
		b.WriteString("},\n")
	}
	b.WriteString("}\n")
	return b.String(), nil
}

func renderFactions(w *resolve.World) (string, error) {
	uuids := w.SortedFactionUUIDs()
	if err := checkUUIDs("factions.go", uuids); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(fileHeader)
	b.WriteString("// Factions is the faction table, sorted by UUID.\nvar Factions = []Faction{\n")
	for _, u := range uuids {
		f := w.Factions[u]
		if f.Name == "" {
			return "", &EmitError{File: "factions.go", Detail: "faction " + u + " missing name"}
		}
		b.WriteString("\t{")
		fmt.Fprintf(&b, "UUID: %s, Name: %s", strconv.Quote(f.UUID), strconv.Quote(f.Name))
		writeStringSliceField(&b, "MemberUUIDs", f.MemberUUIDs)
		writeStringSliceField(&b, "TerritoryUUIDs", f.TerritoryUUIDs)
		b.WriteString("},\n")
	}
	b.WriteString("}\n")
	return b.String(), nil
}

func renderTables(w *resolve.World) (string, error) {
	uuids := w.SortedTableUUIDs()
	if err := checkUUIDs("tables.go", uuids); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(fileHeader)
	b.WriteString("// Tables holds the rumor and weather pools, sorted by UUID.\nvar Tables = []DataTable{\n")
	for _, u := range uuids {
		t := w.Tables[u]
		b.WriteString("\t{")
		fmt.Fprintf(&b, "UUID: %s, Name: %s, Kind: %s", strconv.Quote(t.UUID), strconv.Quote(t.Name), strconv.Quote(t.Kind))
		if len(t.Entries) > 0 {
			b.WriteString(", Entries: []TableEntry{\n")
			for _, e := range t.Entries {
				fmt.Fprintf(&b, "\t\t{Roll: %s, Text: %s, SubjectUUID: %s},\n",
					strconv.Quote(e.Roll), strconv.Quote(e.Text), strconv.Quote(e.SubjectUUID))
			}
			b.WriteString("\t}")
		}
		b.WriteString("},\n")
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// renderSpatial emits one builder per spatial relation. The literals are
// written in sorted key order so output bytes are stable.
func renderSpatial(w *resolve.World) (string, error) {
	var b strings.Builder
	b.WriteString(fileHeader)

	b.WriteString("// HexIndex maps \"q,r\" to the UUIDs of entities on that hex. The index\n")
	b.WriteString("// is total over the map: empty hexes have empty entries.\nvar HexIndex = map[string][]string{\n")
	for _, key := range sortedMapKeys(w.SpatialIndex) {
		fmt.Fprintf(&b, "\t%s: %s,\n", strconv.Quote(key), stringSliceLiteral(w.SpatialIndex[key]))
	}
	b.WriteString("}\n\n")

	b.WriteString("// RegionHexes maps a region UUID to the sorted coordinates it contains.\nvar RegionHexes = map[string][]string{\n")
	for _, key := range sortedMapKeys(w.RegionHexes) {
		fmt.Fprintf(&b, "\t%s: %s,\n", strconv.Quote(key), stringSliceLiteral(w.RegionHexes[key]))
	}
	b.WriteString("}\n\n")

	b.WriteString("// DungeonAreas maps a dungeon UUID to its area UUIDs in page order.\nvar DungeonAreas = map[string][]string{\n")
	for _, u := range w.SortedDungeonUUIDs() {
		areas := make([]string, 0, len(w.Dungeons[u].Areas))
		for _, a := range w.Dungeons[u].Areas {
			areas = append(areas, a.UUID)
		}
		fmt.Fprintf(&b, "\t%s: %s,\n", strconv.Quote(u), stringSliceLiteral(areas))
	}
	b.WriteString("}\n")
	return b.String(), nil
}

func sortedMapKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringSliceLiteral(ss []string) string {
	if len(ss) == 0 {
		return "{}"
	}
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = strconv.Quote(s)
	}
	return "{" + strings.Join(quoted, ", ") + "}"
}

func writeStringSliceField(b *strings.Builder, field string, ss []string) {
	if len(ss) == 0 {
		return
	}
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = strconv.Quote(s)
	}
	fmt.Fprintf(b, ", %s: []string{%s}", field, strings.Join(quoted, ", "))
}
