package emit_test

import (
	"bytes"
	"errors"
	"go/format"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hollowvale/dreadhex/internal/emit"
	"github.com/hollowvale/dreadhex/internal/resolve"
)

func testWorld() *resolve.World {
	w := resolve.NewWorld()
	w.Hexes["hex00000001"] = &resolve.Hex{
		UUID: "hex00000001", Coord: resolve.HexCoord{Q: 0, R: 0}, Biome: "swamp",
		Feature: "village", RegionUUID: "reg00000001",
		SettlementUUIDs: []string{"set00000001"},
	}
	w.Hexes["hex00000002"] = &resolve.Hex{
		UUID: "hex00000002", Coord: resolve.HexCoord{Q: 1, R: 0}, Biome: "forest",
		RegionUUID: "reg00000001",
	}
	w.Hexes["hex00000003"] = &resolve.Hex{
		UUID: "hex00000003", Coord: resolve.HexCoord{Q: 0, R: 1}, Biome: "hills",
		RegionUUID: "reg00000001",
	}
	w.Settlements["set00000001"] = &resolve.Settlement{
		UUID: "set00000001", Name: "Marshlight", Kind: "village",
		HexUUID: "hex00000001", NPCUUIDs: []string{"npc00000001"},
	}
	w.NPCs["npc00000001"] = &resolve.NPC{
		UUID: "npc00000001", Name: "Ivo the Lamplighter", SettlementUUID: "set00000001",
	}
	w.SpatialIndex = map[string][]string{
		"0,0": {"set00000001"},
		"1,0": {},
		"0,1": {},
	}
	w.RegionHexes = map[string][]string{
		"reg00000001": {"0,0", "0,1", "1,0"},
	}
	return w
}

func TestEmitWritesAllModules(t *testing.T) {
	dir := t.TempDir()
	names, err := emit.New(dir).Emit(testWorld())
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("emitted file %s missing: %v", name, err)
		}
	}

	hexes, err := os.ReadFile(filepath.Join(dir, "hexes.go"))
	if err != nil {
		t.Fatal(err)
	}
	src := string(hexes)
	if !strings.HasPrefix(src, "// Code generated") {
		t.Error("hexes.go missing generated header")
	}
	if strings.Count(src, "UUID: \"hex") != 3 {
		t.Errorf("hex table does not have 3 entries:\n%s", src)
	}
	// Sorted-by-UUID ordering.
	if strings.Index(src, "hex00000001") > strings.Index(src, "hex00000002") {
		t.Error("hex table not sorted by UUID")
	}

	index, err := os.ReadFile(filepath.Join(dir, "worldbook.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(index), `"spatial.go"`) {
		t.Error("module index does not list spatial.go")
	}
}

func TestEmitOutputIsGofmtClean(t *testing.T) {
	dir := t.TempDir()
	names, err := emit.New(dir).Emit(testWorld())
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		formatted, err := format.Source(data)
		if err != nil {
			t.Fatalf("%s does not parse: %v", name, err)
		}
		if !bytes.Equal(data, formatted) {
			t.Errorf("%s is not gofmt-clean", name)
		}
	}
}

func TestEmitIsIdempotent(t *testing.T) {
	var outputs []map[string]string
	for i := 0; i < 2; i++ {
		dir := t.TempDir()
		names, err := emit.New(dir).Emit(testWorld())
		if err != nil {
			t.Fatalf("Emit: %v", err)
		}
		files := map[string]string{}
		for _, name := range names {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				t.Fatal(err)
			}
			files[name] = string(data)
		}
		outputs = append(outputs, files)
	}
	for name, first := range outputs[0] {
		if outputs[1][name] != first {
			t.Errorf("%s differs between two emissions of the same world", name)
		}
	}
}

func TestEmitRejectsMissingRequiredField(t *testing.T) {
	w := testWorld()
	w.Settlements["set00000001"].Name = ""

	dir := t.TempDir()
	_, err := emit.New(dir).Emit(w)
	var ee *emit.EmitError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want EmitError", err)
	}
	if ee.File != "settlements.go" {
		t.Errorf("EmitError file = %q", ee.File)
	}

	// No partial output.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("emitter left %d files after a fatal error", len(entries))
	}
}

func TestEmitRejectsEmptyUUID(t *testing.T) {
	w := testWorld()
	w.NPCs[""] = &resolve.NPC{UUID: "", Name: "Nameless"}

	_, err := emit.New(t.TempDir()).Emit(w)
	var ee *emit.EmitError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want EmitError", err)
	}
	if ee.File != "npcs.go" {
		t.Errorf("EmitError file = %q", ee.File)
	}
}

func TestEmitSpatialBuildersAreTotal(t *testing.T) {
	dir := t.TempDir()
	if _, err := emit.New(dir).Emit(testWorld()); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "spatial.go"))
	if err != nil {
		t.Fatal(err)
	}
	src := string(data)
	for _, coord := range []string{`"0,0"`, `"1,0"`, `"0,1"`} {
		if !strings.Contains(src, coord) {
			t.Errorf("spatial index missing coord %s", coord)
		}
	}
	if !strings.Contains(src, `"reg00000001"`) {
		t.Error("region hex set missing")
	}
}
