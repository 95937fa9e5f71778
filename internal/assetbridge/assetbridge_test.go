package assetbridge_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hollowvale/dreadhex/internal/assetbridge"
	"github.com/hollowvale/dreadhex/internal/hashing"
	"github.com/hollowvale/dreadhex/internal/manifest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveStates(t *testing.T) {
	dir := t.TempDir()
	m, err := manifest.Load(filepath.Join(dir, "conversions.json"))
	if err != nil {
		t.Fatal(err)
	}

	// up_to_date: src and dst exist, hash matches.
	srcOK := filepath.Join(dir, "assets", "textures", "fen_moss.png")
	dstOK := filepath.Join(dir, "out", "fen_moss.ktx2")
	writeFile(t, srcOK, "moss")
	writeFile(t, dstOK, "converted")
	hashOK, err := hashing.QuickHash(srcOK)
	if err != nil {
		t.Fatal(err)
	}
	m.RecordConversion(srcOK, hashOK, dstOK)

	// stale: src changed since conversion.
	srcStale := filepath.Join(dir, "assets", "textures", "lamp_iron.png")
	dstStale := filepath.Join(dir, "out", "lamp_iron.ktx2")
	writeFile(t, srcStale, "iron")
	writeFile(t, dstStale, "converted")
	m.RecordConversion(srcStale, "0000000000000000", dstStale)

	// stale: destination vanished.
	srcGone := filepath.Join(dir, "assets", "audio", "wind.ogg")
	writeFile(t, srcGone, "howl")
	hashGone, err := hashing.QuickHash(srcGone)
	if err != nil {
		t.Fatal(err)
	}
	m.RecordConversion(srcGone, hashGone, filepath.Join(dir, "out", "missing.ogg"))

	// staged: src present, no conversion yet.
	srcStaged := filepath.Join(dir, "assets", "models", "shrine.obj")
	writeFile(t, srcStaged, "obj")
	m.RecordConversion(srcStaged, "1111111111111111", "")

	// unknown: src gone entirely.
	m.RecordConversion(filepath.Join(dir, "assets", "lost.png"), "2222222222222222", "")

	handles := assetbridge.NewBridge(nil).Resolve(m)
	if len(handles) != 5 {
		t.Fatalf("got %d handles, want 5", len(handles))
	}

	byName := map[string]assetbridge.Handle{}
	for _, h := range handles {
		byName[h.Name] = h
	}

	tests := []struct {
		name  string
		state assetbridge.State
		stub  bool
	}{
		{"textures_fen_moss", assetbridge.StateUpToDate, false},
		{"textures_lamp_iron", assetbridge.StateStale, true},
		{"audio_wind", assetbridge.StateStale, true},
		{"models_shrine", assetbridge.StateStaged, true},
		{"lost", assetbridge.StateUnknown, true},
	}
	for _, tt := range tests {
		h, ok := byName[tt.name]
		if !ok {
			t.Errorf("no handle named %q (have %v)", tt.name, names(handles))
			continue
		}
		if h.State != tt.state || h.Stub != tt.stub {
			t.Errorf("%s: state=%s stub=%t, want %s/%t", tt.name, h.State, h.Stub, tt.state, tt.stub)
		}
	}
}

func names(hs []assetbridge.Handle) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Name
	}
	return out
}

func TestResolveSortsByName(t *testing.T) {
	dir := t.TempDir()
	m, err := manifest.Load(filepath.Join(dir, "conversions.json"))
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []string{"zebra.png", "apple.png", "mole.png"} {
		src := filepath.Join(dir, "assets", n)
		writeFile(t, src, n)
		m.RecordConversion(src, "0000000000000000", "")
	}

	handles := assetbridge.NewBridge(nil).Resolve(m)
	if len(handles) != 3 {
		t.Fatalf("got %d handles", len(handles))
	}
	if handles[0].Name != "apple" || handles[2].Name != "zebra" {
		t.Errorf("handles not sorted: %v", names(handles))
	}
}

func TestWriteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifests", "assets.json")
	handles := []assetbridge.Handle{
		{Name: "fen_moss", Src: "assets/fen_moss.png", Dst: "out/fen_moss.ktx2", State: assetbridge.StateUpToDate},
		{Name: "shrine", Src: "assets/shrine.obj", State: assetbridge.StateStaged, Stub: true},
	}
	if err := assetbridge.WriteTable(path, handles); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got []assetbridge.Handle
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("parse table: %v", err)
	}
	if len(got) != 2 || got[0].Name != "fen_moss" || !got[1].Stub {
		t.Errorf("round trip = %+v", got)
	}
}
