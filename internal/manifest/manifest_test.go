package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hollowvale/dreadhex/internal/manifest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	m, err := manifest.Load(filepath.Join(t.TempDir(), "assets.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}

func TestLoad_ParseFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.json")
	writeFile(t, path, "{not json")

	_, err := manifest.Load(path)
	if !errors.Is(err, manifest.ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestNeedsConversion(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tower.obj")
	dst := filepath.Join(dir, "tower.glb")
	writeFile(t, src, "v 0 0 0")
	writeFile(t, dst, "glb")

	m, err := manifest.Load(filepath.Join(dir, "assets.json"))
	if err != nil {
		t.Fatal(err)
	}

	if !m.NeedsConversion(src, "aaaa000011112222") {
		t.Error("unknown source must need conversion")
	}

	m.RecordConversion(src, "aaaa000011112222", dst)
	if m.NeedsConversion(src, "aaaa000011112222") {
		t.Error("recorded, matching source must not need conversion")
	}
	if !m.NeedsConversion(src, "bbbb000011112222") {
		t.Error("hash mismatch must need conversion")
	}

	os.Remove(dst)
	if !m.NeedsConversion(src, "aaaa000011112222") {
		t.Error("missing destination must need conversion")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assets.json")
	dst := filepath.Join(dir, "tower.glb")
	writeFile(t, dst, "glb")

	m, err := manifest.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m.RecordConversion("models/tower.obj", "aaaa000011112222", dst)
	if err := m.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	back, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	entry, ok := back.Entry("models/tower.obj")
	if !ok {
		t.Fatal("entry lost across save/load")
	}
	if entry.Hash != "aaaa000011112222" || entry.Dst != dst {
		t.Errorf("entry = %+v", entry)
	}
	if entry.ConvertedAt == 0 {
		t.Error("ConvertedAt must be set")
	}
}

func TestCleanupStaleEntries(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tower.obj")
	dst := filepath.Join(dir, "tower.glb")
	writeFile(t, src, "obj")
	writeFile(t, dst, "glb")

	m, err := manifest.Load(filepath.Join(dir, "assets.json"))
	if err != nil {
		t.Fatal(err)
	}
	m.RecordConversion(src, "aaaa000011112222", dst)
	m.RecordConversion(filepath.Join(dir, "gone.obj"), "bbbb000011112222", dst)

	removed := m.CleanupStaleEntries()
	if len(removed) != 1 {
		t.Fatalf("removed = %v, want exactly the vanished source", removed)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.json")

	l1, err := manifest.Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	_, err = manifest.Acquire(path)
	if !errors.Is(err, manifest.ErrLocked) {
		t.Fatalf("second Acquire err = %v, want ErrLocked", err)
	}

	if err := l1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	l2, err := manifest.Acquire(path)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	l2.Release()
}

func TestLock_StealsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.json")
	// A lockfile naming a pid that cannot exist.
	writeFile(t, path+".lock", "999999999\n")

	l, err := manifest.Acquire(path)
	if err != nil {
		t.Fatalf("Acquire over stale lock: %v", err)
	}
	l.Release()
}
