// Package hbf loads HexRoll Backpack Files — SQLite databases carrying a
// pre-authored worldbook — into an immutable in-memory [Snapshot].
//
// An HBF holds three logical families of rows: a single "map" row (UTF-8 JSON
// describing the hex grid, regions, realms, and borders), a family of rows
// keyed by 8–32 character alphanumeric UUIDs whose values are HTML entity
// fragments, and a "searchrefs" family of typed reference records. The loader
// either returns a complete Snapshot or a typed error; partial snapshots are
// never produced.
package hbf

import (
	"errors"
	"fmt"
)

// Typed loader errors. Callers match with errors.Is / errors.As.
var (
	// ErrFileMissing indicates the HBF path does not exist.
	ErrFileMissing = errors.New("hbf: file missing")

	// ErrNotSqlite indicates the file exists but is not an SQLite database.
	ErrNotSqlite = errors.New("hbf: not an sqlite database")
)

// SchemaError indicates the database opened but its layout does not match the
// expected HBF schema (e.g., the pages table or map row is absent).
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("hbf: schema mismatch: %s", e.Detail)
}

// MapParseError indicates the map row exists but its JSON payload could not be
// decoded.
type MapParseError struct {
	Err error
}

func (e *MapParseError) Error() string {
	return fmt.Sprintf("hbf: parse map json: %v", e.Err)
}

func (e *MapParseError) Unwrap() error { return e.Err }

// HTMLDecodeError indicates an entity row's value is not valid UTF-8 text.
type HTMLDecodeError struct {
	UUID string
}

func (e *HTMLDecodeError) Error() string {
	return fmt.Sprintf("hbf: entity %s: value is not valid utf-8 html", e.UUID)
}

// Tile is a single hex on the overworld map. Coordinates are axial (q, r)
// with the implicit third cube coordinate s = -q - r.
type Tile struct {
	Q           int    `json:"x"`
	R           int    `json:"y"`
	Biome       string `json:"type"`
	UUID        string `json:"uuid"`
	Feature     string `json:"feature,omitempty"`
	FeatureUUID string `json:"feature_uuid,omitempty"`
	Rivers      []int  `json:"rivers,omitempty"`
	Trails      []int  `json:"trails,omitempty"`
	RegionUUID  string `json:"region"`
	RealmUUID   string `json:"realm"`
}

// Region holds metadata for a named region of the map.
type Region struct {
	Name      string `json:"name"`
	RealmUUID string `json:"realm,omitempty"`
}

// Realm holds metadata for a realm (a set of regions under one authority).
type Realm struct {
	Name string `json:"name"`
}

// BorderSegment marks one hex of a realm border. The mask is a six-bit field
// naming which of the hex's edges carry the border.
type BorderSegment struct {
	Q    int `json:"hex_x"`
	R    int `json:"hex_y"`
	Mask int `json:"borders"`
}

// Map is the decoded payload of the HBF map row.
type Map struct {
	Tiles   []Tile                     `json:"tiles"`
	Realms  map[string]Realm           `json:"realms"`
	Regions map[string]Region          `json:"regions"`
	Borders map[string][]BorderSegment `json:"borders"`
}

// Width returns the number of distinct q coordinates covered by the map.
func (m *Map) Width() int {
	return m.span(func(t Tile) int { return t.Q })
}

// Height returns the number of distinct r coordinates covered by the map.
func (m *Map) Height() int {
	return m.span(func(t Tile) int { return t.R })
}

func (m *Map) span(axis func(Tile) int) int {
	if len(m.Tiles) == 0 {
		return 0
	}
	lo, hi := axis(m.Tiles[0]), axis(m.Tiles[0])
	for _, t := range m.Tiles[1:] {
		v := axis(t)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo + 1
}

// Ref is one typed record from the searchrefs family. It carries the display
// value and category tag the worldbook UI uses for search, which the extractor
// treats as the authoritative categorization hint.
type Ref struct {
	UUID    string `json:"uuid"`
	Value   string `json:"value"`
	Type    string `json:"type"`
	Details string `json:"details,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Anchor  string `json:"anchor,omitempty"`
}

// Snapshot is the parsed, immutable view of one HBF. It is created once per
// pipeline run and never mutated; downstream stages borrow it read-only.
type Snapshot struct {
	Map      Map
	Entities map[string]string // UUID → HTML fragment
	Refs     map[string]Ref    // UUID → typed search record
}

// Ref returns the search record for uuid, if present.
func (s *Snapshot) Ref(uuid string) (Ref, bool) {
	r, ok := s.Refs[uuid]
	return r, ok
}
