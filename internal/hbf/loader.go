package hbf

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

// sqliteMagic is the first 16 bytes of every SQLite 3 database file.
const sqliteMagic = "SQLite format 3\x00"

// uuidKeyPattern matches the 8–32 character alphanumeric keys HexRoll uses
// for entity rows.
var uuidKeyPattern = regexp.MustCompile(`^[A-Za-z0-9]{8,32}$`)

// Load opens the HBF at path read-only and returns a complete [Snapshot].
//
// Failure modes are typed: [ErrFileMissing], [ErrNotSqlite], [*SchemaError],
// [*MapParseError], [*HTMLDecodeError]. On any failure no snapshot is
// returned — the loader never yields a partial view.
func Load(path string) (*Snapshot, error) {
	if err := probeHeader(path); err != nil {
		return nil, err
	}

	// immutable=1 lets sqlite skip locking; the pipeline never writes the HBF.
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("hbf: open %q: %w", path, err)
	}
	defer db.Close()

	snap := &Snapshot{
		Entities: make(map[string]string),
		Refs:     make(map[string]Ref),
	}

	rows, err := db.Query(`SELECT id, value FROM pages`)
	if err != nil {
		return nil, &SchemaError{Detail: fmt.Sprintf("query pages table: %v", err)}
	}
	defer rows.Close()

	sawMap := false
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("hbf: scan pages row: %w", err)
		}

		switch {
		case key == "map":
			if err := json.Unmarshal(value, &snap.Map); err != nil {
				return nil, &MapParseError{Err: err}
			}
			sawMap = true

		case strings.HasPrefix(key, "searchrefs"):
			if err := decodeRefs(key, value, snap.Refs); err != nil {
				return nil, err
			}

		case uuidKeyPattern.MatchString(key):
			if !utf8.Valid(value) {
				return nil, &HTMLDecodeError{UUID: key}
			}
			if _, dup := snap.Entities[key]; dup {
				return nil, &SchemaError{Detail: fmt.Sprintf("duplicate entity uuid %s", key)}
			}
			snap.Entities[key] = string(value)

		default:
			// Bookkeeping rows (settings, toc, …) are not part of the snapshot.
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hbf: iterate pages: %w", err)
	}

	if !sawMap {
		return nil, &SchemaError{Detail: "map row not found"}
	}
	return snap, nil
}

// probeHeader checks that path exists and starts with the SQLite magic before
// the lazy database/sql handle hides both failure modes behind a generic
// query error.
func probeHeader(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrFileMissing, path)
	}
	if err != nil {
		return fmt.Errorf("hbf: open %q: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, len(sqliteMagic))
	n, _ := f.Read(header)
	if n < len(sqliteMagic) || string(header) != sqliteMagic {
		return fmt.Errorf("%w: %s", ErrNotSqlite, path)
	}
	return nil
}

// decodeRefs decodes one searchrefs row into out. Newer backpacks store one
// record per row under "searchrefs/<uuid>"; older ones store a single JSON
// array under the bare "searchrefs" key. Both are accepted.
func decodeRefs(key string, value []byte, out map[string]Ref) error {
	if key == "searchrefs" {
		var list []Ref
		if err := json.Unmarshal(value, &list); err != nil {
			return &SchemaError{Detail: fmt.Sprintf("decode searchrefs array: %v", err)}
		}
		for _, r := range list {
			if r.UUID == "" {
				return &SchemaError{Detail: "searchrefs record without uuid"}
			}
			out[r.UUID] = r
		}
		return nil
	}

	var r Ref
	if err := json.Unmarshal(value, &r); err != nil {
		return &SchemaError{Detail: fmt.Sprintf("decode %s: %v", key, err)}
	}
	if r.UUID == "" {
		// Fall back to the key suffix when the record omits its own uuid.
		r.UUID = strings.TrimPrefix(key, "searchrefs/")
	}
	if r.UUID == "" {
		return &SchemaError{Detail: fmt.Sprintf("ref row %q without uuid", key)}
	}
	out[r.UUID] = r
	return nil
}
