// Package analysis turns clusters of raw worldbook pages into validated,
// structured Inventories by prompting an AI oracle.
//
// Each entity category declares a capability set — schema, instructions,
// sample budget, validator — and the orchestrator is polymorphic over that
// set. Results are cached on disk keyed by cluster content hash, so re-running
// the pipeline over an unchanged backpack performs zero oracle calls.
package analysis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hollowvale/dreadhex/internal/extract"
)

// FieldSpec describes one field of an inferred data model.
type FieldSpec struct {
	Name         string `json:"name"`
	TypeTag      string `json:"type_tag"`
	Required     bool   `json:"required"`
	IsUUID       bool   `json:"is_uuid"`
	IsConnection bool   `json:"is_connection"`
	Description  string `json:"description,omitempty"`
}

// ModelSpec describes one data model the oracle inferred from a cluster's
// pages.
type ModelSpec struct {
	ModelName   string      `json:"model_name"`
	Description string      `json:"description,omitempty"`
	Fields      []FieldSpec `json:"fields"`
}

// Inventory is the validated analysis result for one cluster.
type Inventory struct {
	Category extract.Category `json:"category"`
	Cluster  string           `json:"cluster"`
	BaseHash string           `json:"base_hash"`
	Models   []ModelSpec      `json:"models"`
}

// validTypeTags is the closed vocabulary for field type tags.
var validTypeTags = map[string]bool{
	"string": true,
	"text":   true,
	"int":    true,
	"float":  true,
	"bool":   true,
	"uuid":   true,
	"list":   true,
	"table":  true,
}

// ValidateInventory checks inv against the declared inventory schema. The
// returned error joins every violation found, so one failed validation names
// all problems at once.
func ValidateInventory(inv *Inventory) error {
	var errs []error

	if len(inv.Models) == 0 {
		errs = append(errs, errors.New("inventory declares no models"))
	}
	seen := map[string]bool{}
	for i, m := range inv.Models {
		if m.ModelName == "" {
			errs = append(errs, fmt.Errorf("models[%d]: empty model_name", i))
			continue
		}
		if seen[m.ModelName] {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate model_name %q", i, m.ModelName))
		}
		seen[m.ModelName] = true

		if len(m.Fields) == 0 {
			errs = append(errs, fmt.Errorf("model %q: no fields", m.ModelName))
		}
		fieldSeen := map[string]bool{}
		for j, f := range m.Fields {
			switch {
			case f.Name == "":
				errs = append(errs, fmt.Errorf("model %q fields[%d]: empty name", m.ModelName, j))
			case fieldSeen[f.Name]:
				errs = append(errs, fmt.Errorf("model %q: duplicate field %q", m.ModelName, f.Name))
			}
			fieldSeen[f.Name] = true

			if !validTypeTags[strings.ToLower(f.TypeTag)] {
				errs = append(errs, fmt.Errorf("model %q field %q: unknown type_tag %q", m.ModelName, f.Name, f.TypeTag))
			}
			if f.IsConnection && !f.IsUUID {
				errs = append(errs, fmt.Errorf("model %q field %q: connection fields must carry uuids", m.ModelName, f.Name))
			}
		}
	}
	return errors.Join(errs...)
}
