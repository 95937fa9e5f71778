package analysis

import (
	"fmt"

	"github.com/hollowvale/dreadhex/internal/extract"
)

// CategorySpec is the per-category capability set the orchestrator is
// polymorphic over: what to tell the oracle, how much sample to show it, and
// how to judge the answer. There is no inheritance hierarchy behind this —
// each category is one value in the registry.
type CategorySpec struct {
	// Category this spec analyzes.
	Category extract.Category

	// Instructions is the category-specific system prompt.
	Instructions string

	// Focus lists the fields the oracle should prioritise extracting.
	Focus []string

	// SampleShare is the fraction of the prompt token budget reserved for the
	// compressed page sample (the rest carries schema + instructions).
	SampleShare float64

	// Validate performs category-specific checks on top of the generic
	// inventory schema validation. May be nil.
	Validate func(*Inventory) error
}

// inventoryJSONSchema is the response contract included in every analysis
// prompt. The oracle must answer with exactly this shape.
const inventoryJSONSchema = `{
  "models": [
    {
      "model_name": "string — PascalCase name of the inferred data model",
      "description": "string — optional one-line summary",
      "fields": [
        {
          "name": "string — snake_case field name",
          "type_tag": "one of: string, text, int, float, bool, uuid, list, table",
          "required": "bool — present on every instance",
          "is_uuid": "bool — the value is a worldbook entity uuid",
          "is_connection": "bool — the uuid links two entities (implies is_uuid)",
          "description": "string — optional"
        }
      ]
    }
  ]
}`

// specs is the category registry. Categories missing here fall back to
// genericSpec.
var specs = map[extract.Category]CategorySpec{
	extract.CategorySettlements: {
		Category: extract.CategorySettlements,
		Instructions: "You analyze settlement pages (cities, towns, villages, inns) from a " +
			"dark-fantasy worldbook. Infer the data models needed to represent them: " +
			"population, government, notable buildings, resident NPC links, shop links, " +
			"and the hex they stand on. Treat every cross-page link as a uuid connection field.",
		Focus:       []string{"name", "settlement_type", "population", "hex_uuid", "npc_uuids", "shop_uuids"},
		SampleShare: 0.6,
	},
	extract.CategoryDungeons: {
		Category: extract.CategoryDungeons,
		Instructions: "You analyze dungeon pages (dungeons, caves, temples, tombs) from a " +
			"dark-fantasy worldbook. Infer models for the dungeon itself, its areas/rooms, " +
			"and its doorways. Doorways carry direction, material, condition, lock/trap/secret " +
			"flags, and a leads_to_room connection. Areas carry encounters and treasure.",
		Focus:       []string{"name", "dungeon_type", "areas", "doorways", "danger", "corruption"},
		SampleShare: 0.65,
		Validate:    validateDungeonInventory,
	},
	extract.CategoryNPCs: {
		Category: extract.CategoryNPCs,
		Instructions: "You analyze NPC pages from a dark-fantasy worldbook. Infer models " +
			"covering identity, occupation, personality quirks, faction membership, home " +
			"settlement, and any dungeon or hex the page links to. Stat-block numbers are " +
			"int fields; links are uuid connection fields.",
		Focus:       []string{"name", "occupation", "settlement_uuid", "faction_uuids", "quirks"},
		SampleShare: 0.6,
	},
	extract.CategoryFactions: {
		Category: extract.CategoryFactions,
		Instructions: "You analyze faction pages from a dark-fantasy worldbook. Infer models " +
			"for the faction, its goals, its leadership links, and the territory (hexes, " +
			"settlements) it claims.",
		Focus:       []string{"name", "goal", "leader_uuid", "territory_uuids"},
		SampleShare: 0.55,
	},
	extract.CategoryMonsters: {
		Category: extract.CategoryMonsters,
		Instructions: "You analyze monster pages from a dark-fantasy worldbook. Infer models " +
			"for the creature's stat block (armor class, hit dice, movement, attacks as int " +
			"or string fields) and its habitat links.",
		Focus:       []string{"name", "armor_class", "hit_dice", "habitat_uuids"},
		SampleShare: 0.6,
	},
	extract.CategoryTables: {
		Category: extract.CategoryTables,
		Instructions: "You analyze rumor tables and weather tables from a dark-fantasy " +
			"worldbook. Infer a model per table: the roll range, the entry text, and any " +
			"entity links inside entries.",
		Focus:       []string{"table_name", "roll", "entry", "subject_uuid"},
		SampleShare: 0.7,
	},
	extract.CategoryShops: {
		Category: extract.CategoryShops,
		Instructions: "You analyze shop pages from a dark-fantasy worldbook. Infer models for " +
			"the shop, its keeper link, and its inventory lines (item, price, stock).",
		Focus:       []string{"name", "keeper_uuid", "wares"},
		SampleShare: 0.6,
	},
}

// genericSpec covers categories without a dedicated entry (hexes, regions,
// dwellings, unknown).
var genericSpec = CategorySpec{
	Instructions: "You analyze pages from a dark-fantasy worldbook. Infer the data models " +
		"needed to represent the sampled pages as structured records. Every cross-page " +
		"link is a uuid connection field.",
	SampleShare: 0.6,
}

// SpecFor returns the capability set for cat.
func SpecFor(cat extract.Category) CategorySpec {
	if s, ok := specs[cat]; ok {
		return s
	}
	s := genericSpec
	s.Category = cat
	return s
}

// validateDungeonInventory enforces that a dungeon analysis describes an area
// model with a doorway connection — without it the resolver cannot build the
// area graph.
func validateDungeonInventory(inv *Inventory) error {
	for _, m := range inv.Models {
		for _, f := range m.Fields {
			if f.IsConnection && (f.Name == "leads_to_room" || f.Name == "doorways") {
				return nil
			}
		}
	}
	return fmt.Errorf("dungeon inventory lacks a room-connection field")
}
