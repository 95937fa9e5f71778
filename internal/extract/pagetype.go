// Package extract walks an HBF snapshot, classifies every entity page into a
// closed PageType vocabulary, and partitions the results into region-scoped
// clusters — the unit of AI analysis downstream.
package extract

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// PageType is the closed classification vocabulary for worldbook pages.
type PageType string

const (
	PageHex          PageType = "hex"
	PageRegion       PageType = "region"
	PageBiome        PageType = "biome"
	PageSettlement   PageType = "settlement"
	PageCity         PageType = "city"
	PageTown         PageType = "town"
	PageVillage      PageType = "village"
	PageInn          PageType = "inn"
	PageDwelling     PageType = "dwelling"
	PageFarms        PageType = "farms"
	PageStronghold   PageType = "stronghold"
	PageDungeon      PageType = "dungeon"
	PageCave         PageType = "cave"
	PageTemple       PageType = "temple"
	PageTomb         PageType = "tomb"
	PageNPC          PageType = "npc"
	PageFaction      PageType = "faction"
	PageMonster      PageType = "monster"
	PageRumorTable   PageType = "rumor_table"
	PageWeatherTable PageType = "weather_table"
	PageShop         PageType = "shop"
	PageUnknown      PageType = "unknown"
)

// Category is the coarse grouping used for clustering and for selecting the
// per-category analysis spec. Several PageTypes share one Category (a cave and
// a tomb are both analyzed as dungeons).
type Category string

const (
	CategoryHexes       Category = "hexes"
	CategoryRegions     Category = "regions"
	CategorySettlements Category = "settlements"
	CategoryDwellings   Category = "dwellings"
	CategoryDungeons    Category = "dungeons"
	CategoryNPCs        Category = "npcs"
	CategoryFactions    Category = "factions"
	CategoryMonsters    Category = "monsters"
	CategoryTables      Category = "tables"
	CategoryShops       Category = "shops"
	CategoryUnknown     Category = "unknown"
)

// Category returns the coarse analysis category for p.
func (p PageType) Category() Category {
	switch p {
	case PageHex:
		return CategoryHexes
	case PageRegion, PageBiome:
		return CategoryRegions
	case PageSettlement, PageCity, PageTown, PageVillage, PageInn:
		return CategorySettlements
	case PageDwelling, PageFarms, PageStronghold:
		return CategoryDwellings
	case PageDungeon, PageCave, PageTemple, PageTomb:
		return CategoryDungeons
	case PageNPC:
		return CategoryNPCs
	case PageFaction:
		return CategoryFactions
	case PageMonster:
		return CategoryMonsters
	case PageRumorTable, PageWeatherTable:
		return CategoryTables
	case PageShop:
		return CategoryShops
	default:
		return CategoryUnknown
	}
}

// RegionScoped reports whether pages of this category cluster by containing
// region. Regionless categories cluster under the "combined" name.
func (c Category) RegionScoped() bool {
	switch c {
	case CategorySettlements, CategoryDwellings, CategoryDungeons, CategoryNPCs, CategoryFactions:
		return true
	}
	return false
}

// refTagTypes maps normalized searchrefs type tags to page types. The refs
// table is the authoritative hint; HTML structure is only probed when the tag
// is absent or unrecognised.
var refTagTypes = map[string]PageType{
	"hex":           PageHex,
	"region":        PageRegion,
	"biome":         PageBiome,
	"settlement":    PageSettlement,
	"city":          PageCity,
	"town":          PageTown,
	"village":       PageVillage,
	"inn":           PageInn,
	"dwelling":      PageDwelling,
	"farms":         PageFarms,
	"farm":          PageFarms,
	"stronghold":    PageStronghold,
	"dungeon":       PageDungeon,
	"cave":          PageCave,
	"temple":        PageTemple,
	"tomb":          PageTomb,
	"npc":           PageNPC,
	"character":     PageNPC,
	"faction":       PageFaction,
	"monster":       PageMonster,
	"creature":      PageMonster,
	"rumors":        PageRumorTable,
	"rumor table":   PageRumorTable,
	"weather":       PageWeatherTable,
	"weather table": PageWeatherTable,
	"shop":          PageShop,
	"store":         PageShop,
}

// pageTypeForTag resolves a searchrefs type tag to a PageType. Exact
// normalized matches win; otherwise the nearest known tag within a small
// Levenshtein distance is accepted, which absorbs the spelling drift seen
// across backpack generations ("Dungeons", "dungeon ", "Shoppe").
func pageTypeForTag(tag string) (PageType, bool) {
	norm := strings.ToLower(strings.TrimSpace(tag))
	if norm == "" {
		return PageUnknown, false
	}
	if pt, ok := refTagTypes[norm]; ok {
		return pt, true
	}

	best := PageUnknown
	bestDist := 3 // accept distance ≤ 2
	for known, pt := range refTagTypes {
		d := matchr.Levenshtein(norm, known)
		if d < bestDist {
			bestDist = d
			best = pt
		}
	}
	return best, best != PageUnknown
}
