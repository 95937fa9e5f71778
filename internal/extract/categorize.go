package extract

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hollowvale/dreadhex/internal/hbf"
)

// RawEntity is one worldbook page pulled out of the snapshot, classified and
// annotated with the UUIDs of the pages it links to.
type RawEntity struct {
	UUID       string
	HTML       string
	PageType   PageType
	Title      string
	ParentRefs []string
}

// uuidHrefPattern pulls entity UUIDs out of intra-worldbook anchors. HexRoll
// links pages as "#<uuid>" or "/page/<uuid>".
var uuidHrefPattern = regexp.MustCompile(`[#/]([A-Za-z0-9]{8,32})$`)

// headingProbe maps heading keywords to page types for the structural
// fallback. Checked in order so more specific tokens win.
var headingProbes = []struct {
	token    string
	pageType PageType
}{
	{"rumors", PageRumorTable},
	{"weather", PageWeatherTable},
	{"stronghold", PageStronghold},
	{"temple", PageTemple},
	{"tomb", PageTomb},
	{"cave", PageCave},
	{"dungeon", PageDungeon},
	{"village", PageVillage},
	{"town", PageTown},
	{"city", PageCity},
	{"inn", PageInn},
	{"farm", PageFarms},
	{"shop", PageShop},
	{"faction", PageFaction},
	{"region", PageRegion},
}

// Categorize classifies one entity page. The refs table tag is authoritative
// when present; otherwise the HTML structure is probed. Pages that resist both
// are marked [PageUnknown] — callers audit those, they are never dropped.
//
// Categorize is pure: identical inputs always produce identical results.
func Categorize(uuid, html string, ref *hbf.Ref) RawEntity {
	ent := RawEntity{UUID: uuid, HTML: html, PageType: PageUnknown}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		ent.Title = strings.TrimSpace(doc.Find("h1,h2,h3,h4,h5").First().Text())
		ent.ParentRefs = linkedUUIDs(doc, uuid)
	}
	if ent.Title == "" && ref != nil {
		ent.Title = ref.Value
	}

	if ref != nil {
		if pt, ok := pageTypeForTag(ref.Type); ok {
			ent.PageType = pt
			return ent
		}
	}

	if doc != nil {
		if pt, ok := probeStructure(doc); ok {
			ent.PageType = pt
			return ent
		}
	}

	slog.Warn("entity resisted categorization",
		"uuid", uuid,
		"title", ent.Title,
		"ref_tag", refTag(ref))
	return ent
}

func refTag(ref *hbf.Ref) string {
	if ref == nil {
		return ""
	}
	return ref.Type
}

// probeStructure inspects the page's HTML shape when the refs table gives no
// usable tag. First match wins, in this order: stat blocks mark monsters and
// NPCs, an area/room list marks a dungeon, then heading keywords.
func probeStructure(doc *goquery.Document) (PageType, bool) {
	// Stat blocks: HexRoll renders creature stats in a table with AC/HD cells.
	if doc.Find("table.statblock, table.stat-block").Length() > 0 {
		if doc.Find(".npc-portrait, .character").Length() > 0 {
			return PageNPC, true
		}
		return PageMonster, true
	}

	// A list of areas or rooms is a dungeon signature regardless of headline.
	if doc.Find("ul.areas li, ol.rooms li, div.area").Length() > 0 {
		return PageDungeon, true
	}

	heading := strings.ToLower(doc.Find("h1,h2,h3,h4,h5").Text())
	for _, probe := range headingProbes {
		if strings.Contains(heading, probe.token) {
			return probe.pageType, true
		}
	}

	// Personality/quirk sections appear only on NPC pages.
	if doc.Find("div.personality, p.quirk").Length() > 0 {
		return PageNPC, true
	}

	return PageUnknown, false
}

// linkedUUIDs collects the UUIDs of all intra-worldbook pages this page links
// to, excluding self-links, preserving document order without duplicates.
func linkedUUIDs(doc *goquery.Document, self string) []string {
	var (
		out  []string
		seen = map[string]bool{self: true}
	)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := uuidHrefPattern.FindStringSubmatch(href)
		if m == nil || seen[m[1]] {
			return
		}
		seen[m[1]] = true
		out = append(out, m[1])
	})
	return out
}
