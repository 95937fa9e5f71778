package analysis

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hollowvale/dreadhex/internal/extract"
)

// charsPerToken is the rough GPT-series approximation used for local budget
// arithmetic; the provider's own CountTokens has the final say.
const charsPerToken = 4

// CompressSample renders a cluster's pages into a plaintext sample that fits
// tokenBudget. Heading structure is always preserved; paragraph runs are
// trimmed first, and whole trailing entities are dropped when headings alone
// would blow the budget. Trimming only happens at whitespace boundaries — a
// sample never ends mid-token.
func CompressSample(c *extract.Cluster, tokenBudget int) string {
	if tokenBudget <= 0 {
		return ""
	}
	charBudget := tokenBudget * charsPerToken

	var b strings.Builder
	for _, ent := range c.Entities {
		section := renderEntity(ent)
		remaining := charBudget - b.Len()
		if remaining <= 0 {
			break
		}
		if len(section) > remaining {
			section = trimAtWhitespace(section, remaining)
			if section == "" {
				break
			}
		}
		b.WriteString(section)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderEntity flattens one page to text: headings become "## <text>" lines,
// paragraphs and list items follow, long paragraph runs are capped.
func renderEntity(ent extract.RawEntity) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(ent.HTML))
	if err != nil {
		// Unparseable HTML still contributes its uuid so the oracle sees the
		// entity exists.
		return "## " + ent.UUID + "\n"
	}

	var b strings.Builder
	b.WriteString("## [")
	b.WriteString(ent.UUID)
	b.WriteString("] ")
	b.WriteString(ent.Title)
	b.WriteString("\n")

	paragraphs := 0
	doc.Find("h1,h2,h3,h4,h5,h6,p,li,td").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		if goquery.NodeName(s)[0] == 'h' {
			b.WriteString("### ")
			b.WriteString(text)
			b.WriteString("\n")
			paragraphs = 0
			return
		}
		// Cap paragraph runs under each heading; the schema matters more than
		// the prose.
		if paragraphs >= 3 {
			return
		}
		paragraphs++
		b.WriteString(text)
		b.WriteString("\n")
	})
	return b.String()
}

// trimAtWhitespace cuts s down to at most limit bytes, ending at the last
// whitespace boundary before the cut.
func trimAtWhitespace(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := strings.LastIndexAny(s[:limit], " \t\n")
	if cut <= 0 {
		return ""
	}
	return s[:cut]
}
