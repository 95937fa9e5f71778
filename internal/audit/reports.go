package audit

import (
	"strconv"

	"github.com/hollowvale/dreadhex/internal/analysis"
	"github.com/hollowvale/dreadhex/internal/extract"
	"github.com/hollowvale/dreadhex/internal/resolve"
)

// tableReport is the shared Reportable backing for the built-in reports.
type tableReport struct {
	name        string
	category    string
	subcategory string
	header      []string
	rows        [][]string
	numeric     []int
}

func (t *tableReport) Name() string          { return t.name }
func (t *tableReport) Category() string      { return t.category }
func (t *tableReport) Subcategory() string   { return t.subcategory }
func (t *tableReport) Header() []string      { return t.header }
func (t *tableReport) Rows() [][]string      { return t.rows }
func (t *tableReport) NumericColumns() []int { return t.numeric }

// DanglingEdges reports every unresolved UUID reference in the world.
func DanglingEdges(w *resolve.World) Reportable {
	rows := make([][]string, 0, len(w.Dangling))
	for _, d := range w.Dangling {
		rows = append(rows, []string{d.SourceUUID, d.Field, d.TargetUUID, d.Reason})
	}
	return &tableReport{
		name:        "dangling_edges",
		category:    "resolution",
		subcategory: "edges",
		header:      []string{"source_uuid", "field", "target_uuid", "reason"},
		rows:        rows,
	}
}

// AuthorityConflicts reports map-versus-page disagreements the resolver
// overruled.
func AuthorityConflicts(w *resolve.World) Reportable {
	rows := make([][]string, 0, len(w.Conflicts))
	for _, c := range w.Conflicts {
		rows = append(rows, []string{c.EntityUUID, c.Detail})
	}
	return &tableReport{
		name:        "authority_conflicts",
		category:    "resolution",
		subcategory: "conflicts",
		header:      []string{"entity_uuid", "detail"},
		rows:        rows,
	}
}

// UncategorizedEntities reports every page the extractor could not classify.
func UncategorizedEntities(res *extract.Result) Reportable {
	rows := make([][]string, 0, len(res.Uncategorized))
	for _, e := range res.Uncategorized {
		rows = append(rows, []string{e.UUID, e.Title, strconv.Itoa(len(e.HTML))})
	}
	return &tableReport{
		name:        "entity_extraction",
		category:    "extraction",
		subcategory: "uncategorized",
		header:      []string{"uuid", "title", "html_bytes"},
		rows:        rows,
		numeric:     []int{2},
	}
}

// ClusterSizes reports every cluster with its member count and total HTML
// volume. The numeric sidecar gives the size distribution feeding the prompt
// budgeter.
func ClusterSizes(res *extract.Result) Reportable {
	var rows [][]string
	for _, c := range res.Sorted() {
		bytes := 0
		for _, e := range c.Entities {
			bytes += len(e.HTML)
		}
		rows = append(rows, []string{
			string(c.Key.Category), c.Key.Name,
			strconv.Itoa(len(c.Entities)), strconv.Itoa(bytes),
		})
	}
	return &tableReport{
		name:        "cluster_sizes",
		category:    "extraction",
		subcategory: "clusters",
		header:      []string{"category", "cluster", "entities", "html_bytes"},
		rows:        rows,
		numeric:     []int{2, 3},
	}
}

// ContentFailure is one rejected or failed content generation job.
type ContentFailure struct {
	Artifact string
	Reason   string
}

// ContentFailures reports dialogue and quest jobs that produced no artifact.
func ContentFailures(failures []ContentFailure) Reportable {
	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{f.Artifact, f.Reason})
	}
	return &tableReport{
		name:        "generation_failures",
		category:    "content",
		subcategory: "failures",
		header:      []string{"artifact", "reason"},
		rows:        rows,
	}
}

// AnalysisFailures reports per-cluster oracle failures.
func AnalysisFailures(failures []*analysis.AnalysisError) Reportable {
	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{f.Category, f.Cluster, f.Stage, f.Err.Error()})
	}
	return &tableReport{
		name:        "cluster_failures",
		category:    "analysis",
		subcategory: "failures",
		header:      []string{"category", "cluster", "stage", "error"},
		rows:        rows,
	}
}
