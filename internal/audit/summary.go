package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf/v2"
)

// ErrorKind names one class of the pipeline's error taxonomy.
type ErrorKind string

const (
	KindInput          ErrorKind = "input_errors"
	KindCategorization ErrorKind = "categorization_warnings"
	KindAnalysis       ErrorKind = "analysis_failures"
	KindResolution     ErrorKind = "resolution_inconsistencies"
	KindEmission       ErrorKind = "emission_errors"
	KindManifest       ErrorKind = "manifest_errors"
	KindAssetBridge    ErrorKind = "asset_bridge_warnings"
)

// StageResult records one pipeline stage's outcome for the run summary.
type StageResult struct {
	Stage    string
	Duration time.Duration
	Detail   string
	Failed   bool
}

// RunSummary accumulates counts by error kind and per-stage timings over one
// pipeline run. It is not safe for concurrent use; the coordinator owns it.
type RunSummary struct {
	RunID     string
	StartedAt time.Time
	Counts    map[ErrorKind]int
	Stages    []StageResult
}

// NewRunSummary starts a summary for a fresh run.
func NewRunSummary() *RunSummary {
	return &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Counts:    map[ErrorKind]int{},
	}
}

// Add increments the count for kind by n.
func (s *RunSummary) Add(kind ErrorKind, n int) {
	s.Counts[kind] += n
}

// RecordStage appends one stage outcome.
func (s *RunSummary) RecordStage(stage string, d time.Duration, detail string, failed bool) {
	s.Stages = append(s.Stages, StageResult{Stage: stage, Duration: d, Detail: detail, Failed: failed})
}

// Failed reports whether any fatal error kind was counted.
func (s *RunSummary) Failed() bool {
	return s.Counts[KindEmission] > 0 || s.Counts[KindManifest] > 0 || s.Counts[KindInput] > 0
}

// Report renders the summary as a Reportable for the CSV sink.
func (s *RunSummary) Report() Reportable {
	kinds := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	rows := make([][]string, 0, len(kinds))
	for _, k := range kinds {
		rows = append(rows, []string{k, strconv.Itoa(s.Counts[ErrorKind(k)])})
	}
	return &tableReport{
		name:        "run_summary",
		category:    "runs",
		subcategory: s.StartedAt.Format("20060102"),
		header:      []string{"kind", "count"},
		rows:        rows,
	}
}

// WritePDF renders a one-page run summary to path.
func (s *RunSummary) WritePDF(path string) error {
	const margin = 40.0

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 24, "Worldbook Pipeline Run Summary", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 14, "Run "+s.RunID, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 14, "Started "+s.StartedAt.Format(time.RFC3339), "", 1, "L", false, 0, "")
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 16, "Errors and warnings by kind", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	kinds := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	if len(kinds) == 0 {
		pdf.CellFormat(0, 13, "none", "", 1, "L", false, 0, "")
	}
	for _, k := range kinds {
		pdf.CellFormat(220, 13, k, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 13, strconv.Itoa(s.Counts[ErrorKind(k)]), "", 1, "L", false, 0, "")
	}
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 16, "Stages", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, st := range s.Stages {
		status := "ok"
		if st.Failed {
			status = "FAILED"
		}
		line := fmt.Sprintf("%-14s %-8s %s", st.Stage, st.Duration.Round(time.Millisecond), status)
		if st.Detail != "" {
			line += "  " + st.Detail
		}
		pdf.CellFormat(0, 13, line, "", 1, "L", false, 0, "")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pdf.Output(f); err != nil {
		f.Close()
		return fmt.Errorf("audit: render summary pdf: %w", err)
	}
	return f.Close()
}
