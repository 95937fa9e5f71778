// Package audit writes the pipeline's validation reports: rectangular CSV
// tables with optional numeric statistics sidecars, rotated into an archive
// rather than overwritten. Reports are append-only history; a previous run's
// file is moved, never edited.
package audit

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Reportable is the contract every auditable dataset implements. The header
// defines the columns; every row must match the header arity.
type Reportable interface {
	// Name is the file stem, e.g. "dangling_edges".
	Name() string

	// Category is the top-level report directory, e.g. "resolution".
	Category() string

	// Subcategory is the second-level directory, e.g. "edges".
	Subcategory() string

	Header() []string
	Rows() [][]string
}

// NumericReportable additionally names columns whose values are numeric.
// The reporter computes summary statistics for them into a sidecar file.
type NumericReportable interface {
	Reportable

	// NumericColumns returns zero-based indexes into Header.
	NumericColumns() []int
}

// Reporter writes reports under a root directory, usually taken from the
// AUDIT_REPORTS_DIR environment variable. A nil Reporter discards reports.
type Reporter struct {
	root string
	now  func() time.Time
	log  *slog.Logger
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithClock overrides the archive-timestamp clock, for tests.
func WithClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) { r.now = now }
}

// WithReporterLogger sets the logger.
func WithReporterLogger(log *slog.Logger) ReporterOption {
	return func(r *Reporter) { r.log = log }
}

// NewReporter creates a reporter rooted at dir.
func NewReporter(dir string, opts ...ReporterOption) *Reporter {
	r := &Reporter{root: dir, now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Write renders rep to {root}/{category}/{subcategory}/{name}.csv, rotating
// any existing file into the sibling archive directory first. It returns the
// written path. A nil Reporter is a no-op.
func (r *Reporter) Write(rep Reportable) (string, error) {
	if r == nil {
		return "", nil
	}
	header := rep.Header()
	rows := rep.Rows()
	for i, row := range rows {
		if len(row) != len(header) {
			return "", fmt.Errorf("audit: report %s row %d has %d cells, header has %d",
				rep.Name(), i, len(row), len(header))
		}
	}

	dir := filepath.Join(r.root, rep.Category(), rep.Subcategory())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("audit: create report dir: %w", err)
	}
	path := filepath.Join(dir, rep.Name()+".csv")

	if err := r.rotate(dir, path, rep.Name()); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	cw := csv.NewWriter(tmp)
	if err := cw.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := cw.WriteAll(rows); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("audit: publish report: %w", err)
	}

	if nr, ok := rep.(NumericReportable); ok {
		if err := r.writeStats(dir, nr); err != nil {
			return "", err
		}
	}

	r.log.Debug("audit report written", "path", path, "rows", len(rows))
	return path, nil
}

// rotate moves an existing report into archive/{yyyymmdd-hhmmss}-{name}.csv.
func (r *Reporter) rotate(dir, path, name string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	archive := filepath.Join(dir, "archive")
	if err := os.MkdirAll(archive, 0o755); err != nil {
		return fmt.Errorf("audit: create archive dir: %w", err)
	}
	stamp := r.now().Format("20060102-150405")
	dst := filepath.Join(archive, stamp+"-"+name+".csv")
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("audit: rotate report: %w", err)
	}
	return nil
}
