package audit

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// ColumnStats summarises one numeric column of a report. Non-numeric cells
// in a declared numeric column are skipped, not errors; Count reflects parsed
// values only.
type ColumnStats struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P99    float64 `json:"p99"`
}

// writeStats computes per-column statistics for rep's declared numeric
// columns and writes them as {name}.stats.json next to the CSV.
func (r *Reporter) writeStats(dir string, rep NumericReportable) error {
	header := rep.Header()
	rows := rep.Rows()

	var stats []ColumnStats
	for _, col := range rep.NumericColumns() {
		if col < 0 || col >= len(header) {
			continue
		}
		var values []float64
		for _, row := range rows {
			if v, err := strconv.ParseFloat(row[col], 64); err == nil {
				values = append(values, v)
			}
		}
		stats = append(stats, summarise(header[col], values))
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, rep.Name()+".stats.json")
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func summarise(column string, values []float64) ColumnStats {
	s := ColumnStats{Column: column, Count: len(values)}
	if len(values) == 0 {
		return s
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	s.Mean = sum / float64(len(sorted))

	var sq float64
	for _, v := range sorted {
		d := v - s.Mean
		sq += d * d
	}
	s.Stddev = math.Sqrt(sq / float64(len(sorted)))

	s.P50 = percentile(sorted, 0.50)
	s.P90 = percentile(sorted, 0.90)
	s.P99 = percentile(sorted, 0.99)
	return s
}

// percentile uses nearest-rank on the sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
