// Package export writes committed series rows to files. The engine and
// stores stay independent of the on-disk format; callers pick a saver
// by name.
package export

import (
	"fmt"
	"strings"

	"barlab/internal/domain"
)

// Saver writes one run's committed rows to a file.
type Saver interface {
	Save(rows []*domain.SeriesRow, path string) error
	Extension() string
}

// NewSaver returns the implementation for a format name (csv, json,
// parquet), or nil for an unsupported one.
func NewSaver(format string) Saver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVSaver{}
	case "json":
		return JSONSaver{}
	case "parquet":
		return ParquetSaver{}
	default:
		return nil
	}
}

// MustSaver is NewSaver that panics on an unsupported format.
func MustSaver(format string) Saver {
	s := NewSaver(format)
	if s == nil {
		panic(fmt.Sprintf("export: unsupported format %q (use: csv, json, parquet)", format))
	}
	return s
}

// row is the serialization DTO shared by the JSON and Parquet savers.
type row struct {
	RunKey         string  `json:"run_key" parquet:"run_key"`
	ExprID         string  `json:"expr_id" parquet:"expr_id"`
	TimePointIndex int64   `json:"i" parquet:"i"`
	Value          float64 `json:"v" parquet:"v"`
	IsNA           bool    `json:"na,omitempty" parquet:"na,optional"`
}

func toRows(seriesRows []*domain.SeriesRow) []row {
	out := make([]row, 0, len(seriesRows))
	for _, r := range seriesRows {
		out = append(out, row{
			RunKey:         r.RunKey,
			ExprID:         r.ExprID,
			TimePointIndex: r.TimePointIndex,
			Value:          r.Value,
			IsNA:           r.IsNA,
		})
	}
	return out
}
