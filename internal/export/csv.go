package export

import (
	"encoding/csv"
	"os"
	"strconv"

	"barlab/internal/domain"
)

// CSVSaver writes rows as CSV (header: run_key,expr_id,i,v,na).
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

func (CSVSaver) Save(rows []*domain.SeriesRow, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"run_key", "expr_id", "i", "v", "na"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.RunKey,
			r.ExprID,
			strconv.FormatInt(r.TimePointIndex, 10),
			floatStr(r.Value),
			strconv.FormatBool(r.IsNA),
		}); err != nil {
			return err
		}
	}
	return nil
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
