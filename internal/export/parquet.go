package export

import (
	"github.com/parquet-go/parquet-go"

	"barlab/internal/domain"
)

// ParquetSaver writes rows as a Parquet file.
type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) Save(rows []*domain.SeriesRow, path string) error {
	return parquet.WriteFile(path, toRows(rows))
}
