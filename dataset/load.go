package dataset

import (
	"context"
	"strings"

	"github.com/YuminosukeSato/churnpredict/pkg/errors"
	"github.com/YuminosukeSato/churnpredict/pkg/log"
)

// Source kinds accepted by Load.
const (
	SourceCSV    = "csv"
	SourceSQLite = "sqlite"
)

// Source points at a customer dataset.
type Source struct {
	Kind  string
	Path  string
	Table string
}

// Load reads a dataset from a CSV file or a SQLite table.
func Load(ctx context.Context, src Source) (Frame, error) {
	logger := log.GetLoggerWithName("dataset")

	var (
		f   Frame
		err error
	)
	switch strings.ToLower(src.Kind) {
	case "", SourceCSV:
		f, err = LoadCSV(src.Path)
	case SourceSQLite:
		f, err = LoadSQLite(ctx, src.Path, src.Table)
	default:
		return Frame{}, errors.NewValidationError("data.source", "must be csv or sqlite", src.Kind)
	}
	if err != nil {
		return Frame{}, err
	}

	logger.Info("Dataset loaded",
		log.SourceKey, src.Path,
		log.SamplesKey, f.Len(),
		"columns", len(f.Columns),
	)
	return f, nil
}
