package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

// ReadCSV parses a header row followed by data rows. Cells are trimmed.
func ReadCSV(r io.Reader) (Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return Frame{}, errors.NewModelError("dataset.ReadCSV", "empty data", errors.ErrEmptyData)
	}
	if err != nil {
		return Frame{}, errors.Wrap(err, "read csv header")
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Frame{}, errors.Wrapf(err, "read csv row %d", len(rows)+2)
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
	return NewFrame(columns, rows)
}

// LoadCSV reads a CSV file from disk.
func LoadCSV(path string) (Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "open dataset %s", path)
	}
	defer f.Close()
	return ReadCSV(f)
}

// WriteCSV writes the frame with a header row.
func WriteCSV(w io.Writer, f Frame) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(f.Columns); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	if err := writer.WriteAll(f.Rows); err != nil {
		return errors.Wrap(err, "write csv rows")
	}
	return nil
}
