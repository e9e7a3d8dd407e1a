// Package dataset loads customer records and exposes them as a Frame of raw
// cell text. Typing of columns is left to the preprocessing package.
package dataset

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

// Column names and status values of the customer table.
const (
	IDColumn     = "Customer_ID"
	StatusColumn = "Customer_Status"
	StateColumn  = "State"

	MonthlyChargeColumn = "Monthly_Charge"
	TenureColumn        = "Tenure_in_Months"

	StatusChurned = "Churned"
	StatusStayed  = "Stayed"
	StatusJoined  = "Joined"
)

// DefaultDropColumns are removed before feature inference: identifiers,
// the label source and columns that leak the outcome.
var DefaultDropColumns = []string{
	IDColumn,
	StatusColumn,
	"Churn_Category",
	"Churn_Reason",
	"Value_Deal",
	"Streaming_TV",
	"Streaming_Movies",
	"Streaming_Music",
}

// Record is one customer as column name → raw cell text.
type Record map[string]string

// Frame is an ordered set of columns and rows of raw text. Rows always have
// len(Columns) cells.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// NewFrame validates that every row has one cell per column.
func NewFrame(columns []string, rows [][]string) (Frame, error) {
	for _, row := range rows {
		if len(row) != len(columns) {
			return Frame{}, errors.NewDimensionError("dataset.NewFrame", len(columns), len(row), 1)
		}
	}
	return Frame{Columns: columns, Rows: rows}, nil
}

// FromRecords builds a frame with the given column order. Keys absent from a
// record become empty cells.
func FromRecords(columns []string, records []Record) Frame {
	rows := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(columns))
		for j, c := range columns {
			row[j] = rec[c]
		}
		rows[i] = row
	}
	return Frame{Columns: columns, Rows: rows}
}

// Len returns the number of rows.
func (f Frame) Len() int { return len(f.Rows) }

// Index returns the position of column name, or -1.
func (f Frame) Index(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Has reports whether the frame carries the named column.
func (f Frame) Has(name string) bool { return f.Index(name) >= 0 }

// Column returns a copy of the named column's cells.
func (f Frame) Column(name string) ([]string, bool) {
	j := f.Index(name)
	if j < 0 {
		return nil, false
	}
	out := make([]string, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[j]
	}
	return out, true
}

// Record returns row i as a Record.
func (f Frame) Record(i int) Record {
	rec := make(Record, len(f.Columns))
	for j, c := range f.Columns {
		rec[c] = f.Rows[i][j]
	}
	return rec
}

// Records returns every row as a Record.
func (f Frame) Records() []Record {
	out := make([]Record, len(f.Rows))
	for i := range f.Rows {
		out[i] = f.Record(i)
	}
	return out
}

// Filter returns the rows for which keep returns true. Row slices are shared.
func (f Frame) Filter(keep func(row []string) bool) Frame {
	rows := make([][]string, 0, len(f.Rows))
	for _, row := range f.Rows {
		if keep(row) {
			rows = append(rows, row)
		}
	}
	return Frame{Columns: f.Columns, Rows: rows}
}

// Subset returns the rows at the given indices in that order.
func (f Frame) Subset(indices []int) Frame {
	rows := make([][]string, len(indices))
	for i, idx := range indices {
		rows[i] = f.Rows[idx]
	}
	return Frame{Columns: f.Columns, Rows: rows}
}

// Drop returns a frame without the named columns. Unknown names are ignored.
func (f Frame) Drop(names ...string) Frame {
	dropped := make(map[string]bool, len(names))
	for _, n := range names {
		dropped[n] = true
	}
	var keep []int
	var cols []string
	for j, c := range f.Columns {
		if !dropped[c] {
			keep = append(keep, j)
			cols = append(cols, c)
		}
	}
	rows := make([][]string, len(f.Rows))
	for i, row := range f.Rows {
		out := make([]string, len(keep))
		for k, j := range keep {
			out[k] = row[j]
		}
		rows[i] = out
	}
	return Frame{Columns: cols, Rows: rows}
}

// ExcludeJoined removes customers whose status is "Joined". Frames without a
// status column are returned unchanged.
func ExcludeJoined(f Frame) Frame {
	j := f.Index(StatusColumn)
	if j < 0 {
		return f
	}
	return f.Filter(func(row []string) bool { return row[j] != StatusJoined })
}

// Labels derives the churn label: 1 iff Customer_Status == "Churned".
func Labels(f Frame) (*mat.VecDense, error) {
	j := f.Index(StatusColumn)
	if j < 0 {
		return nil, errors.NewSchemaError(StatusColumn, "missing column", "")
	}
	if f.Len() == 0 {
		return nil, errors.NewModelError("dataset.Labels", "empty data", errors.ErrEmptyData)
	}
	y := mat.NewVecDense(f.Len(), nil)
	for i, row := range f.Rows {
		if row[j] == StatusChurned {
			y.SetVec(i, 1)
		}
	}
	return y, nil
}

// PrepareTraining applies the training filters: Joined rows are removed and
// labels are derived from the status column.
func PrepareTraining(f Frame) (Frame, *mat.VecDense, error) {
	f = ExcludeJoined(f)
	y, err := Labels(f)
	if err != nil {
		return Frame{}, nil, err
	}
	return f, y, nil
}
