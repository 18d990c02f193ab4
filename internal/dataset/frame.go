package dataset

import (
	"fmt"
)

// Frame is raw tabular data: named columns over string cells. An empty cell
// is a missing value. Frames preserve record order.
type Frame struct {
	Columns []string
	Records [][]string
}

// NewFrame creates a frame with the given column names.
func NewFrame(columns []string) *Frame {
	return &Frame{Columns: columns}
}

func (f *Frame) Len() int { return len(f.Records) }

// ColumnIndex returns the position of a named column.
func (f *Frame) ColumnIndex(name string) (int, bool) {
	for i, c := range f.Columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// HasColumn reports whether the frame contains a named column.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.ColumnIndex(name)
	return ok
}

// Append adds a record, enforcing the frame's width.
func (f *Frame) Append(record []string) error {
	if len(record) != len(f.Columns) {
		return fmt.Errorf("dataset: record width %d, want %d", len(record), len(f.Columns))
	}
	f.Records = append(f.Records, record)
	return nil
}

// Cell returns the value at (row, column name); empty string when the column
// is absent.
func (f *Frame) Cell(row int, name string) string {
	idx, ok := f.ColumnIndex(name)
	if !ok {
		return ""
	}
	return f.Records[row][idx]
}

// ColumnValues returns every cell of a named column in record order.
func (f *Frame) ColumnValues(name string) ([]string, error) {
	idx, ok := f.ColumnIndex(name)
	if !ok {
		return nil, fmt.Errorf("dataset: no column %q", name)
	}
	out := make([]string, len(f.Records))
	for i, rec := range f.Records {
		out[i] = rec[idx]
	}
	return out, nil
}

// FromMaps builds a frame from keyed records using the given column order.
// Keys absent from a record become missing cells.
func FromMaps(columns []string, records []map[string]string) *Frame {
	f := NewFrame(columns)
	for _, m := range records {
		rec := make([]string, len(columns))
		for i, c := range columns {
			rec[i] = m[c]
		}
		f.Records = append(f.Records, rec)
	}
	return f
}
