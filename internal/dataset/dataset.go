// Package dataset holds the tabular data structures exchanged between the
// encoding pipeline and the mixers: raw frames on the way in, encoded
// feature/target sequences on the way to training and inference.
package dataset

import (
	"fmt"
)

// Row is one encoded example. Missing is the fraction of raw feature values
// that were absent or unparseable when the row was encoded, in [0,1); mixers
// use it to discount prediction confidence.
type Row struct {
	Features []float32
	Target   []float32
	Truth    string
	Missing  float32
}

// Encoded is an ordered sequence of encoded rows with fixed feature and
// target widths. No operation reorders rows.
type Encoded struct {
	rows       []Row
	featureDim int
	targetDim  int
}

// New creates an empty encoded dataset with the given vector widths.
func New(featureDim, targetDim int) *Encoded {
	return &Encoded{featureDim: featureDim, targetDim: targetDim}
}

func (e *Encoded) Len() int        { return len(e.rows) }
func (e *Encoded) FeatureDim() int { return e.featureDim }
func (e *Encoded) TargetDim() int  { return e.targetDim }

// Row returns the i-th row. Callers must not mutate the returned slices.
func (e *Encoded) Row(i int) Row { return e.rows[i] }

// Rows returns the backing row slice in order.
func (e *Encoded) Rows() []Row { return e.rows }

// Append adds a row, enforcing the dataset's vector widths. A row with a nil
// target is allowed (inference input); a non-nil target must match TargetDim.
func (e *Encoded) Append(r Row) error {
	if len(r.Features) != e.featureDim {
		return fmt.Errorf("dataset: feature width %d, want %d", len(r.Features), e.featureDim)
	}
	if r.Target != nil && len(r.Target) != e.targetDim {
		return fmt.Errorf("dataset: target width %d, want %d", len(r.Target), e.targetDim)
	}
	if r.Missing < 0 || r.Missing >= 1 {
		return fmt.Errorf("dataset: missing fraction %f outside [0,1)", r.Missing)
	}
	e.rows = append(e.rows, r)
	return nil
}

// Concat joins datasets into one logical sequence, first argument's rows
// first, preserving order within each part. Nil parts are skipped. All
// non-empty parts must agree on vector widths.
func Concat(parts ...*Encoded) (*Encoded, error) {
	var out *Encoded
	for _, p := range parts {
		if p == nil || p.Len() == 0 {
			continue
		}
		if out == nil {
			out = New(p.featureDim, p.targetDim)
		} else if p.featureDim != out.featureDim || p.targetDim != out.targetDim {
			return nil, fmt.Errorf("dataset: concat width mismatch: (%d,%d) vs (%d,%d)",
				p.featureDim, p.targetDim, out.featureDim, out.targetDim)
		}
		out.rows = append(out.rows, p.rows...)
	}
	if out == nil {
		return nil, fmt.Errorf("dataset: concat of empty datasets")
	}
	return out, nil
}

// Split cuts the dataset into a head and tail at the given fraction without
// shuffling, so row order survives the train/dev split.
func (e *Encoded) Split(frac float64) (head, tail *Encoded) {
	n := int(float64(len(e.rows)) * frac)
	if n < 1 {
		n = 1
	}
	if n > len(e.rows) {
		n = len(e.rows)
	}
	head = &Encoded{rows: e.rows[:n], featureDim: e.featureDim, targetDim: e.targetDim}
	tail = &Encoded{rows: e.rows[n:], featureDim: e.featureDim, targetDim: e.targetDim}
	return head, tail
}

// Tail returns a dataset holding at most the last n rows.
func (e *Encoded) Tail(n int) *Encoded {
	if n >= len(e.rows) {
		return e
	}
	return &Encoded{rows: e.rows[len(e.rows)-n:], featureDim: e.featureDim, targetDim: e.targetDim}
}
