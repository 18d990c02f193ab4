// Package encoding provides the minimal encoders the mixer layer needs:
// a target encoder that maps raw target values to fixed-length numeric
// vectors and back, and feature encoders that tolerate missing values.
//
// This is support infrastructure for the mixers, not an encoder framework.
// Upstream pipelines are expected to bring their own encodings for anything
// beyond plain categorical and numeric columns.
package encoding

import (
	"fmt"
	"math"
	"strconv"
)

// Dtype is the declared type of a raw column.
type Dtype string

const (
	Binary      Dtype = "binary"
	Categorical Dtype = "categorical"
	Integer     Dtype = "integer"
	Float       Dtype = "float"
)

// TargetEncoder maps raw target values to numeric vectors and back.
// Mixers only ever call Decode; Encode is used by the training pipeline.
type TargetEncoder interface {
	Encode(raw string) ([]float32, error)
	Decode(vec []float32) (string, error)
	Dim() int
	Dtype() Dtype
}

// FeatureEncoder maps a raw feature value to its numeric encoding.
// The second result is false when the raw value is missing or unparseable;
// the encoder then returns its zero encoding so prediction can proceed
// with reduced confidence instead of failing.
type FeatureEncoder interface {
	Encode(raw string) ([]float32, bool)
	Dim() int
}

// Dictionary is a one-hot target encoder over a fixed vocabulary.
// The vocabulary is frozen at construction; encoding an unseen value
// is an error, decoding picks the argmax component.
type Dictionary struct {
	Kind   Dtype
	Values []string
	Index  map[string]int
}

// NewDictionary builds a dictionary encoder from the observed target values,
// deduplicated in order of first appearance. A Binary dictionary must end up
// with exactly two classes.
func NewDictionary(kind Dtype, values []string) (*Dictionary, error) {
	if kind != Binary && kind != Categorical {
		return nil, fmt.Errorf("encoding: dictionary does not support dtype %q", kind)
	}
	d := &Dictionary{Kind: kind, Index: make(map[string]int)}
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, seen := d.Index[v]; seen {
			continue
		}
		d.Index[v] = len(d.Values)
		d.Values = append(d.Values, v)
	}
	if len(d.Values) < 2 {
		return nil, fmt.Errorf("encoding: need at least 2 distinct target values, got %d", len(d.Values))
	}
	if kind == Binary && len(d.Values) != 2 {
		return nil, fmt.Errorf("encoding: binary target must have exactly 2 classes, got %d", len(d.Values))
	}
	return d, nil
}

func (d *Dictionary) Dim() int     { return len(d.Values) }
func (d *Dictionary) Dtype() Dtype { return d.Kind }

// Class returns the label for a class index.
func (d *Dictionary) Class(idx int) (string, error) {
	if idx < 0 || idx >= len(d.Values) {
		return "", fmt.Errorf("encoding: class index %d out of range [0,%d)", idx, len(d.Values))
	}
	return d.Values[idx], nil
}

func (d *Dictionary) Encode(raw string) ([]float32, error) {
	idx, ok := d.Index[raw]
	if !ok {
		return nil, fmt.Errorf("encoding: unknown target value %q", raw)
	}
	vec := make([]float32, len(d.Values))
	vec[idx] = 1
	return vec, nil
}

func (d *Dictionary) Decode(vec []float32) (string, error) {
	if len(vec) != len(d.Values) {
		return "", fmt.Errorf("encoding: expected vector of width %d, got %d", len(d.Values), len(vec))
	}
	best := 0
	for i := 1; i < len(vec); i++ {
		if vec[i] > vec[best] {
			best = i
		}
	}
	return d.Values[best], nil
}

// Category one-hot encodes a categorical feature column. Unknown or missing
// values encode to the zero vector and report absence.
type Category struct {
	Dict *Dictionary
}

// NewCategory builds a categorical feature encoder over the observed values.
func NewCategory(values []string) (*Category, error) {
	d, err := NewDictionary(Categorical, values)
	if err != nil {
		return nil, err
	}
	return &Category{Dict: d}, nil
}

func (c *Category) Dim() int { return c.Dict.Dim() }

func (c *Category) Encode(raw string) ([]float32, bool) {
	vec := make([]float32, c.Dict.Dim())
	idx, ok := c.Dict.Index[raw]
	if raw == "" || !ok {
		return vec, false
	}
	vec[idx] = 1
	return vec, true
}

// Numeric standardizes a numeric feature column with the mean and standard
// deviation observed at fit time. Missing or unparseable values encode to
// zero (the column mean after standardization) and report absence.
type Numeric struct {
	Mean float64
	Std  float64
}

// NewNumeric fits a standardizer on the parseable values of a column.
func NewNumeric(values []string) (*Numeric, error) {
	var sum, sumSq float64
	var n int
	for _, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		sum += f
		sumSq += f * f
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("encoding: no parseable numeric values in column")
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	std := math.Sqrt(math.Max(variance, 0))
	if std == 0 {
		std = 1 // constant column still encodes, just uncentered by scale
	}
	return &Numeric{Mean: mean, Std: std}, nil
}

func (e *Numeric) Dim() int { return 1 }

func (e *Numeric) Encode(raw string) ([]float32, bool) {
	if raw == "" {
		return []float32{0}, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return []float32{0}, false
	}
	return []float32{float32((f - e.Mean) / e.Std)}, true
}
