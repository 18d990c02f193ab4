// Package mixer defines the pluggable model contract the predictor
// orchestrates: a mixer learns a mapping from encoded features to an encoded
// target and produces decoded predictions. Concrete mixers register
// themselves by name so predictors can be assembled from configuration.
package mixer

import (
	"errors"
	"fmt"
	"time"

	"lightmix/internal/dataset"
	"lightmix/internal/encoding"
)

var (
	// ErrPartialFitUnsupported is returned when PartialFit is invoked on a
	// mixer that declares no incremental-update capability.
	ErrPartialFitUnsupported = errors.New("mixer: partial fit not supported")

	// ErrAlreadyFitted is returned on a second Fit of the same mixer
	// instance. Refitting semantics are deliberately not provided.
	ErrAlreadyFitted = errors.New("mixer: already fitted")

	// ErrNotFitted is returned by Predict or PartialFit before Fit.
	ErrNotFitted = errors.New("mixer: not fitted")
)

// ConfigurationError reports a construction-time mismatch between the
// declared target type and the set a mixer supports. It is fatal: the
// caller must fix the configuration.
type ConfigurationError struct {
	Target    string
	Dtype     encoding.Dtype
	Supported []encoding.Dtype
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("mixer: target %q has dtype %q, supported: %v", e.Target, e.Dtype, e.Supported)
}

// Config is the immutable construction record for a mixer: an advisory time
// budget, the target column, the declared column types, and the encoder used
// to decode predicted target vectors.
type Config struct {
	TimeBudget    time.Duration
	Target        string
	Dtypes        map[string]encoding.Dtype
	TargetEncoder encoding.TargetEncoder
}

// Validate checks the config against a mixer's supported target dtypes.
// Any mismatch surfaces here, at construction, never at fit time.
func (c Config) Validate(supported ...encoding.Dtype) error {
	if c.Target == "" {
		return fmt.Errorf("mixer: target column name is required")
	}
	if c.TargetEncoder == nil {
		return fmt.Errorf("mixer: target encoder is required")
	}
	dt, ok := c.Dtypes[c.Target]
	if !ok {
		return fmt.Errorf("mixer: no declared dtype for target %q", c.Target)
	}
	ok = false
	for _, s := range supported {
		if dt == s {
			ok = true
			break
		}
	}
	if !ok {
		return &ConfigurationError{Target: c.Target, Dtype: dt, Supported: supported}
	}
	if dt != c.TargetEncoder.Dtype() {
		return fmt.Errorf("mixer: target %q declared %q but encoder handles %q", c.Target, dt, c.TargetEncoder.Dtype())
	}
	return nil
}

// PredictArgs carries advisory prediction-time arguments.
type PredictArgs struct {
	// PredictProba asks for per-class probabilities alongside predictions.
	// Mixers without probability estimates ignore it.
	PredictProba bool
	// Offset displaces predictions relative to the end of training data for
	// mixers with positional semantics. Ignored by the built-in mixers.
	Offset int
}

// Result is one decoded prediction.
type Result struct {
	Prediction string
	Truth      string
	Confidence float64
	Proba      map[string]float64
}

// Frame is a prediction table: one result per input row, in input order.
type Frame struct {
	Results []Result
}

func (f *Frame) Len() int { return len(f.Results) }

// Mixer is the uniform contract between the predictor and any trainable
// model. Fit consumes train and dev data, concatenated into one training
// sequence, and must be called exactly once. Predict never mutates fitted
// state. Errors from the underlying model propagate unchanged.
type Mixer interface {
	Name() string
	Fit(train, dev *dataset.Encoded) error
	Predict(ds *dataset.Encoded, args PredictArgs) (*Frame, error)
}

// PartialFitter is the optional incremental-update capability: updating the
// fitted model from newly observed data only. Mixers that cannot do this
// simply do not implement the interface.
type PartialFitter interface {
	PartialFit(train, dev *dataset.Encoded) error
}

// PartialFit performs the capability check and dispatches the update.
// Mixers lacking the capability yield ErrPartialFitUnsupported and are
// guaranteed untouched.
func PartialFit(m Mixer, train, dev *dataset.Encoded) error {
	pf, ok := m.(PartialFitter)
	if !ok {
		return fmt.Errorf("%s: %w", m.Name(), ErrPartialFitUnsupported)
	}
	return pf.PartialFit(train, dev)
}

// SupportsPartialFit reports whether a mixer can be updated incrementally.
func SupportsPartialFit(m Mixer) bool {
	_, ok := m.(PartialFitter)
	return ok
}
