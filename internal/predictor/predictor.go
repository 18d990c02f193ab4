// Package predictor assembles encoders and mixers into a trainable,
// persistable model. A predictor is built from a declarative definition,
// learns from a raw data frame, serves decoded predictions with confidence
// scores, and can be adjusted in place from newly labeled data.
package predictor

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"lightmix/internal/dataset"
	"lightmix/internal/encoding"
	"lightmix/internal/mixer"
)

func init() {
	gob.Register(&encoding.Dictionary{})
	gob.Register(&encoding.Category{})
	gob.Register(&encoding.Numeric{})
}

// trainFraction of rows form the train split; the ordered remainder is the
// dev split used for evaluation.
const trainFraction = 0.9

// MetricsInterface defines the metrics operations needed by the predictor.
// Satisfied by metrics.Wrapper; a no-op implementation is used when nil is
// passed, which keeps library use free of Prometheus.
type MetricsInterface interface {
	PredictionsInc()
	PredictionRowsAdd(n float64)
	PredictLatencyObserve(seconds float64)
	ConfidenceObserve(score float64)
	DecodeFailuresInc()
	FitObserve(seconds float64)
	PartialFitsInc()
	PartialFitFailuresInc()
}

type noopMetrics struct{}

func (noopMetrics) PredictionsInc()               {}
func (noopMetrics) PredictionRowsAdd(float64)     {}
func (noopMetrics) PredictLatencyObserve(float64) {}
func (noopMetrics) ConfidenceObserve(float64)     {}
func (noopMetrics) DecodeFailuresInc()            {}
func (noopMetrics) FitObserve(float64)            {}
func (noopMetrics) PartialFitsInc()               {}
func (noopMetrics) PartialFitFailuresInc()        {}

// Definition declares what a predictor learns: the target column, the typed
// feature columns, and the mixers to train. Mixer order matters: the first
// mixer serves predictions.
type Definition struct {
	Name       string                    `yaml:"name"`
	Target     string                    `yaml:"target"`
	Dtypes     map[string]encoding.Dtype `yaml:"dtypes"`
	Features   []string                  `yaml:"features"`
	Mixers     []string                  `yaml:"mixers"`
	TimeBudget time.Duration             `yaml:"timeBudget"`
	RetainRows int                       `yaml:"retainRows"`
}

// Validate checks the definition for internal consistency. Unknown mixer
// names are also rejected here so misconfiguration fails before any data is
// touched.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("predictor: definition needs a name")
	}
	if d.Target == "" {
		return fmt.Errorf("predictor: definition needs a target column")
	}
	if len(d.Features) == 0 {
		return fmt.Errorf("predictor: definition needs at least one feature column")
	}
	if len(d.Mixers) == 0 {
		return fmt.Errorf("predictor: definition needs at least one mixer")
	}
	if _, ok := d.Dtypes[d.Target]; !ok {
		return fmt.Errorf("predictor: no declared dtype for target %q", d.Target)
	}
	for _, f := range d.Features {
		if f == d.Target {
			return fmt.Errorf("predictor: target %q cannot also be a feature", d.Target)
		}
		if _, ok := d.Dtypes[f]; !ok {
			return fmt.Errorf("predictor: no declared dtype for feature %q", f)
		}
	}
	for _, name := range d.Mixers {
		if _, err := mixer.Lookup(name); err != nil {
			return err
		}
	}
	return nil
}

// LoadDefinition reads a YAML predictor definition from disk.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("predictor: read definition %s: %w", path, err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("predictor: parse definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Predictor is a trained (or trainable) model: a target encoder, one feature
// encoder per feature column, and a set of fitted mixers. The first mixer
// serves predictions; the rest still receive incremental updates. Safe for
// concurrent use: Learn and Adjust take the write lock, everything else reads.
type Predictor struct {
	mu          sync.RWMutex
	def         Definition
	targetEnc   *encoding.Dictionary
	featureEncs []encoding.FeatureEncoder
	mixers      []mixer.Mixer
	trained     bool
	trainedAt   time.Time
	trainRows   int
	retained    *dataset.Encoded
	metrics     MetricsInterface
}

// New creates an untrained predictor from a validated definition.
func New(def Definition, m MetricsInterface) (*Predictor, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = noopMetrics{}
	}
	if def.RetainRows <= 0 {
		def.RetainRows = 2000
	}
	return &Predictor{def: def, metrics: m}, nil
}

// Definition returns the definition the predictor was built from.
func (p *Predictor) Definition() Definition { return p.def }

// Trained reports whether Learn has completed.
func (p *Predictor) Trained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.trained
}

// TrainedAt returns when the model finished training.
func (p *Predictor) TrainedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.trainedAt
}

// TrainRows returns how many rows the model was trained on, including rows
// folded in by Adjust.
func (p *Predictor) TrainRows() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.trainRows
}

// MixerNames lists the fitted mixers in configuration order.
func (p *Predictor) MixerNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mixerNames()
}

func (p *Predictor) mixerNames() []string {
	out := make([]string, len(p.mixers))
	for i, m := range p.mixers {
		out[i] = m.Name()
	}
	return out
}

// Adjustable lists which configured mixers accept incremental updates.
func (p *Predictor) Adjustable() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]bool, len(p.mixers))
	for _, m := range p.mixers {
		out[m.Name()] = mixer.SupportsPartialFit(m)
	}
	return out
}

// Learn fits every configured mixer on the frame. The frame must contain the
// target column and every feature column. Rows are split in order into train
// and dev portions; mixers receive both. Learn must be called exactly once.
func (p *Predictor) Learn(ctx context.Context, frame *dataset.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.trained {
		return mixer.ErrAlreadyFitted
	}
	if frame == nil || frame.Len() == 0 {
		return fmt.Errorf("predictor: no training data")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	if err := p.buildEncoders(frame); err != nil {
		return err
	}

	encoded, err := p.encode(frame, true)
	if err != nil {
		return err
	}
	train, dev := encoded.Split(trainFraction)

	cfg := mixer.Config{
		TimeBudget:    p.def.TimeBudget,
		Target:        p.def.Target,
		Dtypes:        p.def.Dtypes,
		TargetEncoder: p.targetEnc,
	}
	mixers := make([]mixer.Mixer, 0, len(p.def.Mixers))
	for _, name := range p.def.Mixers {
		factory, err := mixer.Lookup(name)
		if err != nil {
			return err
		}
		m, err := factory(cfg)
		if err != nil {
			return fmt.Errorf("predictor: construct mixer %q: %w", name, err)
		}
		mixers = append(mixers, m)
	}

	for _, m := range mixers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Fit(train, dev); err != nil {
			return fmt.Errorf("predictor: fit mixer %q: %w", m.Name(), err)
		}
	}

	p.mixers = mixers
	p.trained = true
	p.trainedAt = time.Now().UTC()
	p.trainRows = encoded.Len()
	p.retained = encoded.Tail(p.def.RetainRows)
	p.metrics.FitObserve(time.Since(start).Seconds())

	devAcc := -1.0
	if dev.Len() > 0 {
		if acc, err := p.evaluate(dev); err == nil {
			devAcc = acc
		}
	}
	log.Info().
		Str("model", p.def.Name).
		Int("rows", encoded.Len()).
		Int("devRows", dev.Len()).
		Float64("devAccuracy", devAcc).
		Strs("mixers", p.mixerNames()).
		Dur("took", time.Since(start)).
		Msg("predictor trained")
	return nil
}

// Predict serves decoded predictions for the frame, one result per record in
// record order. When the frame carries the target column, its values flow
// through as truth for side-by-side comparison.
func (p *Predictor) Predict(ctx context.Context, frame *dataset.Frame, args mixer.PredictArgs) (*mixer.Frame, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.trained {
		return nil, mixer.ErrNotFitted
	}
	if frame == nil || frame.Len() == 0 {
		return nil, fmt.Errorf("predictor: no rows to predict")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	encoded, err := p.encode(frame, false)
	if err != nil {
		p.metrics.DecodeFailuresInc()
		return nil, err
	}

	out, err := p.mixers[0].Predict(encoded, args)
	if err != nil {
		p.metrics.DecodeFailuresInc()
		return nil, err
	}

	p.metrics.PredictionsInc()
	p.metrics.PredictionRowsAdd(float64(out.Len()))
	p.metrics.PredictLatencyObserve(time.Since(start).Seconds())
	for _, res := range out.Results {
		p.metrics.ConfidenceObserve(res.Confidence)
	}

	log.Debug().
		Str("model", p.def.Name).
		Int("rows", out.Len()).
		Dur("took", time.Since(start)).
		Msg("prediction served")
	return out, nil
}

// Adjust folds newly labeled rows into every mixer that supports incremental
// updates. Mixers lacking the capability contribute an error without blocking
// the others, so a partially adjustable ensemble still improves. The new rows
// join the retained tail used as context for future adjustments.
func (p *Predictor) Adjust(ctx context.Context, frame *dataset.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.trained {
		return mixer.ErrNotFitted
	}
	if frame == nil || frame.Len() == 0 {
		return fmt.Errorf("predictor: no adjustment data")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	newData, err := p.encode(frame, true)
	if err != nil {
		return err
	}

	var errs []error
	for _, m := range p.mixers {
		if err := mixer.PartialFit(m, newData, p.retained); err != nil {
			p.metrics.PartialFitFailuresInc()
			errs = append(errs, fmt.Errorf("adjust %q: %w", m.Name(), err))
			continue
		}
		p.metrics.PartialFitsInc()
	}

	merged, err := dataset.Concat(p.retained, newData)
	if err == nil {
		p.retained = merged.Tail(p.def.RetainRows)
	}
	p.trainRows += newData.Len()

	log.Info().
		Str("model", p.def.Name).
		Int("rows", newData.Len()).
		Int("failures", len(errs)).
		Msg("predictor adjusted")
	return errors.Join(errs...)
}

// Accuracy scores the primary mixer against a labeled frame: the fraction of
// rows whose decoded prediction matches the target column.
func (p *Predictor) Accuracy(ctx context.Context, frame *dataset.Frame) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.trained {
		return 0, mixer.ErrNotFitted
	}
	if !frame.HasColumn(p.def.Target) {
		return 0, fmt.Errorf("predictor: accuracy needs the target column %q", p.def.Target)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	encoded, err := p.encode(frame, true)
	if err != nil {
		return 0, err
	}
	return p.evaluate(encoded)
}

func (p *Predictor) evaluate(ds *dataset.Encoded) (float64, error) {
	out, err := p.mixers[0].Predict(ds, mixer.PredictArgs{})
	if err != nil {
		return 0, err
	}
	if out.Len() == 0 {
		return 0, fmt.Errorf("predictor: no rows to evaluate")
	}
	var hits int
	for _, res := range out.Results {
		if res.Prediction == res.Truth {
			hits++
		}
	}
	return float64(hits) / float64(out.Len()), nil
}

// buildEncoders fits the target dictionary and one feature encoder per
// feature column on the training frame.
func (p *Predictor) buildEncoders(frame *dataset.Frame) error {
	targetValues, err := frame.ColumnValues(p.def.Target)
	if err != nil {
		return fmt.Errorf("predictor: %w", err)
	}
	targetEnc, err := encoding.NewDictionary(p.def.Dtypes[p.def.Target], targetValues)
	if err != nil {
		return fmt.Errorf("predictor: target encoder: %w", err)
	}

	featureEncs := make([]encoding.FeatureEncoder, len(p.def.Features))
	for i, name := range p.def.Features {
		values, err := frame.ColumnValues(name)
		if err != nil {
			return fmt.Errorf("predictor: %w", err)
		}
		switch dt := p.def.Dtypes[name]; dt {
		case encoding.Binary, encoding.Categorical:
			featureEncs[i], err = encoding.NewCategory(values)
		case encoding.Integer, encoding.Float:
			featureEncs[i], err = encoding.NewNumeric(values)
		default:
			return fmt.Errorf("predictor: feature %q has unsupported dtype %q", name, dt)
		}
		if err != nil {
			return fmt.Errorf("predictor: feature encoder %q: %w", name, err)
		}
	}

	p.targetEnc = targetEnc
	p.featureEncs = featureEncs
	return nil
}

// encode turns a raw frame into the fixed-width numeric dataset the mixers
// consume. Missing feature cells encode to the encoder's zero vector and
// raise the row's missing fraction; a row with no usable features at all is
// rejected. With labeled set, every record must carry a known target value.
func (p *Predictor) encode(frame *dataset.Frame, labeled bool) (*dataset.Encoded, error) {
	var featureDim int
	for _, enc := range p.featureEncs {
		featureDim += enc.Dim()
	}
	out := dataset.New(featureDim, p.targetEnc.Dim())

	hasTruth := frame.HasColumn(p.def.Target)
	if labeled && !hasTruth {
		return nil, fmt.Errorf("predictor: frame is missing the target column %q", p.def.Target)
	}

	for i := 0; i < frame.Len(); i++ {
		features := make([]float32, 0, featureDim)
		var missing int
		for j, name := range p.def.Features {
			vec, present := p.featureEncs[j].Encode(frame.Cell(i, name))
			if !present {
				missing++
			}
			features = append(features, vec...)
		}
		if missing == len(p.def.Features) {
			return nil, fmt.Errorf("predictor: row %d has no usable feature values", i)
		}

		row := dataset.Row{
			Features: features,
			Missing:  float32(missing) / float32(len(p.def.Features)),
		}
		if hasTruth {
			row.Truth = frame.Cell(i, p.def.Target)
		}
		if labeled {
			target, err := p.targetEnc.Encode(row.Truth)
			if err != nil {
				return nil, fmt.Errorf("predictor: row %d: %w", i, err)
			}
			row.Target = target
		}
		if err := out.Append(row); err != nil {
			return nil, fmt.Errorf("predictor: row %d: %w", i, err)
		}
	}
	return out, nil
}

// snapshot is the gob persistence form of a predictor. Interface-typed
// fields carry their concrete types via the gob registrations done in this
// package's init and in each mixer's register file.
type snapshot struct {
	Def         Definition
	TargetEnc   *encoding.Dictionary
	FeatureEncs []encoding.FeatureEncoder
	Mixers      []mixer.Mixer
	TrainedAt   time.Time
	TrainRows   int
	Retained    []dataset.Row
	FeatureDim  int
}

// Save serializes the trained predictor to a self-contained blob.
func (p *Predictor) Save() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.trained {
		return nil, mixer.ErrNotFitted
	}
	var featureDim int
	for _, enc := range p.featureEncs {
		featureDim += enc.Dim()
	}
	snap := snapshot{
		Def:         p.def,
		TargetEnc:   p.targetEnc,
		FeatureEncs: p.featureEncs,
		Mixers:      p.mixers,
		TrainedAt:   p.trainedAt,
		TrainRows:   p.trainRows,
		Retained:    p.retained.Rows(),
		FeatureDim:  featureDim,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("predictor: encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Load restores a predictor from a Save blob. The mixer packages referenced
// by the snapshot must be linked into the binary, which their register files
// guarantee for any program that can construct them.
func Load(blob []byte, m MetricsInterface) (*Predictor, error) {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("predictor: decode snapshot: %w", err)
	}
	if m == nil {
		m = noopMetrics{}
	}

	retained := dataset.New(snap.FeatureDim, snap.TargetEnc.Dim())
	for _, row := range snap.Retained {
		if err := retained.Append(row); err != nil {
			return nil, fmt.Errorf("predictor: restore retained rows: %w", err)
		}
	}

	return &Predictor{
		def:         snap.Def,
		targetEnc:   snap.TargetEnc,
		featureEncs: snap.FeatureEncs,
		mixers:      snap.Mixers,
		trained:     true,
		trainedAt:   snap.TrainedAt,
		trainRows:   snap.TrainRows,
		retained:    retained,
		metrics:     m,
	}, nil
}
