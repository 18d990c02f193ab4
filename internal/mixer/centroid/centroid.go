// Package centroid implements a nearest-centroid classification mixer.
// It keeps one running mean per target class, which makes incremental
// updates from new data exact rather than approximate.
package centroid

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"lightmix/internal/dataset"
	"lightmix/internal/encoding"
	"lightmix/internal/mixer"
)

var supported = []encoding.Dtype{encoding.Binary, encoding.Categorical}

var _ mixer.Mixer = (*Centroid)(nil)
var _ mixer.PartialFitter = (*Centroid)(nil)

// Centroid is a classification-only mixer: per-class feature mean vectors,
// prediction by minimum Euclidean distance.
type Centroid struct {
	Cfg    mixer.Config
	Sums   map[string][]float64
	Counts map[string]int64
	Dim    int
	Fitted bool
}

// New constructs a centroid mixer. The declared target dtype must be
// categorical or binary; anything else fails here, not at fit time.
func New(cfg mixer.Config) (*Centroid, error) {
	if err := cfg.Validate(supported...); err != nil {
		return nil, err
	}
	return &Centroid{
		Cfg:    cfg,
		Sums:   make(map[string][]float64),
		Counts: make(map[string]int64),
	}, nil
}

func (c *Centroid) Name() string { return "centroid" }

// Fit accumulates class centroids over the concatenated train and dev data.
func (c *Centroid) Fit(train, dev *dataset.Encoded) error {
	if c.Fitted {
		return mixer.ErrAlreadyFitted
	}
	data, err := dataset.Concat(train, dev)
	if err != nil {
		return fmt.Errorf("centroid: %w", err)
	}
	c.Dim = data.FeatureDim()
	if err := c.accumulate(data); err != nil {
		return err
	}
	c.Fitted = true
	log.Info().Int("rows", data.Len()).Int("classes", len(c.Counts)).Msg("centroid mixer fitted")
	return nil
}

// PartialFit folds new observations into the running class means. Only the
// new data contributes; the old data is already part of the accumulated
// sums and is accepted for contract symmetry.
func (c *Centroid) PartialFit(train, dev *dataset.Encoded) error {
	if !c.Fitted {
		return mixer.ErrNotFitted
	}
	if train == nil || train.Len() == 0 {
		return nil
	}
	if train.FeatureDim() != c.Dim {
		return fmt.Errorf("centroid: update feature width %d, want %d", train.FeatureDim(), c.Dim)
	}
	if err := c.accumulate(train); err != nil {
		return err
	}
	log.Debug().Int("rows", train.Len()).Msg("centroid mixer updated")
	return nil
}

func (c *Centroid) accumulate(data *dataset.Encoded) error {
	for _, row := range data.Rows() {
		if row.Target == nil {
			return fmt.Errorf("centroid: training row without target")
		}
		label, err := c.Cfg.TargetEncoder.Decode(row.Target)
		if err != nil {
			return fmt.Errorf("centroid: decode target: %w", err)
		}
		sum, ok := c.Sums[label]
		if !ok {
			sum = make([]float64, c.Dim)
			c.Sums[label] = sum
		}
		for i, f := range row.Features {
			sum[i] += float64(f)
		}
		c.Counts[label]++
	}
	return nil
}

// Predict classifies each row by its nearest class centroid. Confidence is
// the relative margin between the two nearest centroids, discounted by the
// row's missing-feature fraction. Input order is preserved and fitted state
// is never touched.
func (c *Centroid) Predict(ds *dataset.Encoded, args mixer.PredictArgs) (*mixer.Frame, error) {
	if !c.Fitted {
		return nil, mixer.ErrNotFitted
	}
	if ds.FeatureDim() != c.Dim {
		return nil, fmt.Errorf("centroid: feature width %d, want %d", ds.FeatureDim(), c.Dim)
	}

	centroids := make(map[string][]float64, len(c.Sums))
	for label, sum := range c.Sums {
		n := float64(c.Counts[label])
		mean := make([]float64, len(sum))
		for i, v := range sum {
			mean[i] = v / n
		}
		centroids[label] = mean
	}

	frame := &mixer.Frame{Results: make([]mixer.Result, ds.Len())}
	for i, row := range ds.Rows() {
		best, second := math.Inf(1), math.Inf(1)
		var bestLabel string
		dists := make(map[string]float64, len(centroids))
		for label, mean := range centroids {
			d := euclidean(row.Features, mean)
			dists[label] = d
			switch {
			case d < best:
				second = best
				best = d
				bestLabel = label
			case d < second:
				second = d
			}
		}

		conf := 1.0
		if !math.IsInf(second, 1) && best+second > 0 {
			conf = second / (best + second)
		}
		conf *= 1 - float64(row.Missing)

		res := mixer.Result{
			Prediction: bestLabel,
			Truth:      row.Truth,
			Confidence: clamp01(conf),
		}
		if args.PredictProba {
			res.Proba = inverseDistanceProba(dists)
		}
		frame.Results[i] = res
	}
	return frame, nil
}

func euclidean(vec []float32, mean []float64) float64 {
	var sum float64
	for i, f := range vec {
		d := float64(f) - mean[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func inverseDistanceProba(dists map[string]float64) map[string]float64 {
	const eps = 1e-9
	var total float64
	for _, d := range dists {
		total += 1 / (d + eps)
	}
	proba := make(map[string]float64, len(dists))
	for label, d := range dists {
		proba[label] = (1 / (d + eps)) / total
	}
	return proba
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
