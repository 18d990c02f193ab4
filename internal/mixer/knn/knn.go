// Package knn implements a k-nearest-neighbour classification mixer over
// the stored training set. It does not implement the incremental-update
// capability: a grown neighbour set changes past predictions in ways that
// are not an update of a fitted model, so callers get an explicit
// unsupported error instead of a silent no-op.
package knn

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"lightmix/internal/dataset"
	"lightmix/internal/encoding"
	"lightmix/internal/mixer"
)

var supported = []encoding.Dtype{encoding.Binary, encoding.Categorical}

var _ mixer.Mixer = (*KNN)(nil)

const defaultK = 5

// Option tunes a KNN mixer at construction.
type Option func(*KNN)

func WithK(k int) Option {
	return func(m *KNN) { m.K = k }
}

// KNN classifies by distance-weighted majority vote among the k nearest
// stored training rows.
type KNN struct {
	Cfg      mixer.Config
	K        int
	Features [][]float32
	Labels   []string
	Fitted   bool
}

// New constructs a KNN mixer. The declared target dtype must be categorical
// or binary.
func New(cfg mixer.Config, opts ...Option) (*KNN, error) {
	if err := cfg.Validate(supported...); err != nil {
		return nil, err
	}
	m := &KNN{Cfg: cfg, K: defaultK}
	for _, opt := range opts {
		opt(m)
	}
	if m.K < 1 {
		return nil, fmt.Errorf("knn: k must be at least 1, got %d", m.K)
	}
	return m, nil
}

func (m *KNN) Name() string { return "knn" }

// Fit stores the concatenated train and dev rows with decoded labels.
func (m *KNN) Fit(train, dev *dataset.Encoded) error {
	if m.Fitted {
		return mixer.ErrAlreadyFitted
	}
	data, err := dataset.Concat(train, dev)
	if err != nil {
		return fmt.Errorf("knn: %w", err)
	}
	m.Features = make([][]float32, 0, data.Len())
	m.Labels = make([]string, 0, data.Len())
	for _, row := range data.Rows() {
		if row.Target == nil {
			return fmt.Errorf("knn: training row without target")
		}
		label, err := m.Cfg.TargetEncoder.Decode(row.Target)
		if err != nil {
			return fmt.Errorf("knn: decode target: %w", err)
		}
		m.Features = append(m.Features, row.Features)
		m.Labels = append(m.Labels, label)
	}
	if len(m.Features) < m.K {
		return fmt.Errorf("knn: %d training rows is fewer than k=%d", len(m.Features), m.K)
	}
	m.Fitted = true
	log.Info().Int("rows", len(m.Features)).Int("k", m.K).Msg("knn mixer fitted")
	return nil
}

type neighbour struct {
	dist  float64
	label string
}

// Predict votes among the k nearest neighbours of each row. Confidence is
// the winning label's share of the distance-weighted vote, discounted by the
// row's missing-feature fraction.
func (m *KNN) Predict(ds *dataset.Encoded, args mixer.PredictArgs) (*mixer.Frame, error) {
	if !m.Fitted {
		return nil, mixer.ErrNotFitted
	}
	if ds.Len() > 0 && len(m.Features) > 0 && ds.FeatureDim() != len(m.Features[0]) {
		return nil, fmt.Errorf("knn: feature width %d, want %d", ds.FeatureDim(), len(m.Features[0]))
	}

	frame := &mixer.Frame{Results: make([]mixer.Result, ds.Len())}
	for i, row := range ds.Rows() {
		nn := m.nearest(row.Features)

		const eps = 1e-9
		votes := make(map[string]float64, len(nn))
		var total float64
		for _, n := range nn {
			w := 1 / (n.dist + eps)
			votes[n.label] += w
			total += w
		}

		var bestLabel string
		best := math.Inf(-1)
		for label, w := range votes {
			if w > best {
				best = w
				bestLabel = label
			}
		}

		conf := best / total * (1 - float64(row.Missing))
		res := mixer.Result{
			Prediction: bestLabel,
			Truth:      row.Truth,
			Confidence: clamp01(conf),
		}
		if args.PredictProba {
			proba := make(map[string]float64, len(votes))
			for label, w := range votes {
				proba[label] = w / total
			}
			res.Proba = proba
		}
		frame.Results[i] = res
	}
	return frame, nil
}

func (m *KNN) nearest(vec []float32) []neighbour {
	nn := make([]neighbour, len(m.Features))
	for i, f := range m.Features {
		nn[i] = neighbour{dist: euclidean(vec, f), label: m.Labels[i]}
	}
	sort.Slice(nn, func(i, j int) bool { return nn[i].dist < nn[j].dist })
	if len(nn) > m.K {
		nn = nn[:m.K]
	}
	return nn
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
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
