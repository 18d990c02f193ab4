// Package sgd implements a logistic-regression mixer trained by stochastic
// gradient descent. It only handles binary targets and honors the advisory
// time budget by stopping between epochs once the budget is spent.
package sgd

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"lightmix/internal/dataset"
	"lightmix/internal/encoding"
	"lightmix/internal/mixer"
)

var supported = []encoding.Dtype{encoding.Binary}

var _ mixer.Mixer = (*SGD)(nil)
var _ mixer.PartialFitter = (*SGD)(nil)

const (
	defaultEpochs       = 40
	defaultLearningRate = 0.1
	defaultSeed         = 1
	// updates run at a fraction of the initial rate so new data refines the
	// model instead of overwriting it
	partialRateFactor = 0.1
)

// Option tunes an SGD mixer at construction.
type Option func(*SGD)

func WithEpochs(n int) Option {
	return func(s *SGD) { s.Epochs = n }
}

func WithLearningRate(lr float64) Option {
	return func(s *SGD) { s.LearningRate = lr }
}

func WithSeed(seed int64) Option {
	return func(s *SGD) { s.Seed = seed }
}

// SGD is a binary logistic-regression mixer.
type SGD struct {
	Cfg          mixer.Config
	Weights      []float64
	Bias         float64
	Epochs       int
	LearningRate float64
	Seed         int64
	Fitted       bool
}

// New constructs an SGD mixer. The declared target dtype must be binary.
func New(cfg mixer.Config, opts ...Option) (*SGD, error) {
	if err := cfg.Validate(supported...); err != nil {
		return nil, err
	}
	if cfg.TargetEncoder.Dim() != 2 {
		return nil, fmt.Errorf("sgd: binary target encoder must have width 2, got %d", cfg.TargetEncoder.Dim())
	}
	s := &SGD{
		Cfg:          cfg,
		Epochs:       defaultEpochs,
		LearningRate: defaultLearningRate,
		Seed:         defaultSeed,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Epochs < 1 || s.LearningRate <= 0 {
		return nil, fmt.Errorf("sgd: epochs and learning rate must be positive")
	}
	return s, nil
}

func (s *SGD) Name() string { return "sgd" }

// Fit trains on the concatenation of train and dev data.
func (s *SGD) Fit(train, dev *dataset.Encoded) error {
	if s.Fitted {
		return mixer.ErrAlreadyFitted
	}
	data, err := dataset.Concat(train, dev)
	if err != nil {
		return fmt.Errorf("sgd: %w", err)
	}
	s.Weights = make([]float64, data.FeatureDim())
	s.Bias = 0

	epochs, err := s.descend(data, s.Epochs, s.LearningRate)
	if err != nil {
		return err
	}
	s.Fitted = true
	log.Info().Int("rows", data.Len()).Int("epochs", epochs).Msg("sgd mixer fitted")
	return nil
}

// PartialFit refines the fitted model with new data only, at a decayed
// learning rate.
func (s *SGD) PartialFit(train, dev *dataset.Encoded) error {
	if !s.Fitted {
		return mixer.ErrNotFitted
	}
	if train == nil || train.Len() == 0 {
		return nil
	}
	if train.FeatureDim() != len(s.Weights) {
		return fmt.Errorf("sgd: update feature width %d, want %d", train.FeatureDim(), len(s.Weights))
	}
	epochs := s.Epochs / 4
	if epochs < 1 {
		epochs = 1
	}
	ran, err := s.descend(train, epochs, s.LearningRate*partialRateFactor)
	if err != nil {
		return err
	}
	log.Debug().Int("rows", train.Len()).Int("epochs", ran).Msg("sgd mixer updated")
	return nil
}

// descend runs up to maxEpochs of per-sample gradient steps, visiting rows
// in a seeded shuffled order so training is deterministic for a given seed.
// Returns the number of epochs actually run.
func (s *SGD) descend(data *dataset.Encoded, maxEpochs int, rate float64) (int, error) {
	rows := data.Rows()
	labels := make([]float64, len(rows))
	for i, row := range rows {
		if row.Target == nil {
			return 0, fmt.Errorf("sgd: training row without target")
		}
		labels[i] = float64(row.Target[1]) // one-hot: component 1 is the positive class
	}

	rng := rand.New(rand.NewSource(s.Seed))
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}

	start := time.Now()
	epoch := 0
	for ; epoch < maxEpochs; epoch++ {
		if s.Cfg.TimeBudget > 0 && time.Since(start) > s.Cfg.TimeBudget {
			log.Debug().Int("epoch", epoch).Dur("budget", s.Cfg.TimeBudget).Msg("sgd time budget spent, stopping early")
			break
		}
		lr := rate / (1 + 0.1*float64(epoch))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			row := rows[idx]
			grad := sigmoid(s.raw(row.Features)) - labels[idx]
			for i, f := range row.Features {
				s.Weights[i] -= lr * grad * float64(f)
			}
			s.Bias -= lr * grad
		}
	}
	return epoch, nil
}

// Predict scores each row and decodes the more probable class. Confidence
// is max(p, 1-p) discounted by the missing-feature fraction.
func (s *SGD) Predict(ds *dataset.Encoded, args mixer.PredictArgs) (*mixer.Frame, error) {
	if !s.Fitted {
		return nil, mixer.ErrNotFitted
	}
	if ds.FeatureDim() != len(s.Weights) {
		return nil, fmt.Errorf("sgd: feature width %d, want %d", ds.FeatureDim(), len(s.Weights))
	}

	frame := &mixer.Frame{Results: make([]mixer.Result, ds.Len())}
	for i, row := range ds.Rows() {
		p := sigmoid(s.raw(row.Features))

		vec := []float32{float32(1 - p), float32(p)}
		label, err := s.Cfg.TargetEncoder.Decode(vec)
		if err != nil {
			return nil, fmt.Errorf("sgd: decode prediction: %w", err)
		}
		negLabel, err := s.Cfg.TargetEncoder.Decode([]float32{float32(p), float32(1 - p)})
		if err != nil {
			return nil, fmt.Errorf("sgd: decode prediction: %w", err)
		}

		conf := math.Max(p, 1-p) * (1 - float64(row.Missing))
		res := mixer.Result{
			Prediction: label,
			Truth:      row.Truth,
			Confidence: clamp01(conf),
		}
		if args.PredictProba {
			res.Proba = map[string]float64{label: math.Max(p, 1-p), negLabel: math.Min(p, 1-p)}
		}
		frame.Results[i] = res
	}
	return frame, nil
}

func (s *SGD) raw(features []float32) float64 {
	sum := s.Bias
	for i, f := range features {
		sum += s.Weights[i] * float64(f)
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
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
