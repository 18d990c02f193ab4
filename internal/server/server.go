// Package server exposes a trained predictor over HTTP: prediction, online
// adjustment from labeled rows, health, and model metadata.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"lightmix/internal/dataset"
	"lightmix/internal/mixer"
	"lightmix/internal/predictor"
)

// ModelServer provides the HTTP API around a predictor.
type ModelServer struct {
	predictor *predictor.Predictor
	server    *http.Server
}

// PredictionRequest carries raw records to predict on. Records are keyed by
// column name; missing keys are missing values.
type PredictionRequest struct {
	Rows         []map[string]string `json:"rows"`
	PredictProba bool                `json:"predict_proba,omitempty"`
	RequestID    string              `json:"request_id,omitempty"`
}

// PredictionRow is one decoded prediction in the response table.
type PredictionRow struct {
	Prediction string             `json:"prediction"`
	Truth      string             `json:"truth,omitempty"`
	Confidence float64            `json:"confidence"`
	Proba      map[string]float64 `json:"proba,omitempty"`
}

// PredictionResponse is the prediction result table, one row per input
// record in request order.
type PredictionResponse struct {
	Predictions []PredictionRow `json:"predictions"`
	RequestID   string          `json:"request_id,omitempty"`
	Latency     float64         `json:"latency_ms"`
	Timestamp   time.Time       `json:"timestamp"`
}

// AdjustRequest carries labeled rows to fold into the model.
type AdjustRequest struct {
	Rows []map[string]string `json:"rows"`
}

// AdjustResponse reports the outcome of an adjustment.
type AdjustResponse struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// NewModelServer creates the HTTP server for a trained predictor.
func NewModelServer(p *predictor.Predictor, port int) *ModelServer {
	ms := &ModelServer{predictor: p}

	mux := http.NewServeMux()
	mux.HandleFunc("/predict", ms.handlePredict)
	mux.HandleFunc("/adjust", ms.handleAdjust)
	mux.HandleFunc("/health", ms.handleHealth)
	mux.HandleFunc("/model/info", ms.handleModelInfo)

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return ms
}

// Handler returns the server's HTTP handler, which keeps tests off real ports.
func (ms *ModelServer) Handler() http.Handler { return ms.server.Handler }

// Start begins serving HTTP requests.
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Rows) == 0 {
		http.Error(w, "rows cannot be empty", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	def := ms.predictor.Definition()
	columns := append(append([]string(nil), def.Features...), def.Target)
	frame := dataset.FromMaps(columns, req.Rows)

	out, err := ms.predictor.Predict(ctx, frame, mixer.PredictArgs{PredictProba: req.PredictProba})
	if err != nil {
		log.Error().Err(err).Msg("prediction failed")
		http.Error(w, fmt.Sprintf("prediction failed: %v", err), http.StatusInternalServerError)
		return
	}

	resp := PredictionResponse{
		Predictions: make([]PredictionRow, out.Len()),
		RequestID:   req.RequestID,
		Latency:     float64(time.Since(start).Milliseconds()),
		Timestamp:   time.Now(),
	}
	for i, res := range out.Results {
		resp.Predictions[i] = PredictionRow{
			Prediction: res.Prediction,
			Truth:      res.Truth,
			Confidence: res.Confidence,
			Proba:      res.Proba,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (ms *ModelServer) handleAdjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Rows) == 0 {
		http.Error(w, "rows cannot be empty", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	def := ms.predictor.Definition()
	columns := append(append([]string(nil), def.Features...), def.Target)
	frame := dataset.FromMaps(columns, req.Rows)

	resp := AdjustResponse{Accepted: len(req.Rows)}
	status := http.StatusOK
	if err := ms.predictor.Adjust(ctx, frame); err != nil {
		// Partial failures (some mixers updated, some not) still report the
		// accepted rows alongside the error.
		log.Warn().Err(err).Int("rows", len(req.Rows)).Msg("adjustment incomplete")
		resp.Error = err.Error()
		status = http.StatusMultiStatus
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if !ms.predictor.Trained() {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"healthy":    ms.predictor.Trained(),
		"trained_at": ms.predictor.TrainedAt(),
	})
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	def := ms.predictor.Definition()
	info := map[string]any{
		"name":          def.Name,
		"target":        def.Target,
		"features":      def.Features,
		"mixers":        ms.predictor.MixerNames(),
		"adjustable":    ms.predictor.Adjustable(),
		"trained_at":    ms.predictor.TrainedAt(),
		"training_rows": ms.predictor.TrainRows(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}
