package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightmix/internal/dataset"
	"lightmix/internal/encoding"
	"lightmix/internal/predictor"

	_ "lightmix/internal/mixer/centroid"
	_ "lightmix/internal/mixer/knn"
)

func trainedPredictor(t *testing.T, mixers ...string) *predictor.Predictor {
	t.Helper()
	def := predictor.Definition{
		Name:   "color-model",
		Target: "color",
		Dtypes: map[string]encoding.Dtype{
			"x":     encoding.Float,
			"y":     encoding.Float,
			"color": encoding.Binary,
		},
		Features: []string{"x", "y"},
		Mixers:   mixers,
	}
	p, err := predictor.New(def, nil)
	require.NoError(t, err)

	frame := dataset.NewFrame([]string{"x", "y", "color"})
	for i := 0; i < 20; i++ {
		jitter := float64(i%5) * 0.1
		frame.Append([]string{fmt.Sprintf("%.2f", -2+jitter), fmt.Sprintf("%.2f", -2-jitter), "red"})
		frame.Append([]string{fmt.Sprintf("%.2f", 2-jitter), fmt.Sprintf("%.2f", 2+jitter), "blue"})
	}
	require.NoError(t, p.Learn(context.Background(), frame))
	return p
}

func testServer(t *testing.T, mixers ...string) *httptest.Server {
	t.Helper()
	ms := NewModelServer(trainedPredictor(t, mixers...), 0)
	ts := httptest.NewServer(ms.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestHandlePredict(t *testing.T) {
	ts := testServer(t, "centroid")

	resp := postJSON(t, ts.URL+"/predict", PredictionRequest{
		Rows: []map[string]string{
			{"x": "-2.0", "y": "-2.1"},
			{"x": "2.1", "y": "1.9"},
		},
		RequestID: "req-1",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out PredictionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Predictions, 2)
	assert.Equal(t, "red", out.Predictions[0].Prediction)
	assert.Equal(t, "blue", out.Predictions[1].Prediction)
	assert.Equal(t, "req-1", out.RequestID)
	for _, row := range out.Predictions {
		assert.Greater(t, row.Confidence, 0.0)
		assert.LessOrEqual(t, row.Confidence, 1.0)
	}
}

func TestHandlePredict_TruthColumn(t *testing.T) {
	ts := testServer(t, "centroid")

	resp := postJSON(t, ts.URL+"/predict", PredictionRequest{
		Rows: []map[string]string{
			{"x": "-2.0", "y": "-2.0", "color": "red"},
		},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out PredictionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Predictions, 1)
	assert.Equal(t, "red", out.Predictions[0].Truth)
}

func TestHandlePredict_Proba(t *testing.T) {
	ts := testServer(t, "centroid")

	resp := postJSON(t, ts.URL+"/predict", PredictionRequest{
		Rows:         []map[string]string{{"x": "2.0", "y": "2.0"}},
		PredictProba: true,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out PredictionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Predictions, 1)
	assert.Len(t, out.Predictions[0].Proba, 2)
}

func TestHandlePredict_BadRequests(t *testing.T) {
	ts := testServer(t, "centroid")

	resp := postJSON(t, ts.URL+"/predict", PredictionRequest{})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r, err := http.Post(ts.URL+"/predict", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)

	get, err := http.Get(ts.URL + "/predict")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestHandleAdjust(t *testing.T) {
	ts := testServer(t, "centroid")

	resp := postJSON(t, ts.URL+"/adjust", AdjustRequest{
		Rows: []map[string]string{
			{"x": "-1.8", "y": "-2.2", "color": "red"},
			{"x": "1.7", "y": "2.3", "color": "blue"},
		},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out AdjustResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 2, out.Accepted)
	assert.Empty(t, out.Error)
}

func TestHandleAdjust_UnsupportedMixer(t *testing.T) {
	ts := testServer(t, "knn")

	resp := postJSON(t, ts.URL+"/adjust", AdjustRequest{
		Rows: []map[string]string{{"x": "-1.8", "y": "-2.2", "color": "red"}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	var out AdjustResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out.Error, "partial fit not supported")
}

func TestHandleAdjust_MissingLabel(t *testing.T) {
	ts := testServer(t, "centroid")

	resp := postJSON(t, ts.URL+"/adjust", AdjustRequest{
		Rows: []map[string]string{{"x": "-1.8", "y": "-2.2"}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	ts := testServer(t, "centroid")

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, true, out["healthy"])
}

func TestHandleModelInfo(t *testing.T) {
	ts := testServer(t, "centroid", "knn")

	resp, err := http.Get(ts.URL + "/model/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "color-model", info["name"])
	assert.Equal(t, "color", info["target"])
	assert.Equal(t, []any{"centroid", "knn"}, info["mixers"])
	assert.Equal(t, float64(40), info["training_rows"])

	adjustable, ok := info["adjustable"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, adjustable["centroid"])
	assert.Equal(t, false, adjustable["knn"])
}
