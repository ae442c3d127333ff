package mlmodel

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-civicreport/imagecodec"
	"go-civicreport/types"
)

func newSidecar(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		var req LoadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if strings.Contains(req.Path, "absent") {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "no checkpoint at " + req.Path})
			return
		}
		if strings.Contains(req.Path, "broken") {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "checkpoint is corrupt"})
			return
		}
		id := "m-" + req.Label
		if !req.Fuse {
			id += "-unfused"
		}
		json.NewEncoder(w).Encode(map[string]string{"model_id": id})
	})
	mux.HandleFunc("/models/m-Pothole/predict", func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Image)
		assert.Equal(t, 640, req.ImageSize)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"detections": []map[string]interface{}{
				{"x_min": 10.4, "y_min": 20.6, "x_max": 100.5, "y_max": 200.2, "confidence": 0.912345, "class_name": "pothole"},
				{"x_min": 1, "y_min": 1, "x_max": 2, "y_max": 2, "confidence": 0.1, "class_name": "pothole"},
			},
		})
	})
	mux.HandleFunc("/models/m-Garbage/predict", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "'Conv' object has no attribute 'bn'"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testFrame() *imagecodec.Frame {
	return imagecodec.NewFrame(image.NewRGBA(image.Rect(0, 0, 32, 32)))
}

func TestLoadAndPredict(t *testing.T) {
	srv := newSidecar(t)
	c := NewClient(srv.URL, 5*time.Second)
	ctx := context.Background()

	require.NoError(t, c.CheckHealth(ctx))

	p, err := c.Load(ctx, LoadRequest{Label: "Pothole", Path: "model/best.pt", Fuse: true})
	require.NoError(t, err)

	dets, err := p.Predict(ctx, testFrame(), PredictOptions{Confidence: 0.25, IoU: 0.5, ImageSize: 640})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, types.Detection{XMin: 10, YMin: 21, XMax: 101, YMax: 200, Confidence: 0.9123, ClassName: "pothole"}, dets[0])
}

func TestSidecarErrorMessageIsPreserved(t *testing.T) {
	srv := newSidecar(t)
	c := NewClient(srv.URL, 5*time.Second)
	ctx := context.Background()

	_, err := c.Load(ctx, LoadRequest{Label: "Pothole", Path: "model/broken.pt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint is corrupt")

	p, err := c.Load(ctx, LoadRequest{Label: "Garbage", Path: "model/garbage.pt", Fuse: true})
	require.NoError(t, err)
	_, err = p.Predict(ctx, testFrame(), PredictOptions{Confidence: 0.25, ImageSize: 640})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'Conv' object has no attribute 'bn'")
}

func TestLoadMissingCheckpoint(t *testing.T) {
	c := NewClient(newSidecar(t).URL, 5*time.Second)

	_, err := c.Load(context.Background(), LoadRequest{Label: "Pothole", Path: "model/absent.pt"})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "no checkpoint at model/absent.pt")

	_, err = c.Load(context.Background(), LoadRequest{Label: "Pothole", Path: "model/broken.pt"})
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestPostProcess(t *testing.T) {
	out := PostProcess([]types.Detection{
		{XMin: 9.5, XMax: 3.2, Confidence: 0.25, ClassName: "garbage"},
		{Confidence: 0.2499, ClassName: "garbage"},
	}, 0.25)
	require.Len(t, out, 1)
	assert.Equal(t, 3.0, out[0].XMin)
	assert.Equal(t, 10.0, out[0].XMax)
}
