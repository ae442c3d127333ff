package mlmodel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"go-civicreport/imagecodec"
	"go-civicreport/types"
)

// ErrNotFound is returned when the inference server has no such checkpoint
// or model id.
var ErrNotFound = errors.New("not found by inference server")

// LoadRequest asks for a model to be loaded from its checkpoint.
// Fuse toggles the conv+batchnorm fusion optimization at load time.
type LoadRequest struct {
	Label string `json:"label"`
	Path  string `json:"path"`
	Fuse  bool   `json:"fuse"`
}

// PredictOptions are per model constants, never request supplied.
type PredictOptions struct {
	Confidence float64 `json:"conf"`
	IoU        float64 `json:"iou"`
	ImageSize  int     `json:"imgsz"`
}

// Predictor runs one loaded model. Implementations must be safe for
// concurrent use.
type Predictor interface {
	Predict(ctx context.Context, frame *imagecodec.Frame, opts PredictOptions) ([]types.Detection, error)
}

// Loader builds predictors from checkpoints.
type Loader interface {
	Load(ctx context.Context, req LoadRequest) (Predictor, error)
}

// Client talks to the inference sidecar that hosts the detection networks.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type loadResponse struct {
	ModelID string `json:"model_id"`
}

type predictRequest struct {
	Image string `json:"image"`
	PredictOptions
}

type predictResponse struct {
	Detections []types.Detection `json:"detections"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Load asks the sidecar to load a checkpoint and returns a handle bound to
// the model id it assigned.
func (c *Client) Load(ctx context.Context, req LoadRequest) (Predictor, error) {
	var out loadResponse
	if err := c.post(ctx, c.baseURL+"/models", req, &out); err != nil {
		return nil, errors.Wrapf(err, "load %s", req.Label)
	}
	if out.ModelID == "" {
		return nil, errors.Errorf("load %s: sidecar returned no model id", req.Label)
	}
	return &remoteModel{client: c, id: out.ModelID, label: req.Label}, nil
}

// CheckHealth reports whether the sidecar is reachable.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ml service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

// post sends one JSON request. Non 2xx answers become errors carrying the
// sidecar's own message so callers can classify them.
func (c *Client) post(ctx context.Context, endpoint string, in, out interface{}) error {
	payloadBytes, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := string(bytes.TrimSpace(body))
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return errors.Wrapf(ErrNotFound, "ML model returned status %s: %s", resp.Status, msg)
		}
		return errors.Errorf("ML model returned status %s: %s", resp.Status, msg)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

type remoteModel struct {
	client *Client
	id     string
	label  string
}

func (m *remoteModel) Predict(ctx context.Context, frame *imagecodec.Frame, opts PredictOptions) ([]types.Detection, error) {
	jpeg, err := frame.JPEG()
	if err != nil {
		return nil, err
	}

	in := predictRequest{
		Image:          base64.StdEncoding.EncodeToString(jpeg),
		PredictOptions: opts,
	}
	var out predictResponse
	endpoint := fmt.Sprintf("%s/models/%s/predict", m.client.baseURL, url.PathEscape(m.id))
	if err := m.client.post(ctx, endpoint, in, &out); err != nil {
		return nil, errors.Wrapf(err, "predict %s", m.label)
	}
	return PostProcess(out.Detections, opts.Confidence), nil
}

// PostProcess rounds boxes to whole pixels and confidences to 4 decimals and
// drops anything under the confidence threshold.
func PostProcess(raw []types.Detection, confidence float64) []types.Detection {
	dets := make([]types.Detection, 0, len(raw))
	for _, d := range raw {
		if d.Confidence < confidence {
			continue
		}
		d.XMin = math.Round(d.XMin)
		d.YMin = math.Round(d.YMin)
		d.XMax = math.Round(d.XMax)
		d.YMax = math.Round(d.YMax)
		d.Confidence = math.Round(d.Confidence*1e4) / 1e4
		dets = append(dets, d.Normalize())
	}
	return dets
}
