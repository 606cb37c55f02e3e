package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/models"
)

// Predictor is the crop-model service surface the pipeline depends on.
type Predictor interface {
	PredictCrop(ctx context.Context, features models.FeatureVector) (string, error)
	PredictFertilizer(ctx context.Context, features models.FeatureVector, soilType, cropType string) (string, error)
}

// Client calls the external ML inference service over HTTP. Requests
// are fire-once: the pipeline treats a failed prediction as a skipped
// enrichment, so no retry logic lives here.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  zerolog.Logger
}

var _ Predictor = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "predict").Logger(),
	}
}

type cropResponse struct {
	OK    bool   `json:"ok"`
	Crop  string `json:"crop"`
	Error string `json:"error"`
}

type fertilizerResponse struct {
	OK         bool   `json:"ok"`
	Fertilizer string `json:"fertilizer"`
	Error      string `json:"error"`
}

// PredictCrop submits the cycle's feature vector and returns the
// recommended crop.
func (c *Client) PredictCrop(ctx context.Context, features models.FeatureVector) (string, error) {
	var resp cropResponse
	if err := c.post(ctx, "/api/crop/predict", features, &resp); err != nil {
		return "", err
	}
	if !resp.OK {
		return "", fmt.Errorf("crop prediction rejected: %s", resp.Error)
	}
	if resp.Crop == "" {
		return "", fmt.Errorf("crop prediction returned empty crop")
	}
	return resp.Crop, nil
}

// PredictFertilizer submits the feature vector plus soil and crop type
// and returns the recommended fertilizer.
func (c *Client) PredictFertilizer(ctx context.Context, features models.FeatureVector, soilType, cropType string) (string, error) {
	payload := struct {
		models.FeatureVector
		SoilType string `json:"soil_type"`
		CropType string `json:"crop_type"`
	}{FeatureVector: features, SoilType: soilType, CropType: cropType}

	var resp fertilizerResponse
	if err := c.post(ctx, "/api/fertilizer/predict", payload, &resp); err != nil {
		return "", err
	}
	if !resp.OK {
		return "", fmt.Errorf("fertilizer prediction rejected: %s", resp.Error)
	}
	if resp.Fertilizer == "" {
		return "", fmt.Errorf("fertilizer prediction returned empty result")
	}
	return resp.Fertilizer, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Prediction request completed")

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("prediction service returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode prediction response: %w", err)
	}
	return nil
}
