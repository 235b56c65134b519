// Package mlserver implements domain.RiskModel against a remote model server.
//
// The server exposes GET /model/info, describing the convention, ordered
// features and label table of the deployed model, and POST /predict, which
// takes {"features": [...]} and answers {"output": n}. A 422 from /predict
// means the server rejected the feature vector shape.
package mlserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
)

// Client calls a remote risk model. The model description is fetched once
// at construction.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	spec       domain.ModelSpec
}

type infoResponse struct {
	Version    string                   `json:"version"`
	Convention domain.Convention        `json:"convention"`
	Features   []string                 `json:"features"`
	Labels     map[int]domain.RiskLabel `json:"labels,omitempty"`
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Output *int `json:"output"`
}

// New connects to the model server at baseURL and loads its model description.
// The description must follow a known convention.
func New(ctx context.Context, baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}

	var info infoResponse
	if err := c.getJSON(ctx, "/model/info", &info); err != nil {
		return nil, fmt.Errorf("load model info from %s: %w", c.baseURL, err)
	}
	c.spec = domain.ModelSpec{
		Version:    info.Version,
		Convention: info.Convention,
		Features:   info.Features,
		Labels:     info.Labels,
	}
	if err := c.spec.CheckFeatures(); err != nil {
		return nil, fmt.Errorf("model server %s: %w", c.baseURL, err)
	}

	logger.Info("remote model loaded",
		"url", c.baseURL,
		"version", info.Version,
		"convention", info.Convention,
		"features", info.Features,
	)
	return c, nil
}

// Spec returns the model description fetched at construction.
func (c *Client) Spec() domain.ModelSpec { return c.spec }

// Predict sends features to the server. It does not retry.
func (c *Client) Predict(ctx context.Context, features []float64) (int, error) {
	if len(features) != c.spec.Arity() {
		return 0, fmt.Errorf("%w: got %d features, model expects %d",
			domain.ErrModelShapeMismatch, len(features), c.spec.Arity())
	}

	body, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return 0, fmt.Errorf("%w: marshal request: %w", domain.ErrPrediction, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: create request: %w", domain.ErrPrediction, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: predict request: %w", domain.ErrPrediction, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("%w: model server rejected features: %s", domain.ErrModelShapeMismatch, msg)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("%w: model server error (status %d): %s", domain.ErrPrediction, resp.StatusCode, msg)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: decode response: %w", domain.ErrPrediction, err)
	}
	if out.Output == nil {
		return 0, fmt.Errorf("%w: response has no output", domain.ErrPrediction)
	}
	return *out.Output, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
