// Package oracle talks to the external waste-classification service. The
// oracle is treated as untrusted and slow: calls carry a bounded timeout and
// callers in the background path substitute FailureResult on any error.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const DefaultTimeout = 30 * time.Second

const predictPath = "/predict_with_urls"

// Result is a classification verdict for one image.
type Result struct {
	PredictedClass     string
	Confidence         float64
	RecommendedDustbin string
	Points             int
}

// FailureResult is the sentinel substituted when the oracle is unreachable or
// answers with a non-success status, so no task stays at the placeholder.
func FailureResult() Result {
	return Result{PredictedClass: "ERROR", Points: 0}
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New builds a client for the configured endpoint. A zero timeout falls back
// to DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	ImageURL string `json:"image_url"`
}

// predictResponse mirrors the classifier's wire format. Confidence arrives
// either as a number or as a formatted string like "87.31%".
type predictResponse struct {
	PredictedClass     string          `json:"predicted_class"`
	Confidence         json.RawMessage `json:"confidence"`
	RecommendedDustbin string          `json:"recommended_dustbin"`
	Points             int             `json:"points"`
}

// Classify scores the image behind imageURL. Any non-200 response or
// transport failure is an error; the caller decides whether to substitute the
// sentinel.
func (c *Client) Classify(ctx context.Context, imageURL string) (Result, error) {
	if c.BaseURL == "" {
		return Result{}, fmt.Errorf("classifier endpoint not configured")
	}
	body, err := json.Marshal(predictRequest{ImageURL: imageURL})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+predictPath, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("classifier unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read classifier response: %w", err)
	}
	var pr predictResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return Result{}, fmt.Errorf("decode classifier response: %w", err)
	}
	if pr.PredictedClass == "" {
		return Result{}, fmt.Errorf("classifier response missing predicted_class")
	}
	return Result{
		PredictedClass:     pr.PredictedClass,
		Confidence:         parseConfidence(pr.Confidence),
		RecommendedDustbin: pr.RecommendedDustbin,
		Points:             pr.Points,
	}, nil
}

func parseConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v / 100
}
