package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClassifier calls an external classification service over HTTP. The
// request and response bodies follow the Classification contract.
type HTTPClassifier struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClassifier creates a classifier client for the given base URL.
func NewHTTPClassifier(baseURL string) *HTTPClassifier {
	return &HTTPClassifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type classifyRequest struct {
	Field   string `json:"field"`
	Content string `json:"content"`
}

// Classify posts the content for scoring.
func (c *HTTPClassifier) Classify(ctx context.Context, field, content string) (Classification, error) {
	body, err := json.Marshal(classifyRequest{Field: field, Content: content})
	if err != nil {
		return Classification{}, fmt.Errorf("safety: marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return Classification{}, fmt.Errorf("safety: build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Classification{}, fmt.Errorf("safety: classify call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Classification{}, fmt.Errorf("safety: classifier returned %d", resp.StatusCode)
	}

	var cls Classification
	if err := json.NewDecoder(resp.Body).Decode(&cls); err != nil {
		return Classification{}, fmt.Errorf("safety: decode classification: %w", err)
	}
	return cls, nil
}

// Compile-time interface check.
var _ Classifier = (*HTTPClassifier)(nil)
