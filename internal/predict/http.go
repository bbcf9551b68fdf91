package predict

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// HTTPClassifier calls a model server that hosts the per-cluster models.
type HTTPClassifier struct {
	URL    string
	Client *http.Client
}

// NewHTTPClassifier returns a classifier posting to url.
func NewHTTPClassifier(url string) *HTTPClassifier {
	return &HTTPClassifier{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

type httpRequest struct {
	Variant  int         `json:"variant"`
	Features [][]float32 `json:"features"`
}

type httpResponse struct {
	Probabilities []float32 `json:"probabilities"`
	Error         string    `json:"error,omitempty"`
}

// Predict implements Classifier.
func (h *HTTPClassifier) Predict(ctx context.Context, variant int, block Block) ([]float32, error) {
	req := httpRequest{Variant: variant, Features: make([][]float32, len(block))}
	for i := range block {
		row := block[i]
		req.Features[i] = row[:]
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out httpResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, out.Error)
	}
	return out.Probabilities, nil
}
