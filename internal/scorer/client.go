package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/credishield/backend/pkg/logger"
)

// HTTPClient talks to the model-serving endpoint. The model's internals
// (preprocessing, probability model, attribution ranking) live entirely on
// the other side of this client.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Score posts the feature vector to the model server and returns its
// result. A transport failure, a non-200 status, or a probability outside
// [0,1] all surface as ErrScoring; the last of these is a contract
// violation by the model server, never passed through to storage.
func (c *HTTPClient) Score(ctx context.Context, input json.RawMessage) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/score", bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrScoring, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScoring, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Warn("Scorer returned non-OK status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return nil, fmt.Errorf("%w: scorer returned status %d", ErrScoring, resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrScoring, err)
	}

	if err := Validate(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// RegistryInfo fetches metadata about the model artifact currently served.
func (c *HTTPClient) RegistryInfo(ctx context.Context) (*RegistryInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/registry", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrScoring, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScoring, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: registry returned status %d", ErrScoring, resp.StatusCode)
	}

	var info RegistryInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode registry response: %v", ErrScoring, err)
	}

	return &info, nil
}
