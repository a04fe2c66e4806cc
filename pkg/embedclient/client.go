// Package embedclient talks to the external embedding model server. Calls
// make up to 3 attempts with a 5-second-times-attempt wait between them
// (5s, then 10s), the schedule the original embedding migration script uses.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	vectorSize  int
}

// NewClient creates an embedding client rate-limited to ratePerSecond
// requests, protecting the embedding server from being overwhelmed by a
// large migration or ingest batch.
func NewClient(baseURL string, ratePerSecond float64, vectorSize int) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		vectorSize: vectorSize,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	VectorSize int         `json:"vector_size"`
}

// EmbedBatch embeds a batch of texts, making up to 3 attempts on transient
// failures with a 5s * attempt wait between them (5s, then 10s).
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(5*(attempt)) * time.Second):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		embeddings, err := c.embedOnce(ctx, texts)
		if err == nil {
			return embeddings, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embed batch after 3 attempts: %w", lastErr)
}

func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding server returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

// CheckHealth verifies the server is reachable and warns the caller if its
// reported vector size does not match what the appliance expects.
func (c *Client) CheckHealth(ctx context.Context) (reportedVectorSize int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("embedding server unhealthy: status %d", resp.StatusCode)
	}

	var health struct {
		VectorSize int `json:"vector_size"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&health)
	return health.VectorSize, nil
}
