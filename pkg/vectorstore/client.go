// Package vectorstore is a thin, circuit-broken HTTP client for the
// external vector database (Qdrant-compatible REST API). Every call is
// wrapped in a breaker and bounded retry so a persistently-down vector
// store stops being retried every cycle instead of blocking the ingest or
// migration pipelines.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
)

// Point is a single vector with its payload, matching the bit-exact
// payload contract the spec fixes for every child chunk.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "vectorstore",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
		}),
	}
}

func (c *Client) CreateCollection(ctx context.Context, name string, vectorSize int) error {
	body := map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": "Cosine", "on_disk": true},
		"hnsw_config": map[string]any{"m": 16, "ef_construct": 100},
		"quantization_config": map[string]any{
			"binary": map[string]any{"always_ram": true},
		},
	}
	return c.do(ctx, http.MethodPut, "/collections/"+name, body, nil)
}

func (c *Client) CreatePayloadIndex(ctx context.Context, collection, field string) error {
	body := map[string]any{"field_name": field, "field_schema": "keyword"}
	return c.do(ctx, http.MethodPut, "/collections/"+collection+"/index", body, nil)
}

func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	body := map[string]any{"points": points}
	return c.do(ctx, http.MethodPut, "/collections/"+collection+"/points", body, nil)
}

func (c *Client) DeleteByDocument(ctx context.Context, collection, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{{"key": "document_id", "match": map[string]any{"value": documentID}}},
		},
	}
	return c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete", body, nil)
}

// ScoredPoint is a single vector-search hit.
type ScoredPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type searchResponse struct {
	Result []ScoredPoint `json:"result"`
}

// Search returns the topK points nearest to vector, excluding any point
// whose document_id payload field equals excludeDocumentID, used by the
// similarity pass to find near-duplicate documents without matching a
// document against its own chunks.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int, excludeDocumentID string) ([]ScoredPoint, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter": map[string]any{
			"must_not": []map[string]any{{"key": "document_id", "match": map[string]any{"value": excludeDocumentID}}},
		},
	}
	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

type CollectionInfo struct {
	Result struct {
		PointsCount int64 `json:"points_count"`
	} `json:"result"`
}

func (c *Client) CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	var info CollectionInfo
	if err := c.do(ctx, http.MethodGet, "/collections/"+collection, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) DeleteCollection(ctx context.Context, collection string) error {
	return c.do(ctx, http.MethodDelete, "/collections/"+collection, nil, nil)
}

func (c *Client) CreateAlias(ctx context.Context, alias, collection string) error {
	body := map[string]any{
		"actions": []map[string]any{
			{"create_alias": map[string]any{"alias_name": alias, "collection_name": collection}},
		},
	}
	return c.do(ctx, http.MethodPost, "/collections/aliases", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	op := func() (struct{}, error) {
		var reqBody *bytes.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			reqBody = bytes.NewReader(data)
		} else {
			reqBody = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, respErr := c.breaker.Execute(func() (any, error) {
			return c.httpClient.Do(req)
		})
		if respErr != nil {
			return struct{}{}, respErr
		}
		httpResp := resp.(*http.Response)
		defer httpResp.Body.Close()

		if httpResp.StatusCode >= 500 {
			return struct{}{}, fmt.Errorf("vector store server error: %d", httpResp.StatusCode)
		}
		if httpResp.StatusCode >= 400 {
			return struct{}{}, backoff.Permanent(fmt.Errorf("vector store request error: %d", httpResp.StatusCode))
		}

		if out != nil {
			if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op, backoff.WithMaxTries(3))
	return err
}
