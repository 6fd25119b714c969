// Package qdrant is a minimal REST client for the Qdrant vector database,
// covering collection bootstrap, point upsert and similarity search.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kailas-cloud/ragflow/internal/domain/point"
)

// Op names used in *Error for diagnostics.
const (
	OpGetCollection    = "GET collection"
	OpCreateCollection = "PUT collection"
	OpUpsertPoints     = "PUT points"
	OpSearchPoints     = "POST points/search"
	OpHealth           = "GET healthz"
)

// ErrUpsertNotCompleted is returned when Qdrant acknowledged an upsert
// without applying it.
var ErrUpsertNotCompleted = errors.New("qdrant: upsert not completed")

// Error carries the failed operation and the HTTP status, when one was received.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("qdrant %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("qdrant %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config holds connection parameters.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client talks to Qdrant over its REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Qdrant client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// CollectionInfo reports whether the collection exists and its vector size.
func (c *Client) CollectionInfo(ctx context.Context, name string) (bool, int, error) {
	var info collectionInfo
	status, err := c.doJSON(ctx, http.MethodGet, c.collectionPath(name), nil, &info)
	if status == http.StatusNotFound {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, &Error{Op: OpGetCollection, Status: status, Err: err}
	}
	return true, info.Result.Config.Params.Vectors.Size, nil
}

// CreateCollection creates a single-vector collection with cosine distance.
func (c *Client) CreateCollection(ctx context.Context, name string, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if status, err := c.doJSON(ctx, http.MethodPut, c.collectionPath(name), body, nil); err != nil {
		return &Error{Op: OpCreateCollection, Status: status, Err: err}
	}
	return nil
}

type pointJSON struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload *point.Payload `json:"payload,omitempty"`
}

type upsertResponse struct {
	Result struct {
		Status string `json:"status"`
	} `json:"result"`
}

// UpsertPoints writes all points in one request and waits for it to be applied.
func (c *Client) UpsertPoints(ctx context.Context, name string, points []point.Point) error {
	if len(points) == 0 {
		return nil
	}
	body := struct {
		Points []pointJSON `json:"points"`
	}{Points: make([]pointJSON, len(points))}
	for i := range points {
		p := points[i]
		body.Points[i] = pointJSON{ID: p.ID, Vector: p.Vector, Payload: &p.Payload}
	}

	var resp upsertResponse
	status, err := c.doJSON(ctx, http.MethodPut, c.collectionPath(name)+"/points?wait=true", body, &resp)
	if err != nil {
		return &Error{Op: OpUpsertPoints, Status: status, Err: err}
	}
	if resp.Result.Status != "completed" {
		return &Error{Op: OpUpsertPoints, Status: status,
			Err: fmt.Errorf("%w: status %q", ErrUpsertNotCompleted, resp.Result.Status)}
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		ID      any           `json:"id"`
		Score   float64       `json:"score"`
		Payload point.Payload `json:"payload"`
	} `json:"result"`
}

// QueryPoints returns the limit nearest points with payloads, best first.
func (c *Client) QueryPoints(
	ctx context.Context, name string, vector []float32, limit int,
) ([]point.Scored, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var resp searchResponse
	status, err := c.doJSON(ctx, http.MethodPost, c.collectionPath(name)+"/points/search", body, &resp)
	if err != nil {
		return nil, &Error{Op: OpSearchPoints, Status: status, Err: err}
	}

	out := make([]point.Scored, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, point.Scored{ID: fmt.Sprint(r.ID), Score: r.Score, Payload: r.Payload})
	}
	return out, nil
}

// Ping calls the liveness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if status, err := c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil); err != nil {
		return &Error{Op: OpHealth, Status: status, Err: err}
	}
	return nil
}

func (c *Client) collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

type apiErrorBody struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

// doJSON sends body as JSON and decodes a 2xx response into out.
// The returned status is 0 when no response was received.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr apiErrorBody
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Status.Error != "" {
			return resp.StatusCode, errors.New(apiErr.Status.Error)
		}
		return resp.StatusCode, errors.New(http.StatusText(resp.StatusCode))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
