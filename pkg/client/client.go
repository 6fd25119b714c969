package client

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

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/usecase/workflow"
)

const maxErrorBody = 64 << 10

// Client talks to a ragflow server.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	apiKey  string
	poll    workflow.RetryPolicy
	logger  *zap.Logger
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, ErrInvalidInput)
	}

	cfg := defaultConfig()
	for _, o := range opts {
		o.apply(&cfg)
	}
	poll := workflow.RetryPolicy{
		MaxAttempts:    1,
		InitialBackoff: cfg.pollInitial,
		MaxBackoff:     cfg.pollMax,
		Multiplier:     cfg.pollMultiplier,
	}
	if err := poll.Validate(); err != nil {
		return nil, fmt.Errorf("poll backoff: %w", err)
	}

	return &Client{
		baseURL: u,
		http:    cfg.httpClient,
		apiKey:  cfg.apiKey,
		poll:    poll,
		logger:  cfg.logger,
	}, nil
}

// Ingest triggers ingestion of the PDF at pdfPath (a path the server can
// read). An empty sourceID lets the server derive one from the file name.
func (c *Client) Ingest(ctx context.Context, pdfPath, sourceID string) (string, error) {
	body := map[string]string{"pdf_path": pdfPath}
	if sourceID != "" {
		body["source_id"] = sourceID
	}
	var resp triggerResponse
	if err := c.do(ctx, http.MethodPost, "/v1/events/ingest", body, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// Query triggers a question. topK <= 0 uses the server default.
func (c *Client) Query(ctx context.Context, question string, topK int) (string, error) {
	body := map[string]any{"question": question}
	if topK > 0 {
		body["top_k"] = topK
	}
	var resp triggerResponse
	if err := c.do(ctx, http.MethodPost, "/v1/events/query", body, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// Status fetches the current state of a run.
func (c *Client) Status(ctx context.Context, runID string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID), nil, http.StatusOK, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Cancel asks the server to stop a run at its next step boundary.
func (c *Client) Cancel(ctx context.Context, runID string) (*CancelResult, error) {
	var res CancelResult
	path := "/v1/runs/" + url.PathEscape(runID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, nil, http.StatusAccepted, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health reports server health. A 503 still carries a report and is not an error.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, &hs)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && hs.Status != "" {
		return hs, nil
	}
	return hs, err
}

// Wait polls the run until it is terminal. When timeout elapses first it
// returns the last observed run and an error wrapping ErrTimedOut; the run
// itself may still complete later. Transient server errors keep polling.
func (c *Client) Wait(ctx context.Context, runID string, timeout time.Duration) (*Run, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last *Run
	for attempt := 1; ; attempt++ {
		run, err := c.Status(waitCtx, runID)
		switch {
		case err == nil:
			last = run
			if run.Terminal() {
				return run, nil
			}
		case ctx.Err() != nil:
			return last, ctx.Err()
		case waitCtx.Err() != nil:
			return last, timedOut(runID, timeout, last)
		case !transient(err):
			return last, err
		}

		delay := c.poll.Backoff(attempt)
		c.logger.Debug("Run not terminal yet",
			zap.String("run_id", runID),
			zap.Int("attempt", attempt),
			zap.Duration("next_poll", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, timedOut(runID, timeout, last)
		case <-timer.C:
		}
	}
}

func timedOut(runID string, timeout time.Duration, last *Run) error {
	status := "unknown"
	if last != nil {
		status = last.Status
	}
	return fmt.Errorf("run %s still %s after %s: %w", runID, status, timeout, ErrTimedOut)
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if out != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(raw, out)
		}
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(status int, raw []byte) error {
	apiErr := &APIError{StatusCode: status, Code: "unknown", Message: http.StatusText(status)}
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Code != "" {
		apiErr.Code = er.Code
		apiErr.Message = er.Message
	}
	return apiErr
}
