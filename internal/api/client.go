package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/blocklog/internal/core"
	"github.com/kilupskalvis/blocklog/internal/inspect"
)

// Error is an error response from the server.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("server error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps error codes back to the package errors they were built from.
func (e *Error) Unwrap() error {
	switch e.Code {
	case "bad_request":
		return core.ErrInvalidFilter
	case "region_busy":
		return core.ErrRegionBusy
	case "chunk_load_failed":
		return core.ErrChunkLoad
	case "corrupted_row":
		return inspect.ErrCorruptedRow
	}
	return nil
}

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.25,
	}
}

// Client calls a running blocklog server.
type Client struct {
	baseURL    string
	token      string
	retry      *RetryConfig
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL. A nil retry config
// uses DefaultRetryConfig.
func NewClient(baseURL, token string, retry *RetryConfig) *Client {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		retry:      retry,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var data []byte
	if reqBody != nil {
		var err error
		if data, err = json.Marshal(reqBody); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err := json.Unmarshal(data, &body); err != nil {
		return &Error{Status: resp.StatusCode, Code: "unknown", Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return &Error{Status: resp.StatusCode, Code: body.Error, Message: body.Message}
}

// isTransient returns true for errors that are worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := float64(c.retry.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(c.retry.MaxBackoff) {
		base = float64(c.retry.MaxBackoff)
	}
	jitter := base * c.retry.JitterFraction * (rand.Float64()*2 - 1)
	return max(time.Duration(base+jitter), 0)
}

// withRetry runs fn until it succeeds, fails permanently or retries run out.
func (c *Client) withRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		lastErr = fn()
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < c.retry.MaxRetries {
			t := time.NewTimer(c.backoff(attempt))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, c.retry.MaxRetries)
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.withRetry(ctx, "health", func() error {
		return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil)
	})
}

// Lookup fetches one page of entries. page is 1-based; limit 0 uses the
// server's page size.
func (c *Client) Lookup(ctx context.Context, f FilterRequest, page, limit int) (*inspect.Report, error) {
	v := f.values()
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}

	var report inspect.Report
	err := c.withRetry(ctx, "lookup", func() error {
		return c.doJSON(ctx, http.MethodGet, "/api/lookup?"+v.Encode(), nil, &report)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Rollback asks the server to undo the matched entries. Replays skip rows
// already in the target state, so a retried request does not apply twice.
func (c *Client) Rollback(ctx context.Context, f FilterRequest) (*RunResponse, error) {
	return c.replay(ctx, "/api/rollback", f)
}

// Restore asks the server to re-apply rolled back entries.
func (c *Client) Restore(ctx context.Context, f FilterRequest) (*RunResponse, error) {
	return c.replay(ctx, "/api/restore", f)
}

func (c *Client) replay(ctx context.Context, path string, f FilterRequest) (*RunResponse, error) {
	var resp RunResponse
	err := c.withRetry(ctx, strings.TrimPrefix(path, "/api/"), func() error {
		return c.doJSON(ctx, http.MethodPost, path, f, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// values encodes the filter as lookup query parameters.
func (f FilterRequest) values() url.Values {
	v := url.Values{}
	if f.World != "" {
		v.Set("world", f.World)
	}
	v.Set("since", f.Since)
	if f.Center != nil {
		v.Set("x", strconv.Itoa(f.Center.X))
		v.Set("y", strconv.Itoa(f.Center.Y))
		v.Set("z", strconv.Itoa(f.Center.Z))
		v.Set("radius", strconv.Itoa(f.Radius))
	}
	if f.Min != nil {
		v.Set("min", f.Min.String())
	}
	if f.Max != nil {
		v.Set("max", f.Max.String())
	}
	for key, list := range map[string][]string{
		"actor":   f.Actors,
		"action":  f.Actions,
		"include": f.Include,
		"exclude": f.Exclude,
	} {
		for _, s := range list {
			v.Add(key, s)
		}
	}
	return v
}
