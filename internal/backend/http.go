package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rzbill/oplog/internal/operation"
)

// HTTPError is a non-2xx response from the backend.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string

	retryAfter string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend: http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("backend: http %d", e.StatusCode)
}

// Retryable reports whether the status is worth retrying.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPOptions configures HTTPClient.
type HTTPOptions struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	HTTPClient *http.Client
}

// HTTPClient posts operation batches to
// {base}/v1/sessions/{id}/operations as JSON.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

type executeRequest struct {
	Operations []operation.Operation `json:"operations"`
}

// NewHTTPClient builds a client. BaseURL is required.
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("backend: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("backend: invalid base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	c := &HTTPClient{
		baseURL:    base,
		token:      strings.TrimSpace(opts.Token),
		httpClient: hc,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.baseDelay <= 0 {
		c.baseDelay = 100 * time.Millisecond
	}
	if c.maxDelay <= 0 {
		c.maxDelay = 2 * time.Second
	}
	return c, nil
}

// ExecuteOperations implements Backend.
func (c *HTTPClient) ExecuteOperations(ctx context.Context, sessionID string, ops []operation.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	body, err := json.Marshal(executeRequest{Operations: ops})
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/v1/sessions/%s/operations", url.PathEscape(sessionID))

	for attempt := 0; ; attempt++ {
		err := c.post(ctx, path, body)
		if err == nil {
			return nil
		}
		if attempt >= c.maxRetries || !retryable(err) {
			return err
		}
		if werr := waitWithContext(ctx, c.retryDelay(attempt+1, err)); werr != nil {
			return werr
		}
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	if readErr != nil {
		return readErr
	}
	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Code:       errPayload.Code,
		Message:    errPayload.Message,
		retryAfter: resp.Header.Get("Retry-After"),
	}
}

func retryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	// Transport errors are retried; context errors are not.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *HTTPClient) retryDelay(attempt int, err error) time.Duration {
	var he *HTTPError
	if errors.As(err, &he) && he.retryAfter != "" {
		if secs, perr := strconv.Atoi(he.retryAfter); perr == nil && secs >= 0 {
			return min(time.Duration(secs)*time.Second, c.maxDelay)
		}
	}
	d := c.baseDelay << (attempt - 1)
	if d <= 0 || d > c.maxDelay {
		d = c.maxDelay
	}
	return d
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
