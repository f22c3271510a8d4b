package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/feedsync/internal/backoff"
)

const (
	retryCapMultiplier = 8
	retryJitter        = 0.5
)

// APIError represents an error from the exchange REST API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// errorBody is the exchange's error payload.
type errorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// doRequest performs an HTTP request with the given method and path.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-MEXC-APIKEY", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := http.StatusText(resp.StatusCode)
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Msg != "" {
			msg = eb.Msg
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			Body:       body,
		}
	}

	if c.latency != nil {
		c.latency.RecordLatency("rest", time.Since(start).Milliseconds())
	}

	return body, nil
}

// doWithRetry performs a request, retrying 5xx and 429 responses on an
// exponential policy for at most tries attempts.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, tries int) ([]byte, error) {
	policy := backoff.New(c.retryBackoff, backoff.DefaultMultiplier, retryCapMultiplier, retryJitter)

	body, err := backoff.Retry(ctx, policy, tries, func() ([]byte, error) {
		body, err := c.doRequest(ctx, method, path, query)
		if err == nil {
			return body, nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}, func(err error, next time.Duration) {
		c.logger.Debug("retrying request", "path", path, "backoff", next, "error", err)
	})
	if err == nil {
		return body, nil
	}

	var apiErr *APIError
	if tries > 1 && errors.As(err, &apiErr) && apiErr.IsRetryable() {
		return nil, fmt.Errorf("max retries exceeded: %w", err)
	}
	return nil, err
}

// get performs a GET request with the client's retry budget.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	return c.getTries(ctx, path, query, c.maxRetries+1, result)
}

// getOnce performs a single GET attempt; the caller owns any retry.
func (c *Client) getOnce(ctx context.Context, path string, query url.Values, result any) error {
	return c.getTries(ctx, path, query, 1, result)
}

func (c *Client) getTries(ctx context.Context, path string, query url.Values, tries int, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query, tries)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
