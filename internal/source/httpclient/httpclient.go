// Package httpclient talks to payment-gateway REST APIs: Bearer-authenticated
// GETs that decode numbers as json.Number, retry 429 and 5xx responses and
// walk the paged list envelope used by the Paystack and Stripe list endpoints.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is an HTTP client with Bearer auth, base URL, and retry logic.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	backoff    time.Duration
}

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
	retryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithBackoff sets the base delay of the exponential retry backoff.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.backoff = d
	}
}

// New creates a Client with Bearer auth and a base URL.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const maxRetries = 3

// GetJSON decodes a GET response into dest with numbers as json.Number, so
// minor-unit amounts keep their digits. A 429 waits for Retry-After and a 5xx
// backs off exponentially, up to maxRetries times; any other non-2xx status
// comes back as *APIError.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, dest any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr *APIError
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(c.backoffDelay(attempt, lastErr))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.UseNumber()
			return dec.Decode(dest)
		}

		bodyStr := string(body)
		if len(bodyStr) > 512 {
			bodyStr = bodyStr[:512]
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Body: bodyStr}

		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.retryAfter = resp.Header.Get("Retry-After")
			lastErr = apiErr
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = apiErr
			continue
		}

		return apiErr
	}

	return lastErr
}

// backoffDelay returns the wait duration before a retry attempt.
func (c *Client) backoffDelay(attempt int, lastErr *APIError) time.Duration {
	if lastErr != nil && lastErr.StatusCode == http.StatusTooManyRequests && lastErr.retryAfter != "" {
		if secs, err := strconv.Atoi(lastErr.retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.backoff * time.Duration(1<<(attempt-1))
}

// ListPage is a gateway list envelope. Stripe signals more results with
// has_more; Paystack reports its position in meta.
type ListPage struct {
	Data    []map[string]interface{} `json:"data"`
	HasMore bool                     `json:"has_more"`
	Meta    *PageMeta                `json:"meta"`
}

// PageMeta is Paystack's paging block.
type PageMeta struct {
	Page      int `json:"page"`
	PageCount int `json:"pageCount"`
}

// NextPageFunc prepares query for the request after page and reports whether
// there is one.
type NextPageFunc func(page *ListPage, query url.Values) bool

// ListAll collects the data items of a list endpoint, following next for at
// most maxPages requests. A nil next fetches a single page.
func (c *Client) ListAll(ctx context.Context, path string, query url.Values, next NextPageFunc, maxPages int) ([]map[string]interface{}, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}

	var items []map[string]interface{}
	for n := 0; maxPages <= 0 || n < maxPages; n++ {
		var page ListPage
		if err := c.GetJSON(ctx, path, q, &page); err != nil {
			return nil, fmt.Errorf("page %d: %w", n+1, err)
		}
		items = append(items, page.Data...)
		if next == nil || len(page.Data) == 0 || !next(&page, q) {
			break
		}
	}
	return items, nil
}
