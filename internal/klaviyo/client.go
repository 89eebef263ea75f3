package klaviyo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultBaseURL  = "https://a.klaviyo.com/api"
	DefaultRevision = "2024-02-15"
	DefaultTimeout  = 30 * time.Second

	// Klaviyo's steady-state limit for the metric-aggregates endpoint.
	DefaultRequestsPerSecond = 3
	DefaultBurst             = 3

	maxErrorBody = 4096
)

// Client talks to the Klaviyo REST API. Requests are paced by a token bucket;
// failures are never retried.
type Client struct {
	baseURL  string
	apiKey   string
	revision string
	client   *http.Client
	limiter  *rate.Limiter
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithRevision pins the API revision header.
func WithRevision(revision string) ClientOption {
	return func(c *Client) {
		if revision != "" {
			c.revision = revision
		}
	}
}

// WithRateLimit sets outbound request pacing. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a Klaviyo API client rooted at baseURL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		revision: DefaultRevision,
		client:   &http.Client{Timeout: DefaultTimeout},
		limiter:  rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// get fetches an absolute URL and returns the raw body.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, reqURL, nil)
}

// post sends payload as JSON to an absolute URL and returns the raw body.
func (c *Client) post(ctx context.Context, reqURL string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, reqURL, body)
}

func (c *Client) do(ctx context.Context, method, reqURL string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")
	req.Header.Set("revision", c.revision)
	req.Header.Set("Authorization", "Klaviyo-API-Key "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			Method:     method,
			URL:        reqURL,
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, reqURL, err)
	}

	slog.Debug("[Klaviyo] Request complete",
		"method", method,
		"url", reqURL,
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start),
	)
	return data, nil
}
