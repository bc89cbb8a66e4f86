package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// API defines the ingestion service operations the pipeline needs.
// Both endpoints are read-only: the service owns fetching and caching
// of raw provider data.
type API interface {
	FetchMessages(ctx context.Context, userID string, since time.Time, pageToken string) (*MessagePage, error)
	FetchCalendarEvents(ctx context.Context, userID string, since time.Time, pageToken string) (*CalendarPage, error)
}

// HTTPError is a non-2xx response from the ingestion service.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ingestion service returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the error is transient (429 or any 5xx).
// Other 4xx responses are treated as permanent.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Options configures the HTTP client.
type Options struct {
	// RateLimitQPS caps outgoing requests per second (default: 5).
	RateLimitQPS float64

	// BatchSize is the page size requested per call (default: 200).
	BatchSize int

	// MaxRetries is the number of retries for transient failures (default: 4).
	MaxRetries int

	// RequestTimeout bounds a single HTTP call (default: 30s).
	RequestTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		RateLimitQPS:   5,
		BatchSize:      200,
		MaxRetries:     4,
		RequestTimeout: 30 * time.Second,
	}
}

// retryBaseDelay is the first backoff step; each retry doubles it and
// adds up to 50% jitter.
const retryBaseDelay = 500 * time.Millisecond

// Client talks to the ingestion service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	opts       *Options
}

// NewClient creates an ingestion client for the given base URL.
func NewClient(baseURL, apiKey string, opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.RateLimitQPS <= 0 {
		opts.RateLimitQPS = 5
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimitQPS), int(opts.RateLimitQPS)+1),
		logger:     slog.Default(),
		opts:       opts,
	}
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// FetchMessages returns one page of cached message records for a user,
// optionally restricted to records newer than since.
func (c *Client) FetchMessages(ctx context.Context, userID string, since time.Time, pageToken string) (*MessagePage, error) {
	var page MessagePage
	if err := c.getJSON(ctx, c.recordsURL("messages", userID, since, pageToken), &page); err != nil {
		return nil, fmt.Errorf("fetch messages for %s: %w", userID, err)
	}
	return &page, nil
}

// FetchCalendarEvents returns one page of cached calendar events for a user.
func (c *Client) FetchCalendarEvents(ctx context.Context, userID string, since time.Time, pageToken string) (*CalendarPage, error) {
	var page CalendarPage
	if err := c.getJSON(ctx, c.recordsURL("calendar", userID, since, pageToken), &page); err != nil {
		return nil, fmt.Errorf("fetch calendar events for %s: %w", userID, err)
	}
	return &page, nil
}

func (c *Client) recordsURL(kind, userID string, since time.Time, pageToken string) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.opts.BatchSize))
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	return fmt.Sprintf("%s/v1/users/%s/%s?%s", c.baseURL, url.PathEscape(userID), kind, q.Encode())
}

// getJSON performs a GET with rate limiting and retry. Transient errors
// (429/5xx, network failures) are retried with exponential backoff and
// jitter; other 4xx responses fail immediately.
func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.logger.Debug("retrying ingestion call", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := c.doGetJSON(ctx, rawURL, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("after %d retries: %w", c.opts.MaxRetries, lastErr)
}

func (c *Client) doGetJSON(ctx context.Context, rawURL string, out interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// backoffDelay computes the delay before the given retry attempt:
// base * 2^(attempt-1) plus up to 50% jitter.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}
