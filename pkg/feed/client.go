package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout for upstream requests
	DefaultTimeout = 10 * time.Second

	// maxBodyBytes caps how much of an upstream response we will read.
	// A busy 250 nm snapshot is well under 2 MB.
	maxBodyBytes = 8 << 20
)

// Config contains configuration for the feed client.
type Config struct {
	// PositionURL is the position-feed endpoint (GET ?lat=&lon=&radius=)
	PositionURL string

	// TraceURL is the trace-feed endpoint (GET ?id=)
	TraceURL string

	// RequestsPerSecond paces all upstream calls through a shared limiter.
	// 0 means the default of 2 req/s.
	RequestsPerSecond float64

	// Timeout for a single HTTP request
	Timeout time.Duration
}

// Client talks to the upstream position and trace feeds. It is safe for
// concurrent use; a single rate limiter paces all requests so a trace
// backfill batch cannot starve the snapshot poll of its request budget.
type Client struct {
	positionURL string
	traceURL    string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *log.Logger
}

// NewClient creates a feed client.
func NewClient(cfg Config, logger *log.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 2
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		positionURL: cfg.PositionURL,
		traceURL:    cfg.TraceURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:      logger,
	}
}

// Positions fetches the current snapshot of aircraft around a center point.
//
// On HTTP 429 it returns a *RateLimitError without reading further; callers
// must treat that as "no new data", never as "all aircraft vanished".
// Individually malformed or out-of-range records are dropped; the rest of
// the snapshot is still returned.
func (c *Client) Positions(ctx context.Context, lat, lon, radiusNM float64) ([]Aircraft, error) {
	if !ValidCoordinate(lat, lon) {
		return nil, fmt.Errorf("invalid center coordinate %.4f,%.4f", lat, lon)
	}
	if radiusNM <= 0 {
		return nil, fmt.Errorf("radius must be positive, got %.1f", radiusNM)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("radius", strconv.FormatFloat(radiusNM, 'f', 0, 64))

	body, err := c.getJSON(ctx, c.positionURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp positionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse position feed: %w", err)
	}

	observedAt := time.Now().UTC()
	aircraft := make([]Aircraft, 0, len(resp.Aircraft))
	for _, raw := range resp.Aircraft {
		var rec positionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			// One bad record must not take down the snapshot.
			c.logger.Printf("feed: skipping malformed record: %v", err)
			continue
		}
		ac, ok := convertRecord(rec, observedAt)
		if !ok {
			continue
		}
		aircraft = append(aircraft, ac)
	}

	return aircraft, nil
}

// getJSON performs a GET and returns the body only if it is plausibly JSON.
// The upstream occasionally serves an HTML maintenance page with a 200
// status, so the content-type check is backed by sniffing the body itself.
func (c *Client) getJSON(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
			Message:    "rate limit exceeded",
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "json") {
		return nil, fmt.Errorf("expected JSON, got content-type %q", ct)
	}
	if !looksLikeJSON(body) {
		return nil, fmt.Errorf("expected JSON, got non-JSON body")
	}

	return body, nil
}

// looksLikeJSON sniffs the first non-whitespace byte. An HTML error page
// starts with '<' and must be rejected before json.Unmarshal sees it.
func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return false
	}
	return trimmed[0] == '{' || trimmed[0] == '['
}

// RateLimitError represents an HTTP 429 from either upstream endpoint.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	if rle, ok := err.(*RateLimitError); ok {
		return rle, true
	}
	return nil, false
}

// parseRetryAfter extracts the Retry-After header value.
// Supports both delay-seconds and HTTP-date formats; returns 0 when absent.
func parseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if retryTime, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(retryTime); d > 0 {
			return d
		}
	}

	return 0
}
