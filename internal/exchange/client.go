package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	// requestTimeout bounds every provider HTTP request.
	requestTimeout = 30 * time.Second

	// defaultRequestDelay is the minimum pause between page requests when a
	// connector is not configured otherwise. Exists to respect provider rate
	// limits, not for correctness.
	defaultRequestDelay = 100 * time.Millisecond

	userAgent = "go-liquidity-mapper/1.0"
)

// newHTTPClient builds the shared transport configuration for connectors.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// newPageLimiter converts a minimum inter-request delay into a rate limiter
// that admits one request per delay with no burst headroom.
func newPageLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		delay = defaultRequestDelay
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// getJSON waits for the rate limiter, issues exactly one GET request, and
// returns the raw response body. No retries: any transport failure or
// non-200 status aborts the fetch with a TransportError.
func getJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, exchange, baseURL, endpoint string, params url.Values) ([]byte, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Exchange: exchange, Endpoint: endpoint, Err: err}
	}

	requestURL := baseURL + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, &TransportError{Exchange: exchange, Endpoint: endpoint, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Exchange: exchange, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Exchange: exchange, Endpoint: endpoint, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{
			Exchange: exchange,
			Endpoint: endpoint,
			Err:      fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)),
		}
	}

	return body, nil
}

// probe issues one GET request and reports whether the provider answered 200.
// Any failure counts as "not available"; symbol resolution treats every
// non-success the same way.
func probe(ctx context.Context, client *http.Client, limiter *rate.Limiter, baseURL, endpoint string, params url.Values) bool {
	if err := limiter.Wait(ctx); err != nil {
		return false
	}

	requestURL := baseURL + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// unixMilli converts a timestamp to provider epoch milliseconds.
func unixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

// fromMilli converts provider epoch milliseconds to a UTC instant.
func fromMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// jsonNumber extracts an integer from a mixed-type JSON array cell, which may
// arrive as a JSON number or a numeric string depending on the provider.
func jsonNumber(v interface{}) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid numeric string %q: %w", n, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

// jsonString extracts a decimal string from a mixed-type JSON array cell.
func jsonString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
