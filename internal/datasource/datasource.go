// Package datasource provides the market-data and earnings calendar clients
// the engine and the earnings scan read from: Yahoo Finance for option
// chains, price history and quotes, Finnhub for the earnings calendar.
package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// --- Sentinel errors ---

// ErrTickerNotFound is returned when a ticker cannot be resolved.
var ErrTickerNotFound = errors.New("ticker not found")

// ErrMissingAPIKey is returned when a client requiring a key has none.
var ErrMissingAPIKey = errors.New("api key not configured")

// ErrHTTP wraps an HTTP error with status code.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *ErrHTTP) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// --- Shared HTTP client ---

// DefaultUserAgent is the user agent string used for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// fetcher performs rate-limited JSON GETs with exponential retry.
type fetcher struct {
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	maxRetry time.Duration
	cacheTTL time.Duration
	logger   zerolog.Logger
}

func newFetcher(baseURL string, opts []Option) *fetcher {
	f := &fetcher{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
		maxRetry: 30 * time.Second,
		cacheTTL: 5 * time.Minute,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.baseURL = strings.TrimRight(f.baseURL, "/")
	return f
}

// getJSON fetches url and decodes the JSON body into out. 429, 5xx and
// transport failures are retried until maxRetry elapses; other statuses fail
// immediately.
func (f *fetcher) getJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	var bo backoff.BackOff = &backoff.StopBackOff{}
	if f.maxRetry > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 250 * time.Millisecond
		exp.MaxElapsedTime = f.maxRetry
		bo = exp
	}

	attempt := 0
	op := func() error {
		attempt++
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := f.do(ctx, url, headers, out)
		if err == nil {
			return nil
		}
		var httpErr *ErrHTTP
		if errors.As(err, &httpErr) && !httpErr.Retryable() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return backoff.Permanent(err)
		}
		f.logger.Debug().Str("url", url).Int("attempt", attempt).Err(err).Msg("retrying request")
		return err
	}

	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func (f *fetcher) do(ctx context.Context, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &ErrHTTP{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// --- Client options ---

// Option configures a data source client.
type Option func(*fetcher)

// WithBaseURL overrides the API root, e.g. for a test server.
func WithBaseURL(u string) Option {
	return func(f *fetcher) {
		if u != "" {
			f.baseURL = u
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(f *fetcher) { f.client = c }
}

// WithRateLimit caps outgoing requests at perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(f *fetcher) {
		if perSecond > 0 && burst > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithMaxRetry bounds the total time spent retrying one request.
// Zero disables retries.
func WithMaxRetry(d time.Duration) Option {
	return func(f *fetcher) { f.maxRetry = d }
}

// WithCacheTTL sets how long fetched expirations and quotes are reused.
// Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(f *fetcher) { f.cacheTTL = d }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *fetcher) { f.logger = logger }
}
