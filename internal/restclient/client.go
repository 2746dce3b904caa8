// Package restclient implements the synchronous REST transport used to
// fetch order-book snapshots and the ticker/kline data the default symbol
// selector ranks against. It owns the exchange's retry/backoff taxonomy so
// that taxonomy is never duplicated in callers.
package restclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arrowstream/binance-collector/internal/model"
)

const (
	// DefaultBaseURL is the Binance spot REST API origin.
	DefaultBaseURL = "https://api.binance.com"

	// DefaultTimeout is the per-request wall-clock budget.
	DefaultTimeout = 7 * time.Second

	retryOn429 = 5 * time.Second
	retryOn5xx = 3 * time.Second
	retryOnNet = 1 * time.Second

	defaultRetriesIdempotent = 3
	defaultRetriesMutating   = 0
)

// Client is a Binance spot REST client with the retry/backoff taxonomy
// described in the collector design. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	log        zerolog.Logger

	maxRetries int
	retry429   time.Duration
	retry5xx   time.Duration
	retryNet   time.Duration

	pacer *requestPacer
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API origin (for tests).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithTimeout overrides the per-request wall-clock budget.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger overrides the client's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithRetryBackoff overrides the documented backoff durations for 429,
// 502/503, and network/timeout errors. Intended for tests; production
// callers should rely on the documented defaults.
func WithRetryBackoff(on429, on5xx, onNet time.Duration) Option {
	return func(c *Client) {
		c.retry429 = on429
		c.retry5xx = on5xx
		c.retryNet = onNet
	}
}

// WithMaxRetries overrides the default retry count (3 for GET). Binance
// classifies some endpoints as non-idempotent for retry purposes; callers
// that need a tighter budget (or a looser one, for a flaky network) use
// this instead of the documented default.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// withNoPacing disables request pacing entirely. Unexported: only this
// package's own tests need to skip the weight-based wait.
func withNoPacing() Option {
	return func(c *Client) { c.pacer = nil }
}

// New creates a REST client against the Binance spot API.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		timeout:    DefaultTimeout,
		log:        zerolog.Nop(),
		maxRetries: defaultRetriesIdempotent,
		retry429:   retryOn429,
		retry5xx:   retryOn5xx,
		retryNet:   retryOnNet,
		pacer:      &requestPacer{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ticker24h is a 24-hour rolling ticker as returned by /api/v3/ticker/24hr.
type Ticker24h struct {
	Symbol      string `json:"symbol"`
	QuoteVolume string `json:"quoteVolume"`
}

// Kline is a single candlestick from /api/v3/klines, decoded from the
// exchange's array-of-arrays wire format.
type Kline struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// UnmarshalJSON decodes a kline from its wire representation:
// [openTime, open, high, low, close, volume, ...] with numeric fields
// as strings.
func (k *Kline) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 6 {
		return fmt.Errorf("kline: expected at least 6 fields, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &k.OpenTime); err != nil {
		return fmt.Errorf("kline: openTime: %w", err)
	}
	fields := []*float64{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
	for i, f := range fields {
		var s string
		if err := json.Unmarshal(raw[i+1], &s); err != nil {
			return fmt.Errorf("kline: field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("kline: field %d: %w", i+1, err)
		}
		*f = v
	}
	return nil
}

// snapshotWire mirrors the JSON shape of GET /api/v3/depth; only
// lastUpdateId is decoded, the rest of the body is preserved verbatim.
type snapshotWire struct {
	LastUpdateID int64 `json:"lastUpdateId"`
}

// FetchSnapshot fetches a full order-book page for symbol. limit is passed
// through to the exchange (the collector always requests 1000).
func (c *Client) FetchSnapshot(ctx context.Context, symbol model.Symbol, limit int) (*model.Snapshot, error) {
	q := url.Values{}
	q.Set("symbol", upper(string(symbol)))
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/depth", q, weightDepthSnapshot)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", symbol, err)
	}

	var wire snapshotWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: decode: %w", symbol, err)
	}
	return &model.Snapshot{LastUpdateID: wire.LastUpdateID, Raw: body}, nil
}

// FetchTicker24h fetches 24-hour rolling tickers for every symbol.
func (c *Client) FetchTicker24h(ctx context.Context) ([]Ticker24h, error) {
	body, err := c.get(ctx, "/api/v3/ticker/24hr", nil, weightTicker24h)
	if err != nil {
		return nil, fmt.Errorf("fetch ticker 24h: %w", err)
	}
	var tickers []Ticker24h
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("fetch ticker 24h: decode: %w", err)
	}
	return tickers, nil
}

// FetchKlines fetches candlesticks for symbol at the given interval
// (e.g. "3m"), most recent limit candles.
func (c *Client) FetchKlines(ctx context.Context, symbol model.Symbol, interval string, limit int) ([]Kline, error) {
	q := url.Values{}
	q.Set("symbol", upper(string(symbol)))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/klines", q, weightKlines)
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s: %w", symbol, err)
	}
	var klines []Kline
	if err := json.Unmarshal(body, &klines); err != nil {
		return nil, fmt.Errorf("fetch klines %s: decode: %w", symbol, err)
	}
	return klines, nil
}

// get performs a GET request with the retry/backoff taxonomy described in
// the collector design: 429 sleeps 5s, 502/503 sleep 3s, network/timeout
// errors sleep 1s (or retry immediately on a context deadline), 400 is
// surfaced as ClientError without retrying, and any other non-2xx is
// surfaced as UnhandledError. GET is idempotent, so max_retries defaults
// to 3. Sleeps are cooperative: they select against ctx.Done() rather
// than blocking the goroutine unconditionally.
func (c *Client) get(ctx context.Context, path string, query url.Values, weight int) ([]byte, error) {
	maxRetries := c.maxRetries
	requestID := uuid.NewString()

	retries := 0
	for {
		body, retry, err := c.doOnce(ctx, path, query, weight)
		if err == nil {
			return body, nil
		}

		if !retry.retryable {
			// Not a retryable error: ClientError, UnhandledError, or a
			// permanent failure from the HTTP layer.
			return nil, err
		}

		if retries >= maxRetries {
			return nil, fmt.Errorf("max retries (%d) exceeded on %s: %w", maxRetries, path, err)
		}
		retries++

		c.log.Warn().Str("request_id", requestID).Err(err).Str("path", path).Int("attempt", retries).Dur("wait", retry.wait).Msg("retrying request")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry.wait):
		}
	}
}

// retryDecision reports whether a failed attempt should be retried and,
// if so, how long to back off first.
type retryDecision struct {
	retryable bool
	wait      time.Duration
}

// doOnce issues a single GET attempt.
func (c *Client) doOnce(ctx context.Context, path string, query url.Values, weight int) (body []byte, retry retryDecision, err error) {
	if c.pacer != nil {
		if err := c.pacer.wait(ctx, weight); err != nil {
			return nil, retryDecision{}, fmt.Errorf("request pacer: %w", err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	full := c.baseURL + path
	if query != nil {
		full += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, full, nil)
	if err != nil {
		return nil, retryDecision{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() != nil && ctx.Err() == nil {
			// Per-request timeout, not an outer cancellation: retry
			// immediately per the documented taxonomy.
			return nil, retryDecision{retryable: true, wait: 0}, fmt.Errorf("request timeout: %w", err)
		}
		return nil, retryDecision{retryable: true, wait: c.retryNet}, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, retryDecision{retryable: true, wait: c.retryNet}, fmt.Errorf("read body: %w", readErr)
		}
		return data, retryDecision{}, nil
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return nil, retryDecision{retryable: true, wait: c.retry429}, newResponseError(resp)
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return nil, retryDecision{retryable: true, wait: c.retry5xx}, newResponseError(resp)
	case http.StatusBadRequest:
		return nil, retryDecision{}, newResponseError(resp)
	default:
		return nil, retryDecision{}, newResponseError(resp)
	}
}

func upper(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		out[i] = b
	}
	return string(out)
}
