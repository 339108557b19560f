// Package restfill repairs internal gaps from the live klines endpoints.
// Rows fetched here land in the same table, through the same column order
// and the same content hash as archive rows, so a repaired candle later
// re-ingested from an archive collapses to a single version.
package restfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/terrylica/gapless-crypto-clickhouse/services/clickhouse"
	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
	"github.com/terrylica/gapless-crypto-clickhouse/services/netx"
	"github.com/terrylica/gapless-crypto-clickhouse/services/version"
)

const (
	DefaultSpotBaseURL    = "https://api.binance.com"
	DefaultFuturesBaseURL = "https://fapi.binance.com"

	// maxBarsPerRequest is the klines endpoint's hard row limit.
	maxBarsPerRequest = 1000
)

// Client fetches klines from the REST API, rate limited and fused behind a
// circuit breaker.
type Client struct {
	httpClient  *http.Client
	spotBase    string
	futuresBase string
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	retry       netx.RetryPolicy
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURLs overrides both endpoint hosts.
func WithBaseURLs(spot, futures string) Option {
	return func(c *Client) {
		c.spotBase = spot
		c.futuresBase = futures
	}
}

// WithHTTPClient swaps the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy overrides the retry budget.
func WithRetryPolicy(p netx.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithRateLimit overrides the request budget against the exchange.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient builds a gap-fill client with the default endpoints, a 10 rps
// limiter, and a breaker that opens after three consecutive failures.
func NewClient(logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		spotBase:    DefaultSpotBaseURL,
		futuresBase: DefaultFuturesBaseURL,
		limiter:     rate.NewLimiter(rate.Limit(10), 20),
		retry:       netx.DefaultPolicy(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	st := gobreaker.Settings{Name: "binance-klines"}
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	c.breaker = gobreaker.NewCircuitBreaker(st)
	return c
}

// FillGap fetches the candles covering one gap and returns the subset whose
// open time falls inside [gap.Start, gap.End], stamped and ready to insert.
func (c *Client) FillGap(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, gap clickhouse.Gap) ([]market.Candle, error) {
	if err := market.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	candles, err := c.Fetch(ctx, symbol, tf, inst, gap.Start, gap.End.Add(tf.Interval()))
	if err != nil {
		return nil, err
	}
	filled := candles[:0]
	for _, cd := range candles {
		if cd.Timestamp.Before(gap.Start) || cd.Timestamp.After(gap.End) {
			continue
		}
		filled = append(filled, cd)
	}
	c.logger.Info("gap filled from rest api",
		zap.String("symbol", symbol),
		zap.String("timeframe", string(tf)),
		zap.Time("start", gap.Start),
		zap.Time("end", gap.End),
		zap.Int64("expected", gap.ExpectedBars),
		zap.Int("fetched", len(filled)))
	return filled, nil
}

// Fetch returns the candles with open time in [start, end), chunked so no
// single request asks for more than the endpoint's row limit.
func (c *Client) Fetch(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]market.Candle, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: empty window [%s, %s)", market.ErrInvalidInput, start, end)
	}

	chunk := time.Duration(maxBarsPerRequest) * tf.Interval()
	var candles []market.Candle
	for cur := start; cur.Before(end); cur = cur.Add(chunk) {
		chunkEnd := cur.Add(chunk)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		rows, err := c.fetchChunk(ctx, symbol, tf, inst, cur, chunkEnd)
		if err != nil {
			return nil, err
		}
		candles = append(candles, rows...)
	}
	version.StampAll(candles)
	return candles, nil
}

func (c *Client) fetchChunk(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]market.Candle, error) {
	var candles []market.Candle
	err := netx.Do(ctx, c.retry, retryable, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		out, err := c.breaker.Execute(func() (any, error) {
			return c.doRequest(ctx, symbol, tf, inst, start, end)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return fmt.Errorf("%w: circuit open for klines: %v", market.ErrSourceUnavailable, err)
			}
			return err
		}
		candles = out.([]market.Candle)
		return nil
	})
	if err != nil {
		if errors.Is(err, market.ErrRateLimited) {
			// A rate limit that outlives the retry budget surfaces as a
			// transport failure.
			err = fmt.Errorf("%w: rate limit budget exhausted: %v", market.ErrTransport, err)
		}
		return nil, fmt.Errorf("klines %s %s [%s, %s): %w", symbol, tf, start.Format(time.RFC3339), end.Format(time.RFC3339), err)
	}
	return candles, nil
}

func (c *Client) doRequest(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]market.Candle, error) {
	base, path := c.spotBase, "/api/v3/klines"
	if inst == market.FuturesUM {
		base, path = c.futuresBase, "/fapi/v1/klines"
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", tf.RESTInterval())
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	// endTime is inclusive on the wire; the window here is half-open.
	q.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
	q.Set("limit", strconv.Itoa(maxBarsPerRequest))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", market.ErrInvalidInput, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", market.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.decodeKlines(resp.Body, symbol, tf, inst)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		wait := retryAfter(resp)
		return nil, &netx.RetryAfterError{
			After: wait,
			Err:   fmt.Errorf("%w: klines returned %d", market.ErrRateLimited, resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: klines returned %d", market.ErrTransport, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: klines returned %d", market.ErrSourceUnavailable, resp.StatusCode)
	}
}

// decodeKlines parses the endpoint's array-of-arrays payload. Prices arrive
// as strings and row invariants are checked on that source text before any
// float conversion.
func (c *Client) decodeKlines(r io.Reader, symbol string, tf market.Timeframe, inst market.InstrumentType) ([]market.Candle, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw [][]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: parse klines payload: %v", market.ErrDecode, err)
	}

	candles := make([]market.Candle, 0, len(raw))
	for i, row := range raw {
		cd, err := buildCandle(row, symbol, tf, inst)
		if err != nil {
			return nil, fmt.Errorf("%w: kline %d: %v", market.ErrDecode, i, err)
		}
		candles = append(candles, cd)
	}
	return candles, nil
}

func buildCandle(row []any, symbol string, tf market.Timeframe, inst market.InstrumentType) (market.Candle, error) {
	if len(row) < 11 {
		return market.Candle{}, fmt.Errorf("want at least 11 fields, got %d", len(row))
	}
	str := func(i int) (string, error) {
		s, ok := row[i].(string)
		if !ok {
			return "", fmt.Errorf("field %d: want string, got %T", i, row[i])
		}
		return s, nil
	}
	num := func(i int) (int64, error) {
		n, ok := row[i].(json.Number)
		if !ok {
			return 0, fmt.Errorf("field %d: want number, got %T", i, row[i])
		}
		return n.Int64()
	}

	tsMs, err := num(0)
	if err != nil {
		return market.Candle{}, err
	}

	var fields [8]string
	for idx, pos := range []int{1, 2, 3, 4, 5, 7, 9, 10} {
		if fields[idx], err = str(pos); err != nil {
			return market.Candle{}, err
		}
	}
	if err := market.ValidateOHLCV(market.OHLCVStrings{
		Open: fields[0], High: fields[1], Low: fields[2], Close: fields[3],
		Volume: fields[4], QuoteVolume: fields[5],
		TakerBuyBase: fields[6], TakerBuyQuote: fields[7],
	}); err != nil {
		return market.Candle{}, err
	}

	var floats [8]float64
	for i, s := range fields {
		if floats[i], err = strconv.ParseFloat(s, 64); err != nil {
			return market.Candle{}, fmt.Errorf("field %q: %v", s, err)
		}
	}
	trades, err := num(8)
	if err != nil {
		return market.Candle{}, err
	}

	ts := time.UnixMilli(tsMs).UTC()
	return market.Candle{
		Timestamp:                ts,
		Symbol:                   symbol,
		Timeframe:                tf,
		InstrumentType:           inst,
		DataSource:               market.SourceRESTAPI,
		Open:                     floats[0],
		High:                     floats[1],
		Low:                      floats[2],
		Close:                    floats[3],
		Volume:                   floats[4],
		CloseTime:                market.StandardizeCloseTime(ts, tf),
		QuoteAssetVolume:         floats[5],
		NumberOfTrades:           uint64(trades),
		TakerBuyBaseAssetVolume:  floats[6],
		TakerBuyQuoteAssetVolume: floats[7],
	}, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 2 * time.Second
}

func retryable(err error) bool {
	if errors.Is(err, market.ErrSourceUnavailable) || errors.Is(err, market.ErrInvalidInput) || errors.Is(err, market.ErrDecode) {
		return false
	}
	if errors.Is(err, market.ErrTransport) || errors.Is(err, market.ErrRateLimited) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
