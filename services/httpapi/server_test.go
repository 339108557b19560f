package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terrylica/gapless-crypto-clickhouse/services/clickhouse"
	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
	"github.com/terrylica/gapless-crypto-clickhouse/services/orchestrator"
)

type fakeOrch struct {
	lastQuery orchestrator.QueryRequest
	resp      *orchestrator.QueryResponse
	latest    []market.Candle
	gaps      []clickhouse.Gap
	err       error
}

func (f *fakeOrch) Query(ctx context.Context, req orchestrator.QueryRequest) (*orchestrator.QueryResponse, error) {
	f.lastQuery = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeOrch) Latest(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, n int) ([]market.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.latest, nil
}

func (f *fakeOrch) Gaps(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]clickhouse.Gap, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.gaps, nil
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestKlinesEndpoint(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orch := &fakeOrch{resp: &orchestrator.QueryResponse{
		Candles: []market.Candle{{
			Timestamp: ts, Symbol: "BTCUSDT",
			Timeframe: market.Timeframe1h, InstrumentType: market.Spot,
			DataSource: market.SourceCloudfront, Open: 42000.5,
		}},
		GapsFilled: 1,
	}}
	s := NewServer(orch, zap.NewNop())

	w := get(t, s, "/api/v1/klines?symbol=BTCUSDT,ETHUSDT&timeframe=1h&start=2024-01-01&end=2024-02-01")
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, orch.lastQuery.Symbols)
	require.Equal(t, market.Timeframe1h, orch.lastQuery.Timeframe)
	require.Equal(t, market.Spot, orch.lastQuery.Instrument)
	require.True(t, orch.lastQuery.AutoIngest)
	require.True(t, orch.lastQuery.FillGaps)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), orch.lastQuery.Start)

	body := decodeBody(t, w)
	require.Equal(t, float64(1), body["count"])
	require.Equal(t, float64(1), body["gaps_filled"])
	candles := body["candles"].([]any)
	first := candles[0].(map[string]any)
	require.Equal(t, "BTCUSDT", first["symbol"])
	require.Equal(t, 42000.5, first["open"])
	// Spot rows omit the funding rate entirely.
	require.NotContains(t, first, "funding_rate")
}

func TestKlinesDateOnlyEndIsInclusive(t *testing.T) {
	orch := &fakeOrch{resp: &orchestrator.QueryResponse{}}
	s := NewServer(orch, zap.NewNop())

	// A January query ending on "2024-01-31" must span the whole month: the
	// window extends to the next midnight and covers all 744 hourly candles.
	w := get(t, s, "/api/v1/klines?symbol=BTCUSDT&timeframe=1h&start=2024-01-01&end=2024-01-31")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), orch.lastQuery.End)
	require.Equal(t, int64(744), market.ExpectedBars(orch.lastQuery.Start, orch.lastQuery.End, market.Timeframe1h))

	// An exact datetime end stays as given.
	w = get(t, s, "/api/v1/klines?symbol=BTCUSDT&start=2024-01-01&end=2024-01-31+12:00:00")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC), orch.lastQuery.End)
}

func TestKlinesFlagsCanBeDisabled(t *testing.T) {
	orch := &fakeOrch{resp: &orchestrator.QueryResponse{}}
	s := NewServer(orch, zap.NewNop())

	w := get(t, s, "/api/v1/klines?symbol=BTCUSDT&start=2024-01-01&end=2024-02-01&auto_ingest=false&fill_gaps=false")
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, orch.lastQuery.AutoIngest)
	require.False(t, orch.lastQuery.FillGaps)
}

func TestKlinesRejectsBadInput(t *testing.T) {
	s := NewServer(&fakeOrch{}, zap.NewNop())

	for _, path := range []string{
		"/api/v1/klines?symbol=BTCUSDT&timeframe=7h&start=2024-01-01&end=2024-02-01",
		"/api/v1/klines?symbol=BTCUSDT&start=not-a-date&end=2024-02-01",
		"/api/v1/klines?symbol=BTCUSDT&instrument=margin&start=2024-01-01&end=2024-02-01",
	} {
		w := get(t, s, path)
		require.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestKlinesMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: bad symbol", market.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: slow down", market.ErrRateLimited), http.StatusTooManyRequests},
		{fmt.Errorf("%w: cdn 404", market.ErrSourceUnavailable), http.StatusBadGateway},
		{fmt.Errorf("%w: insert failed", market.ErrStore), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s := NewServer(&fakeOrch{err: tc.err}, zap.NewNop())
		w := get(t, s, "/api/v1/klines?symbol=BTCUSDT&start=2024-01-01&end=2024-02-01")
		require.Equal(t, tc.code, w.Code, tc.err)
	}
}

func TestLatestEndpoint(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orch := &fakeOrch{latest: []market.Candle{
		{Timestamp: ts, Symbol: "BTCUSDT"},
		{Timestamp: ts.Add(time.Hour), Symbol: "BTCUSDT"},
	}}
	s := NewServer(orch, zap.NewNop())

	w := get(t, s, "/api/v1/klines/latest?symbol=BTCUSDT&limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(2), decodeBody(t, w)["count"])

	w = get(t, s, "/api/v1/klines/latest?symbol=BTCUSDT&limit=abc")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGapsEndpoint(t *testing.T) {
	ts := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	orch := &fakeOrch{gaps: []clickhouse.Gap{{Start: ts, End: ts.Add(time.Hour), ExpectedBars: 2}}}
	s := NewServer(orch, zap.NewNop())

	w := get(t, s, "/api/v1/gaps?symbol=BTCUSDT&start=2024-01-01&end=2024-02-01")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, float64(1), body["count"])
	gap := body["gaps"].([]any)[0].(map[string]any)
	require.Equal(t, float64(2), gap["expected_bars"])
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(&fakeOrch{}, zap.NewNop())
	w := get(t, s, "/api/v1/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "healthy", decodeBody(t, w)["status"])
}
