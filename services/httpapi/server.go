// Package httpapi exposes the query surface over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/terrylica/gapless-crypto-clickhouse/services/clickhouse"
	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
	"github.com/terrylica/gapless-crypto-clickhouse/services/orchestrator"
)

// Orchestrator is the query surface the handlers call into.
type Orchestrator interface {
	Query(ctx context.Context, req orchestrator.QueryRequest) (*orchestrator.QueryResponse, error)
	Latest(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, n int) ([]market.Candle, error)
	Gaps(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]clickhouse.Gap, error)
}

// Server routes kline queries to the orchestrator.
type Server struct {
	orch   Orchestrator
	logger *zap.Logger
	engine *gin.Engine
}

// NewServer builds the router.
func NewServer(orch Orchestrator, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{orch: orch, logger: logger, engine: gin.New()}
	s.engine.Use(gin.Recovery())

	api := s.engine.Group("/api/v1")
	{
		api.GET("/klines", s.handleKlines)
		api.GET("/klines/latest", s.handleLatest)
		api.GET("/gaps", s.handleGaps)
		api.GET("/health", s.handleHealth)
	}
	return s
}

// Handler exposes the router for tests and custom servers.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error { return s.engine.Run(addr) }

type candleJSON struct {
	Timestamp                time.Time `json:"timestamp"`
	Symbol                   string    `json:"symbol"`
	Timeframe                string    `json:"timeframe"`
	InstrumentType           string    `json:"instrument_type"`
	DataSource               string    `json:"data_source"`
	Open                     float64   `json:"open"`
	High                     float64   `json:"high"`
	Low                      float64   `json:"low"`
	Close                    float64   `json:"close"`
	Volume                   float64   `json:"volume"`
	CloseTime                time.Time `json:"close_time"`
	QuoteAssetVolume         float64   `json:"quote_asset_volume"`
	NumberOfTrades           uint64    `json:"number_of_trades"`
	TakerBuyBaseAssetVolume  float64   `json:"taker_buy_base_asset_volume"`
	TakerBuyQuoteAssetVolume float64   `json:"taker_buy_quote_asset_volume"`
	FundingRate              *float64  `json:"funding_rate,omitempty"`
}

func toJSON(candles []market.Candle) []candleJSON {
	out := make([]candleJSON, len(candles))
	for i, c := range candles {
		out[i] = candleJSON{
			Timestamp:                c.Timestamp,
			Symbol:                   c.Symbol,
			Timeframe:                string(c.Timeframe),
			InstrumentType:           string(c.InstrumentType),
			DataSource:               string(c.DataSource),
			Open:                     c.Open,
			High:                     c.High,
			Low:                      c.Low,
			Close:                    c.Close,
			Volume:                   c.Volume,
			CloseTime:                c.CloseTime,
			QuoteAssetVolume:         c.QuoteAssetVolume,
			NumberOfTrades:           c.NumberOfTrades,
			TakerBuyBaseAssetVolume:  c.TakerBuyBaseAssetVolume,
			TakerBuyQuoteAssetVolume: c.TakerBuyQuoteAssetVolume,
			FundingRate:              c.FundingRate,
		}
	}
	return out
}

func (s *Server) handleKlines(c *gin.Context) {
	symbols := splitSymbols(c.Query("symbol"))
	tf, inst, ok := s.bindInstrument(c)
	if !ok {
		return
	}
	start, end, ok := s.bindWindow(c)
	if !ok {
		return
	}

	req := orchestrator.QueryRequest{
		Symbols:    symbols,
		Timeframe:  tf,
		Instrument: inst,
		Start:      start,
		End:        end,
		AutoIngest: c.DefaultQuery("auto_ingest", "true") == "true",
		FillGaps:   c.DefaultQuery("fill_gaps", "true") == "true",
	}
	resp, err := s.orch.Query(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"candles":     toJSON(resp.Candles),
		"count":       len(resp.Candles),
		"ingested":    resp.Ingested,
		"gaps_filled": resp.GapsFilled,
	})
}

func (s *Server) handleLatest(c *gin.Context) {
	tf, inst, ok := s.bindInstrument(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad limit: " + err.Error()})
		return
	}

	candles, err := s.orch.Latest(c.Request.Context(), c.Query("symbol"), tf, inst, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"candles": toJSON(candles),
		"count":   len(candles),
	})
}

func (s *Server) handleGaps(c *gin.Context) {
	tf, inst, ok := s.bindInstrument(c)
	if !ok {
		return
	}
	start, end, ok := s.bindWindow(c)
	if !ok {
		return
	}

	gaps, err := s.orch.Gaps(c.Request.Context(), c.Query("symbol"), tf, inst, start, end)
	if err != nil {
		s.fail(c, err)
		return
	}

	type gapJSON struct {
		Start        time.Time `json:"start"`
		End          time.Time `json:"end"`
		ExpectedBars int64     `json:"expected_bars"`
	}
	out := make([]gapJSON, len(gaps))
	for i, g := range gaps {
		out[i] = gapJSON{Start: g.Start, End: g.End, ExpectedBars: g.ExpectedBars}
	}
	c.JSON(http.StatusOK, gin.H{"gaps": out, "count": len(out)})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) bindInstrument(c *gin.Context) (market.Timeframe, market.InstrumentType, bool) {
	tf, err := market.ParseTimeframe(c.DefaultQuery("timeframe", "1h"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", "", false
	}
	inst, err := market.ParseInstrumentType(c.DefaultQuery("instrument", "spot"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", "", false
	}
	return tf, inst, true
}

func (s *Server) bindWindow(c *gin.Context) (time.Time, time.Time, bool) {
	start, end, err := market.ParseWindow(c.Query("start"), c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, market.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, market.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, market.ErrSourceUnavailable):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
