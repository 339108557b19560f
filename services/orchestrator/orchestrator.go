// Package orchestrator answers range queries, deciding when stored coverage
// is thin enough to trigger archive ingestion and repairing internal gaps
// from the live endpoint before returning rows.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terrylica/gapless-crypto-clickhouse/services/catalog"
	"github.com/terrylica/gapless-crypto-clickhouse/services/clickhouse"
	"github.com/terrylica/gapless-crypto-clickhouse/services/ingest"
	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
)

// coverageThreshold is the observed/expected ratio below which a window is
// considered unpopulated and worth an archive ingestion.
const coverageThreshold = 0.5

// Store is the table surface the orchestrator needs.
type Store interface {
	CountRange(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) (uint64, error)
	Range(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]market.Candle, error)
	MultiSymbol(ctx context.Context, symbols []string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]market.Candle, error)
	Latest(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, n int) ([]market.Candle, error)
	Gaps(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]clickhouse.Gap, error)
	InsertCandles(ctx context.Context, candles []market.Candle) error
}

// Ingester runs the archive pipeline for one window.
type Ingester interface {
	Ingest(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) (*ingest.Report, error)
}

// GapFiller fetches the candles covering one internal gap.
type GapFiller interface {
	FillGap(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, gap clickhouse.Gap) ([]market.Candle, error)
}

// QueryRequest is one multi-symbol range query.
type QueryRequest struct {
	Symbols    []string
	Timeframe  market.Timeframe
	Instrument market.InstrumentType
	Start      time.Time
	End        time.Time

	// AutoIngest permits archive ingestion when coverage is thin.
	AutoIngest bool
	// FillGaps permits live-endpoint repair of internal holes.
	FillGaps bool
}

// QueryResponse carries the rows plus what the orchestrator did to get them.
type QueryResponse struct {
	Candles    []market.Candle
	Ingested   []string
	GapsFilled int
}

// Orchestrator wires the store, the archive pipeline, and the gap filler.
type Orchestrator struct {
	store    Store
	ingester Ingester
	filler   GapFiller
	logger   *zap.Logger
}

// New builds an orchestrator.
func New(store Store, ingester Ingester, filler GapFiller, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{store: store, ingester: ingester, filler: filler, logger: logger}
}

// Query serves one request. Per-symbol maintenance is sequential: count
// coverage, ingest if thin, repair gaps. The read itself is one deduplicated
// query, multi-symbol when more than one pair was asked for. Repair failures
// degrade to a partial answer rather than failing the query.
func (o *Orchestrator) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	log := o.logger.With(zap.String("request_id", uuid.NewString()))
	resp := &QueryResponse{}

	for _, symbol := range req.Symbols {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		if err := o.maintainSymbol(ctx, log, symbol, req, resp); err != nil {
			return nil, fmt.Errorf("query %s: %w", symbol, err)
		}
	}

	var err error
	if len(req.Symbols) == 1 {
		resp.Candles, err = o.store.Range(ctx, req.Symbols[0], req.Timeframe, req.Instrument, req.Start, req.End)
	} else {
		resp.Candles, err = o.store.MultiSymbol(ctx, req.Symbols, req.Timeframe, req.Instrument, req.Start, req.End)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Latest returns the last n candles for one symbol.
func (o *Orchestrator) Latest(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, n int) ([]market.Candle, error) {
	if err := market.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	return o.store.Latest(ctx, symbol, tf, inst, n)
}

// Gaps lists the internal holes in a stored window without repairing them.
func (o *Orchestrator) Gaps(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]clickhouse.Gap, error) {
	if err := market.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: start %s not before end %s", market.ErrInvalidInput, start, end)
	}
	return o.store.Gaps(ctx, symbol, tf, inst, start, end)
}

func (o *Orchestrator) maintainSymbol(ctx context.Context, log *zap.Logger, symbol string, req QueryRequest, resp *QueryResponse) error {
	log = log.With(
		zap.String("symbol", symbol),
		zap.String("timeframe", string(req.Timeframe)),
		zap.String("instrument", string(req.Instrument)))

	if req.AutoIngest {
		observed, err := o.store.CountRange(ctx, symbol, req.Timeframe, req.Instrument, req.Start, req.End)
		if err != nil {
			return err
		}
		expected := market.ExpectedBars(req.Start, req.End, req.Timeframe)
		if expected > 0 && float64(observed) < coverageThreshold*float64(expected) {
			log.Info("coverage below threshold, ingesting",
				zap.Uint64("observed", observed),
				zap.Int64("expected", expected),
				zap.Int("months", len(catalog.MonthsBetween(req.Start, req.End))))
			report, err := o.ingester.Ingest(ctx, symbol, req.Timeframe, req.Instrument, req.Start, req.End)
			if err != nil {
				return err
			}
			log.Info("auto-ingestion done", zap.String("summary", report.Summary()))
			resp.Ingested = append(resp.Ingested, symbol)
		}
	}

	if req.FillGaps {
		filled, err := o.repairGaps(ctx, log, symbol, req)
		if err != nil {
			return err
		}
		resp.GapsFilled += filled
	}
	return nil
}

// repairGaps fills each detected hole from the live endpoint. A gap whose
// repair fails is logged and left open; the remaining gaps still get their
// chance.
func (o *Orchestrator) repairGaps(ctx context.Context, log *zap.Logger, symbol string, req QueryRequest) (int, error) {
	gaps, err := o.store.Gaps(ctx, symbol, req.Timeframe, req.Instrument, req.Start, req.End)
	if err != nil {
		return 0, err
	}

	filled := 0
	for _, gap := range gaps {
		if err := ctx.Err(); err != nil {
			return filled, err
		}
		candles, err := o.filler.FillGap(ctx, symbol, req.Timeframe, req.Instrument, gap)
		if err != nil {
			log.Warn("gap repair failed",
				zap.Time("start", gap.Start),
				zap.Time("end", gap.End),
				zap.Error(err))
			continue
		}
		if len(candles) == 0 {
			log.Warn("gap has no live data, likely an exchange outage",
				zap.Time("start", gap.Start),
				zap.Time("end", gap.End))
			continue
		}
		if err := o.store.InsertCandles(ctx, candles); err != nil {
			return filled, err
		}
		filled++
	}
	return filled, nil
}

func validate(req QueryRequest) error {
	if len(req.Symbols) == 0 {
		return fmt.Errorf("%w: no symbols given", market.ErrInvalidInput)
	}
	for _, s := range req.Symbols {
		if err := market.ValidateSymbol(s); err != nil {
			return err
		}
	}
	if _, err := market.ParseTimeframe(string(req.Timeframe)); err != nil {
		return err
	}
	if _, err := market.ParseInstrumentType(string(req.Instrument)); err != nil {
		return err
	}
	if !req.End.After(req.Start) {
		return fmt.Errorf("%w: start %s not before end %s", market.ErrInvalidInput, req.Start, req.End)
	}
	return nil
}
