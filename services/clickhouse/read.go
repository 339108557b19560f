package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
)

// selectColumns mirrors insertColumns for reads.
const selectColumns = insertColumns

// Range returns the deduplicated candles in [start, end) ascending.
func (s *Store) Range(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]market.Candle, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s FINAL
WHERE symbol = ? AND timeframe = ? AND instrument_type = ?
  AND timestamp >= ? AND timestamp < ?
ORDER BY timestamp ASC`, selectColumns, s.table())

	rows, err := s.conn.Query(ctx, query, symbol, string(tf), string(inst), start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: range query: %v", market.ErrStore, err)
	}
	return scanCandles(rows)
}

// Latest returns the last n candles, ascending.
func (s *Store) Latest(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, n int) ([]market.Candle, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: latest needs a positive row count, got %d", market.ErrInvalidInput, n)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s FINAL
WHERE symbol = ? AND timeframe = ? AND instrument_type = ?
ORDER BY timestamp DESC
LIMIT ?`, selectColumns, s.table())

	rows, err := s.conn.Query(ctx, query, symbol, string(tf), string(inst), n)
	if err != nil {
		return nil, fmt.Errorf("%w: latest query: %v", market.ErrStore, err)
	}
	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	// DESC + LIMIT picked the tail; callers get ascending order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// MultiSymbol returns the window union for several symbols, sorted by
// (symbol, timestamp).
func (s *Store) MultiSymbol(ctx context.Context, symbols []string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]market.Candle, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols given", market.ErrInvalidInput)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s FINAL
WHERE symbol IN (?) AND timeframe = ? AND instrument_type = ?
  AND timestamp >= ? AND timestamp < ?
ORDER BY symbol, timestamp`, selectColumns, s.table())

	rows, err := s.conn.Query(ctx, query, symbols, string(tf), string(inst), start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: multi-symbol query: %v", market.ErrStore, err)
	}
	return scanCandles(rows)
}

func scanCandles(rows Rows) ([]market.Candle, error) {
	defer rows.Close()

	var candles []market.Candle
	for rows.Next() {
		var (
			c       market.Candle
			tfRaw   string
			instRaw string
			srcRaw  string
		)
		err := rows.Scan(
			&c.Timestamp,
			&c.Symbol,
			&tfRaw,
			&instRaw,
			&srcRaw,
			&c.Open,
			&c.High,
			&c.Low,
			&c.Close,
			&c.Volume,
			&c.CloseTime,
			&c.QuoteAssetVolume,
			&c.NumberOfTrades,
			&c.TakerBuyBaseAssetVolume,
			&c.TakerBuyQuoteAssetVolume,
			&c.FundingRate,
			&c.Version,
			&c.Sign,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", market.ErrStore, err)
		}
		c.Timeframe = market.Timeframe(tfRaw)
		c.InstrumentType = market.InstrumentType(instRaw)
		c.DataSource = market.DataSource(srcRaw)
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rows: %v", market.ErrStore, err)
	}
	return candles, nil
}
