package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
)

// insertColumns is the canonical column order shared by every writer. The
// monthly, daily, and REST paths all insert through this single layout so
// hash inputs and row shapes cannot drift.
const insertColumns = `timestamp, symbol, timeframe, instrument_type, data_source, ` +
	`open, high, low, close, volume, ` +
	`close_time, quote_asset_volume, number_of_trades, ` +
	`taker_buy_base_asset_volume, taker_buy_quote_asset_volume, ` +
	`funding_rate, _version, _sign`

// Store wraps a connection with the OHLCV table operations.
type Store struct {
	conn     Conn
	database string
	logger   *zap.Logger
}

// NewStore builds a store over an open connection.
func NewStore(conn Conn, database string, logger *zap.Logger) *Store {
	return &Store{conn: conn, database: database, logger: logger}
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) table() string {
	return fmt.Sprintf("%s.%s", s.database, TableName)
}

// InsertCandles bulk-appends versioned rows. Partial inserts are acceptable:
// idempotent versioning absorbs the retry.
func (s *Store) InsertCandles(ctx context.Context, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s (%s)", s.table(), insertColumns)
	batch, err := s.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: prepare batch: %v", market.ErrStore, err)
	}

	for i, c := range candles {
		err := batch.Append(
			c.Timestamp,
			c.Symbol,
			string(c.Timeframe),
			string(c.InstrumentType),
			string(c.DataSource),
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
			c.CloseTime,
			c.QuoteAssetVolume,
			c.NumberOfTrades,
			c.TakerBuyBaseAssetVolume,
			c.TakerBuyQuoteAssetVolume,
			c.FundingRate,
			c.Version,
			c.Sign,
		)
		if err != nil {
			return fmt.Errorf("%w: append row %d: %v", market.ErrStore, i, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("%w: send batch of %d rows: %v", market.ErrStore, len(candles), err)
	}

	s.logger.Debug("batch inserted",
		zap.Int("rows", len(candles)),
		zap.String("table", s.table()))
	return nil
}

// CountRange counts deduplicated rows in [start, end).
func (s *Store) CountRange(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) (uint64, error) {
	query := fmt.Sprintf(`SELECT count() FROM %s FINAL
WHERE symbol = ? AND timeframe = ? AND instrument_type = ?
  AND timestamp >= ? AND timestamp < ?`, s.table())

	var count uint64
	row := s.conn.QueryRow(ctx, query, symbol, string(tf), string(inst), start, end)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count range: %v", market.ErrStore, err)
	}
	return count, nil
}
