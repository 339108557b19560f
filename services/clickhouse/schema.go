package clickhouse

import (
	"context"
	"fmt"

	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
)

// TableName is the OHLCV table.
const TableName = "ohlcv"

// ddl is the replacing-merge table keyed on _version. Rows sharing
// (symbol, timeframe, instrument_type, timestamp) merge down to the one with
// the largest _version; readers that need the deduplicated view add FINAL.
const ddl = `
CREATE TABLE IF NOT EXISTS %s.%s (
    timestamp                     DateTime64(3, 'UTC'),
    symbol                        LowCardinality(String),
    timeframe                     LowCardinality(String),
    instrument_type               LowCardinality(String),
    data_source                   LowCardinality(String),
    open                          Float64,
    high                          Float64,
    low                           Float64,
    close                         Float64,
    volume                        Float64,
    close_time                    DateTime64(3, 'UTC'),
    quote_asset_volume            Float64,
    number_of_trades              UInt64,
    taker_buy_base_asset_volume   Float64,
    taker_buy_quote_asset_volume  Float64,
    funding_rate                  Nullable(Float64),
    _version                      UInt64,
    _sign                         Int8 DEFAULT 1
)
ENGINE = ReplacingMergeTree(_version)
PARTITION BY toYYYYMM(timestamp)
ORDER BY (symbol, timeframe, instrument_type, toStartOfHour(timestamp), timestamp)
`

// EnsureSchema creates the database and the OHLCV table if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database)); err != nil {
		return fmt.Errorf("%w: create database %s: %v", market.ErrStore, s.database, err)
	}
	if err := s.conn.Exec(ctx, fmt.Sprintf(ddl, s.database, TableName)); err != nil {
		return fmt.Errorf("%w: create table %s.%s: %v", market.ErrStore, s.database, TableName, err)
	}
	return nil
}
