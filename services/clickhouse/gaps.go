package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
)

// Gap is a missing candle range inside stored data. Start is the open time
// of the first missing candle, End the open time of the last.
type Gap struct {
	Start        time.Time
	End          time.Time
	ExpectedBars int64
}

// Gaps lists every internal hole in [start, end) for one instrument: a
// window-function scan pairs each stored timestamp with its predecessor and
// keeps the pairs separated by more than one interval. Holes before the
// first stored row or after the last are the orchestrator's business, not
// this primitive's.
func (s *Store) Gaps(ctx context.Context, symbol string, tf market.Timeframe, inst market.InstrumentType, start, end time.Time) ([]Gap, error) {
	query := fmt.Sprintf(`
SELECT prev_ms, ts_ms
FROM (
    SELECT
        toUnixTimestamp64Milli(timestamp) AS ts_ms,
        lagInFrame(toUnixTimestamp64Milli(timestamp), 1) OVER (ORDER BY timestamp ASC) AS prev_ms
    FROM %s FINAL
    WHERE symbol = ? AND timeframe = ? AND instrument_type = ?
      AND timestamp >= ? AND timestamp < ?
)
WHERE prev_ms > 0 AND (ts_ms - prev_ms) > ?
ORDER BY prev_ms`, s.table())

	intervalMs := tf.IntervalMs()
	rows, err := s.conn.Query(ctx, query, symbol, string(tf), string(inst), start, end, intervalMs)
	if err != nil {
		return nil, fmt.Errorf("%w: gap scan: %v", market.ErrStore, err)
	}
	defer rows.Close()

	var gaps []Gap
	for rows.Next() {
		var prevMs, tsMs int64
		if err := rows.Scan(&prevMs, &tsMs); err != nil {
			return nil, fmt.Errorf("%w: scan gap row: %v", market.ErrStore, err)
		}
		gaps = append(gaps, Gap{
			Start:        time.UnixMilli(prevMs + intervalMs).UTC(),
			End:          time.UnixMilli(tsMs - intervalMs).UTC(),
			ExpectedBars: (tsMs-prevMs)/intervalMs - 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate gaps: %v", market.ErrStore, err)
	}
	return gaps, nil
}
