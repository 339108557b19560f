package market

import (
	"fmt"
	"time"
)

// Timeframe is one of the 16 Binance kline intervals.
type Timeframe string

const (
	Timeframe1s  Timeframe = "1s"
	Timeframe1m  Timeframe = "1m"
	Timeframe3m  Timeframe = "3m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe2h  Timeframe = "2h"
	Timeframe4h  Timeframe = "4h"
	Timeframe6h  Timeframe = "6h"
	Timeframe8h  Timeframe = "8h"
	Timeframe12h Timeframe = "12h"
	Timeframe1d  Timeframe = "1d"
	Timeframe3d  Timeframe = "3d"
	Timeframe1w  Timeframe = "1w"
	Timeframe1mo Timeframe = "1mo"
)

// timeframeIntervals maps each token to the exact duration of one candle.
// 1mo is fixed at 30 days for expectation and chunking math.
var timeframeIntervals = map[Timeframe]time.Duration{
	Timeframe1s:  time.Second,
	Timeframe1m:  time.Minute,
	Timeframe3m:  3 * time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe2h:  2 * time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe6h:  6 * time.Hour,
	Timeframe8h:  8 * time.Hour,
	Timeframe12h: 12 * time.Hour,
	Timeframe1d:  24 * time.Hour,
	Timeframe3d:  72 * time.Hour,
	Timeframe1w:  7 * 24 * time.Hour,
	Timeframe1mo: 30 * 24 * time.Hour,
}

// ParseTimeframe validates a timeframe token.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeIntervals[tf]; !ok {
		return "", fmt.Errorf("%w: unsupported timeframe %q", ErrInvalidInput, s)
	}
	return tf, nil
}

func (tf Timeframe) String() string { return string(tf) }

// Interval returns the exact duration of one candle.
func (tf Timeframe) Interval() time.Duration {
	return timeframeIntervals[tf]
}

// IntervalMs returns the candle duration in milliseconds.
func (tf Timeframe) IntervalMs() int64 {
	return timeframeIntervals[tf].Milliseconds()
}

// RESTInterval returns the token used by the live klines endpoint.
// The CDN path uses "1mo" for monthly files while the REST API uses "1M".
func (tf Timeframe) RESTInterval() string {
	if tf == Timeframe1mo {
		return "1M"
	}
	return string(tf)
}

// ExpectedBars estimates how many candles fit in [start, end).
func ExpectedBars(start, end time.Time, tf Timeframe) int64 {
	if !end.After(start) {
		return 0
	}
	return int64(end.Sub(start) / tf.Interval())
}

// Timeframes lists every supported token in ascending interval order.
func Timeframes() []Timeframe {
	return []Timeframe{
		Timeframe1s, Timeframe1m, Timeframe3m, Timeframe5m, Timeframe15m,
		Timeframe30m, Timeframe1h, Timeframe2h, Timeframe4h, Timeframe6h,
		Timeframe8h, Timeframe12h, Timeframe1d, Timeframe3d, Timeframe1w,
		Timeframe1mo,
	}
}
