package market

import (
	"fmt"
	"regexp"
	"time"
)

// Candle is one OHLCV row in the canonical column order shared by the
// monthly, daily, and REST writers.
type Candle struct {
	Timestamp      time.Time
	Symbol         string
	Timeframe      Timeframe
	InstrumentType InstrumentType
	DataSource     DataSource

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64

	CloseTime                time.Time
	QuoteAssetVolume         float64
	NumberOfTrades           uint64
	TakerBuyBaseAssetVolume  float64
	TakerBuyQuoteAssetVolume float64

	// FundingRate is populated for futures rows only.
	FundingRate *float64

	Version uint64
	Sign    int8
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// ValidateSymbol rejects anything that is not uppercase alphanumeric. Path
// separators and dots never reach a URL or a query.
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: bad symbol %q", ErrInvalidInput, symbol)
	}
	return nil
}

// ParseInstant accepts "2006-01-02" or "2006-01-02 15:04:05", always UTC.
func ParseInstant(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad date %q (want YYYY-MM-DD or YYYY-MM-DD HH:MM:SS)", ErrInvalidInput, s)
}

// ParseWindow resolves a [start, end) query window from user strings. A
// date-only end bound is inclusive through that whole day: "2024-01-31"
// extends the window to the next midnight, so a January query covers all
// 744 hourly candles of the month.
func ParseWindow(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := ParseInstant(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseInstant(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if _, dateOnly := time.ParseInLocation("2006-01-02", endStr, time.UTC); dateOnly == nil {
		end = end.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start %q not before end %q", ErrInvalidInput, startStr, endStr)
	}
	return start, end, nil
}

// StandardizeCloseTime returns the exclusive end of the candle starting at ts:
// ts + interval - 1ms.
func StandardizeCloseTime(ts time.Time, tf Timeframe) time.Time {
	return ts.Add(tf.Interval() - time.Millisecond)
}
