// Package version stamps each row with its deterministic merge version.
// The hash is a pure function of the row content, so re-ingesting the same
// logical candle from any source reproduces the same _version and the
// replacing-merge engine collapses the copies.
package version

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
)

// Compute returns the first 8 bytes of SHA-256 over the canonical content
// string, big-endian. The canonical form is the millisecond timestamp in
// base 10 followed by the five payload floats in shortest round-trip
// notation, then symbol, timeframe, and instrument type, concatenated.
func Compute(tsMs int64, open, high, low, close, volume float64, symbol string, tf market.Timeframe, inst market.InstrumentType) uint64 {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(tsMs, 10))
	b.WriteString(formatFloat(open))
	b.WriteString(formatFloat(high))
	b.WriteString(formatFloat(low))
	b.WriteString(formatFloat(close))
	b.WriteString(formatFloat(volume))
	b.WriteString(symbol)
	b.WriteString(string(tf))
	b.WriteString(string(inst))

	sum := sha256.Sum256([]byte(b.String()))
	return binary.BigEndian.Uint64(sum[:8])
}

// Stamp sets Version and Sign on a candle in place.
func Stamp(c *market.Candle) {
	c.Version = Compute(c.Timestamp.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume,
		c.Symbol, c.Timeframe, c.InstrumentType)
	c.Sign = 1
}

// StampAll versions a batch.
func StampAll(candles []market.Candle) {
	for i := range candles {
		Stamp(&candles[i])
	}
}

// formatFloat is the single canonical float rendering: shortest decimal that
// round-trips, no exponent. Writers must parse source strings to float64
// before hashing so "42000.50000000" and "42000.5" agree.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
