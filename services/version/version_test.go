package version

import (
	"testing"
	"time"

	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
)

// Golden values pin the hash contract across releases: same logical candle,
// same _version, everywhere.
func TestComputeGoldenValues(t *testing.T) {
	cases := []struct {
		name   string
		tsMs   int64
		ohlcv  [5]float64
		symbol string
		tf     market.Timeframe
		inst   market.InstrumentType
		want   uint64
	}{
		{
			name: "spot BTCUSDT 1h", tsMs: 1704067200000,
			ohlcv:  [5]float64{42000.5, 42100, 41900, 42050.25, 100.5},
			symbol: "BTCUSDT", tf: market.Timeframe1h, inst: market.Spot,
			want: 7545347742424175413,
		},
		{
			name: "same payload futures", tsMs: 1704067200000,
			ohlcv:  [5]float64{42000.5, 42100, 41900, 42050.25, 100.5},
			symbol: "BTCUSDT", tf: market.Timeframe1h, inst: market.FuturesUM,
			want: 752489325889319583,
		},
		{
			name: "same payload other symbol", tsMs: 1704067200000,
			ohlcv:  [5]float64{42000.5, 42100, 41900, 42050.25, 100.5},
			symbol: "ETHUSDT", tf: market.Timeframe1h, inst: market.Spot,
			want: 3604751947392016364,
		},
		{
			name: "integral floats render without fraction", tsMs: 1704070800000,
			ohlcv:  [5]float64{1, 1, 1, 1, 0},
			symbol: "BTCUSDT", tf: market.Timeframe1m, inst: market.Spot,
			want: 11838468381858563561,
		},
	}
	for _, tc := range cases {
		got := Compute(tc.tsMs, tc.ohlcv[0], tc.ohlcv[1], tc.ohlcv[2], tc.ohlcv[3], tc.ohlcv[4], tc.symbol, tc.tf, tc.inst)
		if got != tc.want {
			t.Fatalf("%s: Compute = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestComputeSourcePrecisionIndependent(t *testing.T) {
	// The archive path parses "42000.50000000" and the REST path parses
	// "42000.5"; both land on the same float64 and the same hash.
	a := Compute(1704067200000, 42000.50000000, 42100.0, 41900.0, 42050.25, 100.5,
		"BTCUSDT", market.Timeframe1h, market.Spot)
	b := Compute(1704067200000, 42000.5, 42100, 41900, 42050.25, 100.5,
		"BTCUSDT", market.Timeframe1h, market.Spot)
	if a != b {
		t.Fatalf("precision of the source text leaked into the hash: %d != %d", a, b)
	}
}

func TestComputeContentSensitivity(t *testing.T) {
	base := Compute(1704067200000, 1, 2, 0.5, 1.5, 10, "BTCUSDT", market.Timeframe1h, market.Spot)
	mutations := []uint64{
		Compute(1704067200001, 1, 2, 0.5, 1.5, 10, "BTCUSDT", market.Timeframe1h, market.Spot),
		Compute(1704067200000, 1.1, 2, 0.5, 1.5, 10, "BTCUSDT", market.Timeframe1h, market.Spot),
		Compute(1704067200000, 1, 2, 0.5, 1.5, 10.1, "BTCUSDT", market.Timeframe1h, market.Spot),
		Compute(1704067200000, 1, 2, 0.5, 1.5, 10, "BTCUSDT", market.Timeframe2h, market.Spot),
		Compute(1704067200000, 1, 2, 0.5, 1.5, 10, "BTCUSDT", market.Timeframe1h, market.FuturesUM),
	}
	for i, m := range mutations {
		if m == base {
			t.Fatalf("mutation %d did not change the hash", i)
		}
	}
}

func TestStamp(t *testing.T) {
	c := market.Candle{
		Timestamp: time.UnixMilli(1704067200000).UTC(),
		Symbol:    "BTCUSDT", Timeframe: market.Timeframe1h, InstrumentType: market.Spot,
		Open: 42000.5, High: 42100, Low: 41900, Close: 42050.25, Volume: 100.5,
	}
	Stamp(&c)
	if c.Version != 7545347742424175413 {
		t.Fatalf("Stamp version = %d", c.Version)
	}
	if c.Sign != 1 {
		t.Fatalf("Stamp sign = %d, want +1", c.Sign)
	}
}

func TestStampAllDeterministic(t *testing.T) {
	mk := func() []market.Candle {
		return []market.Candle{
			{Timestamp: time.UnixMilli(1704067200000), Symbol: "BTCUSDT", Timeframe: market.Timeframe1h, InstrumentType: market.Spot, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
			{Timestamp: time.UnixMilli(1704070800000), Symbol: "BTCUSDT", Timeframe: market.Timeframe1h, InstrumentType: market.Spot, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 12},
		}
	}
	a, b := mk(), mk()
	StampAll(a)
	StampAll(b)
	for i := range a {
		if a[i].Version != b[i].Version {
			t.Fatalf("row %d: versions diverge", i)
		}
	}
}
