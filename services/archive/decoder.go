// Package archive extracts and normalizes the tabular member of a Binance
// kline zip. Both CSV shapes are auto-detected: the spot 11-column headerless
// dump and the futures 12-column dump with a header row.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
)

// EpochUnit is the integer timestamp resolution found in an archive.
type EpochUnit int

const (
	UnitMilli EpochUnit = iota
	UnitMicro
)

func (u EpochUnit) String() string {
	if u == UnitMicro {
		return "microseconds"
	}
	return "milliseconds"
}

// Transition records a timestamp-resolution switch inside one archive.
type Transition struct {
	RowIndex int
	From     EpochUnit
	To       EpochUnit
}

// RowError is one rejected row in the corruption log.
type RowError struct {
	RowIndex int
	Err      error
}

// Decoded is the normalized table extracted from one archive.
type Decoded struct {
	Candles     []market.Candle
	Corruptions []RowError
	Transitions []Transition
	HasHeader   bool
}

// Decoder turns archive bytes into candles.
type Decoder struct {
	logger *zap.Logger
}

func NewDecoder(logger *zap.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Header column names used by futures archives, after normalization.
var futuresRenames = map[string]string{
	"count":                  "number_of_trades",
	"quote_volume":           "quote_asset_volume",
	"taker_buy_volume":       "taker_buy_base_asset_volume",
	"taker_buy_quote_volume": "taker_buy_quote_asset_volume",
}

// canonicalColumns is the headerless spot order; the futures header maps onto
// the same positions after renaming.
var canonicalColumns = []string{
	"open_time", "open", "high", "low", "close", "volume", "close_time",
	"quote_asset_volume", "number_of_trades",
	"taker_buy_base_asset_volume", "taker_buy_quote_asset_volume", "ignore",
}

// Decode extracts the single tabular member, detects the CSV shape and the
// epoch resolution, validates every row, and stamps provenance. Rejected rows
// land in the corruption log; the archive fails only when rejects outnumber
// accepts.
func (d *Decoder) Decode(data []byte, symbol string, tf market.Timeframe, inst market.InstrumentType, source market.DataSource) (*Decoded, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable zip: %v", market.ErrDecode, err)
	}

	member, err := d.pickMember(reader)
	if err != nil {
		return nil, err
	}

	rc, err := member.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open member %s: %v", market.ErrDecode, member.Name, err)
	}
	defer rc.Close()

	return d.decodeCSV(rc, symbol, tf, inst, source)
}

func (d *Decoder) pickMember(reader *zip.Reader) (*zip.File, error) {
	var tabular []*zip.File
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.HasSuffix(f.Name, ".csv") {
			tabular = append(tabular, f)
		}
	}
	if len(tabular) == 0 {
		return nil, fmt.Errorf("%w: archive has no tabular member", market.ErrDecode)
	}
	if len(tabular) > 1 {
		d.logger.Warn("archive has multiple tabular members, using first",
			zap.String("member", tabular[0].Name),
			zap.Int("count", len(tabular)))
	}
	return tabular[0], nil
}

func (d *Decoder) decodeCSV(r io.Reader, symbol string, tf market.Timeframe, inst market.InstrumentType, source market.DataSource) (*Decoded, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	first, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: empty archive member", market.ErrDecode)
	}

	out := &Decoded{}
	columns, isHeader, err := resolveColumns(first)
	if err != nil {
		return nil, err
	}
	out.HasHeader = isHeader

	rowIndex := 0
	lastUnit := EpochUnit(-1)

	consume := func(record []string) {
		candle, unit, rowErr := d.buildRow(record, columns, symbol, tf, inst, source)
		if rowErr != nil {
			out.Corruptions = append(out.Corruptions, RowError{RowIndex: rowIndex, Err: rowErr})
			rowIndex++
			return
		}
		if lastUnit >= 0 && unit != lastUnit {
			d.logger.Warn("timestamp resolution changed mid-archive",
				zap.Int("row", rowIndex),
				zap.Stringer("from", lastUnit),
				zap.Stringer("to", unit))
			out.Transitions = append(out.Transitions, Transition{RowIndex: rowIndex, From: lastUnit, To: unit})
		}
		lastUnit = unit
		out.Candles = append(out.Candles, *candle)
		rowIndex++
	}

	if !isHeader {
		consume(first)
	}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Corruptions = append(out.Corruptions, RowError{RowIndex: rowIndex, Err: fmt.Errorf("%w: %v", market.ErrDecode, err)})
			rowIndex++
			continue
		}
		consume(record)
	}

	if len(out.Corruptions) > len(out.Candles) {
		return nil, fmt.Errorf("%w: %d of %d rows rejected", market.ErrDecode,
			len(out.Corruptions), len(out.Corruptions)+len(out.Candles))
	}
	return out, nil
}

// resolveColumns maps canonical column names to field positions. A first row
// starting with the open_time literal is the futures header; a headerless row
// whose first field is not a plausible epoch is treated as a header anyway
// and discarded.
func resolveColumns(first []string) (map[string]int, bool, error) {
	if len(first) > 0 && strings.TrimSpace(first[0]) == "open_time" {
		columns := make(map[string]int, len(first))
		for i, name := range first {
			name = strings.TrimSpace(name)
			if renamed, ok := futuresRenames[name]; ok {
				name = renamed
			}
			columns[name] = i
		}
		for _, required := range canonicalColumns[:len(canonicalColumns)-1] {
			if _, ok := columns[required]; !ok {
				return nil, false, fmt.Errorf("%w: header missing column %s", market.ErrDecode, required)
			}
		}
		return columns, true, nil
	}

	columns := make(map[string]int, len(canonicalColumns))
	for i, name := range canonicalColumns {
		columns[name] = i
	}
	if len(first) > 0 {
		if _, _, err := parseEpoch(first[0]); err != nil {
			// Header-detection edge case: implausible first open_time.
			return columns, true, nil
		}
	}
	return columns, false, nil
}

func (d *Decoder) buildRow(record []string, columns map[string]int, symbol string, tf market.Timeframe, inst market.InstrumentType, source market.DataSource) (*market.Candle, EpochUnit, error) {
	field := func(name string) (string, error) {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return "", fmt.Errorf("%w: row missing column %s", market.ErrDecode, name)
		}
		return strings.TrimSpace(record[idx]), nil
	}

	openTimeRaw, err := field("open_time")
	if err != nil {
		return nil, 0, err
	}
	ts, unit, err := parseEpoch(openTimeRaw)
	if err != nil {
		return nil, 0, err
	}

	raw := market.OHLCVStrings{}
	for _, bind := range []struct {
		name string
		dst  *string
	}{
		{"open", &raw.Open}, {"high", &raw.High}, {"low", &raw.Low},
		{"close", &raw.Close}, {"volume", &raw.Volume},
		{"quote_asset_volume", &raw.QuoteVolume},
		{"taker_buy_base_asset_volume", &raw.TakerBuyBase},
		{"taker_buy_quote_asset_volume", &raw.TakerBuyQuote},
	} {
		v, err := field(bind.name)
		if err != nil {
			return nil, 0, err
		}
		*bind.dst = v
	}
	if err := market.ValidateOHLCV(raw); err != nil {
		return nil, 0, err
	}

	tradesRaw, err := field("number_of_trades")
	if err != nil {
		return nil, 0, err
	}
	trades, err := strconv.ParseUint(tradesRaw, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: invalid number_of_trades %q", market.ErrDecode, tradesRaw)
	}

	candle := &market.Candle{
		Timestamp:      ts,
		Symbol:         symbol,
		Timeframe:      tf,
		InstrumentType: inst,
		DataSource:     source,
		CloseTime:      market.StandardizeCloseTime(ts, tf),
		NumberOfTrades: trades,
	}
	for _, bind := range []struct {
		src string
		dst *float64
	}{
		{raw.Open, &candle.Open}, {raw.High, &candle.High},
		{raw.Low, &candle.Low}, {raw.Close, &candle.Close},
		{raw.Volume, &candle.Volume},
		{raw.QuoteVolume, &candle.QuoteAssetVolume},
		{raw.TakerBuyBase, &candle.TakerBuyBaseAssetVolume},
		{raw.TakerBuyQuote, &candle.TakerBuyQuoteAssetVolume},
	} {
		v, err := strconv.ParseFloat(bind.src, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: unparseable numeric %q", market.ErrDecode, bind.src)
		}
		*bind.dst = v
	}
	return candle, unit, nil
}

// parseEpoch classifies an integer timestamp by digit count: 13 digits are
// milliseconds, 16 are microseconds, both in use across Binance history.
// Instants outside 2010..2030 are rejected.
func parseEpoch(s string) (time.Time, EpochUnit, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: non-integer epoch %q", market.ErrDecode, s)
	}

	var ts time.Time
	var unit EpochUnit
	switch len(s) {
	case 13:
		ts, unit = time.UnixMilli(n).UTC(), UnitMilli
	case 16:
		ts, unit = time.UnixMicro(n).UTC(), UnitMicro
	default:
		return time.Time{}, 0, fmt.Errorf("%w: %d-digit epoch %q is neither milliseconds nor microseconds", market.ErrDecode, len(s), s)
	}

	if year := ts.Year(); year < 2010 || year > 2030 {
		return time.Time{}, 0, fmt.Errorf("%w: epoch %q outside 2010..2030", market.ErrDecode, s)
	}
	return ts, unit, nil
}
