package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OHLCVStrings carries the numeric fields of one row exactly as the source
// printed them. Validating on the source text avoids float rounding at the
// comparison boundary.
type OHLCVStrings struct {
	Open          string
	High          string
	Low           string
	Close         string
	Volume        string
	QuoteVolume   string
	TakerBuyBase  string
	TakerBuyQuote string
}

// ValidateOHLCV checks the row invariants:
//
//	high >= max(open, close, low), low <= min(open, close, high),
//	volume >= 0, taker_buy_base <= volume, taker_buy_quote <= quote_volume.
func ValidateOHLCV(row OHLCVStrings) error {
	open, err := decimal.NewFromString(row.Open)
	if err != nil {
		return fmt.Errorf("%w: invalid open %q", ErrInvariant, row.Open)
	}
	high, err := decimal.NewFromString(row.High)
	if err != nil {
		return fmt.Errorf("%w: invalid high %q", ErrInvariant, row.High)
	}
	low, err := decimal.NewFromString(row.Low)
	if err != nil {
		return fmt.Errorf("%w: invalid low %q", ErrInvariant, row.Low)
	}
	close, err := decimal.NewFromString(row.Close)
	if err != nil {
		return fmt.Errorf("%w: invalid close %q", ErrInvariant, row.Close)
	}
	volume, err := decimal.NewFromString(row.Volume)
	if err != nil {
		return fmt.Errorf("%w: invalid volume %q", ErrInvariant, row.Volume)
	}

	if high.LessThan(open) || high.LessThan(close) || high.LessThan(low) {
		return fmt.Errorf("%w: high %s below open/close/low", ErrInvariant, high)
	}
	if low.GreaterThan(open) || low.GreaterThan(close) {
		return fmt.Errorf("%w: low %s above open/close", ErrInvariant, low)
	}
	if volume.IsNegative() {
		return fmt.Errorf("%w: negative volume %s", ErrInvariant, volume)
	}

	if row.TakerBuyBase != "" {
		takerBase, err := decimal.NewFromString(row.TakerBuyBase)
		if err != nil {
			return fmt.Errorf("%w: invalid taker_buy_base %q", ErrInvariant, row.TakerBuyBase)
		}
		if takerBase.GreaterThan(volume) {
			return fmt.Errorf("%w: taker_buy_base %s exceeds volume %s", ErrInvariant, takerBase, volume)
		}
	}
	if row.TakerBuyQuote != "" && row.QuoteVolume != "" {
		takerQuote, err := decimal.NewFromString(row.TakerBuyQuote)
		if err != nil {
			return fmt.Errorf("%w: invalid taker_buy_quote %q", ErrInvariant, row.TakerBuyQuote)
		}
		quoteVol, err := decimal.NewFromString(row.QuoteVolume)
		if err != nil {
			return fmt.Errorf("%w: invalid quote_asset_volume %q", ErrInvariant, row.QuoteVolume)
		}
		if takerQuote.GreaterThan(quoteVol) {
			return fmt.Errorf("%w: taker_buy_quote %s exceeds quote volume %s", ErrInvariant, takerQuote, quoteVol)
		}
	}
	return nil
}
