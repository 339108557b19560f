package market

import "fmt"

// InstrumentType distinguishes USDT-quoted spot pairs from USDT-margined
// perpetual futures.
type InstrumentType string

const (
	Spot      InstrumentType = "spot"
	FuturesUM InstrumentType = "futures-um"
)

// ParseInstrumentType validates an instrument type token.
func ParseInstrumentType(s string) (InstrumentType, error) {
	switch InstrumentType(s) {
	case Spot:
		return Spot, nil
	case FuturesUM:
		return FuturesUM, nil
	}
	return "", fmt.Errorf("%w: unsupported instrument type %q", ErrInvalidInput, s)
}

func (it InstrumentType) String() string { return string(it) }

// MarketPath returns the {market} segment of data.binance.vision URLs.
func (it InstrumentType) MarketPath() string {
	if it == FuturesUM {
		return "futures/um"
	}
	return "spot"
}

// DataSource tags where a stored row came from.
type DataSource string

const (
	SourceCloudfront DataSource = "cloudfront"
	SourceRESTAPI    DataSource = "rest_api"
	SourceValidation DataSource = "binance_cdn_validation"
)
