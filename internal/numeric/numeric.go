// Package numeric converts between floating values and the gateway's
// integer fixed-point wire encoding.
package numeric

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// PriceExp is the scale exponent for prices and ratios (x1000).
	PriceExp int32 = 3
	// QuoteExp is the scale exponent for high precision quote fields (x10^9).
	QuoteExp int32 = 9
)

// ToWire scales v by 10^exp and rounds half away from zero to an integer
// string. Conversion starts from the shortest decimal form of v, so 10.55
// encodes as "10550".
func ToWire(v float64, exp int32) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("numeric: non-finite value %v", v)
	}
	return decimal.NewFromFloat(v).Shift(exp).Round(0).String(), nil
}

// FromWire parses an integer (or decimal) wire string and divides it by 10^exp.
// An empty string decodes as zero.
func FromWire(raw string, exp int32) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("numeric: parse %q: %w", raw, err)
	}
	return d.Shift(-exp).InexactFloat64(), nil
}

// PriceToWire encodes a price or ratio at scale 1000.
func PriceToWire(v float64) (string, error) {
	return ToWire(v, PriceExp)
}

// WireToPrice decodes a scale 1000 wire value.
func WireToPrice(raw string) (float64, error) {
	return FromWire(raw, PriceExp)
}

// QuoteToWire encodes a quote field at scale 10^9.
func QuoteToWire(v float64) (string, error) {
	return ToWire(v, QuoteExp)
}

// WireToQuote decodes a scale 10^9 wire value.
func WireToQuote(raw string) (float64, error) {
	return FromWire(raw, QuoteExp)
}

// OptionalPriceToWire encodes an optional filter value; nil encodes as "".
func OptionalPriceToWire(v *float64) (string, error) {
	if v == nil {
		return "", nil
	}
	return PriceToWire(*v)
}

// Round rounds v half away from zero to the given number of decimal places.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
