package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/coachpo/cntrade/internal/numeric"
)

// priceNumeric converts a gateway price into a NUMERIC at the wire scale.
func priceNumeric(value float64) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	text := decimal.NewFromFloat(value).Round(numeric.PriceExp).StringFixed(numeric.PriceExp)
	if err := out.Scan(text); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", text, err)
	}
	return out, nil
}

// priceFloat converts a NUMERIC column back into a price.
func priceFloat(value pgtype.Numeric) (float64, error) {
	if !value.Valid {
		return 0, nil
	}
	f, err := value.Float64Value()
	if err != nil {
		return 0, fmt.Errorf("numeric to float: %w", err)
	}
	return f.Float64, nil
}
