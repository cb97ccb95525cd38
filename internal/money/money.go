// Package money converts boundary amounts into integer minor units.
// All monetary math elsewhere in the service is integer cents; conversion
// from the decimal form happens exactly once, here.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var ErrNotPositive = errors.New("amount must be positive")

// Decimal accepts a JSON number or a JSON string holding a decimal value.
// Clients send both shapes; the distinction carries no meaning.
type Decimal string

func (d *Decimal) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = Decimal(s)
		return nil
	}
	*d = Decimal(b)
	return nil
}

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// ToCents parses a decimal amount string (e.g. "64.99") and returns it in
// minor units, rounding half up. "64.999" becomes 6500, never 6499.
func ToCents(amount string) (int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	cents := d.Shift(2).Round(0)
	if !cents.IsPositive() {
		return 0, ErrNotPositive
	}
	if !cents.IsInteger() {
		// Round(0) always yields an integer; guard against regression.
		return 0, fmt.Errorf("amount %q did not round to integer cents", amount)
	}
	return int(cents.IntPart()), nil
}

// ValidCurrency reports whether code is a 3-letter uppercase currency code.
func ValidCurrency(code string) bool {
	return currencyRe.MatchString(code)
}
