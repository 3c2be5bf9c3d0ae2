// Package payment holds the payment provider adapters and webhook signing.
package payment

import (
	"fmt"

	"zapis/internal/domain"

	"github.com/shopspring/decimal"
)

var minorUnit = decimal.NewFromInt(100)

// ToMinor converts an amount to provider minor units (satang, cents).
func ToMinor(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount.String())
	}
	return amount.Mul(minorUnit).Round(0).IntPart(), nil
}

func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
