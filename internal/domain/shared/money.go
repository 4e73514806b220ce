package shared

import "github.com/shopspring/decimal"

// MinorUnitExponent is the number of decimal places in one major unit
const MinorUnitExponent = 2

// FormatMinorUnits renders an integer minor-unit amount for display, e.g. 4000 -> "40.00"
func FormatMinorUnits(amount int64) string {
	return decimal.New(amount, -MinorUnitExponent).StringFixed(MinorUnitExponent)
}
