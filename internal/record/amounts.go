package record

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount interprets a numeric-looking text field for display
// arithmetic. Thousands separators are tolerated. The stored text is
// never rewritten from the parsed value.
func ParseAmount(s string) (decimal.Decimal, bool) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if cleaned == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ComputedTotal returns quantity x unit_price for display. ok is false
// when either operand is not numeric.
func (li LineItem) ComputedTotal() (string, bool) {
	qty, ok := ParseAmount(li.Quantity)
	if !ok {
		return "", false
	}
	price, ok := ParseAmount(li.UnitPrice)
	if !ok {
		return "", false
	}
	return qty.Mul(price).String(), true
}

// LineItemsTotal sums the line totals for display, falling back to the
// computed quantity x unit_price for rows whose stated total is not
// numeric. ok is false when no row contributed a value.
func (inv *Invoice) LineItemsTotal() (string, bool) {
	sum := decimal.Zero
	contributed := false
	for _, li := range inv.LineItems {
		if d, ok := ParseAmount(li.LineTotal); ok {
			sum = sum.Add(d)
			contributed = true
			continue
		}
		if s, ok := li.ComputedTotal(); ok {
			d, _ := ParseAmount(s)
			sum = sum.Add(d)
			contributed = true
		}
	}
	if !contributed {
		return "", false
	}
	return sum.String(), true
}
