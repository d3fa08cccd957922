package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	"futuresbot/src/model"
)

// NormalizeSymbol upper-cases a symbol and maps a bare USD quote onto USDT.
//
//	btcusdt -> BTCUSDT
//	ETHUSD  -> ETHUSDT
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" || strings.HasSuffix(s, "USDT") {
		return s
	}
	if strings.HasSuffix(s, "USD") {
		return strings.TrimSuffix(s, "USD") + "USDT"
	}
	return s
}

// ParseQuantity parses a strictly positive quantity.
func ParseQuantity(field, v string) (decimal.Decimal, error) {
	q, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, model.Rejected("input", field+" is not a number: "+v)
	}
	if !q.IsPositive() {
		return decimal.Zero, model.Rejected("input", field+" must be positive")
	}
	return q, nil
}

// ParsePrice is ParseQuantity for prices.
func ParsePrice(field, v string) (decimal.Decimal, error) {
	return ParseQuantity(field, v)
}
