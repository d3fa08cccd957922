package risk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"futuresbot/src/model"
)

// Limits are the configured trading limits. They are built once at startup and never change.
type Limits struct {
	MinOrderSize      decimal.Decimal
	MaxPositionSize   decimal.Decimal // max notional in quote asset
	MaxOpenPositions  int
	DefaultLeverage   int
	QuoteAsset        string
	QuantityPrecision int32
	PricePrecision    int32
}

// Exposure is the account state the position check needs.
type Exposure struct {
	OpenPositions int
	// SymbolOpen is true when the intent's symbol already has a position, so placing does not
	// open a new one.
	SymbolOpen bool
}

const op = "risk.validate"

// Validate runs the pre-trade checks in order and stops at the first failure:
// minimum size, maximum notional, open position count, symbol format.
// refPrice is used for the notional when the intent has no limit price.
func Validate(intent model.OrderIntent, refPrice decimal.Decimal, exposure Exposure, limits Limits) error {
	if intent.Quantity.LessThan(limits.MinOrderSize) {
		return model.Rejected(op, fmt.Sprintf("quantity %s below minimum order size %s", intent.Quantity, limits.MinOrderSize))
	}

	price := refPrice
	if intent.HasPrice() {
		price = intent.Price
	}
	if !price.IsPositive() {
		return model.Rejected(op, "no reference price to compute notional")
	}
	notional := intent.Quantity.Mul(price)
	if notional.GreaterThan(limits.MaxPositionSize) {
		return model.Rejected(op, fmt.Sprintf("notional %s exceeds max position size %s", notional.StringFixed(2), limits.MaxPositionSize))
	}

	if !intent.ReduceOnly && !exposure.SymbolOpen && exposure.OpenPositions+1 > limits.MaxOpenPositions {
		return model.Rejected(op, fmt.Sprintf("would exceed max open positions (%d open, max %d)", exposure.OpenPositions, limits.MaxOpenPositions))
	}

	return CheckSymbol(intent.Symbol, limits)
}

// CheckSymbol rejects a symbol that is not BASE followed by the configured quote asset.
func CheckSymbol(symbol string, limits Limits) error {
	if !ValidSymbol(symbol, limits.QuoteAsset) {
		return model.Rejected(op, fmt.Sprintf("invalid symbol %q, expected BASE%s", symbol, limits.quote()))
	}
	return nil
}

func (l Limits) quote() string {
	if l.QuoteAsset == "" {
		return "USDT"
	}
	return strings.ToUpper(l.QuoteAsset)
}

var usdtSymbol = regexp.MustCompile(`^[A-Z]{2,10}USDT$`)

// ValidSymbol checks a 2 to 10 letter base asset followed by the quote asset.
func ValidSymbol(symbol, quote string) bool {
	quote = strings.ToUpper(quote)
	if quote == "" || quote == "USDT" {
		return usdtSymbol.MatchString(symbol)
	}
	return regexp.MustCompile("^[A-Z]{2,10}" + regexp.QuoteMeta(quote) + "$").MatchString(symbol)
}

// TruncateQuantity cuts a quantity down to the configured step precision.
func (l Limits) TruncateQuantity(q decimal.Decimal) decimal.Decimal {
	return q.Truncate(l.QuantityPrecision)
}

// RoundPrice rounds a price to the configured tick precision.
func (l Limits) RoundPrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(l.PricePrecision)
}
