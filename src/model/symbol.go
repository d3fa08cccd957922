package model

import "github.com/shopspring/decimal"

// SymbolInfo holds the trading filters of a futures symbol.
type SymbolInfo struct {
	Symbol            string
	QuoteAsset        string
	Status            string
	PricePrecision    int32
	QuantityPrecision int32
	TickSize          decimal.Decimal
	StepSize          decimal.Decimal
	MinQty            decimal.Decimal
}
