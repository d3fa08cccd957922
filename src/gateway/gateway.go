package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"futuresbot/src/model"
)

// ExchangeGateway is the only contact with the exchange.
//
// Errors carry model error kinds: GetPrice fails with network errors or model.ErrSymbolNotFound,
// PlaceOrder with exchange rejections or network errors, CancelOrder with model.ErrAlreadyFilled,
// model.ErrOrderNotFound or network errors, GetOrderStatus with model.ErrOrderNotFound or network
// errors.
type ExchangeGateway interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, intent model.OrderIntent) (model.OrderRecord, error)
	CancelOrder(ctx context.Context, ref model.OrderRef) (model.OrderRecord, error)
	GetOrderStatus(ctx context.Context, ref model.OrderRef) (model.OrderRecord, error)
}
