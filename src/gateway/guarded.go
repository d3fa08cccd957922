package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"futuresbot/src/model"
	"futuresbot/src/ratelimit"
)

// Guarded puts every call of the wrapped gateway through the shared rate gate and retries
// rate-limit rejections. Other errors pass through untouched.
type Guarded struct {
	inner   ExchangeGateway
	gate    *ratelimit.Gate
	retries int
}

func NewGuarded(inner ExchangeGateway, gate *ratelimit.Gate, retries int) *Guarded {
	if retries < 0 {
		retries = 0
	}
	return &Guarded{inner: inner, gate: gate, retries: retries}
}

func (g *Guarded) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return guard(ctx, g, "gateway.get_price", func(ctx context.Context) (decimal.Decimal, error) {
		return g.inner.GetPrice(ctx, symbol)
	})
}

func (g *Guarded) PlaceOrder(ctx context.Context, intent model.OrderIntent) (model.OrderRecord, error) {
	return guard(ctx, g, "gateway.place_order", func(ctx context.Context) (model.OrderRecord, error) {
		return g.inner.PlaceOrder(ctx, intent)
	})
}

func (g *Guarded) CancelOrder(ctx context.Context, ref model.OrderRef) (model.OrderRecord, error) {
	return guard(ctx, g, "gateway.cancel_order", func(ctx context.Context) (model.OrderRecord, error) {
		return g.inner.CancelOrder(ctx, ref)
	})
}

func (g *Guarded) GetOrderStatus(ctx context.Context, ref model.OrderRef) (model.OrderRecord, error) {
	return guard(ctx, g, "gateway.get_order_status", func(ctx context.Context) (model.OrderRecord, error) {
		return g.inner.GetOrderStatus(ctx, ref)
	})
}

// Do runs any other exchange call through the gate.
func (g *Guarded) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := guard(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func guard[T any](ctx context.Context, g *Guarded, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		if err := g.gate.Acquire(ctx); err != nil {
			return zero, model.NetworkError(op, err)
		}

		v, err := fn(ctx)
		if !errors.Is(err, model.ErrRateLimited) {
			g.gate.Success()
			return v, err
		}

		g.gate.Penalize()
		if attempt >= g.retries {
			return zero, model.NetworkError(op, err)
		}
	}
}
