package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futuresbot/src/model"
	"futuresbot/src/ratelimit"
)

type flakyGateway struct {
	mu        sync.Mutex
	failures  int
	failWith  error
	calls     int
	lastPrice decimal.Decimal
}

func (f *flakyGateway) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return f.failWith
	}
	return nil
}

func (f *flakyGateway) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := f.next(); err != nil {
		return decimal.Zero, err
	}
	return f.lastPrice, nil
}

func (f *flakyGateway) PlaceOrder(ctx context.Context, intent model.OrderIntent) (model.OrderRecord, error) {
	if err := f.next(); err != nil {
		return model.OrderRecord{}, err
	}
	return model.OrderRecord{ExchangeOrderID: 1, Intent: intent, Status: model.OrderStatusNew}, nil
}

func (f *flakyGateway) CancelOrder(ctx context.Context, ref model.OrderRef) (model.OrderRecord, error) {
	if err := f.next(); err != nil {
		return model.OrderRecord{}, err
	}
	return model.OrderRecord{ExchangeOrderID: ref.OrderID, Status: model.OrderStatusCanceled}, nil
}

func (f *flakyGateway) GetOrderStatus(ctx context.Context, ref model.OrderRef) (model.OrderRecord, error) {
	if err := f.next(); err != nil {
		return model.OrderRecord{}, err
	}
	return model.OrderRecord{ExchangeOrderID: ref.OrderID, Status: model.OrderStatusNew}, nil
}

func fastGate() *ratelimit.Gate {
	return ratelimit.NewGate(1000, 100).WithBackoff(time.Millisecond, 5*time.Millisecond)
}

func TestGuardedRetriesRateLimit(t *testing.T) {
	inner := &flakyGateway{failures: 2, failWith: model.ErrRateLimited, lastPrice: decimal.NewFromInt(120000)}
	g := NewGuarded(inner, fastGate(), 3)

	p, err := g.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(120000)))
	assert.Equal(t, 3, inner.calls)
}

func TestGuardedGivesUpAsNetworkError(t *testing.T) {
	inner := &flakyGateway{failures: 10, failWith: model.ErrRateLimited}
	g := NewGuarded(inner, fastGate(), 2)

	_, err := g.PlaceOrder(context.Background(), model.OrderIntent{Symbol: "BTCUSDT"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNetwork))
	assert.True(t, errors.Is(err, model.ErrRateLimited))
	assert.Equal(t, 3, inner.calls)
}

func TestGuardedDoesNotRetryOtherErrors(t *testing.T) {
	inner := &flakyGateway{failures: 1, failWith: model.ErrAlreadyFilled}
	g := NewGuarded(inner, fastGate(), 5)

	_, err := g.CancelOrder(context.Background(), model.OrderRef{Symbol: "BTCUSDT", OrderID: 9})
	require.ErrorIs(t, err, model.ErrAlreadyFilled)
	assert.Equal(t, 1, inner.calls)
}

func TestGuardedDo(t *testing.T) {
	g := NewGuarded(&flakyGateway{}, fastGate(), 1)
	called := false
	err := g.Do(context.Background(), "leverage", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
