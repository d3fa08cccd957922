package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"futuresbot/src/model"
	"futuresbot/src/risk"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeClock either advances itself on every After call (auto) or waits for Advance.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	auto    bool
	waiters []fakeWaiter
	blocked chan struct{}
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func newAutoClock() *fakeClock {
	return &fakeClock{now: t0, auto: true}
}

func newManualClock() *fakeClock {
	return &fakeClock{now: t0, blocked: make(chan struct{}, 16)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(dur time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if c.auto || dur <= 0 {
		if dur > 0 {
			c.now = c.now.Add(dur)
		}
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(dur), ch: ch})
	select {
	case c.blocked <- struct{}{}:
	default:
	}
	return ch
}

func (c *fakeClock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(dur)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

type placement struct {
	intent model.OrderIntent
	at     time.Time
	id     int64
}

// fakeGateway is an in-memory exchange. Market orders fill at the current price on placement,
// everything else rests until the test fills it.
type fakeGateway struct {
	mu       sync.Mutex
	clock    Clock
	price    func(placed int) decimal.Decimal
	priceErr error
	placeErr  func(attempt int, intent model.OrderIntent) error
	cancelErr func(id int64) error
	onStatus  func(call int)

	calls       int
	nextID      int64
	attempts    int
	statusCalls int
	orders      map[int64]*model.OrderRecord
	placed      []placement
	canceled    []int64
}

func newFakeGateway(clock Clock, price decimal.Decimal) *fakeGateway {
	return &fakeGateway{
		clock:  clock,
		price:  func(int) decimal.Decimal { return price },
		orders: map[int64]*model.OrderRecord{},
	}
}

func (g *fakeGateway) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.priceErr != nil {
		return decimal.Zero, g.priceErr
	}
	return g.price(len(g.placed)), nil
}

func (g *fakeGateway) PlaceOrder(_ context.Context, intent model.OrderIntent) (model.OrderRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	attempt := g.attempts
	g.attempts++
	if g.placeErr != nil {
		if err := g.placeErr(attempt, intent); err != nil {
			return model.OrderRecord{}, err
		}
	}

	g.nextID++
	now := g.clock.Now()
	rec := &model.OrderRecord{
		ExchangeOrderID: g.nextID,
		ClientOrderID:   fmt.Sprintf("fb-test-%d", g.nextID),
		Intent:          intent,
		Status:          model.OrderStatusNew,
		SubmittedAt:     now,
		LastUpdateAt:    now,
	}
	if intent.Kind == model.KindMarket {
		rec.Status = model.OrderStatusFilled
		rec.FilledQty = intent.Quantity
		rec.AvgPrice = g.price(len(g.placed))
	}
	g.orders[rec.ExchangeOrderID] = rec
	g.placed = append(g.placed, placement{intent: intent, at: now, id: rec.ExchangeOrderID})
	return *rec, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, ref model.OrderRef) (model.OrderRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.cancelErr != nil {
		if err := g.cancelErr(ref.OrderID); err != nil {
			return model.OrderRecord{}, err
		}
	}
	rec, ok := g.orders[ref.OrderID]
	if !ok {
		return model.OrderRecord{}, fmt.Errorf("fake: %w: %d", model.ErrOrderNotFound, ref.OrderID)
	}
	switch rec.Status {
	case model.OrderStatusFilled:
		return *rec, fmt.Errorf("fake: %w: %d", model.ErrAlreadyFilled, ref.OrderID)
	case model.OrderStatusCanceled, model.OrderStatusExpired, model.OrderStatusRejected:
		return *rec, fmt.Errorf("fake: %w: %d is %s", model.ErrOrderNotFound, ref.OrderID, rec.Status)
	}
	rec.Status = model.OrderStatusCanceled
	rec.LastUpdateAt = g.clock.Now()
	g.canceled = append(g.canceled, ref.OrderID)
	return *rec, nil
}

func (g *fakeGateway) GetOrderStatus(_ context.Context, ref model.OrderRef) (model.OrderRecord, error) {
	g.mu.Lock()
	g.calls++
	g.statusCalls++
	call := g.statusCalls
	hook := g.onStatus
	g.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.orders[ref.OrderID]
	if !ok {
		return model.OrderRecord{}, fmt.Errorf("fake: %w: %d", model.ErrOrderNotFound, ref.OrderID)
	}
	return *rec, nil
}

// fill marks an order fully filled at its limit price, or at price when given.
func (g *fakeGateway) fill(id int64, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.orders[id]
	rec.Status = model.OrderStatusFilled
	rec.FilledQty = rec.Intent.Quantity
	rec.AvgPrice = rec.Intent.Price
	if price.IsPositive() {
		rec.AvgPrice = price
	}
	rec.LastUpdateAt = g.clock.Now()
}

// expire ends a resting order without a fill.
func (g *fakeGateway) expire(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.orders[id]
	rec.Status = model.OrderStatusExpired
	rec.LastUpdateAt = g.clock.Now()
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGateway) placements() []placement {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]placement(nil), g.placed...)
}

func (g *fakeGateway) cancels() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.canceled...)
}

func (g *fakeGateway) order(id int64) model.OrderRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.orders[id]
}

// recordingSink keeps every event.
type recordingSink struct {
	mu     sync.Mutex
	events []model.StrategyEvent
}

func (s *recordingSink) Record(_ context.Context, ev model.StrategyEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) transitionsTo(entityPrefix, to string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.To == to && len(ev.Entity) >= len(entityPrefix) && ev.Entity[:len(entityPrefix)] == entityPrefix {
			n++
		}
	}
	return n
}

func testLimits() risk.Limits {
	return risk.Limits{
		MinOrderSize:      d("0.001"),
		MaxPositionSize:   d("10000"),
		MaxOpenPositions:  5,
		DefaultLeverage:   1,
		QuoteAsset:        "USDT",
		QuantityPrecision: 3,
		PricePrecision:    1,
	}
}

func testEnv(gw *fakeGateway, clock Clock, sink *recordingSink) Env {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return Env{
		Gateway:       gw,
		Limits:        testLimits(),
		Events:        sink,
		Clock:         clock,
		Log:           logrus.NewEntry(log),
		PollInterval:  time.Second,
		ShutdownGrace: time.Second,
	}
}
