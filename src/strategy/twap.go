package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"futuresbot/src/model"
	"futuresbot/src/risk"
)

type TwapState string

const (
	TwapScheduled TwapState = "SCHEDULED"
	TwapRunning   TwapState = "RUNNING"
	TwapCompleted TwapState = "COMPLETED"
	TwapAborted   TwapState = "ABORTED"
)

// maxDefaultChunks caps the chunk count derived from the duration.
const maxDefaultChunks = 20

// TwapParams describes a time sliced order. A positive LimitPrice sends LIMIT GTC children
// instead of market orders.
type TwapParams struct {
	Symbol     string
	Side       model.Side
	Quantity   decimal.Decimal
	Duration   time.Duration
	Chunks     int
	LimitPrice decimal.Decimal
}

// ChildOrder is one scheduled slice: it ships Offset after the plan starts.
type ChildOrder struct {
	Index    int
	Offset   time.Duration
	Quantity decimal.Decimal
	Record   *model.OrderRecord
	Err      error
}

// TwapPlan is the schedule consumed by the run loop, in strictly increasing offset order.
type TwapPlan struct {
	Params   TwapParams
	Interval time.Duration
	Children []ChildOrder
}

// DefaultChunks is one chunk per minute of duration, between 1 and 20.
func DefaultChunks(d time.Duration) int {
	n := int(d / time.Minute)
	if n > maxDefaultChunks {
		n = maxDefaultChunks
	}
	if n < 1 {
		n = 1
	}
	return n
}

// BuildSchedule splits total into n equal chunks truncated to the quantity precision. The last
// chunk absorbs the remainder so the chunks sum to total exactly.
func BuildSchedule(total decimal.Decimal, duration time.Duration, n int, limits risk.Limits) (TwapPlan, error) {
	const op = "twap"
	switch {
	case n <= 0:
		return TwapPlan{}, model.ConfigError(op, "chunk count must be positive, got %d", n)
	case duration <= 0:
		return TwapPlan{}, model.ConfigError(op, "duration must be positive, got %s", duration)
	case !total.IsPositive():
		return TwapPlan{}, model.ConfigError(op, "quantity must be positive")
	}

	chunk := limits.TruncateQuantity(total.Div(decimal.NewFromInt(int64(n))))
	if !chunk.IsPositive() || chunk.LessThan(limits.MinOrderSize) {
		return TwapPlan{}, model.ConfigError(op, "chunk size %s is below minimum order size %s", chunk, limits.MinOrderSize)
	}

	interval := duration / time.Duration(n)
	plan := TwapPlan{Interval: interval, Children: make([]ChildOrder, n)}
	rest := total
	for i := 0; i < n; i++ {
		qty := chunk
		if i == n-1 {
			qty = rest
		}
		rest = rest.Sub(qty)
		plan.Children[i] = ChildOrder{Index: i, Offset: time.Duration(i) * interval, Quantity: qty}
	}
	return plan, nil
}

// TWAP ships the children of a plan at their offsets and waits for all of them to finish.
type TWAP struct {
	s    *session
	plan TwapPlan

	mu    sync.Mutex
	state TwapState
}

func NewTWAP(env Env, runID string, p TwapParams) (*TWAP, error) {
	if err := risk.CheckSymbol(p.Symbol, env.Limits); err != nil {
		return nil, err
	}
	if p.Chunks == 0 && p.Duration > 0 {
		p.Chunks = DefaultChunks(p.Duration)
	}
	plan, err := BuildSchedule(p.Quantity, p.Duration, p.Chunks, env.Limits)
	if err != nil {
		return nil, err
	}
	if p.LimitPrice.IsPositive() {
		p.LimitPrice = env.Limits.RoundPrice(p.LimitPrice)
	}
	plan.Params = p
	return &TWAP{s: newSession(env, runID, KindTWAP, p.Symbol), plan: plan, state: TwapScheduled}, nil
}

func (t *TWAP) Kind() Kind       { return KindTWAP }
func (t *TWAP) Symbol() string   { return t.plan.Params.Symbol }
func (t *TWAP) Summary() Summary { return t.s.summary() }
func (t *TWAP) Plan() TwapPlan   { return t.plan }

func (t *TWAP) State() TwapState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *TWAP) setState(ctx context.Context, to TwapState, msg string) {
	t.mu.Lock()
	from := t.state
	t.state = to
	t.mu.Unlock()
	if from != to {
		t.s.event(ctx, "plan", string(from), string(to), 0, msg)
	}
}

func (t *TWAP) Run(ctx context.Context) error {
	p := t.plan.Params
	start := t.s.env.Clock.Now()
	t.setState(ctx, TwapRunning, fmt.Sprintf("%d chunks every %s", len(t.plan.Children), t.plan.Interval))

	f := t.s.subscribe()
	defer f.stop()

	var placed int
	var networkFailures int
	for i := range t.plan.Children {
		child := &t.plan.Children[i]
		if err := t.sleepUntil(ctx, f, start.Add(child.Offset)); err != nil {
			return t.interrupted(ctx, i)
		}

		err := t.submit(ctx, child)
		if err == nil {
			placed++
			continue
		}
		child.Err = err
		if ctx.Err() != nil {
			return t.interrupted(ctx, i+1)
		}
		if model.KindOf(err) == model.KindNetwork {
			networkFailures++
		}
		t.s.log.WithError(err).WithField("chunk", i+1).Warn("TWAP chunk failed")
		if t.s.env.Strict {
			t.setState(ctx, TwapAborted, fmt.Sprintf("chunk %d failed: %v", i+1, err))
			if placed == 0 {
				return escalate("twap", err, false)
			}
			return model.PartialFailure("twap", fmt.Sprintf("aborted at chunk %d of %d", i+1, len(t.plan.Children)), err)
		}
	}

	if err := t.awaitChildren(ctx, f); err != nil {
		return t.interrupted(ctx, len(t.plan.Children))
	}
	t.setState(ctx, TwapCompleted, fmt.Sprintf("%d of %d chunks placed", placed, len(t.plan.Children)))

	switch {
	case placed == 0:
		first := t.plan.Children[0].Err
		return &model.Error{Kind: model.KindOf(escalate("twap", first, false)), Op: "twap", Reason: "no chunk was placed", Err: first}
	case networkFailures > 0:
		return model.PartialFailure("twap", fmt.Sprintf("%d chunks lost to network failures", networkFailures), nil)
	}
	t.s.succeed(fmt.Sprintf("twap %s %s in %d chunks", p.Side, p.Quantity, placed))
	return nil
}

func (t *TWAP) submit(ctx context.Context, child *ChildOrder) error {
	p := t.plan.Params
	intent := model.OrderIntent{
		Symbol:   p.Symbol,
		Side:     p.Side,
		Kind:     model.KindMarket,
		Quantity: child.Quantity,
	}
	ref := p.LimitPrice
	if p.LimitPrice.IsPositive() {
		intent.Kind = model.KindLimit
		intent.Price = p.LimitPrice
		intent.TimeInForce = model.TimeInForceGTC
	} else {
		price, err := t.s.env.Gateway.GetPrice(ctx, p.Symbol)
		if err != nil {
			t.s.reject(fmt.Sprintf("chunk %d: %v", child.Index+1, err))
			return err
		}
		ref = price
	}

	if err := t.s.validate(ctx, intent, ref); err != nil {
		t.s.reject(fmt.Sprintf("chunk %d: %v", child.Index+1, err))
		return err
	}
	rec, err := t.s.place(ctx, fmt.Sprintf("chunk-%d", child.Index+1), intent)
	if err != nil {
		return err
	}
	child.Record = &rec
	return nil
}

// sleepUntil waits for the next offset, applying pushed updates meanwhile.
func (t *TWAP) sleepUntil(ctx context.Context, f *feed, at time.Time) error {
	for {
		d := at.Sub(t.s.env.Clock.Now())
		if d <= 0 {
			return ctx.Err()
		}
		upd, err := t.s.wait(ctx, f, d)
		if err != nil {
			return err
		}
		if upd != nil {
			t.applyPush(ctx, *upd)
		}
	}
}

func (t *TWAP) applyPush(ctx context.Context, upd model.OrderRecord) {
	for i := range t.plan.Children {
		child := &t.plan.Children[i]
		if child.Record != nil && child.Record.ExchangeOrderID == upd.ExchangeOrderID {
			if _, err := t.s.apply(ctx, fmt.Sprintf("chunk-%d", i+1), child.Record, upd); err != nil {
				t.s.log.WithError(err).Error("Rejected chunk update")
			}
			return
		}
	}
}

func (t *TWAP) pending() []*ChildOrder {
	var out []*ChildOrder
	for i := range t.plan.Children {
		child := &t.plan.Children[i]
		if child.Record != nil && !child.Record.Status.IsTerminal() {
			out = append(out, child)
		}
	}
	return out
}

// awaitChildren polls until every placed child is terminal.
func (t *TWAP) awaitChildren(ctx context.Context, f *feed) error {
	for len(t.pending()) > 0 {
		upd, err := t.s.wait(ctx, f, t.s.env.PollInterval)
		if err != nil {
			return err
		}
		if upd != nil {
			t.applyPush(ctx, *upd)
			continue
		}
		for _, child := range t.pending() {
			if _, err := t.s.refresh(ctx, fmt.Sprintf("chunk-%d", child.Index+1), child.Record); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				t.s.log.WithError(err).WithField("chunk", child.Index+1).Warn("Chunk status poll failed")
			}
		}
	}
	return nil
}

// interrupted stops the plan after a cancel. Filled quantity is kept; resting limit children are
// canceled.
func (t *TWAP) interrupted(ctx context.Context, shipped int) error {
	cctx, cancel := t.s.cleanupContext(ctx)
	defer cancel()
	for _, child := range t.pending() {
		if err := t.s.cancel(cctx, fmt.Sprintf("chunk-%d", child.Index+1), child.Record); err != nil {
			t.s.fail(fmt.Sprintf("cancel chunk %d order %d: %v", child.Index+1, child.Record.ExchangeOrderID, err))
		}
	}
	t.setState(ctx, TwapAborted, fmt.Sprintf("canceled after %d of %d chunks", shipped, len(t.plan.Children)))
	return nil
}
