package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"futuresbot/src/model"
	"futuresbot/src/risk"
)

// MarketParams describes a single market order.
type MarketParams struct {
	Symbol     string
	Side       model.Side
	Quantity   decimal.Decimal
	ReduceOnly bool
}

// maxFillPolls bounds how long a market order is polled for its fill.
const maxFillPolls = 10

// Market places one market order and waits for its fill report.
type Market struct {
	s      *session
	params MarketParams
	order  model.OrderRecord
}

func NewMarket(env Env, runID string, p MarketParams) (*Market, error) {
	if !p.Quantity.IsPositive() {
		return nil, model.ConfigError("market", "quantity must be positive")
	}
	if err := risk.CheckSymbol(p.Symbol, env.Limits); err != nil {
		return nil, err
	}
	return &Market{s: newSession(env, runID, KindMarket, p.Symbol), params: p}, nil
}

func (m *Market) Kind() Kind               { return KindMarket }
func (m *Market) Symbol() string           { return m.params.Symbol }
func (m *Market) Summary() Summary         { return m.s.summary() }
func (m *Market) Order() model.OrderRecord { return m.order }

func (m *Market) Run(ctx context.Context) error {
	const op = "market"
	intent := model.OrderIntent{
		Symbol:     m.params.Symbol,
		Side:       m.params.Side,
		Kind:       model.KindMarket,
		Quantity:   m.params.Quantity,
		ReduceOnly: m.params.ReduceOnly,
	}

	price, err := m.s.env.Gateway.GetPrice(ctx, intent.Symbol)
	if err != nil {
		return escalate(op, err, false)
	}
	if err := m.s.validate(ctx, intent, price); err != nil {
		m.s.reject(err.Error())
		return err
	}

	rec, err := m.s.place(ctx, "order", intent)
	if err != nil {
		return escalate(op, err, false)
	}
	m.order = rec

	// the fill is fetched even when ctx is already canceled
	fetchCtx, cancel := m.s.cleanupContext(ctx)
	defer cancel()
	if err := waitFilled(fetchCtx, m.s, "order", &m.order, maxFillPolls); err != nil {
		m.s.log.WithError(err).Warn("Could not confirm market fill")
	}
	m.s.succeed(fmt.Sprintf("market %s %s: %s filled %s avg %s",
		intent.Side, intent.Quantity, m.order.Status, m.order.FilledQty, m.order.AvgPrice))
	return nil
}

// waitFilled polls rec until it is terminal or polls run out.
func waitFilled(ctx context.Context, s *session, entity string, rec *model.OrderRecord, polls int) error {
	for i := 0; i < polls && !rec.Status.IsTerminal(); i++ {
		if _, err := s.refresh(ctx, entity, rec); err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.env.Clock.After(s.env.PollInterval):
		}
	}
	return nil
}

// LimitParams describes a single limit order. With Wait the order is watched until terminal and
// canceled if the run is interrupted first.
type LimitParams struct {
	Symbol      string
	Side        model.Side
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TimeInForce model.TimeInForce
	ReduceOnly  bool
	Wait        bool
}

type Limit struct {
	s      *session
	params LimitParams
	order  model.OrderRecord
}

func NewLimit(env Env, runID string, p LimitParams) (*Limit, error) {
	if !p.Quantity.IsPositive() {
		return nil, model.ConfigError("limit", "quantity must be positive")
	}
	if !p.Price.IsPositive() {
		return nil, model.ConfigError("limit", "price must be positive")
	}
	if err := risk.CheckSymbol(p.Symbol, env.Limits); err != nil {
		return nil, err
	}
	if p.TimeInForce == "" {
		p.TimeInForce = model.TimeInForceGTC
	}
	return &Limit{s: newSession(env, runID, KindLimit, p.Symbol), params: p}, nil
}

func (l *Limit) Kind() Kind               { return KindLimit }
func (l *Limit) Symbol() string           { return l.params.Symbol }
func (l *Limit) Summary() Summary         { return l.s.summary() }
func (l *Limit) Order() model.OrderRecord { return l.order }

func (l *Limit) Run(ctx context.Context) error {
	const op = "limit"
	intent := model.OrderIntent{
		Symbol:      l.params.Symbol,
		Side:        l.params.Side,
		Kind:        model.KindLimit,
		Quantity:    l.params.Quantity,
		Price:       l.s.env.Limits.RoundPrice(l.params.Price),
		TimeInForce: l.params.TimeInForce,
		ReduceOnly:  l.params.ReduceOnly,
	}
	if err := l.s.validate(ctx, intent, intent.Price); err != nil {
		l.s.reject(err.Error())
		return err
	}

	rec, err := l.s.place(ctx, "order", intent)
	if err != nil {
		return escalate(op, err, false)
	}
	l.order = rec
	if !l.params.Wait {
		l.s.succeed(fmt.Sprintf("limit %s %s @ %s placed as order %d", intent.Side, intent.Quantity, intent.Price, rec.ExchangeOrderID))
		return nil
	}

	f := l.s.subscribe()
	defer f.stop()
	for !l.order.Status.IsTerminal() {
		upd, err := l.s.wait(ctx, f, l.s.env.PollInterval)
		if err != nil {
			return l.cancelOnInterrupt(ctx)
		}
		if upd != nil {
			if upd.ExchangeOrderID == l.order.ExchangeOrderID {
				if _, err := l.s.apply(ctx, "order", &l.order, *upd); err != nil {
					return err
				}
			}
			continue
		}
		if _, err := l.s.refresh(ctx, "order", &l.order); err != nil {
			if ctx.Err() != nil {
				return l.cancelOnInterrupt(ctx)
			}
			l.s.log.WithError(err).Warn("Limit order status poll failed")
		}
	}
	l.s.succeed(fmt.Sprintf("limit order %d %s filled %s", l.order.ExchangeOrderID, l.order.Status, l.order.FilledQty))
	return nil
}

func (l *Limit) cancelOnInterrupt(ctx context.Context) error {
	cctx, cancel := l.s.cleanupContext(ctx)
	defer cancel()
	if err := l.s.cancel(cctx, "order", &l.order); err != nil {
		l.s.fail(fmt.Sprintf("cancel order %d: %v", l.order.ExchangeOrderID, err))
		return err
	}
	return nil
}
