package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"futuresbot/src/model"
	"futuresbot/src/risk"
)

// OcoState is the lifecycle of a take-profit/stop-loss bracket.
type OcoState string

const (
	OcoPending  OcoState = "PENDING"
	OcoActive   OcoState = "ACTIVE"
	OcoTPFilled OcoState = "TP_FILLED"
	OcoSLFilled OcoState = "SL_FILLED"
	OcoClosed   OcoState = "CLOSED"
	OcoFailed   OcoState = "FAILED"
)

// Outcomes reported in the summary.
const (
	OutcomeTakeProfit = "take_profit"
	OutcomeStopLoss   = "stop_loss"
	OutcomeCanceled   = "canceled"
	OutcomeFailed     = "failed"
)

// OcoParams describes a bracket around a position opened on Side. The legs close it on the
// opposite side. StopLimitPrice turns the stop leg into a stop limit order.
type OcoParams struct {
	Symbol         string
	Side           model.Side
	Quantity       decimal.Decimal
	TakeProfit     decimal.Decimal
	StopLoss       decimal.Decimal
	StopLimitPrice decimal.Decimal
	WithEntry      bool
}

// OcoPlan holds the bracket legs. Once one leg fills the other is canceled.
type OcoPlan struct {
	Params OcoParams
	Entry  *model.OrderRecord
	TP     *model.OrderRecord
	SL     *model.OrderRecord
}

// OCO places and watches a take-profit/stop-loss pair.
type OCO struct {
	s    *session
	plan OcoPlan

	mu    sync.Mutex
	state OcoState
}

func NewOCO(env Env, runID string, p OcoParams) (*OCO, error) {
	const op = "oco"
	if !p.Quantity.IsPositive() {
		return nil, model.ConfigError(op, "quantity must be positive")
	}
	if err := risk.CheckSymbol(p.Symbol, env.Limits); err != nil {
		return nil, err
	}
	if !p.TakeProfit.IsPositive() || !p.StopLoss.IsPositive() {
		return nil, model.Rejected(op, "take profit and stop loss must be positive")
	}
	if p.Side == model.SideBuy && !p.StopLoss.LessThan(p.TakeProfit) {
		return nil, model.Rejected(op, fmt.Sprintf("buy bracket needs stop loss %s below take profit %s", p.StopLoss, p.TakeProfit))
	}
	if p.Side == model.SideSell && !p.TakeProfit.LessThan(p.StopLoss) {
		return nil, model.Rejected(op, fmt.Sprintf("sell bracket needs take profit %s below stop loss %s", p.TakeProfit, p.StopLoss))
	}
	limits := env.Limits
	p.TakeProfit = limits.RoundPrice(p.TakeProfit)
	p.StopLoss = limits.RoundPrice(p.StopLoss)
	if p.StopLimitPrice.IsPositive() {
		p.StopLimitPrice = limits.RoundPrice(p.StopLimitPrice)
	}
	return &OCO{
		s:     newSession(env, runID, KindOCO, p.Symbol),
		plan:  OcoPlan{Params: p},
		state: OcoPending,
	}, nil
}

func (o *OCO) Kind() Kind       { return KindOCO }
func (o *OCO) Symbol() string   { return o.plan.Params.Symbol }
func (o *OCO) Summary() Summary { return o.s.summary() }

func (o *OCO) State() OcoState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *OCO) setState(ctx context.Context, to OcoState, msg string) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()
	if from != to {
		o.s.event(ctx, "plan", string(from), string(to), 0, msg)
	}
}

func (o *OCO) legs() (tp, sl model.OrderIntent) {
	p := o.plan.Params
	closeSide := p.Side.Opposite()
	tp = model.OrderIntent{
		Symbol:      p.Symbol,
		Side:        closeSide,
		Kind:        model.KindLimit,
		Quantity:    p.Quantity,
		Price:       p.TakeProfit,
		TimeInForce: model.TimeInForceGTC,
		ReduceOnly:  true,
	}
	sl = model.OrderIntent{
		Symbol:     p.Symbol,
		Side:       closeSide,
		Kind:       model.KindStopMarket,
		Quantity:   p.Quantity,
		StopPrice:  p.StopLoss,
		ReduceOnly: true,
	}
	if p.StopLimitPrice.IsPositive() {
		sl.Kind = model.KindStop
		sl.Price = p.StopLimitPrice
		sl.TimeInForce = model.TimeInForceGTC
	}
	return tp, sl
}

func (o *OCO) Run(ctx context.Context) error {
	const op = "oco"
	p := o.plan.Params

	price, err := o.s.env.Gateway.GetPrice(ctx, p.Symbol)
	if err != nil {
		return o.abort(ctx, escalate(op, err, false))
	}
	lo, hi := decimal.Min(p.TakeProfit, p.StopLoss), decimal.Max(p.TakeProfit, p.StopLoss)
	if !price.GreaterThan(lo) || !price.LessThan(hi) {
		err := model.Rejected(op, fmt.Sprintf("current price %s is not between %s and %s", price, lo, hi))
		o.s.reject(err.Error())
		return o.abort(ctx, err)
	}

	tpIntent, slIntent := o.legs()
	for _, intent := range []model.OrderIntent{tpIntent, slIntent} {
		if err := o.s.validate(ctx, intent, price); err != nil {
			o.s.reject(err.Error())
			return o.abort(ctx, err)
		}
	}

	if p.WithEntry {
		if err := o.enter(ctx, price); err != nil {
			return o.abort(ctx, err)
		}
	}

	tp, err := o.s.place(ctx, "tp", tpIntent)
	if err != nil {
		return o.abort(ctx, escalate(op, err, p.WithEntry))
	}
	o.plan.TP = &tp

	sl, err := o.s.place(ctx, "sl", slIntent)
	if err != nil {
		return o.rollback(ctx, escalate(op, err, true))
	}
	o.plan.SL = &sl

	o.setState(ctx, OcoActive, fmt.Sprintf("tp %d @ %s, sl %d @ %s", tp.ExchangeOrderID, p.TakeProfit, sl.ExchangeOrderID, p.StopLoss))
	return o.monitor(ctx)
}

func (o *OCO) enter(ctx context.Context, price decimal.Decimal) error {
	p := o.plan.Params
	intent := model.OrderIntent{Symbol: p.Symbol, Side: p.Side, Kind: model.KindMarket, Quantity: p.Quantity}
	if err := o.s.validate(ctx, intent, price); err != nil {
		o.s.reject(err.Error())
		return err
	}
	rec, err := o.s.place(ctx, "entry", intent)
	if err != nil {
		return escalate("oco.entry", err, false)
	}
	o.plan.Entry = &rec
	if err := waitFilled(ctx, o.s, "entry", o.plan.Entry, maxFillPolls); err != nil {
		return err
	}
	if o.plan.Entry.Status != model.OrderStatusFilled {
		return model.ExchangeRejected("oco.entry", fmt.Sprintf("entry order %d is %s", rec.ExchangeOrderID, o.plan.Entry.Status), nil)
	}
	o.s.succeed(fmt.Sprintf("entry %s %s filled @ %s", p.Side, rec.FilledQty, o.plan.Entry.AvgPrice))
	return nil
}

// rollback cancels the take-profit leg after the stop-loss leg failed to place.
func (o *OCO) rollback(ctx context.Context, cause error) error {
	cctx, cancel := o.s.cleanupContext(ctx)
	defer cancel()
	if err := o.s.cancel(cctx, "tp", o.plan.TP); err != nil {
		return o.abort(ctx, o.orphaned(cctx, "rollback", "tp", o.plan.TP, err))
	}
	if o.plan.TP.Status == model.OrderStatusFilled {
		o.setState(ctx, OcoTPFilled, "take profit filled before stop loss was placed")
		return o.close(ctx, OutcomeTakeProfit)
	}
	return o.abort(ctx, cause)
}

func (o *OCO) monitor(ctx context.Context) error {
	f := o.s.subscribe()
	defer f.stop()

	for {
		if done, err := o.evaluate(ctx); done {
			return err
		}
		upd, err := o.s.wait(ctx, f, o.s.env.PollInterval)
		if err != nil {
			return o.userCancel(ctx)
		}
		if upd != nil {
			if err := o.applyPush(ctx, *upd); err != nil {
				return o.abort(ctx, err)
			}
			continue
		}
		for _, leg := range []struct {
			name string
			rec  *model.OrderRecord
		}{{"tp", o.plan.TP}, {"sl", o.plan.SL}} {
			if leg.rec.Status.IsTerminal() {
				continue
			}
			if _, err := o.s.refresh(ctx, leg.name, leg.rec); err != nil {
				if ctx.Err() != nil {
					return o.userCancel(ctx)
				}
				if model.KindOf(err) == model.KindFatal {
					return o.abort(ctx, err)
				}
				o.s.log.WithError(err).WithField("leg", leg.name).Warn("Leg status poll failed")
			}
		}
	}
}

func (o *OCO) applyPush(ctx context.Context, upd model.OrderRecord) error {
	var err error
	switch upd.ExchangeOrderID {
	case o.plan.TP.ExchangeOrderID:
		_, err = o.s.apply(ctx, "tp", o.plan.TP, upd)
	case o.plan.SL.ExchangeOrderID:
		_, err = o.s.apply(ctx, "sl", o.plan.SL, upd)
	}
	return err
}

// evaluate reacts to the current leg states. It reports done once the plan is terminal.
func (o *OCO) evaluate(ctx context.Context) (bool, error) {
	tp, sl := o.plan.TP, o.plan.SL
	tpFilled := tp.Status == model.OrderStatusFilled
	slFilled := sl.Status == model.OrderStatusFilled

	switch {
	case tpFilled && slFilled:
		return true, o.bothFilled(ctx)
	case tpFilled:
		o.setState(ctx, OcoTPFilled, fmt.Sprintf("take profit %d filled @ %s", tp.ExchangeOrderID, tp.AvgPrice))
		return true, o.cancelSibling(ctx, "sl", sl, OutcomeTakeProfit)
	case slFilled:
		o.setState(ctx, OcoSLFilled, fmt.Sprintf("stop loss %d filled @ %s", sl.ExchangeOrderID, sl.AvgPrice))
		return true, o.cancelSibling(ctx, "tp", tp, OutcomeStopLoss)
	case tp.Status.IsTerminal() || sl.Status.IsTerminal():
		cctx, cancel := o.s.cleanupContext(ctx)
		defer cancel()
		for _, leg := range []struct {
			name string
			rec  *model.OrderRecord
		}{{"tp", tp}, {"sl", sl}} {
			if err := o.s.cancel(cctx, leg.name, leg.rec); err != nil {
				return true, o.abort(ctx, o.orphaned(cctx, "cancel_survivor", leg.name, leg.rec, err))
			}
		}
		if tp.Status == model.OrderStatusFilled || sl.Status == model.OrderStatusFilled {
			return false, nil
		}
		return true, o.abort(ctx, model.ExchangeRejected("oco", fmt.Sprintf("legs ended as tp %s, sl %s", tp.Status, sl.Status), nil))
	}
	return false, nil
}

func (o *OCO) cancelSibling(ctx context.Context, name string, sibling *model.OrderRecord, outcome string) error {
	cctx, cancel := o.s.cleanupContext(ctx)
	defer cancel()
	if err := o.s.cancel(cctx, name, sibling); err != nil {
		return o.abort(ctx, o.orphaned(cctx, "cancel_sibling", name, sibling, err))
	}
	if sibling.Status == model.OrderStatusFilled {
		return o.bothFilled(ctx)
	}
	return o.close(ctx, outcome)
}

// bothFilled closes a plan whose sibling filled before it could be canceled. The outcome follows
// the leg that filled first.
func (o *OCO) bothFilled(ctx context.Context) error {
	tp, sl := o.plan.TP, o.plan.SL
	o.s.log.WithFields(map[string]interface{}{
		"tp_order": tp.ExchangeOrderID,
		"sl_order": sl.ExchangeOrderID,
	}).Warn("Both bracket legs filled")
	o.s.fail(fmt.Sprintf("sibling filled before cancel: tp %d and sl %d both filled", tp.ExchangeOrderID, sl.ExchangeOrderID))

	outcome := OutcomeTakeProfit
	if sl.LastUpdateAt.Before(tp.LastUpdateAt) {
		outcome = OutcomeStopLoss
	}
	return o.close(ctx, outcome)
}

// userCancel closes an active plan on interrupt. Partial fills stay as they are.
func (o *OCO) userCancel(ctx context.Context) error {
	cctx, cancel := o.s.cleanupContext(ctx)
	defer cancel()

	var failed []string
	for _, leg := range []struct {
		name string
		rec  *model.OrderRecord
	}{{"tp", o.plan.TP}, {"sl", o.plan.SL}} {
		if err := o.s.cancel(cctx, leg.name, leg.rec); err != nil {
			o.s.log.WithError(err).WithField("leg", leg.name).Error("Failed to cancel leg during shutdown")
			failed = append(failed, fmt.Sprintf("%s %d", leg.name, leg.rec.ExchangeOrderID))
		}
	}

	outcome := OutcomeCanceled
	switch {
	case o.plan.TP.Status == model.OrderStatusFilled:
		outcome = OutcomeTakeProfit
	case o.plan.SL.Status == model.OrderStatusFilled:
		outcome = OutcomeStopLoss
	}
	if len(failed) > 0 {
		err := model.Fatal("oco", fmt.Sprintf("legs may be left open: %v", failed))
		o.s.fail(err.Error())
		o.s.note(func(sum *Summary) { sum.Outcome = outcome })
		o.setState(ctx, OcoClosed, "canceled by user with open legs")
		return err
	}
	return o.close(ctx, outcome)
}

// orphaned reports a leg whose cancel failed and that may still rest on the exchange.
func (o *OCO) orphaned(ctx context.Context, method, name string, rec *model.OrderRecord, cause error) error {
	orphan := &model.Error{
		Kind:   model.KindFatal,
		Op:     "oco",
		Reason: fmt.Sprintf("%s order %d may be left open", name, rec.ExchangeOrderID),
		Err:    cause,
	}
	Capture(ctx, o.s.env.Errors, o.s.runID, "oco", method, "fatal", orphan,
		map[string]interface{}{"leg": name, "order_id": rec.ExchangeOrderID})
	return orphan
}

func (o *OCO) close(ctx context.Context, outcome string) error {
	o.recordPnL()
	o.s.note(func(sum *Summary) { sum.Outcome = outcome })
	o.s.succeed("bracket closed: " + outcome)
	o.setState(ctx, OcoClosed, outcome)
	return nil
}

func (o *OCO) abort(ctx context.Context, err error) error {
	o.recordPnL()
	o.s.note(func(sum *Summary) { sum.Outcome = OutcomeFailed })
	o.s.fail(err.Error())
	o.setState(ctx, OcoFailed, err.Error())
	return err
}

// recordPnL books realized profit of the closing legs against the entry fill.
func (o *OCO) recordPnL() {
	entry := o.plan.Entry
	if entry == nil || !entry.FilledQty.IsPositive() {
		return
	}
	pnl := decimal.Zero
	for _, leg := range []*model.OrderRecord{o.plan.TP, o.plan.SL} {
		if leg == nil || !leg.FilledQty.IsPositive() {
			continue
		}
		pnl = pnl.Add(leg.AvgPrice.Sub(entry.AvgPrice).Mul(leg.FilledQty))
	}
	pnl = pnl.Mul(o.plan.Params.Side.Sign())
	o.s.note(func(sum *Summary) {
		sum.RealizedPnL = pnl
		sum.HasPnL = true
	})
}
