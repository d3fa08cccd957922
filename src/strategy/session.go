package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"futuresbot/src/model"
	"futuresbot/src/risk"
)

// session is the per-run bookkeeping shared by every strategy: it places, refreshes and cancels
// orders, emits transition events and keeps a copy of each record for the summary. The strategy
// goroutine is the only writer; the mutex lets the runner read a snapshot at any time.
type session struct {
	env    Env
	runID  string
	kind   Kind
	symbol string
	log    *logrus.Entry

	mu        sync.Mutex
	ids       []int64
	records   map[int64]model.OrderRecord
	rejected  int
	succeeded []string
	failures  []string
	extra     Summary
}

func newSession(env Env, runID string, kind Kind, symbol string) *session {
	env = env.withDefaults()
	return &session{
		env:    env,
		runID:  runID,
		kind:   kind,
		symbol: symbol,
		log: env.Log.WithFields(map[string]interface{}{
			"run_id":   runID,
			"strategy": string(kind),
			"symbol":   symbol,
		}),
		records: map[int64]model.OrderRecord{},
	}
}

func (s *session) event(ctx context.Context, entity, from, to string, orderID int64, msg string) {
	s.env.Events.Record(context.WithoutCancel(ctx), model.StrategyEvent{
		RunID:     s.runID,
		Strategy:  string(s.kind),
		Symbol:    s.symbol,
		Entity:    entity,
		From:      from,
		To:        to,
		OrderID:   orderID,
		Message:   msg,
		CreatedAt: s.env.Clock.Now(),
	})
}

func (s *session) validate(ctx context.Context, intent model.OrderIntent, refPrice decimal.Decimal) error {
	var exposure risk.Exposure
	if s.env.Positions != nil {
		exp, err := s.env.Positions.OpenPositions(ctx, intent.Symbol)
		if err != nil {
			return err
		}
		exposure = exp
	}
	return risk.Validate(intent, refPrice, exposure, s.env.Limits)
}

// place submits intent and starts tracking the resulting record.
func (s *session) place(ctx context.Context, entity string, intent model.OrderIntent) (model.OrderRecord, error) {
	rec, err := s.env.Gateway.PlaceOrder(ctx, intent)
	if err != nil {
		s.reject(fmt.Sprintf("%s %s %s %s: %v", entity, intent.Side, intent.Kind, intent.Quantity, err))
		s.event(ctx, entity, "", string(model.OrderStatusRejected), 0, err.Error())
		return rec, err
	}
	rec.RunID = s.runID
	s.track(ctx, rec)
	s.event(ctx, entity, "", string(rec.Status), rec.ExchangeOrderID,
		fmt.Sprintf("%s %s %s @ %s", intent.Side, intent.Kind, intent.Quantity, priceLabel(intent)))
	return rec, nil
}

func priceLabel(intent model.OrderIntent) string {
	switch {
	case intent.HasPrice():
		return intent.Price.String()
	case intent.StopPrice.IsPositive():
		return "stop " + intent.StopPrice.String()
	default:
		return "market"
	}
}

// apply merges a status result into rec, persisting and reporting real changes.
func (s *session) apply(ctx context.Context, entity string, rec *model.OrderRecord, update model.OrderRecord) (bool, error) {
	prev := rec.Status
	changed, err := rec.Apply(update)
	if err != nil {
		Capture(context.WithoutCancel(ctx), s.env.Errors, s.runID, string(s.kind), "apply", "error", err,
			map[string]interface{}{"entity": entity, "order_id": rec.ExchangeOrderID})
		return false, err
	}
	if !changed {
		return false, nil
	}
	s.track(ctx, *rec)
	if prev != rec.Status {
		s.event(ctx, entity, string(prev), string(rec.Status), rec.ExchangeOrderID,
			fmt.Sprintf("filled %s avg %s", rec.FilledQty, rec.AvgPrice))
	}
	return true, nil
}

func (s *session) refresh(ctx context.Context, entity string, rec *model.OrderRecord) (bool, error) {
	update, err := s.env.Gateway.GetOrderStatus(ctx, rec.Ref())
	if err != nil {
		return false, err
	}
	return s.apply(ctx, entity, rec, update)
}

// cancel cancels rec unless it is already terminal. An order that turns out to be filled or gone
// is not an error: its terminal state is recorded instead.
func (s *session) cancel(ctx context.Context, entity string, rec *model.OrderRecord) error {
	if rec.Status.IsTerminal() {
		return nil
	}
	update, err := s.env.Gateway.CancelOrder(ctx, rec.Ref())
	switch {
	case err == nil:
		_, err = s.apply(ctx, entity, rec, update)
		return err
	case errors.Is(err, model.ErrAlreadyFilled), errors.Is(err, model.ErrOrderNotFound):
		s.log.WithFields(map[string]interface{}{
			"entity":   entity,
			"order_id": rec.ExchangeOrderID,
		}).Info("Order already gone, recording terminal status")
		if update.Status != "" {
			_, aerr := s.apply(ctx, entity, rec, update)
			return aerr
		}
		if _, rerr := s.refresh(ctx, entity, rec); rerr != nil && !errors.Is(rerr, model.ErrOrderNotFound) {
			return rerr
		}
		return nil
	default:
		return err
	}
}

// cleanupContext outlives a canceled run context by at most the shutdown grace period, so a
// hanging exchange call during shutdown gives up instead of blocking forever.
func (s *session) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.env.ShutdownGrace)
}

// feed is a subscription to pushed order updates. A nil channel never delivers.
type feed struct {
	ch   <-chan model.OrderRecord
	stop func()
}

func (s *session) subscribe() *feed {
	if s.env.Updates == nil {
		return &feed{stop: func() {}}
	}
	ch, stop := s.env.Updates.Subscribe()
	return &feed{ch: ch, stop: stop}
}

// wait blocks until d elapses, an update arrives or ctx ends. A nil update means the timer fired.
func (s *session) wait(ctx context.Context, f *feed, d time.Duration) (*model.OrderRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timer := s.env.Clock.After(d)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer:
		return nil, nil
	case upd, ok := <-f.ch:
		if !ok {
			f.ch = nil
			return nil, nil
		}
		return &upd, nil
	}
}

func (s *session) track(ctx context.Context, rec model.OrderRecord) {
	s.mu.Lock()
	if _, ok := s.records[rec.ExchangeOrderID]; !ok {
		s.ids = append(s.ids, rec.ExchangeOrderID)
	}
	s.records[rec.ExchangeOrderID] = rec
	s.mu.Unlock()

	if s.env.Orders == nil {
		return
	}
	stored := rec
	stored.ID = 0
	if err := s.env.Orders.Save(context.WithoutCancel(ctx), &stored); err != nil {
		s.log.WithError(err).WithField("order_id", rec.ExchangeOrderID).Warn("Failed to persist order record")
	}
}

func (s *session) reject(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected++
	s.failures = append(s.failures, msg)
}

func (s *session) fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, msg)
}

func (s *session) succeed(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded = append(s.succeeded, msg)
}

// note updates the strategy specific part of the summary.
func (s *session) note(fn func(extra *Summary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.extra)
}

func (s *session) summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]model.OrderRecord, 0, len(s.ids))
	for _, id := range s.ids {
		records = append(records, s.records[id])
	}
	sum := summarize(records)
	sum.Rejected += s.rejected
	sum.RunID = s.runID
	sum.Strategy = s.kind
	sum.Symbol = s.symbol
	sum.GridProfit = s.extra.GridProfit
	sum.RoundTrips = s.extra.RoundTrips
	sum.Unfilled = s.extra.Unfilled
	sum.Outcome = s.extra.Outcome
	sum.RealizedPnL = s.extra.RealizedPnL
	sum.HasPnL = s.extra.HasPnL
	sum.Succeeded = append([]string(nil), s.succeeded...)
	sum.Failures = append([]string(nil), s.failures...)
	return sum
}
