package strategy

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"futuresbot/src/gateway"
	"futuresbot/src/model"
	"futuresbot/src/risk"
)

// Clock is the time source strategies wait on. Tests swap in a manual clock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// PositionSource reports the account exposure used by the open position check.
type PositionSource interface {
	OpenPositions(ctx context.Context, symbol string) (risk.Exposure, error)
}

// UpdateSource delivers pushed order updates.
type UpdateSource interface {
	Subscribe() (<-chan model.OrderRecord, func())
}

// EventSink receives one event per state transition. Recording is best effort.
type EventSink interface {
	Record(ctx context.Context, ev model.StrategyEvent)
}

// OrderStore persists order records whenever they change.
type OrderStore interface {
	Save(ctx context.Context, rec *model.OrderRecord) error
}

// ExceptionStore persists unexpected failures.
type ExceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Env is everything a strategy shares with the rest of the process. It is built once and
// passed to every strategy explicitly.
type Env struct {
	Gateway   gateway.ExchangeGateway
	Limits    risk.Limits
	Positions PositionSource
	Updates   UpdateSource
	Events    EventSink
	Orders    OrderStore
	Errors    ExceptionStore
	Clock     Clock
	Log       *logrus.Entry

	PollInterval  time.Duration
	ShutdownGrace time.Duration
	// Strict aborts multi-step plans on the first failed child instead of skipping it.
	Strict bool
}

const (
	defaultPollInterval  = 2 * time.Second
	defaultShutdownGrace = 10 * time.Second
)

func (e Env) withDefaults() Env {
	if e.Clock == nil {
		e.Clock = SystemClock()
	}
	if e.Log == nil {
		e.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if e.Events == nil {
		e.Events = LogSink{Log: e.Log}
	}
	if e.PollInterval <= 0 {
		e.PollInterval = defaultPollInterval
	}
	if e.ShutdownGrace <= 0 {
		e.ShutdownGrace = defaultShutdownGrace
	}
	return e
}

// LogSink writes events to the structured log.
type LogSink struct {
	Log *logrus.Entry
}

func (s LogSink) Record(_ context.Context, ev model.StrategyEvent) {
	log := s.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	fields := map[string]interface{}{
		"run_id":   ev.RunID,
		"strategy": ev.Strategy,
		"symbol":   ev.Symbol,
		"entity":   ev.Entity,
		"from":     ev.From,
		"to":       ev.To,
	}
	if ev.OrderID != 0 {
		fields["order_id"] = ev.OrderID
	}
	log.WithFields(fields).Info(ev.Message)
}

// EventAppender is the append-only event table.
type EventAppender interface {
	Append(ctx context.Context, ev *model.StrategyEvent) error
}

// StoreSink appends events to a persistent store and logs failures.
type StoreSink struct {
	Store EventAppender
	Log   *logrus.Entry
}

func (s StoreSink) Record(ctx context.Context, ev model.StrategyEvent) {
	if err := s.Store.Append(ctx, &ev); err != nil && s.Log != nil {
		s.Log.WithError(err).WithField("run_id", ev.RunID).Warn("Failed to append strategy event")
	}
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Record(ctx context.Context, ev model.StrategyEvent) {
	for _, s := range m {
		s.Record(ctx, ev)
	}
}

// Capture logs an unexpected failure and stores it with its stack when a store is configured.
func Capture(
	ctx context.Context,
	store ExceptionStore,
	runID string,
	module string,
	method string,
	level string,
	err error,
	contextData map[string]interface{},
) {
	if err == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		RunID:     runID,
		Service:   "futuresbot",
		Module:    module,
		Method:    method,
		Kind:      string(model.KindOf(err)),
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     level,
		Context:   ctxJSON,
		CreatedAt: time.Now(),
	}

	logrus.WithFields(map[string]interface{}{
		"run_id": runID,
		"module": module,
		"method": method,
		"level":  level,
		"kind":   exc.Kind,
	}).WithError(err).Error("Strategy exception captured")

	if store != nil {
		if e := store.Create(ctx, exc); e != nil {
			logrus.WithError(e).Error("Failed to persist exception")
		}
	}
}
