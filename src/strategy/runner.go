package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"futuresbot/src/model"
)

// RunStore persists the run rows.
type RunStore interface {
	Create(ctx context.Context, run *model.StrategyRun) error
	UpdateStatus(ctx context.Context, runID string, status model.RunStatus) error
	Finish(ctx context.Context, runID string, status model.RunStatus, summary string, errMsg string, finishedAt time.Time) error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Runner owns the lifecycle of one strategy: CREATED, RUNNING, then COMPLETED, CANCELED or
// FAILED. A summary is produced in every case.
type Runner struct {
	env      Env
	strategy StrategyRunner
	runs     RunStore
	log      *logrus.Entry

	// Params is stored with the run row.
	Params string

	mu     sync.Mutex
	status model.RunStatus
}

func NewRunner(env Env, strategy StrategyRunner, runs RunStore) *Runner {
	env = env.withDefaults()
	return &Runner{
		env:      env,
		strategy: strategy,
		runs:     runs,
		log: env.Log.WithFields(map[string]interface{}{
			"run_id":   strategy.Summary().RunID,
			"strategy": string(strategy.Kind()),
			"symbol":   strategy.Symbol(),
		}),
		status: model.RunStatusCreated,
	}
}

func (r *Runner) Status() model.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runner) Strategy() StrategyRunner { return r.strategy }

func (r *Runner) transition(ctx context.Context, runID string, to model.RunStatus, msg string) {
	r.mu.Lock()
	from := r.status
	r.status = to
	r.mu.Unlock()
	r.env.Events.Record(context.WithoutCancel(ctx), model.StrategyEvent{
		RunID:     runID,
		Strategy:  string(r.strategy.Kind()),
		Symbol:    r.strategy.Symbol(),
		Entity:    "run",
		From:      string(from),
		To:        string(to),
		Message:   msg,
		CreatedAt: r.env.Clock.Now(),
	})
}

// Run executes the strategy until it finishes or ctx is canceled. After a cancel the strategy
// gets the shutdown grace period to clean up; past that the run is marked FAILED and Run returns
// without waiting further.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	runID := r.strategy.Summary().RunID
	started := r.env.Clock.Now()
	store := context.WithoutCancel(ctx)

	if r.runs != nil {
		row := &model.StrategyRun{
			RunID:     runID,
			Strategy:  string(r.strategy.Kind()),
			Symbol:    r.strategy.Symbol(),
			Params:    r.Params,
			Status:    model.RunStatusCreated,
			StartedAt: started,
		}
		if err := r.runs.Create(store, row); err != nil {
			r.log.WithError(err).Warn("Failed to store run")
		}
	}

	r.transition(ctx, runID, model.RunStatusRunning, "started")
	if r.runs != nil {
		if err := r.runs.UpdateStatus(store, runID, model.RunStatusRunning); err != nil {
			r.log.WithError(err).Warn("Failed to update run status")
		}
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				err := model.Fatal("runner", "strategy panicked")
				Capture(store, r.env.Errors, runID, string(r.strategy.Kind()), "run", "fatal", err,
					map[string]interface{}{"panic": p})
				done <- err
			}
		}()
		done <- r.strategy.Run(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		r.log.WithField("grace", r.env.ShutdownGrace.String()).Info("Cancel requested, waiting for strategy to stop")
		select {
		case err = <-done:
		case <-r.env.Clock.After(r.env.ShutdownGrace):
			err = model.Fatal("runner", "strategy did not stop within the shutdown grace period")
			r.log.Error(err.Error())
		}
	}

	status := finalStatus(ctx, err)
	summary := r.strategy.Summary()
	summary.Status = status
	summary.StartedAt = started
	summary.FinishedAt = r.env.Clock.Now()
	if err != nil {
		summary.Error = err.Error()
		if !model.IsUserError(err) {
			Capture(store, r.env.Errors, runID, string(r.strategy.Kind()), "run", "error", err, nil)
		}
	}

	msg := "finished"
	if err != nil {
		msg = err.Error()
	}
	r.transition(ctx, runID, status, msg)

	if r.runs != nil {
		body, _ := json.Marshal(summary)
		if ferr := r.runs.Finish(store, runID, status, string(body), summary.Error, summary.FinishedAt); ferr != nil {
			r.log.WithError(ferr).Warn("Failed to finish run")
		}
	}
	return summary, err
}

func finalStatus(ctx context.Context, err error) model.RunStatus {
	switch {
	case err == nil && ctx.Err() != nil:
		return model.RunStatusCanceled
	case err == nil:
		return model.RunStatusCompleted
	case errors.Is(err, context.Canceled):
		return model.RunStatusCanceled
	default:
		return model.RunStatusFailed
	}
}
