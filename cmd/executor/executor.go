package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"futuresbot/src/config"
	"futuresbot/src/connectors"
	"futuresbot/src/database"
	"futuresbot/src/gateway"
	"futuresbot/src/marketdata"
	"futuresbot/src/model"
	"futuresbot/src/notify"
	"futuresbot/src/ratelimit"
	"futuresbot/src/repository"
	"futuresbot/src/risk"
	"futuresbot/src/security"
	"futuresbot/src/server"
	"futuresbot/src/strategy"
)

// Account is the exchange state read while preparing a run.
type Account interface {
	GetSymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	OpenPositions(ctx context.Context, symbol string) (risk.Exposure, error)
}

// RangeSource suggests grid bounds from recent market data.
type RangeSource interface {
	SuggestRange(symbol, quote string) (decimal.Decimal, decimal.Decimal, error)
}

// Executor wires the configured collaborators and runs strategies with them.
type Executor struct {
	cfg     config.Config
	log     *logrus.Entry
	gw      *gateway.Guarded
	account Account
	ranges  RangeSource
	hub     *notify.Hub
	clock   strategy.Clock

	db         *gorm.DB
	runs       strategy.RunStore
	orders     strategy.OrderStore
	events     strategy.EventAppender
	exceptions strategy.ExceptionStore

	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New connects to the store and the exchange. Background feeds (user stream, webhook relay)
// run until Close.
func New(ctx context.Context, cfg config.Config) (*Executor, error) {
	log := logrus.WithField("component", "executor")

	exCfg := cfg.Exchange
	var err error
	if exCfg.APIKey, err = security.ResolveSecret(exCfg.APIKey, cfg.Security.ExchangeCRKey); err != nil {
		return nil, model.ConfigError("executor", "BINANCE_API_KEY: %v", err)
	}
	if exCfg.APISecret, err = security.ResolveSecret(exCfg.APISecret, cfg.Security.ExchangeCRKey); err != nil {
		return nil, model.ConfigError("executor", "BINANCE_API_SECRET: %v", err)
	}
	if exCfg.APIKey == "" || exCfg.APISecret == "" {
		return nil, model.ConfigError("executor", "BINANCE_API_KEY and BINANCE_API_SECRET are required")
	}

	client := connectors.NewClient(exCfg)
	gate := ratelimit.NewGate(cfg.Runtime.RateLimitPerSecond, cfg.Runtime.RateLimitBurst)
	e := newExecutor(cfg, gateway.NewGuarded(client, gate, cfg.Runtime.RateLimitRetries), client)
	e.log = log
	e.ranges = marketdata.NewKlineSource(cfg.MarketData)

	if cfg.Database.EnableDB {
		db, err := database.InitMainDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		e.useDB(db)
		runs := repository.NewStrategyRunRepository(db)
		if n, err := runs.FailStale(ctx, time.Now()); err != nil {
			log.WithError(err).Warn("Failed to close stale runs")
		} else if n > 0 {
			log.WithField("runs", n).Warn("Marked interrupted runs as FAILED")
		}
	} else {
		log.Info("Database disabled, events go to the log only")
	}

	bg, stop := context.WithCancel(context.WithoutCancel(ctx))
	e.stop = stop
	if cfg.Runtime.EnableUserStream {
		stream := connectors.NewUserStream(client, exCfg.WSURL(), e.hub)
		e.background(func() error { return stream.Run(bg) }, "user stream")
	}
	if cfg.Server.Port != "" {
		e.background(func() error { return server.Start(bg, cfg.Server, e.hub) }, "webhook relay")
	}
	return e, nil
}

func newExecutor(cfg config.Config, gw *gateway.Guarded, account Account) *Executor {
	return &Executor{
		cfg:     cfg,
		log:     logrus.WithField("component", "executor"),
		gw:      gw,
		account: account,
		hub:     notify.NewHub(64),
		clock:   strategy.SystemClock(),
		stop:    func() {},
	}
}

func (e *Executor) useDB(db *gorm.DB) {
	e.db = db
	e.runs = repository.NewStrategyRunRepository(db)
	e.orders = repository.NewOrderRecordRepository(db)
	e.events = repository.NewEventRepository(db)
	e.exceptions = repository.NewExceptionRepository(db)
}

func (e *Executor) background(fn func() error, name string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := fn(); err != nil {
			e.log.WithError(err).Errorf("%s stopped", name)
		}
	}()
}

// Close stops the background feeds and releases the store.
func (e *Executor) Close() error {
	e.stop()
	e.wg.Wait()
	if e.db == nil {
		return nil
	}
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// limitsFor refines the configured limits with the exchange filters of symbol. A symbol the
// exchange does not list is rejected; a failed lookup keeps the configured limits.
func (e *Executor) limitsFor(ctx context.Context, symbol string) (risk.Limits, error) {
	limits := e.cfg.Limits()
	if e.account == nil || !risk.ValidSymbol(symbol, limits.QuoteAsset) {
		return limits, nil
	}
	var info model.SymbolInfo
	err := e.gw.Do(ctx, "symbol_info", func(ctx context.Context) error {
		var err error
		info, err = e.account.GetSymbolInfo(ctx, symbol)
		return err
	})
	switch {
	case err == nil:
		return config.Refine(limits, info), nil
	case errors.Is(err, model.ErrSymbolNotFound):
		return limits, model.Rejected("executor", fmt.Sprintf("symbol %s is not listed", symbol))
	default:
		e.log.WithError(err).WithField("symbol", symbol).Warn("Symbol filters unavailable, using configured precisions")
		return limits, nil
	}
}

// Env builds the strategy environment of one run.
func (e *Executor) Env(ctx context.Context, runID string, kind strategy.Kind, symbol string, strict bool) (strategy.Env, error) {
	limits, err := e.limitsFor(ctx, symbol)
	if err != nil {
		return strategy.Env{}, err
	}
	log := e.log.WithFields(map[string]interface{}{
		"run_id":   runID,
		"strategy": string(kind),
		"symbol":   symbol,
	})

	env := strategy.Env{
		Gateway:       e.gw,
		Limits:        limits,
		Updates:       e.hub,
		Events:        strategy.LogSink{Log: log},
		Clock:         e.clock,
		Log:           log,
		PollInterval:  e.cfg.Runtime.PollInterval,
		ShutdownGrace: e.cfg.Runtime.ShutdownGrace,
		Strict:        strict,
	}
	if e.account != nil {
		env.Positions = e.account
	}
	if e.events != nil {
		env.Events = strategy.MultiSink{env.Events, strategy.StoreSink{Store: e.events, Log: log}}
	}
	if e.orders != nil {
		env.Orders = e.orders
	}
	if e.exceptions != nil {
		env.Errors = e.exceptions
	}
	return env, nil
}

// resolveRange fills zero grid bounds from recent candles.
func (e *Executor) resolveRange(req *Request) error {
	p := req.Params.Grid
	if !req.AutoRange || p == nil {
		return nil
	}
	if e.ranges == nil {
		return model.ConfigError("grid", "auto range is not available")
	}
	lower, upper, err := e.ranges.SuggestRange(p.Symbol, e.cfg.Risk.QuoteAsset)
	if err != nil {
		return model.ConfigError("grid", "auto range: %v", err)
	}
	p.Lower, p.Upper = lower, upper
	e.log.WithFields(map[string]interface{}{
		"symbol": p.Symbol,
		"lower":  lower.String(),
		"upper":  upper.String(),
	}).Info("Grid range derived from recent candles")
	return nil
}

// Prepare validates a request and builds its runner. Nothing is placed yet.
func (e *Executor) Prepare(ctx context.Context, runID string, req Request) (*strategy.Runner, error) {
	if err := risk.CheckSymbol(req.Symbol(), e.cfg.Limits()); err != nil {
		return nil, err
	}
	if err := e.resolveRange(&req); err != nil {
		return nil, err
	}
	env, err := e.Env(ctx, runID, req.Params.Kind, req.Symbol(), req.Strict)
	if err != nil {
		return nil, err
	}
	st, err := strategy.New(env, runID, req.Params)
	if err != nil {
		return nil, err
	}
	e.applyLeverage(ctx, st.Symbol())

	runner := strategy.NewRunner(env, st, e.runs)
	runner.Params = req.EncodedArgs()
	return runner, nil
}

func (e *Executor) applyLeverage(ctx context.Context, symbol string) {
	if e.account == nil {
		return
	}
	leverage := e.cfg.Risk.DefaultLeverage
	err := e.gw.Do(ctx, "set_leverage", func(ctx context.Context) error {
		return e.account.SetLeverage(ctx, symbol, leverage)
	})
	if err != nil {
		e.log.WithError(err).WithFields(map[string]interface{}{
			"symbol":   symbol,
			"leverage": leverage,
		}).Warn("Failed to apply default leverage")
	}
}

// failedSummary reports a request that never got a runner.
func failedSummary(runID string, req Request, err error) strategy.Summary {
	now := time.Now()
	return strategy.Summary{
		RunID:      runID,
		Strategy:   req.Params.Kind,
		Symbol:     req.Symbol(),
		Status:     model.RunStatusFailed,
		Failures:   []string{err.Error()},
		StartedAt:  now,
		FinishedAt: now,
		Error:      err.Error(),
	}
}

// Run executes one strategy to a terminal state.
func (e *Executor) Run(ctx context.Context, req Request) (strategy.Summary, error) {
	runID := strategy.NewRunID()
	runner, err := e.Prepare(ctx, runID, req)
	if err != nil {
		return failedSummary(runID, req, err), err
	}
	return runner.Run(ctx)
}

// Batch runs independent strategies concurrently through the shared rate gate. A request that
// fails to prepare is reported without stopping the others.
func (e *Executor) Batch(ctx context.Context, reqs []Request) ([]strategy.Summary, error) {
	summaries := make([]strategy.Summary, len(reqs))
	errs := make([]error, 0, len(reqs))

	var (
		runners []*strategy.Runner
		slots   []int
	)
	for i, req := range reqs {
		runID := strategy.NewRunID()
		runner, err := e.Prepare(ctx, runID, req)
		if err != nil {
			summaries[i] = failedSummary(runID, req, err)
			errs = append(errs, err)
			continue
		}
		runners = append(runners, runner)
		slots = append(slots, i)
	}

	results, err := strategy.RunConcurrently(ctx, runners, e.cfg.Runtime.BatchConcurrency)
	for j, s := range results {
		summaries[slots[j]] = s
	}
	if err != nil {
		errs = append(errs, err)
	}
	return summaries, errors.Join(errs...)
}

// Status fetches the current state of one order.
func (e *Executor) Status(ctx context.Context, symbol string, orderID int64) (model.OrderRecord, error) {
	return e.gw.GetOrderStatus(ctx, model.OrderRef{Symbol: symbol, OrderID: orderID})
}

// Cancel cancels one order. An order that is already filled or canceled is not an error: its
// terminal record is returned instead.
func (e *Executor) Cancel(ctx context.Context, symbol string, orderID int64) (model.OrderRecord, error) {
	rec, err := e.gw.CancelOrder(ctx, model.OrderRef{Symbol: symbol, OrderID: orderID})
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, model.ErrAlreadyFilled):
		return rec, nil
	case errors.Is(err, model.ErrOrderNotFound) && rec.Status.IsTerminal():
		return rec, nil
	}
	return rec, err
}

// ExitCode maps a run error to the process exit status: 0 success, 2 for configuration and
// validation errors, 1 for everything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case model.IsUserError(err):
		return 2
	default:
		return 1
	}
}
