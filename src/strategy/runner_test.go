package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futuresbot/src/model"
)

type fakeRunStore struct {
	mu       sync.Mutex
	created  []model.StrategyRun
	statuses []model.RunStatus
	finished map[string]model.RunStatus
	summary  string
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{finished: map[string]model.RunStatus{}}
}

func (s *fakeRunStore) Create(_ context.Context, run *model.StrategyRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, *run)
	return nil
}

func (s *fakeRunStore) UpdateStatus(_ context.Context, _ string, status model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeRunStore) Finish(_ context.Context, runID string, status model.RunStatus, summary string, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[runID] = status
	s.summary = summary
	return nil
}

func TestRunnerCompletesMarketOrder(t *testing.T) {
	clock := newAutoClock()
	gw := newFakeGateway(clock, d("100000"))
	sink := &recordingSink{}
	env := testEnv(gw, clock, sink)
	store := newFakeRunStore()

	market, err := NewMarket(env, "run-1", MarketParams{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: d("0.001")})
	require.NoError(t, err)
	runner := NewRunner(env, market, store)
	runner.Params = `{"quantity":"0.001"}`
	assert.Equal(t, model.RunStatusCreated, runner.Status())

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, summary.Status)
	assert.Equal(t, model.RunStatusCompleted, runner.Status())
	assert.Equal(t, 1, summary.Filled)
	assert.True(t, d("0.001").Equal(summary.NetQty))
	assert.True(t, d("100000").Equal(summary.AvgPrice))

	require.Len(t, store.created, 1)
	assert.Equal(t, "run-1", store.created[0].RunID)
	assert.Equal(t, `{"quantity":"0.001"}`, store.created[0].Params)
	assert.Equal(t, []model.RunStatus{model.RunStatusRunning}, store.statuses)
	assert.Equal(t, model.RunStatusCompleted, store.finished["run-1"])

	var stored Summary
	require.NoError(t, json.Unmarshal([]byte(store.summary), &stored))
	assert.Equal(t, "run-1", stored.RunID)

	assert.Equal(t, 1, sink.transitionsTo("run", string(model.RunStatusRunning)))
	assert.Equal(t, 1, sink.transitionsTo("run", string(model.RunStatusCompleted)))
}

func TestRunnerValidationFailure(t *testing.T) {
	clock := newAutoClock()
	gw := newFakeGateway(clock, d("100000"))
	env := testEnv(gw, clock, &recordingSink{})

	market, err := NewMarket(env, "run-small", MarketParams{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: d("0.0005")})
	require.NoError(t, err)

	summary, err := NewRunner(env, market, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, model.IsUserError(err))
	assert.Equal(t, model.RunStatusFailed, summary.Status)
	assert.Equal(t, 1, summary.Rejected)
	assert.NotEmpty(t, summary.Error)
	assert.Empty(t, gw.placements())
}

func TestRunnerCanceledTwap(t *testing.T) {
	clock := newManualClock()
	gw := newFakeGateway(clock, d("100000"))
	env := testEnv(gw, clock, &recordingSink{})

	twap, err := NewTWAP(env, "run-twap", TwapParams{
		Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: d("0.01"), Duration: 30 * time.Minute, Chunks: 5,
	})
	require.NoError(t, err)
	runner := NewRunner(env, twap, nil)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		summary Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := runner.Run(ctx)
		done <- result{s, err}
	}()

	select {
	case <-clock.blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("twap never waited")
	}
	cancel()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, model.RunStatusCanceled, res.summary.Status)
		assert.Equal(t, 1, res.summary.Filled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not return")
	}
}

type stuckStrategy struct {
	release chan struct{}
}

func (s *stuckStrategy) Kind() Kind       { return KindMarket }
func (s *stuckStrategy) Symbol() string   { return "BTCUSDT" }
func (s *stuckStrategy) Summary() Summary { return Summary{RunID: "stuck"} }
func (s *stuckStrategy) Run(context.Context) error {
	<-s.release
	return nil
}

func TestRunnerGracePeriodExceeded(t *testing.T) {
	env := testEnv(nil, SystemClock(), &recordingSink{})
	env.ShutdownGrace = 20 * time.Millisecond
	strat := &stuckStrategy{release: make(chan struct{})}
	defer close(strat.release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := NewRunner(env, strat, nil).Run(ctx)
	require.Error(t, err)
	assert.Equal(t, model.KindFatal, model.KindOf(err))
	assert.Equal(t, model.RunStatusFailed, summary.Status)
	assert.Equal(t, "stuck", summary.RunID)
}

func TestRunConcurrentlyIsolatesFailures(t *testing.T) {
	clock := newAutoClock()
	gw := newFakeGateway(clock, d("100000"))
	env := testEnv(gw, clock, &recordingSink{})

	good, err := NewMarket(env, "good", MarketParams{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: d("0.001")})
	require.NoError(t, err)
	bad, err := NewMarket(env, "bad", MarketParams{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: d("0.0005")})
	require.NoError(t, err)

	summaries, err := RunConcurrently(context.Background(), []*Runner{
		NewRunner(env, good, nil),
		NewRunner(env, bad, nil),
	}, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))
	require.Len(t, summaries, 2)
	assert.Equal(t, "good", summaries[0].RunID)
	assert.Equal(t, model.RunStatusCompleted, summaries[0].Status)
	assert.Equal(t, model.RunStatusFailed, summaries[1].Status)
	assert.Len(t, gw.placements(), 1)
}

func TestNewDispatchesByKind(t *testing.T) {
	clock := newAutoClock()
	env := testEnv(newFakeGateway(clock, d("100000")), clock, &recordingSink{})

	r, err := New(env, "r", Params{Kind: KindTWAP, TWAP: &TwapParams{
		Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: d("0.01"), Duration: 10 * time.Minute,
	}})
	require.NoError(t, err)
	require.IsType(t, &TWAP{}, r)
	assert.Len(t, r.(*TWAP).Plan().Children, 10)

	_, err = New(env, "r", Params{Kind: KindGrid})
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = New(env, "r", Params{Kind: "iceberg"})
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	k, err := ParseKind(" OCO ")
	require.NoError(t, err)
	assert.Equal(t, KindOCO, k)
}

func TestNewRejectsMalformedSymbolBeforeAnyCall(t *testing.T) {
	clock := newAutoClock()
	gw := newFakeGateway(clock, d("100000"))
	env := testEnv(gw, clock, &recordingSink{})
	const symbol = "btc-usd"

	cases := []Params{
		{Kind: KindMarket, Market: &MarketParams{Symbol: symbol, Side: model.SideBuy, Quantity: d("0.001")}},
		{Kind: KindLimit, Limit: &LimitParams{Symbol: symbol, Side: model.SideBuy, Quantity: d("0.001"), Price: d("90000")}},
		{Kind: KindOCO, OCO: &OcoParams{Symbol: symbol, Side: model.SideBuy, Quantity: d("0.001"), TakeProfit: d("110000"), StopLoss: d("90000")}},
		{Kind: KindTWAP, TWAP: &TwapParams{Symbol: symbol, Side: model.SideBuy, Quantity: d("0.01"), Duration: 5 * time.Minute, Chunks: 5}},
		{Kind: KindGrid, Grid: &GridParams{Symbol: symbol, Lower: d("90000"), Upper: d("110000"), Levels: 2, Investment: d("1000")}},
	}
	for _, p := range cases {
		t.Run(string(p.Kind), func(t *testing.T) {
			_, err := New(env, "r", p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrValidation), err.Error())
			assert.True(t, model.IsUserError(err))
			assert.Contains(t, err.Error(), `invalid symbol "btc-usd"`)
		})
	}
	assert.Zero(t, gw.callCount())
}
