package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"futuresbot/src/model"
	"futuresbot/src/risk"
)

// LevelState is the cycle a grid level goes through.
type LevelState string

const (
	LevelEmpty       LevelState = "EMPTY"
	LevelResting     LevelState = "RESTING"
	LevelFilled      LevelState = "FILLED"
	LevelReplenished LevelState = "REPLENISHED"
)

const (
	gridDeploying = "DEPLOYING"
	gridRunning   = "RUNNING"
	gridStopped   = "STOPPED"
)

// GridParams describes a ladder of Levels prices between Lower and Upper. Duration, when set,
// stops the grid after that long.
type GridParams struct {
	Symbol     string
	Lower      decimal.Decimal
	Upper      decimal.Decimal
	Levels     int
	Investment decimal.Decimal
	Duration   time.Duration
}

// GridLevel is one rung of the ladder. Home is the side the level started on: a buy level
// alternates between buying at its own price and selling one level up, a sell level between
// selling at its own price and buying one level down.
type GridLevel struct {
	Index    int
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Home     model.Side
	State    LevelState
	Order    *model.OrderRecord

	// unmatched fill waiting for the opposite leg to complete a round trip
	open *model.OrderRecord
}

// GridPlan is the ladder, ordered by strictly increasing price.
type GridPlan struct {
	Params GridParams
	Step   decimal.Decimal
	Levels []GridLevel
}

// BuildGrid spaces the levels evenly over [Lower, Upper] and sizes each at Investment/Levels of
// notional.
func BuildGrid(p GridParams, limits risk.Limits) (GridPlan, error) {
	const op = "grid"
	switch {
	case p.Levels < 2:
		return GridPlan{}, model.ConfigError(op, "level count must be at least 2, got %d", p.Levels)
	case !p.Lower.IsPositive():
		return GridPlan{}, model.ConfigError(op, "lower bound must be positive")
	case !p.Lower.LessThan(p.Upper):
		return GridPlan{}, model.ConfigError(op, "lower bound %s must be below upper bound %s", p.Lower, p.Upper)
	case !p.Investment.IsPositive():
		return GridPlan{}, model.ConfigError(op, "investment must be positive")
	}

	k := decimal.NewFromInt(int64(p.Levels))
	step := p.Upper.Sub(p.Lower).Div(k.Sub(decimal.NewFromInt(1)))
	perLevel := p.Investment.Div(k)

	plan := GridPlan{Params: p, Step: step, Levels: make([]GridLevel, p.Levels)}
	for i := range plan.Levels {
		price := p.Lower.Add(step.Mul(decimal.NewFromInt(int64(i))))
		if i == p.Levels-1 {
			price = p.Upper
		}
		price = limits.RoundPrice(price)
		if i > 0 && !price.GreaterThan(plan.Levels[i-1].Price) {
			return GridPlan{}, model.ConfigError(op, "levels %d and %d collapse to %s at price precision %d", i-1, i, price, limits.PricePrecision)
		}
		qty := limits.TruncateQuantity(perLevel.Div(price))
		if !qty.IsPositive() || qty.LessThan(limits.MinOrderSize) {
			return GridPlan{}, model.ConfigError(op, "quantity %s at level %s is below minimum order size %s", qty, price, limits.MinOrderSize)
		}
		plan.Levels[i] = GridLevel{Index: i, Price: price, Quantity: qty, State: LevelEmpty}
	}
	return plan, nil
}

// Grid keeps the ladder deployed and replenishes every filled level with the opposite order.
type Grid struct {
	s    *session
	plan GridPlan
}

func NewGrid(env Env, runID string, p GridParams) (*Grid, error) {
	if err := risk.CheckSymbol(p.Symbol, env.Limits); err != nil {
		return nil, err
	}
	plan, err := BuildGrid(p, env.Limits)
	if err != nil {
		return nil, err
	}
	return &Grid{s: newSession(env, runID, KindGrid, p.Symbol), plan: plan}, nil
}

func (g *Grid) Kind() Kind       { return KindGrid }
func (g *Grid) Symbol() string   { return g.plan.Params.Symbol }
func (g *Grid) Summary() Summary { return g.s.summary() }

// Plan returns the ladder. Only safe to call once Run has returned.
func (g *Grid) Plan() GridPlan { return g.plan }

func (g *Grid) Run(ctx context.Context) error {
	const op = "grid"
	g.s.event(ctx, "plan", "", gridDeploying, 0, fmt.Sprintf("%d levels in [%s, %s]", len(g.plan.Levels), g.plan.Params.Lower, g.plan.Params.Upper))

	market, err := g.s.env.Gateway.GetPrice(ctx, g.plan.Params.Symbol)
	if err != nil {
		return escalate(op, err, false)
	}

	placed := 0
	for i := range g.plan.Levels {
		lvl := &g.plan.Levels[i]
		switch lvl.Price.Cmp(market) {
		case -1:
			lvl.Home = model.SideBuy
		case 1:
			lvl.Home = model.SideSell
		default:
			continue
		}
		if ctx.Err() != nil {
			return g.stop(ctx)
		}
		if err := g.placeLevel(ctx, lvl, lvl.Home, lvl.Price, market); err != nil {
			if !g.s.env.Strict {
				continue
			}
			_ = g.stop(ctx)
			if placed == 0 {
				return escalate(op, err, false)
			}
			return model.PartialFailure(op, fmt.Sprintf("aborted at level %d, resting orders canceled", lvl.Index), err)
		}
		placed++
	}
	g.s.event(ctx, "plan", gridDeploying, gridRunning, 0, fmt.Sprintf("deployed around %s", market))

	var deadline time.Time
	if g.plan.Params.Duration > 0 {
		deadline = g.s.env.Clock.Now().Add(g.plan.Params.Duration)
	}

	f := g.s.subscribe()
	defer f.stop()
	for {
		wait := g.s.env.PollInterval
		if !deadline.IsZero() {
			left := deadline.Sub(g.s.env.Clock.Now())
			if left <= 0 {
				return g.stop(ctx)
			}
			if left < wait {
				wait = left
			}
		}

		upd, err := g.s.wait(ctx, f, wait)
		if err != nil {
			return g.stop(ctx)
		}
		if upd != nil {
			if lvl := g.levelFor(upd.ExchangeOrderID); lvl != nil {
				if _, err := g.s.apply(ctx, orderName(lvl), lvl.Order, *upd); err != nil {
					_ = g.stop(ctx)
					return err
				}
			}
		} else if err := g.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return g.stop(ctx)
			}
			_ = g.stop(ctx)
			return err
		}

		if err := g.react(ctx, market); err != nil {
			_ = g.stop(ctx)
			return model.PartialFailure(op, "replenishment failed, resting orders canceled", err)
		}
	}
}

func levelName(lvl *GridLevel) string {
	return fmt.Sprintf("level-%d", lvl.Index)
}

func orderName(lvl *GridLevel) string {
	return fmt.Sprintf("order@level-%d", lvl.Index)
}

func (g *Grid) levelFor(orderID int64) *GridLevel {
	for i := range g.plan.Levels {
		lvl := &g.plan.Levels[i]
		if lvl.Order != nil && lvl.Order.ExchangeOrderID == orderID {
			return lvl
		}
	}
	return nil
}

func (g *Grid) setLevel(ctx context.Context, lvl *GridLevel, to LevelState, orderID int64, msg string) {
	from := lvl.State
	lvl.State = to
	g.s.event(ctx, levelName(lvl), string(from), string(to), orderID, msg)
}

// poll refreshes every resting order. Network errors are logged and retried on the next round.
func (g *Grid) poll(ctx context.Context) error {
	for i := range g.plan.Levels {
		lvl := &g.plan.Levels[i]
		if lvl.State != LevelResting || lvl.Order.Status.IsTerminal() {
			continue
		}
		if _, err := g.s.refresh(ctx, orderName(lvl), lvl.Order); err != nil {
			if ctx.Err() != nil || model.KindOf(err) == model.KindFatal {
				return err
			}
			g.s.log.WithError(err).WithField("level", lvl.Index).Warn("Grid level poll failed")
		}
	}
	return nil
}

// react handles levels whose order reached a terminal state. A strict grid stops on the first
// failed replenishment.
func (g *Grid) react(ctx context.Context, market decimal.Decimal) error {
	for i := range g.plan.Levels {
		lvl := &g.plan.Levels[i]
		if lvl.State != LevelResting || !lvl.Order.Status.IsTerminal() {
			continue
		}
		if lvl.Order.Status != model.OrderStatusFilled {
			g.setLevel(ctx, lvl, LevelEmpty, lvl.Order.ExchangeOrderID, fmt.Sprintf("order ended %s, level dormant", lvl.Order.Status))
			lvl.Order = nil
			continue
		}
		if err := g.replenish(ctx, lvl, market); err != nil && g.s.env.Strict {
			return err
		}
	}
	return nil
}

func (g *Grid) replenish(ctx context.Context, lvl *GridLevel, market decimal.Decimal) error {
	fill := *lvl.Order
	g.setLevel(ctx, lvl, LevelFilled, fill.ExchangeOrderID, fmt.Sprintf("%s %s @ %s", fill.Intent.Side, fill.FilledQty, fillPrice(fill)))
	g.book(lvl, fill)

	next := fill.Intent.Side.Opposite()
	price, ok := g.orderPrice(lvl, next)
	lvl.Order = nil
	if !ok {
		g.setLevel(ctx, lvl, LevelEmpty, 0, "no neighbor level inside the range, level dormant")
		return nil
	}
	g.setLevel(ctx, lvl, LevelReplenished, 0, fmt.Sprintf("%s @ %s", next, price))
	return g.placeLevel(ctx, lvl, next, price, market)
}

// book records a fill and closes a round trip when it matches an earlier opposite fill.
func (g *Grid) book(lvl *GridLevel, fill model.OrderRecord) {
	if lvl.open == nil || lvl.open.Intent.Side == fill.Intent.Side {
		lvl.open = &fill
		return
	}
	buy, sell := *lvl.open, fill
	if buy.Intent.Side == model.SideSell {
		buy, sell = sell, buy
	}
	qty := decimal.Min(buy.FilledQty, sell.FilledQty)
	profit := fillPrice(sell).Sub(fillPrice(buy)).Mul(qty)
	lvl.open = nil
	g.s.note(func(sum *Summary) {
		sum.GridProfit = sum.GridProfit.Add(profit)
		sum.RoundTrips++
	})
	g.s.succeed(fmt.Sprintf("level %d round trip: buy %s sell %s qty %s profit %s", lvl.Index, fillPrice(buy), fillPrice(sell), qty, profit))
}

func fillPrice(rec model.OrderRecord) decimal.Decimal {
	if rec.AvgPrice.IsPositive() {
		return rec.AvgPrice
	}
	return rec.Intent.Price
}

// orderPrice is the level's own price on its home side and the neighbor's price on the other.
func (g *Grid) orderPrice(lvl *GridLevel, side model.Side) (decimal.Decimal, bool) {
	if side == lvl.Home {
		return lvl.Price, true
	}
	j := lvl.Index + 1
	if side == model.SideBuy {
		j = lvl.Index - 1
	}
	if j < 0 || j >= len(g.plan.Levels) {
		return decimal.Zero, false
	}
	return g.plan.Levels[j].Price, true
}

func (g *Grid) placeLevel(ctx context.Context, lvl *GridLevel, side model.Side, price, market decimal.Decimal) error {
	intent := model.OrderIntent{
		Symbol:      g.plan.Params.Symbol,
		Side:        side,
		Kind:        model.KindLimit,
		Quantity:    lvl.Quantity,
		Price:       price,
		TimeInForce: model.TimeInForceGTC,
	}
	if err := g.s.validate(ctx, intent, market); err != nil {
		g.s.reject(fmt.Sprintf("level %d %s @ %s: %v", lvl.Index, side, price, err))
		g.setLevel(ctx, lvl, LevelEmpty, 0, err.Error())
		return err
	}
	rec, err := g.s.place(ctx, orderName(lvl), intent)
	if err != nil {
		g.setLevel(ctx, lvl, LevelEmpty, 0, err.Error())
		return err
	}
	lvl.Order = &rec
	g.setLevel(ctx, lvl, LevelResting, rec.ExchangeOrderID, fmt.Sprintf("%s %s @ %s", side, lvl.Quantity, price))
	return nil
}

// stop cancels every resting order and books fills that raced the cancel.
func (g *Grid) stop(ctx context.Context) error {
	cctx, cancel := g.s.cleanupContext(ctx)
	defer cancel()

	unfilled := 0
	for i := range g.plan.Levels {
		lvl := &g.plan.Levels[i]
		if lvl.State != LevelResting || lvl.Order == nil {
			continue
		}
		if err := g.s.cancel(cctx, orderName(lvl), lvl.Order); err != nil {
			unfilled++
			g.s.fail(fmt.Sprintf("cancel level %d order %d: %v", lvl.Index, lvl.Order.ExchangeOrderID, err))
			g.s.log.WithError(err).WithField("level", lvl.Index).Error("Failed to cancel grid order during stop")
			continue
		}
		if lvl.Order.Status == model.OrderStatusFilled {
			g.book(lvl, *lvl.Order)
			g.setLevel(ctx, lvl, LevelFilled, lvl.Order.ExchangeOrderID, "filled before stop")
			continue
		}
		unfilled++
		g.setLevel(ctx, lvl, LevelEmpty, lvl.Order.ExchangeOrderID, "canceled on stop")
	}

	g.s.note(func(sum *Summary) { sum.Unfilled = unfilled })
	summary := g.s.summary()
	g.s.event(ctx, "plan", gridRunning, gridStopped, 0,
		fmt.Sprintf("profit %s over %d round trips, %d unfilled", summary.GridProfit, summary.RoundTrips, unfilled))
	return nil
}
