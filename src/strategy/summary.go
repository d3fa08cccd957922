package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"futuresbot/src/model"
)

// Summary is the final report of a run. It is produced for every terminal state.
type Summary struct {
	RunID    string          `json:"run_id"`
	Strategy Kind            `json:"strategy"`
	Symbol   string          `json:"symbol"`
	Status   model.RunStatus `json:"status"`

	// Child order counts by state. Rejected also counts placements the exchange or the
	// validator refused, which never became records.
	Placed          int `json:"placed"`
	Filled          int `json:"filled"`
	PartiallyFilled int `json:"partially_filled"`
	Open            int `json:"open"`
	Canceled        int `json:"canceled"`
	Rejected        int `json:"rejected"`
	Expired         int `json:"expired"`

	BoughtQty    decimal.Decimal `json:"bought_qty"`
	SoldQty      decimal.Decimal `json:"sold_qty"`
	NetQty       decimal.Decimal `json:"net_qty"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	AvgBuyPrice  decimal.Decimal `json:"avg_buy_price"`
	AvgSellPrice decimal.Decimal `json:"avg_sell_price"`

	// Grid.
	GridProfit decimal.Decimal `json:"grid_profit"`
	RoundTrips int             `json:"round_trips"`
	Unfilled   int             `json:"unfilled"`

	// OCO.
	Outcome     string          `json:"outcome,omitempty"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	HasPnL      bool            `json:"has_pnl"`

	Succeeded []string `json:"succeeded,omitempty"`
	Failures  []string `json:"failures,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// FilledQty is the total executed quantity on both sides.
func (s Summary) FilledQty() decimal.Decimal {
	return s.BoughtQty.Add(s.SoldQty)
}

// summarize counts records by status and computes executed quantities and VWAPs.
func summarize(records []model.OrderRecord) Summary {
	var s Summary
	var buyNotional, sellNotional decimal.Decimal
	for i := range records {
		rec := &records[i]
		s.Placed++
		switch rec.Status {
		case model.OrderStatusFilled:
			s.Filled++
		case model.OrderStatusPartiallyFilled:
			s.PartiallyFilled++
		case model.OrderStatusCanceled:
			s.Canceled++
		case model.OrderStatusRejected:
			s.Rejected++
		case model.OrderStatusExpired:
			s.Expired++
		default:
			s.Open++
		}
		if !rec.FilledQty.IsPositive() {
			continue
		}
		if rec.Intent.Side == model.SideBuy {
			s.BoughtQty = s.BoughtQty.Add(rec.FilledQty)
			buyNotional = buyNotional.Add(rec.Notional())
		} else {
			s.SoldQty = s.SoldQty.Add(rec.FilledQty)
			sellNotional = sellNotional.Add(rec.Notional())
		}
	}

	s.NetQty = s.BoughtQty.Sub(s.SoldQty)
	s.AvgBuyPrice = vwap(buyNotional, s.BoughtQty)
	s.AvgSellPrice = vwap(sellNotional, s.SoldQty)
	s.AvgPrice = vwap(buyNotional.Add(sellNotional), s.FilledQty())
	return s
}

func vwap(notional, qty decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return notional.Div(qty)
}
