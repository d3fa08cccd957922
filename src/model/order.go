package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for buys and -1 for sells, used for net quantity.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// ParseSide accepts buy/sell in any case.
func ParseSide(v string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(v))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side %q, must be BUY or SELL", v)
	}
}

// OrderKind is the exchange order type.
type OrderKind string

const (
	KindMarket           OrderKind = "MARKET"
	KindLimit            OrderKind = "LIMIT"
	KindStop             OrderKind = "STOP"
	KindStopMarket       OrderKind = "STOP_MARKET"
	KindTakeProfit       OrderKind = "TAKE_PROFIT"
	KindTakeProfitMarket OrderKind = "TAKE_PROFIT_MARKET"
)

// TimeInForce for resting orders.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceGTX TimeInForce = "GTX"
)

// ParseTimeInForce validates a time in force value.
func ParseTimeInForce(v string) (TimeInForce, error) {
	switch tif := TimeInForce(strings.ToUpper(strings.TrimSpace(v))); tif {
	case TimeInForceGTC, TimeInForceIOC, TimeInForceFOK, TimeInForceGTX:
		return tif, nil
	default:
		return "", fmt.Errorf("invalid time in force %q", v)
	}
}

// OrderStatus mirrors the exchange order lifecycle.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// ParseOrderStatus maps exchange status strings, folding EXPIRED_IN_MATCH into EXPIRED.
func ParseOrderStatus(v string) (OrderStatus, error) {
	switch s := OrderStatus(strings.ToUpper(v)); s {
	case OrderStatusNew, OrderStatusPartiallyFilled, OrderStatusFilled,
		OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return s, nil
	case "EXPIRED_IN_MATCH":
		return OrderStatusExpired, nil
	default:
		return "", fmt.Errorf("unknown order status %q", v)
	}
}

// IsTerminal reports whether no further transition can happen.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

func (s OrderStatus) rank() int {
	switch {
	case s.IsTerminal():
		return 2
	case s == OrderStatusPartiallyFilled:
		return 1
	default:
		return 0
	}
}

// OrderIntent is what a strategy asks the exchange to do. It is never changed after submission.
type OrderIntent struct {
	Symbol      string          `gorm:"size:30" json:"symbol"`
	Side        Side            `gorm:"size:10" json:"side"`
	Kind        OrderKind       `gorm:"size:30" json:"kind"`
	Quantity    decimal.Decimal `gorm:"type:numeric" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:numeric" json:"price"`
	StopPrice   decimal.Decimal `gorm:"type:numeric" json:"stop_price"`
	TimeInForce TimeInForce     `gorm:"size:5" json:"time_in_force,omitempty"`
	ReduceOnly  bool            `json:"reduce_only"`

	// ClientOrderID makes retried placements idempotent on the exchange side.
	ClientOrderID string `gorm:"-" json:"-"`
}

// HasPrice reports whether the intent carries a limit price.
func (i OrderIntent) HasPrice() bool {
	return i.Price.IsPositive()
}

// OrderRef identifies an order on the exchange.
type OrderRef struct {
	Symbol  string
	OrderID int64
}

func (r OrderRef) String() string {
	return fmt.Sprintf("%s#%d", r.Symbol, r.OrderID)
}

// OrderRecord tracks one submitted order. It is created from the placement response and only
// changes through Apply with status results.
type OrderRecord struct {
	ID              uint            `gorm:"primaryKey" json:"-"`
	RunID           string          `gorm:"size:64;index" json:"run_id,omitempty"`
	ExchangeOrderID int64           `gorm:"index" json:"order_id"`
	ClientOrderID   string          `gorm:"size:64;uniqueIndex" json:"client_order_id"`
	Intent          OrderIntent     `gorm:"embedded;embeddedPrefix:intent_" json:"intent"`
	Status          OrderStatus     `gorm:"size:30;not null" json:"status"`
	FilledQty       decimal.Decimal `gorm:"type:numeric" json:"filled_qty"`
	AvgPrice        decimal.Decimal `gorm:"type:numeric" json:"avg_price"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	LastUpdateAt    time.Time       `json:"last_update_at"`
	CreatedAt       time.Time       `json:"-"`
	UpdatedAt       time.Time       `json:"-"`
}

// TableName keeps the table name stable.
func (OrderRecord) TableName() string {
	return "order_records"
}

// Ref returns the exchange reference of the record.
func (r *OrderRecord) Ref() OrderRef {
	return OrderRef{Symbol: r.Intent.Symbol, OrderID: r.ExchangeOrderID}
}

// Notional is filled quantity times average price.
func (r *OrderRecord) Notional() decimal.Decimal {
	return r.FilledQty.Mul(r.AvgPrice)
}

// Apply merges a status result into the record. Stale results (lower lifecycle rank or less
// filled quantity) are ignored. Moving from one terminal status to a different one is an
// invariant violation.
func (r *OrderRecord) Apply(update OrderRecord) (bool, error) {
	if update.ExchangeOrderID != 0 && r.ExchangeOrderID != 0 && update.ExchangeOrderID != r.ExchangeOrderID {
		return false, Fatal("order.apply", fmt.Sprintf("status for order %d applied to order %d", update.ExchangeOrderID, r.ExchangeOrderID))
	}
	if update.Status == "" {
		return false, nil
	}

	if r.Status.IsTerminal() {
		if update.Status != r.Status {
			return false, fmt.Errorf("%w: %s -> %s for order %d", ErrInvalidTransition, r.Status, update.Status, r.ExchangeOrderID)
		}
		return false, nil
	}

	if update.Status.rank() < r.Status.rank() || update.FilledQty.LessThan(r.FilledQty) {
		return false, nil
	}

	changed := update.Status != r.Status || !update.FilledQty.Equal(r.FilledQty)
	r.Status = update.Status
	r.FilledQty = update.FilledQty
	if update.AvgPrice.IsPositive() {
		r.AvgPrice = update.AvgPrice
	}
	if !update.LastUpdateAt.IsZero() {
		r.LastUpdateAt = update.LastUpdateAt
	}
	return changed, nil
}
