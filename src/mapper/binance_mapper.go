package mapper

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"futuresbot/src/model"
)

// MapBinanceOrder converts an order response into an OrderRecord. Numeric fields that fail to
// parse are logged and default to zero instead of failing the whole mapping. An unknown status
// is an error since the record would be meaningless without it.
func MapBinanceOrder(resp *model.BinanceOrderResponse) (model.OrderRecord, error) {
	if resp == nil {
		return model.OrderRecord{}, errors.New("nil binance order response")
	}

	status, err := model.ParseOrderStatus(resp.Status)
	if err != nil {
		return model.OrderRecord{}, err
	}

	kind := resp.OrigType
	if kind == "" {
		kind = resp.Type
	}

	rec := model.OrderRecord{
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   resp.ClientOrderID,
		Intent: model.OrderIntent{
			Symbol:        resp.Symbol,
			Side:          model.Side(resp.Side),
			Kind:          model.OrderKind(kind),
			Quantity:      parseDecimalSafe("origQty", resp.OrigQty),
			Price:         parseDecimalSafe("price", resp.Price),
			StopPrice:     parseDecimalSafe("stopPrice", resp.StopPrice),
			TimeInForce:   model.TimeInForce(resp.TimeInForce),
			ReduceOnly:    resp.ReduceOnly,
			ClientOrderID: resp.ClientOrderID,
		},
		Status:    status,
		FilledQty: parseDecimalSafe("executedQty", resp.ExecutedQty),
		AvgPrice:  parseDecimalSafe("avgPrice", resp.AvgPrice),
	}

	// older responses leave avgPrice at zero but carry the quote volume
	if !rec.AvgPrice.IsPositive() && rec.FilledQty.IsPositive() {
		if cum := parseDecimalSafe("cumQuote", resp.CumQuote); cum.IsPositive() {
			rec.AvgPrice = cum.Div(rec.FilledQty)
		}
	}

	if resp.Time > 0 {
		rec.SubmittedAt = time.UnixMilli(resp.Time)
	}
	if resp.UpdateTime > 0 {
		rec.LastUpdateAt = time.UnixMilli(resp.UpdateTime)
		if rec.SubmittedAt.IsZero() {
			rec.SubmittedAt = rec.LastUpdateAt
		}
	}

	logger.WithFields(map[string]interface{}{
		"mapper":   "MapBinanceOrder",
		"order_id": rec.ExchangeOrderID,
		"symbol":   rec.Intent.Symbol,
		"status":   rec.Status,
	}).Debug("Mapped binance order")

	return rec, nil
}

// MapOrderTradeUpdate converts a user stream ORDER_TRADE_UPDATE payload.
func MapOrderTradeUpdate(u *model.BinanceOrderTradeUpdate, eventTime int64) (model.OrderRecord, error) {
	if u == nil {
		return model.OrderRecord{}, errors.New("nil order trade update")
	}
	status, err := model.ParseOrderStatus(u.Status)
	if err != nil {
		return model.OrderRecord{}, err
	}

	kind := u.OriginalType
	if kind == "" {
		kind = u.OrderType
	}

	rec := model.OrderRecord{
		ExchangeOrderID: u.OrderID,
		ClientOrderID:   u.ClientOrderID,
		Intent: model.OrderIntent{
			Symbol:        u.Symbol,
			Side:          model.Side(u.Side),
			Kind:          model.OrderKind(kind),
			Quantity:      parseDecimalSafe("q", u.OrigQty),
			Price:         parseDecimalSafe("p", u.Price),
			StopPrice:     parseDecimalSafe("sp", u.StopPrice),
			TimeInForce:   model.TimeInForce(u.TimeInForce),
			ReduceOnly:    u.ReduceOnly,
			ClientOrderID: u.ClientOrderID,
		},
		Status:    status,
		FilledQty: parseDecimalSafe("z", u.CumFilledQty),
		AvgPrice:  parseDecimalSafe("ap", u.AvgPrice),
	}
	ts := u.TradeTime
	if ts == 0 {
		ts = eventTime
	}
	if ts > 0 {
		rec.LastUpdateAt = time.UnixMilli(ts)
	}
	return rec, nil
}

func parseDecimalSafe(field, v string) decimal.Decimal {
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"field": field,
			"value": v,
		}).WithError(err).Error("Failed to parse decimal from binance field; defaulting to 0")
		return decimal.Zero
	}
	return d
}
