package model

// BinanceOrderResponse is the order payload of /fapi/v1/order responses.
type BinanceOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuote      string `json:"cumQuote"`
	TimeInForce   string `json:"timeInForce"`
	Type          string `json:"type"`
	OrigType      string `json:"origType"`
	ReduceOnly    bool   `json:"reduceOnly"`
	Side          string `json:"side"`
	StopPrice     string `json:"stopPrice"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

// BinanceOrderTradeUpdate is the "o" object of an ORDER_TRADE_UPDATE user stream event.
type BinanceOrderTradeUpdate struct {
	Symbol          string `json:"s"`
	ClientOrderID   string `json:"c"`
	Side            string `json:"S"`
	OrderType       string `json:"o"`
	TimeInForce     string `json:"f"`
	OrigQty         string `json:"q"`
	Price           string `json:"p"`
	AvgPrice        string `json:"ap"`
	StopPrice       string `json:"sp"`
	ExecutionType   string `json:"x"`
	Status          string `json:"X"`
	OrderID         int64  `json:"i"`
	CumFilledQty    string `json:"z"`
	TradeTime       int64  `json:"T"`
	ReduceOnly      bool   `json:"R"`
	OriginalType    string `json:"ot"`
	RealizedProfit  string `json:"rp"`
	LastFilledQty   string `json:"l"`
	LastFilledPrice string `json:"L"`
}
