// Signed REST client for Binance USDT-M futures.
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"futuresbot/src/mapper"
	"futuresbot/src/model"
	"futuresbot/src/risk"
)

const (
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second

	clientOrderIDPrefix = "fb-"
)

// Client is a signed Binance futures REST client. It implements gateway.ExchangeGateway.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64
	http       *resty.Client
	now        func() time.Time
}

// isRetryableResp retries transport errors, 5xx and 408. Rate limit statuses are left to the
// shared gate so every caller backs off together.
func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	return code == http.StatusRequestTimeout
}

func NewClient(cfg Config) *Client {
	baseURL := cfg.RESTURL()
	if baseURL == "" {
		baseURL = "https://testnet.binancefuture.com"
		logger.WithField("base_url", baseURL).Warn("No base URL provided, using testnet")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.HTTPRetries).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    baseURL,
		recvWindow: cfg.RecvWindow,
		http:       httpClient,
		now:        time.Now,
	}
}

// signRequest is HMAC-SHA256 of the exact query string, hex encoded.
func signRequest(query, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func newClientOrderID() string {
	return clientOrderIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// doRequest sends a request and returns the raw body of a 200 response. Non-200 responses are
// returned as *APIError, transport failures as network errors.
func (c *Client) doRequest(ctx context.Context, op, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		if c.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		}
		query = params.Encode()
		query += "&signature=" + signRequest(query, c.apiSecret)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey)
	if query != "" {
		req = req.SetQueryString(query)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"op":     op,
			"method": method,
			"path":   path,
		}).WithError(err).Warn("Exchange request failed")
		return nil, model.NetworkError(op, err)
	}

	raw := resp.Body()
	if resp.StatusCode() == http.StatusOK {
		return raw, nil
	}

	apiErr := &APIError{Status: resp.StatusCode()}
	if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Msg == "" {
		apiErr.Msg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(string(raw)))
	}
	logger.WithFields(map[string]interface{}{
		"op":     op,
		"status": apiErr.Status,
		"code":   apiErr.Code,
	}).Warn(apiErr.Msg)
	return nil, apiErr
}

// ---------------------------------------------------
// Market data
// ---------------------------------------------------

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	const op = "binance.get_price"
	raw, err := c.doRequest(ctx, op, http.MethodGet, "/fapi/v1/ticker/price", url.Values{"symbol": {symbol}}, false)
	if err != nil {
		return decimal.Zero, classify(op, err)
	}
	var tp tickerPrice
	if err := json.Unmarshal(raw, &tp); err != nil {
		return decimal.Zero, model.NetworkError(op, fmt.Errorf("decode ticker: %w", err))
	}
	price, err := decimal.NewFromString(tp.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, model.NetworkError(op, fmt.Errorf("invalid price %q for %s", tp.Price, symbol))
	}
	return price, nil
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol            string `json:"symbol"`
		Status            string `json:"status"`
		QuoteAsset        string `json:"quoteAsset"`
		PricePrecision    int32  `json:"pricePrecision"`
		QuantityPrecision int32  `json:"quantityPrecision"`
		Filters           []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
		} `json:"filters"`
	} `json:"symbols"`
}

// GetSymbolInfo returns the trading filters of one symbol.
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	const op = "binance.exchange_info"
	raw, err := c.doRequest(ctx, op, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return model.SymbolInfo{}, classify(op, err)
	}
	var info exchangeInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return model.SymbolInfo{}, model.NetworkError(op, fmt.Errorf("decode exchange info: %w", err))
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		out := model.SymbolInfo{
			Symbol:            s.Symbol,
			QuoteAsset:        s.QuoteAsset,
			Status:            s.Status,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				out.TickSize, _ = decimal.NewFromString(f.TickSize)
			case "LOT_SIZE":
				out.StepSize, _ = decimal.NewFromString(f.StepSize)
				out.MinQty, _ = decimal.NewFromString(f.MinQty)
			}
		}
		return out, nil
	}
	return model.SymbolInfo{}, fmt.Errorf("%s: %w: %s", op, model.ErrSymbolNotFound, symbol)
}

// ---------------------------------------------------
// Orders
// ---------------------------------------------------

func orderParams(intent model.OrderIntent) url.Values {
	p := url.Values{}
	p.Set("symbol", intent.Symbol)
	p.Set("side", string(intent.Side))
	p.Set("type", string(intent.Kind))
	p.Set("quantity", intent.Quantity.String())
	p.Set("newClientOrderId", intent.ClientOrderID)
	p.Set("newOrderRespType", "RESULT")

	switch intent.Kind {
	case model.KindLimit, model.KindStop, model.KindTakeProfit:
		p.Set("price", intent.Price.String())
		tif := intent.TimeInForce
		if tif == "" {
			tif = model.TimeInForceGTC
		}
		p.Set("timeInForce", string(tif))
	}
	switch intent.Kind {
	case model.KindStop, model.KindStopMarket, model.KindTakeProfit, model.KindTakeProfitMarket:
		p.Set("stopPrice", intent.StopPrice.String())
	}
	if intent.ReduceOnly {
		p.Set("reduceOnly", "true")
	}
	return p
}

// PlaceOrder submits an order. A client order id is generated when the intent has none, so a
// retried submission cannot create a duplicate.
func (c *Client) PlaceOrder(ctx context.Context, intent model.OrderIntent) (model.OrderRecord, error) {
	const op = "binance.place_order"
	if intent.ClientOrderID == "" {
		intent.ClientOrderID = newClientOrderID()
	}

	logger.WithFields(map[string]interface{}{
		"op":              op,
		"symbol":          intent.Symbol,
		"side":            intent.Side,
		"type":            intent.Kind,
		"qty":             intent.Quantity.String(),
		"price":           intent.Price.String(),
		"client_order_id": intent.ClientOrderID,
	}).Info("Placing order")

	raw, err := c.doRequest(ctx, op, http.MethodPost, "/fapi/v1/order", orderParams(intent), true)
	if err != nil {
		return model.OrderRecord{}, classify(op, err)
	}
	rec, err := c.decodeOrder(op, raw)
	if err != nil {
		return model.OrderRecord{}, err
	}
	// keep what we asked for, the response may echo a rounded form
	rec.Intent = intent
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = c.now()
	}
	return rec, nil
}

// CancelOrder cancels one order. A cancel rejected because the order is gone is resolved with a
// status lookup: a filled order yields model.ErrAlreadyFilled, anything else model.ErrOrderNotFound.
func (c *Client) CancelOrder(ctx context.Context, ref model.OrderRef) (model.OrderRecord, error) {
	const op = "binance.cancel_order"
	params := url.Values{
		"symbol":  {ref.Symbol},
		"orderId": {strconv.FormatInt(ref.OrderID, 10)},
	}
	raw, err := c.doRequest(ctx, op, http.MethodDelete, "/fapi/v1/order", params, true)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Code == codeCancelRejected || apiErr.Code == codeNoSuchOrder) {
			return c.resolveCancelRejected(ctx, ref, err)
		}
		return model.OrderRecord{}, classify(op, err)
	}
	return c.decodeOrder(op, raw)
}

func (c *Client) resolveCancelRejected(ctx context.Context, ref model.OrderRef, cause error) (model.OrderRecord, error) {
	rec, err := c.GetOrderStatus(ctx, ref)
	if err != nil {
		return model.OrderRecord{}, fmt.Errorf("binance.cancel_order: %w: %v", model.ErrOrderNotFound, cause)
	}
	if rec.Status == model.OrderStatusFilled {
		return rec, fmt.Errorf("binance.cancel_order: %w: order %d", model.ErrAlreadyFilled, ref.OrderID)
	}
	return rec, fmt.Errorf("binance.cancel_order: %w: order %d is %s", model.ErrOrderNotFound, ref.OrderID, rec.Status)
}

func (c *Client) GetOrderStatus(ctx context.Context, ref model.OrderRef) (model.OrderRecord, error) {
	const op = "binance.get_order"
	params := url.Values{
		"symbol":  {ref.Symbol},
		"orderId": {strconv.FormatInt(ref.OrderID, 10)},
	}
	raw, err := c.doRequest(ctx, op, http.MethodGet, "/fapi/v1/order", params, true)
	if err != nil {
		return model.OrderRecord{}, classify(op, err)
	}
	return c.decodeOrder(op, raw)
}

func (c *Client) decodeOrder(op string, raw []byte) (model.OrderRecord, error) {
	var resp model.BinanceOrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.OrderRecord{}, model.NetworkError(op, fmt.Errorf("decode order: %w", err))
	}
	rec, err := mapper.MapBinanceOrder(&resp)
	if err != nil {
		return model.OrderRecord{}, model.NetworkError(op, err)
	}
	return rec, nil
}

// ---------------------------------------------------
// Account
// ---------------------------------------------------

// SetLeverage sets the initial leverage of a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	const op = "binance.set_leverage"
	params := url.Values{
		"symbol":   {symbol},
		"leverage": {strconv.Itoa(leverage)},
	}
	_, err := c.doRequest(ctx, op, http.MethodPost, "/fapi/v1/leverage", params, true)
	return classify(op, err)
}

type positionRisk struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
}

// OpenPositions counts symbols with a non-zero position and reports whether symbol is one of them.
func (c *Client) OpenPositions(ctx context.Context, symbol string) (risk.Exposure, error) {
	const op = "binance.position_risk"
	raw, err := c.doRequest(ctx, op, http.MethodGet, "/fapi/v2/positionRisk", nil, true)
	if err != nil {
		return risk.Exposure{}, classify(op, err)
	}
	var positions []positionRisk
	if err := json.Unmarshal(raw, &positions); err != nil {
		return risk.Exposure{}, model.NetworkError(op, fmt.Errorf("decode positions: %w", err))
	}

	open := map[string]bool{}
	for _, p := range positions {
		amt, err := decimal.NewFromString(p.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}
		open[p.Symbol] = true
	}
	return risk.Exposure{OpenPositions: len(open), SymbolOpen: open[symbol]}, nil
}

// ---------------------------------------------------
// User data stream
// ---------------------------------------------------

// StartListenKey opens a user data stream and returns its key.
func (c *Client) StartListenKey(ctx context.Context) (string, error) {
	const op = "binance.listen_key"
	raw, err := c.doRequest(ctx, op, http.MethodPost, "/fapi/v1/listenKey", nil, false)
	if err != nil {
		return "", classify(op, err)
	}
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.ListenKey == "" {
		return "", model.NetworkError(op, fmt.Errorf("invalid listen key response: %s", string(raw)))
	}
	return out.ListenKey, nil
}

// KeepAliveListenKey extends the stream validity by 60 minutes.
func (c *Client) KeepAliveListenKey(ctx context.Context) error {
	const op = "binance.listen_key_keepalive"
	_, err := c.doRequest(ctx, op, http.MethodPut, "/fapi/v1/listenKey", nil, false)
	return classify(op, err)
}

// CloseListenKey closes the user data stream.
func (c *Client) CloseListenKey(ctx context.Context) error {
	const op = "binance.listen_key_close"
	_, err := c.doRequest(ctx, op, http.MethodDelete, "/fapi/v1/listenKey", nil, false)
	return classify(op, err)
}
