package connectors

// Test index:
//  1. TestIsRetryableResp verifies retry decisions for statuses and transport errors.
//  2. TestSignRequest checks the HMAC digest against the published Binance example.
//  3. TestGetPrice decodes the ticker price.
//  4. TestPlaceOrderSignedRequest checks header, parameters and signature of an order.
//  5. TestPlaceOrderStopLimit covers stop and time in force parameters.
//  6. TestCancelOrder covers the plain, already filled and not found cancel paths.
//  7. TestErrorClassification maps exchange failures onto error kinds.
//  8. TestGetSymbolInfo reads tick, step and min quantity filters.
//  9. TestOpenPositions counts non-zero positions.
// 10. TestListenKeyLifecycle wires the user data stream endpoints.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futuresbot/src/model"
)

func newTestClient(baseURL string, httpClient *http.Client) *Client {
	restyClient := resty.New()
	restyClient.SetBaseURL(baseURL)
	restyClient.SetTransport(httpClient.Transport)

	return &Client{
		apiKey:     "test-key",
		apiSecret:  "test-secret",
		baseURL:    baseURL,
		recvWindow: 5000,
		http:       restyClient,
		now:        func() time.Time { return time.UnixMilli(1700000000000) },
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestIsRetryableResp(t *testing.T) {
	cases := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{name: "transport error", err: errors.New("connection reset"), want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "server error", resp: fakeResponse(503), want: true},
		{name: "request timeout", resp: fakeResponse(408), want: true},
		{name: "rate limited goes to gate", resp: fakeResponse(429), want: false},
		{name: "bad request", resp: fakeResponse(400), want: false},
		{name: "ok", resp: fakeResponse(200), want: false},
		{name: "nil resp", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRetryableResp(tc.resp, tc.err))
		})
	}
}

func TestSignRequest(t *testing.T) {
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", signRequest(query, secret))
}

func TestGetPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		writeJSON(w, http.StatusOK, map[string]string{"symbol": "BTCUSDT", "price": "120000.10"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.Client())
	price, err := client.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("120000.1")))
}

func TestPlaceOrderSignedRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))

		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		if !assert.Greater(t, idx, 0) {
			return
		}
		assert.Equal(t, signRequest(raw[:idx], "test-secret"), raw[idx+len("&signature="):])

		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "SELL", q.Get("side"))
		assert.Equal(t, "LIMIT", q.Get("type"))
		assert.Equal(t, "0.01", q.Get("quantity"))
		assert.Equal(t, "125000", q.Get("price"))
		assert.Equal(t, "GTC", q.Get("timeInForce"))
		assert.Equal(t, "true", q.Get("reduceOnly"))
		assert.Equal(t, "1700000000000", q.Get("timestamp"))
		assert.Equal(t, "5000", q.Get("recvWindow"))
		assert.True(t, strings.HasPrefix(q.Get("newClientOrderId"), clientOrderIDPrefix))

		writeJSON(w, http.StatusOK, model.BinanceOrderResponse{
			OrderID: 11, Symbol: "BTCUSDT", Status: "NEW", ClientOrderID: q.Get("newClientOrderId"),
			Price: "125000", OrigQty: "0.01", ExecutedQty: "0", Type: "LIMIT", Side: "SELL", UpdateTime: 1700000000001,
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.Client())
	rec, err := client.PlaceOrder(context.Background(), model.OrderIntent{
		Symbol:     "BTCUSDT",
		Side:       model.SideSell,
		Kind:       model.KindLimit,
		Quantity:   decimal.RequireFromString("0.01"),
		Price:      decimal.RequireFromString("125000"),
		ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), rec.ExchangeOrderID)
	assert.Equal(t, model.OrderStatusNew, rec.Status)
	assert.NotEmpty(t, rec.ClientOrderID)
	assert.Equal(t, rec.ClientOrderID, rec.Intent.ClientOrderID)
}

func TestPlaceOrderStopLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "STOP", q.Get("type"))
		assert.Equal(t, "114900", q.Get("price"))
		assert.Equal(t, "115000", q.Get("stopPrice"))
		assert.Equal(t, "GTC", q.Get("timeInForce"))
		assert.Equal(t, "given-id", q.Get("newClientOrderId"))
		writeJSON(w, http.StatusOK, model.BinanceOrderResponse{OrderID: 12, Symbol: "BTCUSDT", Status: "NEW", Type: "STOP", Side: "SELL"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.Client())
	_, err := client.PlaceOrder(context.Background(), model.OrderIntent{
		Symbol:        "BTCUSDT",
		Side:          model.SideSell,
		Kind:          model.KindStop,
		Quantity:      decimal.RequireFromString("0.01"),
		Price:         decimal.RequireFromString("114900"),
		StopPrice:     decimal.RequireFromString("115000"),
		ClientOrderID: "given-id",
	})
	require.NoError(t, err)
}

func TestCancelOrder(t *testing.T) {
	var getStatus string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Query().Get("orderId") == "1":
			writeJSON(w, http.StatusOK, model.BinanceOrderResponse{OrderID: 1, Symbol: "BTCUSDT", Status: "CANCELED"})
		case r.Method == http.MethodDelete:
			writeJSON(w, http.StatusBadRequest, APIError{Code: -2011, Msg: "Unknown order sent."})
		case r.Method == http.MethodGet && getStatus == "":
			writeJSON(w, http.StatusBadRequest, APIError{Code: -2013, Msg: "Order does not exist."})
		default:
			writeJSON(w, http.StatusOK, model.BinanceOrderResponse{OrderID: 2, Symbol: "BTCUSDT", Status: getStatus, ExecutedQty: "0.01"})
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.Client())
	ctx := context.Background()

	rec, err := client.CancelOrder(ctx, model.OrderRef{Symbol: "BTCUSDT", OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCanceled, rec.Status)

	getStatus = "FILLED"
	rec, err = client.CancelOrder(ctx, model.OrderRef{Symbol: "BTCUSDT", OrderID: 2})
	require.ErrorIs(t, err, model.ErrAlreadyFilled)
	assert.Equal(t, model.OrderStatusFilled, rec.Status)

	getStatus = "CANCELED"
	_, err = client.CancelOrder(ctx, model.OrderRef{Symbol: "BTCUSDT", OrderID: 2})
	require.ErrorIs(t, err, model.ErrOrderNotFound)

	getStatus = ""
	_, err = client.CancelOrder(ctx, model.OrderRef{Symbol: "BTCUSDT", OrderID: 3})
	require.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   interface{}
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   APIError{Code: -1003, Msg: "Too many requests"},
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, model.ErrRateLimited) },
		},
		{
			name:   "ip banned",
			status: http.StatusTeapot,
			body:   APIError{Code: -1003, Msg: "banned"},
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, model.ErrRateLimited) },
		},
		{
			name:   "bad symbol",
			status: http.StatusBadRequest,
			body:   APIError{Code: -1121, Msg: "Invalid symbol."},
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, model.ErrSymbolNotFound) },
		},
		{
			name:   "margin insufficient",
			status: http.StatusBadRequest,
			body:   APIError{Code: -2019, Msg: "Margin is insufficient."},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, model.ErrExchangeRejected)
				assert.Contains(t, err.Error(), "MARGIN_NOT_SUFFICIENT")
			},
		},
		{
			name:   "server down",
			status: http.StatusServiceUnavailable,
			body:   "maintenance",
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, model.ErrNetwork) },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			}))
			defer server.Close()

			client := newTestClient(server.URL, server.Client())
			_, err := client.PlaceOrder(context.Background(), model.OrderIntent{
				Symbol: "BTCUSDT", Side: model.SideBuy, Kind: model.KindMarket, Quantity: decimal.RequireFromString("0.001"),
			})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestGetSymbolInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbols":[
			{"symbol":"ETHUSDT","status":"TRADING","quoteAsset":"USDT","pricePrecision":2,"quantityPrecision":3,"filters":[]},
			{"symbol":"BTCUSDT","status":"TRADING","quoteAsset":"USDT","pricePrecision":2,"quantityPrecision":3,
			 "filters":[{"filterType":"PRICE_FILTER","tickSize":"0.10"},{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"}]}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.Client())
	info, err := client.GetSymbolInfo(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "0.1", info.TickSize.String())
	assert.Equal(t, "0.001", info.StepSize.String())
	assert.Equal(t, "0.001", info.MinQty.String())
	assert.Equal(t, int32(3), info.QuantityPrecision)

	_, err = client.GetSymbolInfo(context.Background(), "DOGEUSDT")
	require.ErrorIs(t, err, model.ErrSymbolNotFound)
}

func TestOpenPositions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v2/positionRisk", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionAmt":"0.010"},
			{"symbol":"ETHUSDT","positionAmt":"-1.5"},
			{"symbol":"SOLUSDT","positionAmt":"0.000"}]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.Client())
	exp, err := client.OpenPositions(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, exp.OpenPositions)
	assert.True(t, exp.SymbolOpen)

	exp, err = client.OpenPositions(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.False(t, exp.SymbolOpen)
}

func TestListenKeyLifecycle(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/listenKey", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("signature"))
		methods = append(methods, r.Method)
		writeJSON(w, http.StatusOK, map[string]string{"listenKey": "lk-1"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.Client())
	ctx := context.Background()
	key, err := client.StartListenKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lk-1", key)
	require.NoError(t, client.KeepAliveListenKey(ctx))
	require.NoError(t, client.CloseListenKey(ctx))

	assert.Equal(t, []string{http.MethodPost, http.MethodPut, http.MethodDelete}, methods)
}

func fakeResponse(status int) *resty.Response {
	return &resty.Response{RawResponse: &http.Response{StatusCode: status}}
}
