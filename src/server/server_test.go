package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futuresbot/src/model"
)

type capturePublisher struct {
	mu   sync.Mutex
	recs []model.OrderRecord
}

func (c *capturePublisher) Publish(rec model.OrderRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

const filledEvent = `{"e":"ORDER_TRADE_UPDATE","E":1700000000000,"o":{"s":"BTCUSDT","S":"BUY","o":"LIMIT","X":"FILLED","i":5,"z":"0.002","ap":"119000"}}`

func TestHealthcheck(t *testing.T) {
	srv := httptest.NewServer(NewRouter(Config{}, &capturePublisher{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhookPublishesOrderUpdate(t *testing.T) {
	pub := &capturePublisher{}
	srv := httptest.NewServer(NewRouter(Config{}, pub))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhook/orders", "application/json", strings.NewReader(filledEvent))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, pub.recs, 1)
	assert.Equal(t, int64(5), pub.recs[0].ExchangeOrderID)
	assert.Equal(t, model.OrderStatusFilled, pub.recs[0].Status)
}

func TestWebhookRejects(t *testing.T) {
	pub := &capturePublisher{}
	srv := httptest.NewServer(NewRouter(Config{Token: "s3cret"}, pub))
	defer srv.Close()

	cases := []struct {
		name   string
		token  string
		body   string
		status int
	}{
		{name: "missing token", body: filledEvent, status: http.StatusUnauthorized},
		{name: "bad json", token: "s3cret", body: "{", status: http.StatusBadRequest},
		{name: "unknown status", token: "s3cret", body: `{"e":"ORDER_TRADE_UPDATE","o":{"X":"WEIRD","i":1}}`, status: http.StatusUnprocessableEntity},
		{name: "other event ignored", token: "s3cret", body: `{"e":"ACCOUNT_UPDATE","o":{}}`, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhook/orders", strings.NewReader(tc.body))
			require.NoError(t, err)
			if tc.token != "" {
				req.Header.Set("X-Webhook-Token", tc.token)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
	assert.Empty(t, pub.recs)
}
