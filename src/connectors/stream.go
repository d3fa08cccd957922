package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"futuresbot/src/mapper"
	"futuresbot/src/model"
	"futuresbot/src/ratelimit"
)

// ListenKeyClient manages the listen key of a user data stream.
type ListenKeyClient interface {
	StartListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context) error
	CloseListenKey(ctx context.Context) error
}

// OrderPublisher receives order updates pushed by the exchange.
type OrderPublisher interface {
	Publish(rec model.OrderRecord)
}

// UserStream consumes the Binance user data stream and publishes every ORDER_TRADE_UPDATE.
// It reconnects with exponential back-off until its context ends.
type UserStream struct {
	keys      ListenKeyClient
	wsURL     string
	publisher OrderPublisher

	KeepAlive   time.Duration
	ReadTimeout time.Duration
	Backoff     func(retry int) time.Duration
}

func NewUserStream(keys ListenKeyClient, wsURL string, publisher OrderPublisher) *UserStream {
	return &UserStream{
		keys:        keys,
		wsURL:       strings.TrimRight(wsURL, "/"),
		publisher:   publisher,
		KeepAlive:   30 * time.Minute,
		ReadTimeout: 5 * time.Minute,
		Backoff:     ratelimit.CalculateBackoff,
	}
}

type streamEvent struct {
	Event     string                         `json:"e"`
	EventTime int64                          `json:"E"`
	Order     *model.BinanceOrderTradeUpdate `json:"o,omitempty"`
}

// Run blocks until ctx is done.
func (s *UserStream) Run(ctx context.Context) error {
	retry := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		delay := s.Backoff(retry)
		logger.WithFields(map[string]interface{}{
			"retry": retry,
			"delay": delay.String(),
		}).WithError(err).Warn("User stream disconnected, reconnecting")
		retry++

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// session runs one listen key and websocket connection until it fails or ctx ends.
func (s *UserStream) session(ctx context.Context) error {
	key, err := s.keys.StartListenKey(ctx)
	if err != nil {
		return fmt.Errorf("start listen key: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.keys.CloseListenKey(closeCtx); err != nil {
			logger.WithError(err).Debug("Failed to close listen key")
		}
	}()

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, s.wsURL+"/"+key, nil)
	if err != nil {
		return fmt.Errorf("ws dial failed: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAlive(sessCtx)
	}()
	// unblock ReadMessage when the run is stopped
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	logger.Info("User data stream connected")

	for {
		if s.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws read failed: %w", err)
		}
		if expired := s.handle(msg); expired {
			return fmt.Errorf("listen key expired")
		}
	}
}

func (s *UserStream) keepAlive(ctx context.Context) {
	if s.KeepAlive <= 0 {
		return
	}
	ticker := time.NewTicker(s.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.keys.KeepAliveListenKey(ctx); err != nil {
				logger.WithError(err).Warn("Listen key keepalive failed")
			}
		}
	}
}

// handle publishes order updates and reports whether the listen key has expired.
func (s *UserStream) handle(msg []byte) bool {
	var ev streamEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		logger.WithError(err).Debug("Ignoring malformed stream message")
		return false
	}
	switch ev.Event {
	case "listenKeyExpired":
		return true
	case "ORDER_TRADE_UPDATE":
		rec, err := mapper.MapOrderTradeUpdate(ev.Order, ev.EventTime)
		if err != nil {
			logger.WithError(err).Warn("Ignoring order update")
			return false
		}
		logger.WithFields(map[string]interface{}{
			"order_id": rec.ExchangeOrderID,
			"symbol":   rec.Intent.Symbol,
			"status":   rec.Status,
			"filled":   rec.FilledQty.String(),
		}).Debug("Order update pushed")
		s.publisher.Publish(rec)
	}
	return false
}
