package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"futuresbot/src/mapper"
	"futuresbot/src/model"
)

const maxWebhookBody = 64 << 10

// OrderPublisher receives relayed order updates.
type OrderPublisher interface {
	Publish(rec model.OrderRecord)
}

type orderEvent struct {
	Event     string                         `json:"e"`
	EventTime int64                          `json:"E"`
	Order     *model.BinanceOrderTradeUpdate `json:"o"`
}

// NewRouter builds the webhook relay. POST /webhook/orders accepts ORDER_TRADE_UPDATE payloads
// and publishes them like the user data stream does.
func NewRouter(cfg Config, pub OrderPublisher) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Post("/webhook/orders", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Webhook-Token")), []byte(cfg.Token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}
		var ev orderEvent
		if err := json.Unmarshal(body, &ev); err != nil || ev.Order == nil {
			http.Error(w, "invalid order event", http.StatusBadRequest)
			return
		}
		if ev.Event != "" && ev.Event != "ORDER_TRADE_UPDATE" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec, err := mapper.MapOrderTradeUpdate(ev.Order, ev.EventTime)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		logger.WithFields(map[string]interface{}{
			"order_id": rec.ExchangeOrderID,
			"status":   rec.Status,
		}).Debug("Order update relayed by webhook")
		pub.Publish(rec)
		w.WriteHeader(http.StatusAccepted)
	})

	return r
}

// Start serves the relay until ctx is done, then shuts down gracefully.
func Start(ctx context.Context, cfg Config, pub OrderPublisher) error {
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(cfg, pub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Webhook relay listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down webhook relay...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
