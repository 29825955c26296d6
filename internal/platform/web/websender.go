// Package web provides the Sender for browser Web Push (VAPID).
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-broadcast-service/broadcastservice/config"
	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// MaxBatchSize bounds how many subscriptions one InnerBatch walks through.
const MaxBatchSize = 100

type Sender struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	logger     *slog.Logger
	httpClient *http.Client
}

func NewSender(cfg config.VapidConfig, logger *slog.Logger) *Sender {
	return &Sender{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        60,
		logger:     logger.With("component", "WebPushSender"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *Sender) MaxBatchSize() int { return MaxBatchSize }

// Send treats each payload's push token as a serialized browser PushSubscription
// ({"endpoint": ..., "keys": {"p256dh": ..., "auth": ...}}) and delivers to it.
func (s *Sender) Send(ctx context.Context, batch []dispatch.Payload) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	accepted := 0
	transportFailures := 0
	var lastErr error

	for _, p := range batch {
		if err := ctx.Err(); err != nil {
			return accepted, nil
		}

		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(p.To), &sub); err != nil || sub.Endpoint == "" {
			s.logger.Warn("Destination is not a web push subscription", "err", err)
			continue
		}

		message, err := json.Marshal(map[string]any{
			"notification": map[string]string{
				"title": p.Title,
				"body":  p.Body,
			},
			"data": p.Data,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to marshal payload: %w", err)
		}

		resp, err := webpush.SendNotification(message, &sub, &webpush.Options{
			Subscriber:      s.subscriber,
			VAPIDPublicKey:  s.publicKey,
			VAPIDPrivateKey: s.privateKey,
			TTL:             s.ttl,
			HTTPClient:      s.httpClient,
		})
		if err != nil {
			s.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			transportFailures++
			lastErr = err
			continue
		}
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated, http.StatusOK, http.StatusAccepted:
			accepted++
		default:
			s.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		}
	}

	if transportFailures == len(batch) {
		return 0, fmt.Errorf("web push transport failed for whole batch: %w", lastErr)
	}
	return accepted, nil
}
