// Package apns provides the Sender for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// MaxBatchSize bounds how many unary pushes one InnerBatch performs.
// APNs has no multicast endpoint, so this only shapes the fan-out.
const MaxBatchSize = 100

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Development  bool
}

type Sender struct {
	client APNSClient
	topic  string // The App Bundle ID
	logger *slog.Logger
}

// NewSender creates a configured APNs sender.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Development {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return NewSenderWithClient(client, cfg.BundleID, logger), nil
}

// NewSenderWithClient wires an existing client, mainly for tests.
func NewSenderWithClient(client APNSClient, topic string, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSSender"),
	}
}

func (s *Sender) MaxBatchSize() int { return MaxBatchSize }

// Send pushes each payload individually and counts the ones APNs accepted.
// The batch only fails as a whole when no request reached APNs at all.
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

		builder := payload.NewPayload().
			AlertTitle(p.Title).
			AlertBody(p.Body)
		for k, v := range p.Data {
			builder.Custom(k, v)
		}

		res, err := s.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: p.To,
			Topic:       s.topic,
			Payload:     builder,
		})
		if err != nil {
			s.logger.Error("APNs transport failed", "token", p.To, "err", err)
			transportFailures++
			lastErr = err
			continue
		}

		if res.Sent() {
			accepted++
			continue
		}
		s.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
	}

	if transportFailures == len(batch) {
		return 0, fmt.Errorf("apns transport failed for whole batch: %w", lastErr)
	}
	return accepted, nil
}
