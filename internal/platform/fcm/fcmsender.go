package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// MaxBatchSize is the SendEach ceiling of the Firebase Admin SDK.
const MaxBatchSize = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it; tests substitute a mock.
type MessagingClient interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

type Sender struct {
	client MessagingClient
	logger *slog.Logger
}

func NewSender(client MessagingClient, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		logger: logger.With("component", "FCMSender"),
	}
}

func (s *Sender) MaxBatchSize() int { return MaxBatchSize }

// Send delivers one message per payload. Unlike Expo, FCM reports each message
// individually, so the accepted count is exact.
func (s *Sender) Send(ctx context.Context, batch []dispatch.Payload) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	if len(batch) > MaxBatchSize {
		return 0, fmt.Errorf("batch of %d exceeds fcm limit of %d", len(batch), MaxBatchSize)
	}

	messages := make([]*messaging.Message, len(batch))
	for i, p := range batch {
		messages[i] = &messaging.Message{
			Token: p.To,
			Data:  p.Data,
			Notification: &messaging.Notification{
				Title: p.Title,
				Body:  p.Body,
			},
		}
	}

	br, err := s.client.SendEach(ctx, messages)
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			s.logger.Error("FCM rejected batch as InvalidArgument", "err", err)
		}
		return 0, fmt.Errorf("fcm transport failed: %w", err)
	}

	if br.FailureCount > 0 {
		unregistered := 0
		for _, resp := range br.Responses {
			if resp != nil && !resp.Success && messaging.IsRegistrationTokenNotRegistered(resp.Error) {
				unregistered++
			}
		}
		s.logger.Warn("FCM partially rejected batch",
			"success", br.SuccessCount,
			"failure", br.FailureCount,
			"unregistered", unregistered,
		)
	}

	return br.SuccessCount, nil
}
