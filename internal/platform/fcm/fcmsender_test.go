package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-broadcast-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, messages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFCMSend_Lifecycle(t *testing.T) {
	ctx := context.Background()
	batch := []dispatch.Payload{
		{To: "token-1", Title: "Test", Body: "Body", Data: map[string]string{"id": "1"}},
		{To: "token-2", Title: "Test", Body: "Body", Data: map[string]string{"id": "1"}},
	}

	t.Run("Happy Path - All Success", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, newTestLogger())

		// Arrange: one message per payload, addressed by token
		mockResponse := &messaging.BatchResponse{
			SuccessCount: 2,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: true, MessageID: "msg-2"},
			},
		}
		mockClient.On("SendEach", ctx, mock.MatchedBy(func(msgs []*messaging.Message) bool {
			return len(msgs) == 2 &&
				msgs[0].Token == "token-1" &&
				msgs[1].Token == "token-2" &&
				msgs[0].Notification.Title == "Test" &&
				msgs[0].Data["id"] == "1"
		})).Return(mockResponse, nil)

		// Act
		accepted, err := sender.Send(ctx, batch)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, accepted)
		mockClient.AssertExpectations(t)
	})

	t.Run("Partial Failure - exact count", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, newTestLogger())

		mockResponse := &messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: false, Error: errors.New("quota")},
			},
		}
		mockClient.On("SendEach", ctx, mock.Anything).Return(mockResponse, nil)

		accepted, err := sender.Send(ctx, batch)

		require.NoError(t, err)
		assert.Equal(t, 1, accepted)
	})

	t.Run("Transport Failure fails the batch", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, newTestLogger())

		mockClient.On("SendEach", ctx, mock.Anything).Return(nil, errors.New("network down"))

		_, err := sender.Send(ctx, batch)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport failed")
	})

	t.Run("Oversized batch is refused", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, newTestLogger())

		_, err := sender.Send(ctx, make([]dispatch.Payload, fcm.MaxBatchSize+1))

		require.Error(t, err)
		mockClient.AssertNotCalled(t, "SendEach", mock.Anything, mock.Anything)
	})
}
