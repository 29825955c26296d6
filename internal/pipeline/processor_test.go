package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-broadcast-service/internal/pipeline"
	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Typed Mocks ---

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, payloads []dispatch.Payload, dryRun bool) dispatch.Result {
	return m.Called(ctx, payloads, dryRun).Get(0).(dispatch.Result)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Record(ctx context.Context, sessionID string, result dispatch.Result) error {
	return m.Called(ctx, sessionID, result).Error(0)
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	job := &dispatch.BroadcastJob{
		SessionID:     "session-1",
		DryRun:        false,
		Notifications: []dispatch.Payload{{To: "a"}, {To: "b"}, {To: "c"}},
	}
	msg := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "msg-1"}}

	t.Run("Dispatches and records the outcome", func(t *testing.T) {
		dispatcherMock := new(mockDispatcher)
		recorderMock := new(mockRecorder)
		result := dispatch.Result{Sent: 2, Failed: 1, Total: 3}

		dispatcherMock.On("Dispatch", mock.Anything, job.Notifications, false).Return(result)
		recorderMock.On("Record", mock.Anything, "session-1", result).Return(nil)

		processor := pipeline.NewProcessor(dispatcherMock, recorderMock, logger)
		err := processor(ctx, msg, job)

		require.NoError(t, err)
		dispatcherMock.AssertExpectations(t)
		recorderMock.AssertExpectations(t)
	})

	t.Run("Provider failures never nack", func(t *testing.T) {
		dispatcherMock := new(mockDispatcher)
		dispatcherMock.On("Dispatch", mock.Anything, mock.Anything, false).
			Return(dispatch.Result{Sent: 0, Failed: 3, Total: 3})

		processor := pipeline.NewProcessor(dispatcherMock, nil, logger)
		err := processor(ctx, msg, job)

		require.NoError(t, err)
	})

	t.Run("Ledger failure is logged, not returned", func(t *testing.T) {
		dispatcherMock := new(mockDispatcher)
		recorderMock := new(mockRecorder)
		dispatcherMock.On("Dispatch", mock.Anything, mock.Anything, false).Return(dispatch.Result{Sent: 3, Total: 3})
		recorderMock.On("Record", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

		processor := pipeline.NewProcessor(dispatcherMock, recorderMock, logger)
		err := processor(ctx, msg, job)

		require.NoError(t, err)
		recorderMock.AssertExpectations(t)
	})

	t.Run("Jobs without a session are not recorded", func(t *testing.T) {
		dispatcherMock := new(mockDispatcher)
		recorderMock := new(mockRecorder)
		anonymous := &dispatch.BroadcastJob{DryRun: true, Notifications: job.Notifications}
		dispatcherMock.On("Dispatch", mock.Anything, mock.Anything, true).Return(dispatch.Result{Sent: 3, Total: 3})

		processor := pipeline.NewProcessor(dispatcherMock, recorderMock, logger)
		err := processor(ctx, msg, anonymous)

		require.NoError(t, err)
		recorderMock.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything)
	})
}
