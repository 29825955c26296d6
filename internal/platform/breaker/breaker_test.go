package breaker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-broadcast-service/internal/platform/breaker"
	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

type flakySender struct {
	calls int
	fail  bool
}

func (f *flakySender) Send(_ context.Context, batch []dispatch.Payload) (int, error) {
	f.calls++
	if f.fail {
		return 0, errors.New("provider down")
	}
	return len(batch), nil
}

func (f *flakySender) MaxBatchSize() int { return 100 }

func TestBreakerSender(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	batch := make([]dispatch.Payload, 3)

	t.Run("Passes results through while closed", func(t *testing.T) {
		next := &flakySender{}
		sender := breaker.New("expo", next, breaker.Config{MaxFailures: 2}, logger)

		accepted, err := sender.Send(ctx, batch)

		require.NoError(t, err)
		assert.Equal(t, 3, accepted)
		assert.Equal(t, 100, sender.MaxBatchSize())
		assert.Equal(t, gobreaker.StateClosed, sender.State())
	})

	t.Run("Opens after consecutive failures and fails fast", func(t *testing.T) {
		next := &flakySender{fail: true}
		sender := breaker.New("expo", next, breaker.Config{MaxFailures: 2, OpenTimeout: time.Minute}, logger)

		for i := 0; i < 2; i++ {
			_, err := sender.Send(ctx, batch)
			require.Error(t, err)
		}
		assert.Equal(t, gobreaker.StateOpen, sender.State())

		_, err := sender.Send(ctx, batch)
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, 2, next.calls, "open breaker must not reach the provider")
	})

	t.Run("Half-open probe closes the breaker on success", func(t *testing.T) {
		next := &flakySender{fail: true}
		sender := breaker.New("expo", next, breaker.Config{MaxFailures: 1, OpenTimeout: 20 * time.Millisecond}, logger)

		_, err := sender.Send(ctx, batch)
		require.Error(t, err)
		require.Equal(t, gobreaker.StateOpen, sender.State())

		next.fail = false
		require.Eventually(t, func() bool {
			return sender.State() == gobreaker.StateHalfOpen
		}, time.Second, 5*time.Millisecond)

		accepted, err := sender.Send(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 3, accepted)
		assert.Equal(t, gobreaker.StateClosed, sender.State())
	})
}
