// Package breaker wraps a Sender with a circuit breaker so an unhealthy
// provider fails batches fast instead of holding the request open.
package breaker

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// Config controls when the breaker trips.
type Config struct {
	// MaxFailures is the number of consecutive failing batches that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

type Sender struct {
	next dispatch.Sender
	cb   *gobreaker.CircuitBreaker
}

func New(name string, next dispatch.Sender, cfg Config, logger *slog.Logger) *Sender {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	log := logger.With("component", "SenderBreaker", "breaker", name)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Breaker state changed", "from", from.String(), "to", to.String())
		},
	}
	return &Sender{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *Sender) MaxBatchSize() int { return s.next.MaxBatchSize() }

// Send forwards to the wrapped sender unless the breaker is open, in which case
// it returns gobreaker.ErrOpenState (or ErrTooManyRequests while half-open).
func (s *Sender) Send(ctx context.Context, batch []dispatch.Payload) (int, error) {
	accepted, err := s.cb.Execute(func() (interface{}, error) {
		n, err := s.next.Send(ctx, batch)
		return n, err
	})
	if err != nil {
		return 0, err
	}
	return accepted.(int), nil
}

// State exposes the current breaker state for logging and tests.
func (s *Sender) State() gobreaker.State {
	return s.cb.State()
}
