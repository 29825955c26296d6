// Package selector computes the full recipient set for a broadcast by paging
// through the profile store.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// DefaultPageSize matches the profile store's maximum page size.
const DefaultPageSize = 1000

type Selector struct {
	store    dispatch.PageReader
	pageSize int
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Selector)

// WithPageSize overrides DefaultPageSize. Non-positive values are ignored.
func WithPageSize(size int) Option {
	return func(s *Selector) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithClock fixes the reference date used to turn ages into birth dates.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

func New(store dispatch.PageReader, logger *slog.Logger, opts ...Option) *Selector {
	s := &Selector{
		store:    store,
		pageSize: DefaultPageSize,
		now:      time.Now,
		logger:   logger.With("component", "RecipientSelector"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns every push-capable recipient matching the filter, in page
// order. A failed page discards everything read so far.
// Page length, not the filtered count, decides when to stop.
func (s *Selector) Select(ctx context.Context, filter dispatch.AgeFilter) ([]dispatch.Recipient, error) {
	born := filter.BirthRange(s.now())
	log := s.logger.With("min_age", filter.MinAge, "max_age", filter.MaxAge)

	var recipients []dispatch.Recipient
	for offset := 0; ; offset += s.pageSize {
		page, err := s.store.ReadPage(ctx, born, offset, s.pageSize)
		if err != nil {
			log.Error("Profile page fetch failed", "offset", offset, "err", err)
			return nil, fmt.Errorf("error fetching profiles: %w", err)
		}
		for _, r := range page {
			if r.PushToken != "" {
				recipients = append(recipients, r)
			}
		}

		if len(page) < s.pageSize {
			break
		}
	}

	log.Info("Selected recipients", "count", len(recipients))
	return recipients, nil
}
