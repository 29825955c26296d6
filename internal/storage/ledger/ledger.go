// Package ledger keeps running totals per broadcast session in Redis so an
// operator can inspect a broadcast that is spread across many dispatch calls.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// DefaultTTL is how long a session's totals survive after its last batch.
const DefaultTTL = 24 * time.Hour

var ErrSessionNotFound = errors.New("broadcast session not found")

// Session is the running summary of one broadcast.
type Session struct {
	ID      string `json:"sessionId"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Total   int    `json:"total"`
	Batches int    `json:"batches"`
}

type Ledger struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func New(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With("component", "SessionLedger"),
	}
}

// Record adds one dispatch outcome to the session and refreshes its TTL.
// The increments and the expiry are applied in a single MULTI block.
func (l *Ledger) Record(ctx context.Context, sessionID string, result dispatch.Result) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	key := sessionKey(sessionID)

	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "sent", int64(result.Sent))
		pipe.HIncrBy(ctx, key, "failed", int64(result.Failed))
		pipe.HIncrBy(ctx, key, "total", int64(result.Total))
		pipe.HIncrBy(ctx, key, "batches", 1)
		pipe.Expire(ctx, key, l.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", sessionID, err)
	}
	l.logger.Debug("Recorded dispatch", "session_id", sessionID, "sent", result.Sent, "failed", result.Failed)
	return nil
}

// Get returns the session totals, or ErrSessionNotFound when the key is
// missing or has expired.
func (l *Ledger) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := l.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	session := &Session{ID: sessionID}
	for name, dst := range map[string]*int{
		"sent":    &session.Sent,
		"failed":  &session.Failed,
		"total":   &session.Total,
		"batches": &session.Batches,
	} {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("session %s has corrupt field %q: %w", sessionID, name, err)
		}
		*dst = v
	}
	return session, nil
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("broadcast:session:%s", sessionID)
}
