// Package postgres reads push-capable profiles from a Postgres profiles table.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// DefaultTable is the profiles table consulted when none is configured.
const DefaultTable = "profiles"

// Querier is the slice of pgxpool.Pool the store needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type RecipientStore struct {
	db    Querier
	query string
}

// NewPool opens a pool and verifies the connection before handing it back.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return pool, nil
}

// NewRecipientStore reads from table (DefaultTable when empty). The table
// needs id, push_token and dob columns.
func NewRecipientStore(db Querier, table string) *RecipientStore {
	if table == "" {
		table = DefaultTable
	}
	return &RecipientStore{
		db:    db,
		query: buildPageQuery(table),
	}
}

func buildPageQuery(table string) string {
	return fmt.Sprintf(`
		SELECT id::text, push_token, dob
		FROM %s
		WHERE push_token IS NOT NULL
		  AND push_token <> ''
		  AND dob >= $1
		  AND dob <= $2
		ORDER BY id
		LIMIT $3 OFFSET $4`, pgx.Identifier{table}.Sanitize())
}

// ReadPage implements dispatch.PageReader. Rows are ordered by id so offsets
// stay stable between pages.
func (s *RecipientStore) ReadPage(ctx context.Context, born dispatch.BirthRange, offset, limit int) ([]dispatch.Recipient, error) {
	rows, err := s.db.Query(ctx, s.query, born.From, born.To, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("profile query failed: %w", err)
	}
	defer rows.Close()

	page := make([]dispatch.Recipient, 0, limit)
	for rows.Next() {
		var r dispatch.Recipient
		if err := rows.Scan(&r.ID, &r.PushToken, &r.DateOfBirth); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		page = append(page, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile rows failed: %w", err)
	}
	return page, nil
}
