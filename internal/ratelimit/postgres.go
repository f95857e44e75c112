package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kkkkikiki/burnpromo/internal/logger"
	"github.com/kkkkikiki/burnpromo/internal/model"
)

// PostgresStore keeps counters in rate_limit_entries. Each hit is one
// transaction holding a row lock on the counter.
type PostgresStore struct {
	db *sqlx.DB
}

var (
	_ Store   = (*PostgresStore)(nil)
	_ Sweeper = (*PostgresStore)(nil)
)

// NewPostgresStore creates a store over the given pool
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Hit(ctx context.Context, scope Scope, identifier string, rule Rule, now time.Time) (Decision, error) {
	// Lazy cleanup; a failure here does not affect the decision
	if _, err := s.Sweep(ctx, now); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("failed to sweep expired rate limit entries")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := s.lock(ctx, tx, scope, identifier)
	if err != nil {
		return Decision{}, err
	}
	if current == nil {
		// Seed the row so concurrent first hits serialise on its lock
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rate_limit_entries (identifier, type, count, window_start, expires_at)
			VALUES ($1, $2, 0, $3, $3)
			ON CONFLICT (identifier, type) DO NOTHING
		`, identifier, string(scope), now)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to create rate limit entry: %w", err)
		}
		if current, err = s.lock(ctx, tx, scope, identifier); err != nil {
			return Decision{}, err
		}
		if current == nil {
			return Decision{}, errors.New("rate limit entry vanished")
		}
	}
	if current != nil && current.Count == 0 {
		// Freshly seeded by this transaction
		current = nil
	}

	next, decision, changed := advance(current, scope, identifier, rule, now)
	if changed {
		_, err := tx.ExecContext(ctx, `
			UPDATE rate_limit_entries
			SET count = $1, window_start = $2, expires_at = $3
			WHERE identifier = $4 AND type = $5
		`, next.Count, next.WindowStart, next.ExpiresAt, identifier, string(scope))
		if err != nil {
			return Decision{}, fmt.Errorf("failed to update rate limit entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Decision{}, fmt.Errorf("failed to commit rate limit entry: %w", err)
	}
	return decision, nil
}

func (s *PostgresStore) lock(ctx context.Context, tx *sqlx.Tx, scope Scope, identifier string) (*model.RateLimitEntry, error) {
	var entry model.RateLimitEntry
	err := tx.GetContext(ctx, &entry, `
		SELECT identifier, type, count, window_start, expires_at
		FROM rate_limit_entries
		WHERE identifier = $1 AND type = $2
		FOR UPDATE
	`, identifier, string(scope))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock rate limit entry: %w", err)
	}
	return &entry, nil
}

// Sweep deletes counters whose window has passed
func (s *PostgresStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_entries WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rate limit entries: %w", err)
	}
	return result.RowsAffected()
}
