package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kkkkikiki/burnpromo/internal/model"
)

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	postgres    *sqlx.DB
	codes       *PromoCodeRepository
	redemptions *RedemptionRepository
	audit       *AuditRepository
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over the given connection pool
func NewPostgresStore(postgres *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		postgres:    postgres,
		codes:       NewPromoCodeRepository(),
		redemptions: NewRedemptionRepository(),
		audit:       NewAuditRepository(),
	}
}

// InTx runs fn in a READ COMMITTED transaction. Row exclusivity comes from
// the FOR UPDATE in ReserveAvailableCode.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx InventoryTx) error) error {
	tx, err := s.postgres.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&postgresTx{tx: tx, store: s}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

type postgresTx struct {
	tx    *sqlx.Tx
	store *PostgresStore
}

func (t *postgresTx) SelectAvailableCode(ctx context.Context, campaign string, now time.Time) (*model.PromoCode, error) {
	return t.store.codes.ReserveAvailableCode(ctx, t.tx, campaign, now)
}

func (t *postgresTx) UpdateCodeUsage(ctx context.Context, id uuid.UUID, prevUsed, used int, status model.CodeStatus, now time.Time) error {
	return t.store.codes.UpdateUsage(ctx, t.tx, id, prevUsed, used, status, now)
}

func (t *postgresTx) InsertRedemption(ctx context.Context, r *model.Redemption) error {
	return t.store.redemptions.Create(ctx, t.tx, r)
}

func (t *postgresTx) DeactivateCode(ctx context.Context, id uuid.UUID, now time.Time) error {
	return t.store.codes.Deactivate(ctx, t.tx, id, now)
}

func (t *postgresTx) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	return t.store.audit.Append(ctx, t.tx, e)
}

func (s *PostgresStore) LatestRedemption(ctx context.Context, wallet string) (*model.Redemption, error) {
	return s.redemptions.Latest(ctx, s.postgres, wallet)
}

func (s *PostgresStore) RedemptionByTxHash(ctx context.Context, txHash string) (*model.Redemption, error) {
	return s.redemptions.ByTxHash(ctx, s.postgres, txHash)
}

func (s *PostgresStore) InsertCode(ctx context.Context, code *model.PromoCode) (bool, error) {
	return s.codes.Insert(ctx, s.postgres, code)
}

func (s *PostgresStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	return s.audit.Append(ctx, s.postgres, e)
}

func (s *PostgresStore) GetCode(ctx context.Context, id uuid.UUID) (*model.PromoCode, error) {
	return s.codes.Get(ctx, s.postgres, id)
}

func (s *PostgresStore) CountCodesByStatus(ctx context.Context) (map[model.CodeStatus]int64, error) {
	return s.codes.CountByStatus(ctx, s.postgres)
}

func (s *PostgresStore) CountRedemptions(ctx context.Context) (int64, error) {
	return s.redemptions.Count(ctx, s.postgres)
}

func (s *PostgresStore) ListRedemptions(ctx context.Context, offset, limit int) ([]model.Redemption, error) {
	return s.redemptions.List(ctx, s.postgres, offset, limit)
}

func (s *PostgresStore) ListCodes(ctx context.Context, offset, limit int) ([]model.CodeReport, error) {
	return s.codes.ListReports(ctx, s.postgres, offset, limit)
}

func (s *PostgresStore) SearchRedemption(ctx context.Context, query string) (*model.Redemption, error) {
	return s.redemptions.Search(ctx, s.postgres, query)
}

func (s *PostgresStore) ExpireCodes(ctx context.Context, now time.Time) (int64, error) {
	return s.codes.ExpirePastDue(ctx, s.postgres, now)
}

func (s *PostgresStore) ResolveLegacyAllocated(ctx context.Context, policy LegacyPolicy, now time.Time) (int64, error) {
	return s.codes.ResolveLegacyAllocated(ctx, s.postgres, policy, now)
}

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"

	txHashConstraint = "redemptions_tx_hash_key"
)

// classify maps PostgreSQL errors onto the package sentinels
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable:
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
	case pqUniqueViolation:
		if pqErr.Constraint == txHashConstraint {
			return ErrDuplicateTxHash
		}
	}
	return err
}
