package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kkkkikiki/burnpromo/internal/model"
)

const promoCodeColumns = `id, code_hash, encrypted_code, status, max_uses, used_count,
	is_active, expires_at, campaign, batch_id, created_at, updated_at`

// PromoCodeRepository handles promo code data operations
type PromoCodeRepository struct{}

// NewPromoCodeRepository creates a new promo code repository
func NewPromoCodeRepository() *PromoCodeRepository {
	return &PromoCodeRepository{}
}

// ReserveAvailableCode finds and locks the oldest selectable code using
// SELECT FOR UPDATE SKIP LOCKED. When every candidate is locked by another
// transaction it returns ErrConflict instead of ErrNoAvailableCode, since a
// multi-use code may still have slots once the holder commits.
func (r *PromoCodeRepository) ReserveAvailableCode(ctx context.Context, db DBExecutor, campaign string, now time.Time) (*model.PromoCode, error) {
	query := `
		SELECT ` + promoCodeColumns + `
		FROM promo_codes
		WHERE status = 'AVAILABLE'
		  AND is_active
		  AND (expires_at IS NULL OR expires_at > $1)
		  AND ($2::text = '' OR campaign = $2::text)
		  AND used_count < max_uses
		ORDER BY created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var code model.PromoCode
	err := db.GetContext(ctx, &code, query, now, campaign)
	if err == nil {
		return &code, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to reserve promo code: %w", classify(err))
	}

	var exists bool
	existsQuery := `
		SELECT EXISTS (
			SELECT 1 FROM promo_codes
			WHERE status = 'AVAILABLE'
			  AND is_active
			  AND (expires_at IS NULL OR expires_at > $1)
			  AND ($2::text = '' OR campaign = $2::text)
			  AND used_count < max_uses
		)
	`
	if err := db.GetContext(ctx, &exists, existsQuery, now, campaign); err != nil {
		return nil, fmt.Errorf("failed to check locked promo codes: %w", classify(err))
	}
	if exists {
		return nil, ErrConflict
	}
	return nil, ErrNoAvailableCode
}

// UpdateUsage updates used_count and status, guarded by the previous count
func (r *PromoCodeRepository) UpdateUsage(ctx context.Context, db DBExecutor, id uuid.UUID, prevUsed, used int, status model.CodeStatus, now time.Time) error {
	query := `
		UPDATE promo_codes
		SET used_count = $1, status = $2, updated_at = $3
		WHERE id = $4 AND used_count = $5
	`

	result, err := db.ExecContext(ctx, query, used, status, now, id, prevUsed)
	if err != nil {
		return fmt.Errorf("failed to update promo code usage: %w", classify(err))
	}

	// Check if any row was actually updated
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrConflict
	}

	return nil
}

// Deactivate clears is_active so the code is never selected again
func (r *PromoCodeRepository) Deactivate(ctx context.Context, db DBExecutor, id uuid.UUID, now time.Time) error {
	query := `UPDATE promo_codes SET is_active = false, updated_at = $1 WHERE id = $2`

	if _, err := db.ExecContext(ctx, query, now, id); err != nil {
		return fmt.Errorf("failed to deactivate promo code: %w", classify(err))
	}
	return nil
}

// Insert stores a new code; duplicates by code_hash are skipped
func (r *PromoCodeRepository) Insert(ctx context.Context, db DBExecutor, code *model.PromoCode) (bool, error) {
	query := `
		INSERT INTO promo_codes (id, code_hash, encrypted_code, status, max_uses, used_count,
			is_active, expires_at, campaign, batch_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (code_hash) DO NOTHING
	`

	result, err := db.ExecContext(ctx, query,
		code.ID, code.CodeHash, code.EncryptedCode, code.Status, code.MaxUses, code.UsedCount,
		code.IsActive, code.ExpiresAt, code.Campaign, code.BatchID, code.CreatedAt, code.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert promo code: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// Get retrieves a promo code by ID
func (r *PromoCodeRepository) Get(ctx context.Context, db DBExecutor, id uuid.UUID) (*model.PromoCode, error) {
	query := `SELECT ` + promoCodeColumns + ` FROM promo_codes WHERE id = $1`

	var code model.PromoCode
	if err := db.GetContext(ctx, &code, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	return &code, nil
}

// ListReports pages through codes newest first with their first redemption.
// encrypted_code is not selected.
func (r *PromoCodeRepository) ListReports(ctx context.Context, db DBExecutor, offset, limit int) ([]model.CodeReport, error) {
	query := `
		SELECT p.id, p.code_hash, p.status, p.max_uses, p.used_count, p.is_active,
		       p.expires_at, p.campaign, p.batch_id, p.created_at, p.updated_at,
		       r.wallet_address AS redeemed_by, r.created_at AS redeemed_at
		FROM promo_codes p
		LEFT JOIN LATERAL (
			SELECT wallet_address, created_at
			FROM redemptions
			WHERE promo_code_id = p.id
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		) r ON true
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $1 OFFSET $2
	`

	var reports []model.CodeReport
	if err := db.SelectContext(ctx, &reports, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list promo codes: %w", err)
	}
	return reports, nil
}

// CountByStatus returns the number of codes per status
func (r *PromoCodeRepository) CountByStatus(ctx context.Context, db DBExecutor) (map[model.CodeStatus]int64, error) {
	query := `SELECT status, COUNT(*) AS n FROM promo_codes GROUP BY status`

	var rows []struct {
		Status model.CodeStatus `db:"status"`
		N      int64            `db:"n"`
	}
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count promo codes: %w", err)
	}

	counts := make(map[model.CodeStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

// ExpirePastDue marks available codes whose expiry has passed as EXPIRED
func (r *PromoCodeRepository) ExpirePastDue(ctx context.Context, db DBExecutor, now time.Time) (int64, error) {
	query := `
		UPDATE promo_codes
		SET status = 'EXPIRED', updated_at = $1
		WHERE status = 'AVAILABLE' AND expires_at IS NOT NULL AND expires_at <= $1
	`

	result, err := db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire promo codes: %w", err)
	}
	return result.RowsAffected()
}

// ResolveLegacyAllocated rewrites rows left in ALLOCATED under the given policy
func (r *PromoCodeRepository) ResolveLegacyAllocated(ctx context.Context, db DBExecutor, policy LegacyPolicy, now time.Time) (int64, error) {
	var query string
	switch policy {
	case LegacyAsRedeemed:
		query = `
			UPDATE promo_codes
			SET status = 'REDEEMED', used_count = max_uses, updated_at = $1
			WHERE status = 'ALLOCATED'
		`
	case LegacyAsAvailable:
		query = `
			UPDATE promo_codes
			SET status = CASE WHEN used_count >= max_uses THEN 'REDEEMED' ELSE 'AVAILABLE' END,
			    updated_at = $1
			WHERE status = 'ALLOCATED'
		`
	default:
		return 0, fmt.Errorf("unknown legacy policy %q", policy)
	}

	result, err := db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve legacy codes: %w", err)
	}
	return result.RowsAffected()
}
