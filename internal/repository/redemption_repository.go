package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kkkkikiki/burnpromo/internal/model"
)

const redemptionColumns = `id, wallet_address, tx_hash, burn_amount, promo_code_id, created_at`

// RedemptionRepository handles redemption data operations
type RedemptionRepository struct{}

// NewRedemptionRepository creates a new redemption repository
func NewRedemptionRepository() *RedemptionRepository {
	return &RedemptionRepository{}
}

// Create inserts a redemption. The unique constraint on tx_hash surfaces as
// ErrDuplicateTxHash.
func (r *RedemptionRepository) Create(ctx context.Context, db DBExecutor, redemption *model.Redemption) error {
	query := `
		INSERT INTO redemptions (id, wallet_address, tx_hash, burn_amount, promo_code_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := db.ExecContext(ctx, query,
		redemption.ID, redemption.WalletAddress, redemption.TxHash,
		redemption.BurnAmount, redemption.PromoCodeID, redemption.CreatedAt)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrDuplicateTxHash) {
			return err
		}
		return fmt.Errorf("failed to create redemption: %w", err)
	}

	return nil
}

// Latest retrieves the most recent redemption of a wallet
func (r *RedemptionRepository) Latest(ctx context.Context, db DBExecutor, wallet string) (*model.Redemption, error) {
	query := `
		SELECT ` + redemptionColumns + `
		FROM redemptions
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, db, query, wallet)
}

// ByTxHash retrieves the redemption funded by a transaction
func (r *RedemptionRepository) ByTxHash(ctx context.Context, db DBExecutor, txHash string) (*model.Redemption, error) {
	query := `SELECT ` + redemptionColumns + ` FROM redemptions WHERE tx_hash = $1`
	return r.getOne(ctx, db, query, txHash)
}

// Search retrieves the latest redemption whose wallet or tx hash equals q
func (r *RedemptionRepository) Search(ctx context.Context, db DBExecutor, q string) (*model.Redemption, error) {
	query := `
		SELECT ` + redemptionColumns + `
		FROM redemptions
		WHERE wallet_address = $1 OR tx_hash = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, db, query, q)
}

// List retrieves a page of redemptions, newest first
func (r *RedemptionRepository) List(ctx context.Context, db DBExecutor, offset, limit int) ([]model.Redemption, error) {
	query := `
		SELECT ` + redemptionColumns + `
		FROM redemptions
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`

	var redemptions []model.Redemption
	if err := db.SelectContext(ctx, &redemptions, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}
	return redemptions, nil
}

// Count returns the number of redemptions
func (r *RedemptionRepository) Count(ctx context.Context, db DBExecutor) (int64, error) {
	var n int64
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM redemptions`); err != nil {
		return 0, fmt.Errorf("failed to count redemptions: %w", err)
	}
	return n, nil
}

func (r *RedemptionRepository) getOne(ctx context.Context, db DBExecutor, query string, arg interface{}) (*model.Redemption, error) {
	var redemption model.Redemption
	if err := db.GetContext(ctx, &redemption, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get redemption: %w", err)
	}
	return &redemption, nil
}
