package repository_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/burnpromo/internal/database"
	"github.com/kkkkikiki/burnpromo/internal/model"
	"github.com/kkkkikiki/burnpromo/internal/repository"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.ConnectPostgres(ctx, dsn, 10, 2)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx, db))

	_, err = db.ExecContext(ctx, `TRUNCATE redemptions, promo_codes, rate_limit_entries`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func insertCode(t *testing.T, store *repository.PostgresStore, campaign string, created time.Time, maxUses int) *model.PromoCode {
	t.Helper()

	code := &model.PromoCode{
		ID:            uuid.New(),
		CodeHash:      uuid.NewString(),
		EncryptedCode: "sealed",
		Status:        model.StatusAvailable,
		MaxUses:       maxUses,
		IsActive:      true,
		BatchID:       "batch",
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	if campaign != "" {
		code.Campaign = &campaign
	}
	ok, err := store.InsertCode(context.Background(), code)
	require.NoError(t, err)
	require.True(t, ok)
	return code
}

func TestPostgresInsertCodeDuplicateHash(t *testing.T) {
	store := repository.NewPostgresStore(setupTestDB(t))
	code := insertCode(t, store, "", time.Now(), 1)

	dup := *code
	dup.ID = uuid.New()
	ok, err := store.InsertCode(context.Background(), &dup)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresDuplicateTxHash(t *testing.T) {
	ctx := context.Background()
	store := repository.NewPostgresStore(setupTestDB(t))
	code := insertCode(t, store, "", time.Now(), 2)

	insert := func() error {
		return store.InTx(ctx, func(tx repository.InventoryTx) error {
			return tx.InsertRedemption(ctx, &model.Redemption{
				ID:            uuid.New(),
				WalletAddress: "0xaaa",
				TxHash:        "0xdup",
				BurnAmount:    "1000",
				PromoCodeID:   code.ID,
				CreatedAt:     time.Now(),
			})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), repository.ErrDuplicateTxHash)

	n, err := store.CountRedemptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgresReserveSkipsLockedRows(t *testing.T) {
	ctx := context.Background()
	store := repository.NewPostgresStore(setupTestDB(t))
	now := time.Now()
	first := insertCode(t, store, "A", now.Add(-time.Minute), 1)
	second := insertCode(t, store, "A", now, 1)

	locked := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = store.InTx(ctx, func(tx repository.InventoryTx) error {
			code, err := tx.SelectAvailableCode(ctx, "A", now)
			if assert.NoError(t, err) {
				assert.Equal(t, first.ID, code.ID)
			}
			close(locked)
			<-release
			return nil
		})
	}()

	<-locked
	err := store.InTx(ctx, func(tx repository.InventoryTx) error {
		code, err := tx.SelectAvailableCode(ctx, "A", now)
		require.NoError(t, err)
		assert.Equal(t, second.ID, code.ID)

		_, err = tx.SelectAvailableCode(ctx, "B", now)
		assert.ErrorIs(t, err, repository.ErrNoAvailableCode)
		return nil
	})
	require.NoError(t, err)

	close(release)
	wg.Wait()
}

func TestPostgresReserveReportsConflictWhenAllLocked(t *testing.T) {
	ctx := context.Background()
	store := repository.NewPostgresStore(setupTestDB(t))
	now := time.Now()
	insertCode(t, store, "", now, 1)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.InTx(ctx, func(tx repository.InventoryTx) error {
			_, err := tx.SelectAvailableCode(ctx, "", now)
			assert.NoError(t, err)
			close(locked)
			<-release
			return nil
		})
	}()

	<-locked
	err := store.InTx(ctx, func(tx repository.InventoryTx) error {
		_, err := tx.SelectAvailableCode(ctx, "", now)
		return err
	})
	assert.ErrorIs(t, err, repository.ErrConflict)

	close(release)
	<-done
}

func TestPostgresUpdateUsageGuard(t *testing.T) {
	ctx := context.Background()
	store := repository.NewPostgresStore(setupTestDB(t))
	now := time.Now()
	code := insertCode(t, store, "", now, 2)

	err := store.InTx(ctx, func(tx repository.InventoryTx) error {
		return tx.UpdateCodeUsage(ctx, code.ID, 0, 1, model.StatusAvailable, now)
	})
	require.NoError(t, err)

	err = store.InTx(ctx, func(tx repository.InventoryTx) error {
		return tx.UpdateCodeUsage(ctx, code.ID, 0, 1, model.StatusAvailable, now)
	})
	assert.ErrorIs(t, err, repository.ErrConflict)

	got, err := store.GetCode(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedCount)
}

func TestPostgresExpireCodes(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := repository.NewPostgresStore(db)
	now := time.Now()
	code := insertCode(t, store, "", now, 1)

	_, err := db.ExecContext(ctx, `UPDATE promo_codes SET expires_at = $1 WHERE id = $2`, now.Add(-time.Hour), code.ID)
	require.NoError(t, err)

	n, err := store.ExpireCodes(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err := store.CountCodesByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.StatusExpired])
}
