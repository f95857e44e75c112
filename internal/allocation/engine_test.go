package allocation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/burnpromo/internal/allocation"
	"github.com/kkkkikiki/burnpromo/internal/codes"
	"github.com/kkkkikiki/burnpromo/internal/model"
	"github.com/kkkkikiki/burnpromo/internal/repository"
	"github.com/kkkkikiki/burnpromo/internal/repository/memory"
)

const batchID = "batch-1"

func newSealer(t *testing.T) *codes.Sealer {
	t.Helper()
	s, err := codes.NewSealer("master-secret")
	require.NoError(t, err)
	return s
}

type codeFixture struct {
	plain     string
	campaign  string
	maxUses   int
	expiresAt *time.Time
	active    bool
	age       time.Duration
}

func seed(t *testing.T, store *memory.Store, sealer *codes.Sealer, fixtures ...codeFixture) []*model.PromoCode {
	t.Helper()

	now := time.Now()
	var out []*model.PromoCode
	for _, s := range fixtures {
		sealed, err := sealer.Seal(batchID, s.plain)
		require.NoError(t, err)

		code := &model.PromoCode{
			ID:            uuid.New(),
			CodeHash:      codes.Hash(s.plain),
			EncryptedCode: sealed,
			Status:        model.StatusAvailable,
			MaxUses:       s.maxUses,
			IsActive:      s.active,
			ExpiresAt:     s.expiresAt,
			BatchID:       batchID,
			CreatedAt:     now.Add(-s.age),
			UpdatedAt:     now,
		}
		if s.campaign != "" {
			c := s.campaign
			code.Campaign = &c
		}
		ok, err := store.InsertCode(context.Background(), code)
		require.NoError(t, err)
		require.True(t, ok)
		out = append(out, code)
	}
	return out
}

func request(wallet, tx, campaign string) allocation.Request {
	return allocation.Request{Wallet: wallet, TxHash: tx, BurnAmount: "1000000000000000000", Campaign: campaign}
}

func TestAllocateSingleUse(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sealer := newSealer(t)
	seeded := seed(t, store, sealer, codeFixture{plain: "PROMO-1", maxUses: 1, active: true})

	engine := allocation.NewEngine(store, sealer)
	result, err := engine.Allocate(ctx, request("0xabc", "0xdeadbeef", ""))
	require.NoError(t, err)
	require.True(t, result.Success(), result.Reason)
	assert.Equal(t, "PROMO-1", result.Code)
	assert.Equal(t, seeded[0].ID, result.Redemption.PromoCodeID)

	code, err := store.GetCode(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, code.UsedCount)
	assert.Equal(t, model.StatusRedeemed, code.Status)

	redemptions := store.Redemptions()
	require.Len(t, redemptions, 1)
	assert.Equal(t, "0xabc", redemptions[0].WalletAddress)
	assert.Equal(t, "0xdeadbeef", redemptions[0].TxHash)
	assert.Equal(t, "1000000000000000000", redemptions[0].BurnAmount)

	audit := store.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, model.AuditActionRedemption, audit[0].Action)
	assert.Equal(t, "0xabc", audit[0].UserID)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(audit[0].Metadata, &meta))
	assert.Equal(t, "0xdeadbeef", meta["txHash"])
	assert.Equal(t, float64(1), meta["usedCount"])
	assert.Equal(t, float64(1), meta["maxUses"])
	assert.NotContains(t, string(audit[0].Metadata), "PROMO-1")

	result, err = engine.Allocate(ctx, request("0xdef", "0xfeed", ""))
	require.NoError(t, err)
	assert.Equal(t, allocation.OutcomeExhausted, result.Outcome)
	assert.Equal(t, "No promo codes available", result.Reason)
	assert.Empty(t, result.Code)
}

func TestAllocateMultiUse(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sealer := newSealer(t)
	seeded := seed(t, store, sealer, codeFixture{plain: "SHARED", maxUses: 3, active: true})
	engine := allocation.NewEngine(store, sealer)

	for i := 1; i <= 3; i++ {
		result, err := engine.Allocate(ctx, request(fmt.Sprintf("0x%d", i), fmt.Sprintf("0xt%d", i), ""))
		require.NoError(t, err)
		require.True(t, result.Success())
		assert.Equal(t, "SHARED", result.Code)

		code, err := store.GetCode(ctx, seeded[0].ID)
		require.NoError(t, err)
		assert.Equal(t, i, code.UsedCount)
		assert.Equal(t, i == 3, code.Status == model.StatusRedeemed)
	}

	result, err := engine.Allocate(ctx, request("0x4", "0xt4", ""))
	require.NoError(t, err)
	assert.Equal(t, allocation.OutcomeExhausted, result.Outcome)
}

func TestAllocateDuplicateTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sealer := newSealer(t)
	seeded := seed(t, store, sealer, codeFixture{plain: "MULTI", maxUses: 5, active: true})
	engine := allocation.NewEngine(store, sealer)

	first, err := engine.Allocate(ctx, request("0xabc", "0xdeadbeef", ""))
	require.NoError(t, err)
	require.True(t, first.Success())

	second, err := engine.Allocate(ctx, request("0xabc", "0xdeadbeef", ""))
	require.NoError(t, err)
	assert.Equal(t, allocation.OutcomeDuplicate, second.Outcome)
	assert.Equal(t, "Transaction already used.", second.Reason)
	assert.Empty(t, second.Code)

	assert.Len(t, store.Redemptions(), 1)
	code, err := store.GetCode(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, code.UsedCount, "rolled back usage must not leak")
	assert.Len(t, store.Audit(), 1)
}

func TestAllocateSkipsUnselectableCodes(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sealer := newSealer(t)
	past := time.Now().Add(-time.Minute)
	seed(t, store, sealer,
		codeFixture{plain: "EXPIRED", maxUses: 1, active: true, expiresAt: &past, age: 3 * time.Hour},
		codeFixture{plain: "DISABLED", maxUses: 1, active: false, age: 2 * time.Hour},
		codeFixture{plain: "OTHER", maxUses: 1, active: true, campaign: "B", age: time.Hour},
	)
	engine := allocation.NewEngine(store, sealer)

	result, err := engine.Allocate(ctx, request("0xabc", "0x1", "A"))
	require.NoError(t, err)
	assert.Equal(t, allocation.OutcomeExhausted, result.Outcome)
	assert.Equal(t, `No promo codes available for campaign "A"`, result.Reason)

	result, err = engine.Allocate(ctx, request("0xabc", "0x2", ""))
	require.NoError(t, err)
	require.True(t, result.Success())
	assert.Equal(t, "OTHER", result.Code)
}

func TestAllocateLastCodeRace(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sealer := newSealer(t)
	seed(t, store, sealer, codeFixture{plain: "ONLY-ONE", maxUses: 1, active: true, campaign: "A"})
	engine := allocation.NewEngine(store, sealer)

	const workers = 20
	var wg sync.WaitGroup
	results := make([]allocation.Result, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := engine.Allocate(ctx, request(fmt.Sprintf("0xw%d", i), fmt.Sprintf("0xt%d", i), "A"))
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		if r.Success() {
			winners++
			assert.Equal(t, "ONLY-ONE", r.Code)
			continue
		}
		assert.Equal(t, `No promo codes available for campaign "A"`, r.Reason)
	}
	assert.Equal(t, 1, winners)
	assert.Len(t, store.Redemptions(), 1)
}

func TestAllocateSameTransactionRace(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sealer := newSealer(t)
	var fixtures []codeFixture
	for i := 0; i < 10; i++ {
		fixtures = append(fixtures, codeFixture{plain: fmt.Sprintf("CODE-%d", i), maxUses: 1, active: true})
	}
	seed(t, store, sealer, fixtures...)
	engine := allocation.NewEngine(store, sealer)

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := map[allocation.Outcome]int{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := engine.Allocate(ctx, request("0xabc", "0xsame", ""))
			assert.NoError(t, err)
			mu.Lock()
			outcomes[r.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[allocation.OutcomeAllocated])
	assert.Equal(t, 9, outcomes[allocation.OutcomeDuplicate])
	assert.Len(t, store.Redemptions(), 1)

	counts, err := store.CountCodesByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.StatusRedeemed])
	assert.Equal(t, int64(9), counts[model.StatusAvailable])
}

func TestAllocateDecryptFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sealer := newSealer(t)
	seeded := seed(t, store, sealer, codeFixture{plain: "X", maxUses: 1, active: true})

	wrongKey, err := codes.NewSealer("another-secret")
	require.NoError(t, err)

	_, err = allocation.NewEngine(store, wrongKey).Allocate(ctx, request("0xabc", "0x1", ""))
	require.Error(t, err)

	code, err := store.GetCode(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, code.UsedCount)
	assert.Equal(t, model.StatusAvailable, code.Status)
	assert.Empty(t, store.Redemptions())
	assert.Empty(t, store.Audit())
}

// scriptedStore fails the first `conflicts` transactions with ErrConflict and
// serves a fixed code afterwards
type scriptedStore struct {
	mu        sync.Mutex
	conflicts int
	calls     int
	code      model.PromoCode
}

func (s *scriptedStore) InTx(ctx context.Context, fn func(tx repository.InventoryTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.conflicts {
		return fmt.Errorf("commit: %w", repository.ErrConflict)
	}
	return fn(scriptedTx{code: s.code})
}

type scriptedTx struct {
	code model.PromoCode
}

func (t scriptedTx) SelectAvailableCode(context.Context, string, time.Time) (*model.PromoCode, error) {
	c := t.code
	return &c, nil
}

func (scriptedTx) UpdateCodeUsage(context.Context, uuid.UUID, int, int, model.CodeStatus, time.Time) error {
	return nil
}

func (scriptedTx) InsertRedemption(context.Context, *model.Redemption) error { return nil }

func (scriptedTx) AppendAudit(context.Context, *model.AuditEntry) error { return nil }

func (scriptedTx) DeactivateCode(context.Context, uuid.UUID, time.Time) error { return nil }

func sealedCode(t *testing.T, sealer *codes.Sealer, used, max int) model.PromoCode {
	t.Helper()
	sealed, err := sealer.Seal(batchID, "RETRY")
	require.NoError(t, err)
	return model.PromoCode{ID: uuid.New(), EncryptedCode: sealed, BatchID: batchID, MaxUses: max, UsedCount: used}
}

func TestAllocateRetriesConflicts(t *testing.T) {
	sealer := newSealer(t)
	store := &scriptedStore{conflicts: 2, code: sealedCode(t, sealer, 0, 1)}

	result, err := allocation.NewEngine(store, sealer, allocation.WithRetry(3, 0)).
		Allocate(context.Background(), request("0xabc", "0x1", ""))
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, "RETRY", result.Code)
	assert.Equal(t, 3, store.calls)
}

func TestAllocateReportsExhaustionAfterRetries(t *testing.T) {
	sealer := newSealer(t)
	store := &scriptedStore{conflicts: 10, code: sealedCode(t, sealer, 0, 1)}

	result, err := allocation.NewEngine(store, sealer, allocation.WithRetry(3, time.Millisecond)).
		Allocate(context.Background(), request("0xabc", "0x1", "A"))
	require.NoError(t, err)
	assert.Equal(t, allocation.OutcomeExhausted, result.Outcome)
	assert.Equal(t, `No promo codes available for campaign "A"`, result.Reason)
	assert.Equal(t, 3, store.calls)
}

func TestAllocateRejectsCodeAtMaxUses(t *testing.T) {
	sealer := newSealer(t)
	store := &scriptedStore{code: sealedCode(t, sealer, 2, 2)}

	result, err := allocation.NewEngine(store, sealer).Allocate(context.Background(), request("0xabc", "0x1", ""))
	require.NoError(t, err)
	assert.Equal(t, allocation.OutcomeMaxUses, result.Outcome)
	assert.Equal(t, "Code has reached maximum uses", result.Reason)
}

func TestAllocatePropagatesStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	store := failingStore{err: boom}

	_, err := allocation.NewEngine(store, newSealer(t)).Allocate(context.Background(), request("0xabc", "0x1", ""))
	assert.ErrorIs(t, err, boom)
}

type failingStore struct {
	err error
}

func (f failingStore) InTx(context.Context, func(tx repository.InventoryTx) error) error {
	return f.err
}

func TestAllocateSkipsUndecryptableCode(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sealer := newSealer(t)

	broken := model.PromoCode{
		ID:            uuid.New(),
		CodeHash:      codes.Hash("BROKEN"),
		EncryptedCode: "v1:00:00",
		Status:        model.StatusAvailable,
		MaxUses:       1,
		IsActive:      true,
		BatchID:       batchID,
		CreatedAt:     time.Now().Add(-2 * time.Hour),
		UpdatedAt:     time.Now(),
	}
	store.PutCode(broken)
	seed(t, store, sealer, codeFixture{plain: "GOOD", maxUses: 1, active: true, age: time.Hour})

	engine := allocation.NewEngine(store, sealer)
	result, err := engine.Allocate(ctx, request("0xabc", "0x1", ""))
	require.NoError(t, err)
	require.True(t, result.Success())
	assert.Equal(t, "GOOD", result.Code)

	got, err := store.GetCode(ctx, broken.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, model.StatusAvailable, got.Status)
	assert.Equal(t, 0, got.UsedCount)

	var actions []string
	for _, e := range store.Audit() {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{model.AuditActionSealOpenFail, model.AuditActionRedemption}, actions)

	// The broken code stays out of selection
	result, err = engine.Allocate(ctx, request("0xabc", "0x2", ""))
	require.NoError(t, err)
	assert.Equal(t, allocation.OutcomeExhausted, result.Outcome)
	require.Len(t, store.Redemptions(), 1)
}

func TestAllocateGivesUpAfterSkipLimit(t *testing.T) {
	code := model.PromoCode{ID: uuid.New(), EncryptedCode: "v1:00:00", BatchID: batchID, MaxUses: 1}
	store := &scriptedStore{code: code}

	_, err := allocation.NewEngine(store, newSealer(t), allocation.WithSkipLimit(2)).
		Allocate(context.Background(), request("0xabc", "0x1", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, codes.ErrMalformed)
	assert.Equal(t, 2, store.calls)
}
