package redeem_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/burnpromo/internal/allocation"
	"github.com/kkkkikiki/burnpromo/internal/captcha"
	"github.com/kkkkikiki/burnpromo/internal/codes"
	"github.com/kkkkikiki/burnpromo/internal/eligibility"
	"github.com/kkkkikiki/burnpromo/internal/ledger"
	"github.com/kkkkikiki/burnpromo/internal/model"
	"github.com/kkkkikiki/burnpromo/internal/ratelimit"
	"github.com/kkkkikiki/burnpromo/internal/redeem"
	"github.com/kkkkikiki/burnpromo/internal/repository/memory"
)

var (
	wallet     = common.HexToAddress("0xAbC0000000000000000000000000000000000001")
	other      = common.HexToAddress("0xAbC0000000000000000000000000000000000002")
	burnAmount = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	startOfDay = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
)

func txHash(n int) common.Hash {
	return common.BigToHash(big.NewInt(int64(0xdead0000 + n)))
}

type fakeCaptcha struct {
	result captcha.Result
	err    error
}

func (f *fakeCaptcha) Verify(context.Context, string, string) (captcha.Result, error) {
	return f.result, f.err
}

type fakeVerifier struct {
	mu      sync.Mutex
	calls   int
	results map[common.Hash]ledger.BurnResult
	err     error
}

func (f *fakeVerifier) VerifyBurn(_ context.Context, hash common.Hash, _ common.Address, expected *big.Int) (ledger.BurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return ledger.BurnResult{}, f.err
	}
	if r, ok := f.results[hash]; ok {
		return r, nil
	}
	return ledger.BurnResult{Valid: true, BurnAmount: expected, Outcome: ledger.OutcomeValid}, nil
}

func (f *fakeVerifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixedBalance struct{ balance *big.Int }

func (f fixedBalance) Balance(context.Context, common.Address) (*big.Int, error) {
	return f.balance, nil
}

type harness struct {
	flow     *redeem.Flow
	store    *memory.Store
	sealer   *codes.Sealer
	captcha  *fakeCaptcha
	verifier *fakeVerifier
	limits   *ratelimit.MemoryStore
	now      time.Time
}

type options struct {
	ipLimit, walletLimit int
	settings             redeem.Settings
}

func newHarness(t *testing.T, opts options) *harness {
	t.Helper()

	if opts.ipLimit == 0 {
		opts.ipLimit = 5
	}
	if opts.walletLimit == 0 {
		opts.walletLimit = 3
	}
	if opts.settings.BurnAmount == nil {
		opts.settings.BurnAmount = burnAmount
	}
	if opts.settings.TokenDecimals == 0 {
		opts.settings.TokenDecimals = 18
	}

	sealer, err := codes.NewSealer("master-secret")
	require.NoError(t, err)

	h := &harness{
		store:    memory.New(),
		sealer:   sealer,
		captcha:  &fakeCaptcha{result: captcha.Result{Success: true}},
		verifier: &fakeVerifier{results: map[common.Hash]ledger.BurnResult{}},
		limits:   ratelimit.NewMemoryStore(),
		now:      startOfDay,
	}
	clock := func() time.Time { return h.now }

	limiter := ratelimit.NewLimiter(h.limits,
		ratelimit.Rule{Limit: opts.ipLimit, Window: time.Minute},
		ratelimit.Rule{Limit: opts.walletLimit, Window: time.Hour},
	).WithClock(clock)
	evaluator := eligibility.NewEvaluator(fixedBalance{balance: burnAmount}, h.store, burnAmount, 24*time.Hour).WithClock(clock)
	engine := allocation.NewEngine(h.store, sealer, allocation.WithClock(clock), allocation.WithRetry(3, 0))

	h.flow = redeem.NewFlow(redeem.Deps{
		Captcha:     h.captcha,
		Limiter:     limiter,
		Eligibility: evaluator,
		Verifier:    h.verifier,
		Allocator:   engine,
		Inventory:   h.store,
	}, opts.settings).WithClock(clock)
	return h
}

func (h *harness) seed(t *testing.T, plain, campaign string, maxUses int, expiresAt *time.Time) {
	t.Helper()
	sealed, err := h.sealer.Seal("batch-1", plain)
	require.NoError(t, err)
	code := &model.PromoCode{
		ID:            uuid.New(),
		CodeHash:      codes.Hash(plain),
		EncryptedCode: sealed,
		Status:        model.StatusAvailable,
		MaxUses:       maxUses,
		IsActive:      true,
		ExpiresAt:     expiresAt,
		BatchID:       "batch-1",
		CreatedAt:     h.now,
		UpdatedAt:     h.now,
	}
	if campaign != "" {
		code.Campaign = &campaign
	}
	ok, err := h.store.InsertCode(context.Background(), code)
	require.NoError(t, err)
	require.True(t, ok)
}

func preClaim(n int) redeem.PreClaimRequest {
	return redeem.PreClaimRequest{Wallet: wallet, TxHash: txHash(n), CaptchaToken: "token", ClientIP: "203.0.113.7"}
}

func requireKind(t *testing.T, err error, kind redeem.Kind) *redeem.RejectError {
	t.Helper()
	rej, ok := redeem.AsReject(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, kind, rej.Kind)
	return rej
}

func TestPreClaimVerified(t *testing.T) {
	h := newHarness(t, options{})

	result, err := h.flow.PreClaim(context.Background(), preClaim(1))
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, burnAmount, result.BurnAmount)
	assert.Empty(t, h.store.Redemptions())
}

func TestPreClaimCaptcha(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		h := newHarness(t, options{})
		h.captcha.result = captcha.Result{Success: false, Reason: "timeout-or-duplicate"}

		_, err := h.flow.PreClaim(context.Background(), preClaim(1))
		rej := requireKind(t, err, redeem.KindCaptcha)
		assert.Equal(t, "timeout-or-duplicate", rej.Reason)
		assert.Equal(t, 0, h.limits.Len())
		assert.Equal(t, 0, h.verifier.Calls())
	})

	t.Run("service down fails closed", func(t *testing.T) {
		h := newHarness(t, options{})
		h.captcha.err = fmt.Errorf("%w: status 503", captcha.ErrUnavailable)

		_, err := h.flow.PreClaim(context.Background(), preClaim(1))
		requireKind(t, err, redeem.KindUnavailable)
		assert.ErrorIs(t, err, captcha.ErrUnavailable)
		assert.Equal(t, 0, h.limits.Len())
	})
}

func TestPreClaimRateLimits(t *testing.T) {
	t.Run("ip", func(t *testing.T) {
		h := newHarness(t, options{ipLimit: 2, walletLimit: 10})
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			_, err := h.flow.PreClaim(ctx, preClaim(i))
			require.NoError(t, err)
		}
		_, err := h.flow.PreClaim(ctx, preClaim(3))
		rej := requireKind(t, err, redeem.KindRateLimitedIP)
		assert.Equal(t, redeem.ReasonIPRateLimited, rej.Reason)
		assert.Equal(t, startOfDay.Add(time.Minute), rej.ResetAt)

		h.now = h.now.Add(time.Minute)
		_, err = h.flow.PreClaim(ctx, preClaim(4))
		assert.NoError(t, err)
	})

	t.Run("wallet", func(t *testing.T) {
		h := newHarness(t, options{ipLimit: 10, walletLimit: 1})
		ctx := context.Background()

		_, err := h.flow.PreClaim(ctx, preClaim(1))
		require.NoError(t, err)

		calls := h.verifier.Calls()
		_, err = h.flow.PreClaim(ctx, preClaim(2))
		rej := requireKind(t, err, redeem.KindRateLimitedWallet)
		assert.Equal(t, startOfDay.Add(time.Hour), rej.ResetAt)
		assert.Equal(t, calls, h.verifier.Calls())
	})
}

func TestPreClaimCooldownAfterClaim(t *testing.T) {
	h := newHarness(t, options{})
	h.seed(t, "CODE-1", "", 1, nil)
	h.seed(t, "CODE-2", "", 1, nil)
	ctx := context.Background()

	_, err := h.flow.Claim(ctx, redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(1)})
	require.NoError(t, err)

	h.now = h.now.Add(time.Hour)
	_, err = h.flow.PreClaim(ctx, preClaim(2))
	rej := requireKind(t, err, redeem.KindCooldown)
	assert.Equal(t, startOfDay.Add(24*time.Hour), rej.ResetAt)
	assert.Contains(t, rej.Reason, "2026-05-02T09:00:00Z")

	h.now = startOfDay.Add(24 * time.Hour)
	_, err = h.flow.PreClaim(ctx, preClaim(3))
	assert.NoError(t, err)
}

func TestClaimRechecksCooldown(t *testing.T) {
	h := newHarness(t, options{})
	h.seed(t, "CODE-1", "", 1, nil)
	h.seed(t, "CODE-2", "", 1, nil)
	ctx := context.Background()

	_, err := h.flow.Claim(ctx, redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(1)})
	require.NoError(t, err)

	h.now = h.now.Add(time.Minute)
	_, err = h.flow.Claim(ctx, redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(2)})
	rej := requireKind(t, err, redeem.KindCooldown)
	assert.Equal(t, startOfDay.Add(24*time.Hour), rej.ResetAt)
	assert.Len(t, h.store.Redemptions(), 1)

	_, err = h.flow.Claim(ctx, redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(1)})
	requireKind(t, err, redeem.KindDuplicateTx)

	h.now = startOfDay.Add(24 * time.Hour)
	_, err = h.flow.Claim(ctx, redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(2)})
	require.NoError(t, err)
	assert.Len(t, h.store.Redemptions(), 2)
}

func TestPreClaimVerificationFailure(t *testing.T) {
	h := newHarness(t, options{})
	h.verifier.results[txHash(1)] = ledger.BurnResult{Outcome: ledger.OutcomeAmountMismatch, Reason: "Burn amount 5 does not match expected 1000000000000000000"}

	_, err := h.flow.PreClaim(context.Background(), preClaim(1))
	rej := requireKind(t, err, redeem.KindVerification)
	assert.Equal(t, "Burn amount 5 does not match expected 1000000000000000000", rej.Reason)
}

func TestLedgerUnavailableFailsClosed(t *testing.T) {
	h := newHarness(t, options{})
	h.seed(t, "CODE-1", "", 1, nil)
	h.verifier.err = errors.New("dial tcp: connection refused")

	_, err := h.flow.Claim(context.Background(), redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(1)})
	requireKind(t, err, redeem.KindUnavailable)
	assert.Empty(t, h.store.Redemptions())
}

func TestClaimUsesDefaultCampaign(t *testing.T) {
	h := newHarness(t, options{settings: redeem.Settings{DefaultCampaign: "A"}})
	expires := startOfDay.Add(30 * 24 * time.Hour)
	h.seed(t, "CODE-B", "B", 1, nil)
	h.seed(t, "CODE-A", "A", 1, &expires)

	result, err := h.flow.Claim(context.Background(), redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(1)})
	require.NoError(t, err)
	assert.Equal(t, "CODE-A", result.Code)
	assert.Equal(t, &expires, result.ExpiresAt)
	require.NotNil(t, result.Redemption)
	assert.Equal(t, ledger.CanonicalAddress(wallet), result.Redemption.WalletAddress)
	assert.Equal(t, burnAmount.String(), result.Redemption.BurnAmount)

	_, err = h.flow.Claim(context.Background(), redeem.ClaimRequest{Wallet: other, TxHash: txHash(2)})
	rej := requireKind(t, err, redeem.KindExhausted)
	assert.Equal(t, `No promo codes available for campaign "A"`, rej.Reason)

	result, err = h.flow.Claim(context.Background(), redeem.ClaimRequest{Wallet: other, TxHash: txHash(2), Campaign: "B"})
	require.NoError(t, err)
	assert.Equal(t, "CODE-B", result.Code)
}

func TestClaimDuplicateSkipsLedger(t *testing.T) {
	h := newHarness(t, options{})
	h.seed(t, "CODE-1", "", 2, nil)
	ctx := context.Background()

	_, err := h.flow.Claim(ctx, redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(1)})
	require.NoError(t, err)
	calls := h.verifier.Calls()

	_, err = h.flow.Claim(ctx, redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(1)})
	rej := requireKind(t, err, redeem.KindDuplicateTx)
	assert.Equal(t, allocation.ReasonDuplicate, rej.Reason)
	assert.Equal(t, calls, h.verifier.Calls())
	assert.Len(t, h.store.Redemptions(), 1)
}

func TestConcurrentClaimsSameTransaction(t *testing.T) {
	h := newHarness(t, options{})
	for i := 0; i < 5; i++ {
		h.seed(t, fmt.Sprintf("CODE-%d", i), "", 1, nil)
	}

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		dupes     int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.flow.Claim(context.Background(), redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(1)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			if rej, ok := redeem.AsReject(err); ok && rej.Kind == redeem.KindDuplicateTx {
				dupes++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, dupes)
	assert.Len(t, h.store.Redemptions(), 1)
}

func TestCampaignWindow(t *testing.T) {
	settings := redeem.Settings{
		CampaignStart: startOfDay.Add(time.Hour),
		CampaignEnd:   startOfDay.Add(48 * time.Hour),
	}
	h := newHarness(t, options{settings: settings})
	h.seed(t, "CODE-1", "", 1, nil)
	ctx := context.Background()

	_, err := h.flow.PreClaim(ctx, preClaim(1))
	rej := requireKind(t, err, redeem.KindIneligible)
	assert.Equal(t, redeem.ReasonNotStarted, rej.Reason)
	assert.Equal(t, 0, h.limits.Len())

	status, err := h.flow.Eligibility(ctx, wallet)
	require.NoError(t, err)
	assert.False(t, status.Eligible)
	assert.Equal(t, []string{redeem.ReasonNotStarted}, status.Reasons)

	h.now = settings.CampaignEnd
	_, err = h.flow.Claim(ctx, redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(1)})
	rej = requireKind(t, err, redeem.KindIneligible)
	assert.Equal(t, redeem.ReasonEnded, rej.Reason)
	assert.Empty(t, h.store.Redemptions())

	h.now = settings.CampaignStart
	_, err = h.flow.Claim(ctx, redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(1)})
	assert.NoError(t, err)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, options{})
	expires := startOfDay.Add(7 * 24 * time.Hour)
	h.seed(t, "CODE-1", "", 1, &expires)
	ctx := context.Background()

	status, err := h.flow.Status(ctx, wallet)
	require.NoError(t, err)
	assert.False(t, status.HasRedeemed)

	_, err = h.flow.Claim(ctx, redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(1)})
	require.NoError(t, err)

	status, err = h.flow.Status(ctx, wallet)
	require.NoError(t, err)
	assert.True(t, status.HasRedeemed)
	assert.Equal(t, ledger.CanonicalTxHash(txHash(1)), status.TxHash)
	assert.Equal(t, "1", status.BurnAmount)
	assert.Equal(t, burnAmount.String(), status.BurnAmountRaw)
	assert.Equal(t, startOfDay, status.CreatedAt)
	require.NotNil(t, status.ExpiresAt)
	assert.True(t, expires.Equal(*status.ExpiresAt))
}

func TestCampaignStats(t *testing.T) {
	end := startOfDay.Add(36 * time.Hour)
	h := newHarness(t, options{settings: redeem.Settings{CampaignEnd: end}})
	h.seed(t, "CODE-1", "", 1, nil)
	h.seed(t, "CODE-2", "", 1, nil)
	h.store.PutCode(model.PromoCode{ID: uuid.New(), CodeHash: "legacy", Status: model.StatusAllocated, MaxUses: 1, CreatedAt: h.now})

	_, err := h.flow.Claim(context.Background(), redeem.ClaimRequest{Wallet: wallet, TxHash: txHash(1)})
	require.NoError(t, err)

	stats, err := h.flow.CampaignStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Available)
	assert.Equal(t, int64(1), stats.Allocated)
	assert.Equal(t, int64(1), stats.Exhausted)
	assert.Equal(t, int64(1), stats.Redeemed)
	assert.Equal(t, "1", stats.BurnAmount)
	require.NotNil(t, stats.DaysLeft)
	assert.Equal(t, int64(2), *stats.DaysLeft)
	assert.Nil(t, stats.CampaignStart)
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		raw      string
		decimals int32
		want     string
	}{
		{"1000000000000000000", 18, "1"},
		{"1500000000000000000", 18, "1.5"},
		{"1", 18, "0.000000000000000001"},
		{"0", 18, "0"},
		{"250", 0, "250"},
		{"oops", 18, "oops"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, redeem.FormatAmount(tt.raw, tt.decimals), tt.raw)
	}
}

func TestDaysLeft(t *testing.T) {
	now := startOfDay
	assert.Equal(t, int64(0), redeem.DaysLeft(now.Add(-time.Hour), now))
	assert.Equal(t, int64(0), redeem.DaysLeft(now, now))
	assert.Equal(t, int64(1), redeem.DaysLeft(now.Add(time.Minute), now))
	assert.Equal(t, int64(1), redeem.DaysLeft(now.Add(24*time.Hour), now))
	assert.Equal(t, int64(2), redeem.DaysLeft(now.Add(25*time.Hour), now))
}
