// Package redeem runs the gates in front of the allocation engine. Each gate
// is a hard stop and nothing after a failed gate runs.
package redeem

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/kkkkikiki/burnpromo/internal/allocation"
	"github.com/kkkkikiki/burnpromo/internal/captcha"
	"github.com/kkkkikiki/burnpromo/internal/eligibility"
	"github.com/kkkkikiki/burnpromo/internal/ledger"
	"github.com/kkkkikiki/burnpromo/internal/logger"
	"github.com/kkkkikiki/burnpromo/internal/metrics"
	"github.com/kkkkikiki/burnpromo/internal/model"
	"github.com/kkkkikiki/burnpromo/internal/ratelimit"
	"github.com/kkkkikiki/burnpromo/internal/repository"
)

const (
	stagePreClaim = "preclaim"
	stageClaim    = "claim"

	unknownIP = "unknown"
)

// BurnVerifier confirms a burn on the ledger
type BurnVerifier interface {
	VerifyBurn(ctx context.Context, txHash common.Hash, sender common.Address, expected *big.Int) (ledger.BurnResult, error)
}

// Allocator hands out one code use
type Allocator interface {
	Allocate(ctx context.Context, req allocation.Request) (allocation.Result, error)
}

// RateLimiter counts requests per client IP and per wallet
type RateLimiter interface {
	CheckIP(ctx context.Context, ip string) (ratelimit.Decision, error)
	CheckWallet(ctx context.Context, wallet string) (ratelimit.Decision, error)
}

// Inventory is the read side of the store used for status and stats
type Inventory interface {
	repository.RedemptionReader
	GetCode(ctx context.Context, id uuid.UUID) (*model.PromoCode, error)
	CountCodesByStatus(ctx context.Context) (map[model.CodeStatus]int64, error)
	CountRedemptions(ctx context.Context) (int64, error)
}

// Settings are the campaign parameters
type Settings struct {
	// BurnAmount is the exact quantity a claim must burn, in the smallest unit
	BurnAmount      *big.Int
	TokenDecimals   int32
	DefaultCampaign string
	// Zero times mean the campaign is not bounded on that side
	CampaignStart time.Time
	CampaignEnd   time.Time
}

// Deps are the collaborators of a Flow
type Deps struct {
	Captcha     captcha.Verifier
	Limiter     RateLimiter
	Eligibility *eligibility.Evaluator
	Verifier    BurnVerifier
	Allocator   Allocator
	Inventory   Inventory
}

// Flow is the redemption pipeline
type Flow struct {
	captcha     captcha.Verifier
	limiter     RateLimiter
	eligibility *eligibility.Evaluator
	verifier    BurnVerifier
	allocator   Allocator
	inventory   Inventory
	settings    Settings
	now         func() time.Time
}

// NewFlow creates a redemption flow
func NewFlow(deps Deps, settings Settings) *Flow {
	if settings.BurnAmount == nil {
		settings.BurnAmount = new(big.Int)
	}
	return &Flow{
		captcha:     deps.Captcha,
		limiter:     deps.Limiter,
		eligibility: deps.Eligibility,
		verifier:    deps.Verifier,
		allocator:   deps.Allocator,
		inventory:   deps.Inventory,
		settings:    settings,
		now:         time.Now,
	}
}

// WithClock replaces the time source
func (f *Flow) WithClock(now func() time.Time) *Flow {
	f.now = now
	return f
}

// PreClaimRequest is a dry run of a claim
type PreClaimRequest struct {
	Wallet       common.Address
	TxHash       common.Hash
	CaptchaToken string
	ClientIP     string
}

// PreClaimResult is returned when every gate passed
type PreClaimResult struct {
	Verified   bool
	BurnAmount *big.Int
}

// PreClaim runs CAPTCHA, IP limit, wallet limit, cooldown, duplicate check and
// on-chain verification, in that order, without allocating anything.
// Rejections are returned as *RejectError.
func (f *Flow) PreClaim(ctx context.Context, req PreClaimRequest) (PreClaimResult, error) {
	ctx = withRequestLogger(ctx, req.Wallet, req.TxHash)
	result, err := f.preClaim(ctx, req)
	if err != nil {
		return PreClaimResult{}, f.rejected(ctx, stagePreClaim, err)
	}
	return result, nil
}

func (f *Flow) preClaim(ctx context.Context, req PreClaimRequest) (PreClaimResult, error) {
	if err := f.checkCampaignWindow(); err != nil {
		return PreClaimResult{}, err
	}

	ip := req.ClientIP
	if ip == "" {
		ip = unknownIP
	}

	verdict, err := f.captcha.Verify(ctx, req.CaptchaToken, ip)
	if err != nil {
		return PreClaimResult{}, unavailable(err)
	}
	if !verdict.Success {
		return PreClaimResult{}, reject(KindCaptcha, verdict.Reason)
	}

	decision, err := f.limiter.CheckIP(ctx, ip)
	if err != nil {
		return PreClaimResult{}, unavailable(err)
	}
	if !decision.Allowed {
		rej := reject(KindRateLimitedIP, ReasonIPRateLimited)
		rej.ResetAt = decision.ResetAt
		return PreClaimResult{}, rej
	}

	wallet := ledger.CanonicalAddress(req.Wallet)
	decision, err = f.limiter.CheckWallet(ctx, wallet)
	if err != nil {
		return PreClaimResult{}, unavailable(err)
	}
	if !decision.Allowed {
		rej := reject(KindRateLimitedWallet, ReasonWalletRateLimited)
		rej.ResetAt = decision.ResetAt
		return PreClaimResult{}, rej
	}

	cooldown, err := f.eligibility.CheckCooldown(ctx, req.Wallet)
	if err != nil {
		return PreClaimResult{}, unavailable(err)
	}
	if !cooldown.Eligible {
		rej := reject(KindCooldown, eligibility.CooldownReason(*cooldown.NextEligible))
		rej.ResetAt = *cooldown.NextEligible
		return PreClaimResult{}, rej
	}

	amount, err := f.verifyFresh(ctx, req.Wallet, req.TxHash)
	if err != nil {
		return PreClaimResult{}, err
	}
	return PreClaimResult{Verified: true, BurnAmount: amount}, nil
}

// ClaimRequest is a post-burn claim. An empty Campaign means the configured
// default campaign.
type ClaimRequest struct {
	Wallet   common.Address
	TxHash   common.Hash
	Campaign string
}

// ClaimResult carries the plaintext code. It must never be logged.
type ClaimResult struct {
	Code       string
	BurnAmount *big.Int
	ExpiresAt  *time.Time
	Redemption *model.Redemption
}

// Claim re-runs the duplicate check, on-chain verification and the wallet
// cooldown, then allocates. Rejections are returned as *RejectError.
func (f *Flow) Claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	ctx = withRequestLogger(ctx, req.Wallet, req.TxHash)
	result, err := f.claim(ctx, req)
	if err != nil {
		return ClaimResult{}, f.rejected(ctx, stageClaim, err)
	}
	return result, nil
}

func (f *Flow) claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	if err := f.checkCampaignWindow(); err != nil {
		return ClaimResult{}, err
	}

	amount, err := f.verifyFresh(ctx, req.Wallet, req.TxHash)
	if err != nil {
		return ClaimResult{}, err
	}
	if err := f.checkClaimCooldown(ctx, req.Wallet, req.TxHash); err != nil {
		return ClaimResult{}, err
	}

	campaign := req.Campaign
	if campaign == "" {
		campaign = f.settings.DefaultCampaign
	}

	allocated, err := f.allocator.Allocate(ctx, allocation.Request{
		Wallet:     ledger.CanonicalAddress(req.Wallet),
		TxHash:     ledger.CanonicalTxHash(req.TxHash),
		BurnAmount: amount.String(),
		Campaign:   campaign,
	})
	if err != nil {
		return ClaimResult{}, unavailable(err)
	}

	switch allocated.Outcome {
	case allocation.OutcomeAllocated:
		return ClaimResult{
			Code:       allocated.Code,
			BurnAmount: amount,
			ExpiresAt:  allocated.ExpiresAt,
			Redemption: allocated.Redemption,
		}, nil
	case allocation.OutcomeDuplicate:
		return ClaimResult{}, reject(KindDuplicateTx, allocated.Reason)
	default:
		return ClaimResult{}, reject(KindExhausted, allocated.Reason)
	}
}

// verifyFresh rejects an already used transaction and then checks the burn
// on the ledger
func (f *Flow) verifyFresh(ctx context.Context, wallet common.Address, txHash common.Hash) (*big.Int, error) {
	duplicate, err := f.eligibility.IsDuplicate(ctx, txHash)
	if err != nil {
		return nil, unavailable(err)
	}
	if duplicate {
		return nil, reject(KindDuplicateTx, allocation.ReasonDuplicate)
	}

	burn, err := f.verifier.VerifyBurn(ctx, txHash, wallet, f.settings.BurnAmount)
	if err != nil {
		return nil, unavailable(err)
	}
	if !burn.Valid {
		return nil, reject(KindVerification, burn.Reason)
	}
	return burn.BurnAmount, nil
}

// checkClaimCooldown rejects a wallet that redeemed inside the window since
// its pre-claim. A replay of the transaction that started the window is still
// reported as a duplicate.
func (f *Flow) checkClaimCooldown(ctx context.Context, wallet common.Address, txHash common.Hash) error {
	cooldown, err := f.eligibility.CheckCooldown(ctx, wallet)
	if err != nil {
		return unavailable(err)
	}
	if cooldown.Eligible {
		return nil
	}

	duplicate, err := f.eligibility.IsDuplicate(ctx, txHash)
	if err != nil {
		return unavailable(err)
	}
	if duplicate {
		return reject(KindDuplicateTx, allocation.ReasonDuplicate)
	}

	rej := reject(KindCooldown, eligibility.CooldownReason(*cooldown.NextEligible))
	rej.ResetAt = *cooldown.NextEligible
	return rej
}

// Eligibility reports every wallet-level check at once
func (f *Flow) Eligibility(ctx context.Context, wallet common.Address) (eligibility.Status, error) {
	status, err := f.eligibility.Status(ctx, wallet)
	if err != nil {
		return eligibility.Status{}, unavailable(err)
	}
	if reason := f.campaignWindowReason(); reason != "" {
		status.Eligible = false
		status.Reasons = append(status.Reasons, reason)
	}
	return status, nil
}

func (f *Flow) checkCampaignWindow() error {
	if reason := f.campaignWindowReason(); reason != "" {
		return reject(KindIneligible, reason)
	}
	return nil
}

func (f *Flow) campaignWindowReason() string {
	now := f.now()
	if !f.settings.CampaignStart.IsZero() && now.Before(f.settings.CampaignStart) {
		return ReasonNotStarted
	}
	if !f.settings.CampaignEnd.IsZero() && !now.Before(f.settings.CampaignEnd) {
		return ReasonEnded
	}
	return ""
}

// rejected counts and logs a failed request. Errors that are not rejections
// pass through untouched.
func (f *Flow) rejected(ctx context.Context, stage string, err error) error {
	log := logger.FromContext(ctx)
	rej, ok := AsReject(err)
	if !ok {
		metrics.RecordRejection(stage, "error")
		log.Error().Err(err).Str("stage", stage).Msg("redemption request failed")
		return fmt.Errorf("%s failed: %w", stage, err)
	}

	metrics.RecordRejection(stage, string(rej.Kind))
	event := log.Info()
	if rej.Kind == KindUnavailable {
		event = log.Warn().Err(errors.Unwrap(rej))
	}
	event.Str("stage", stage).Str("kind", string(rej.Kind)).Str("reason", rej.Reason).Msg("redemption request rejected")
	return rej
}

func withRequestLogger(ctx context.Context, wallet common.Address, txHash common.Hash) context.Context {
	l := logger.FromContext(ctx).With().
		Str("wallet", ledger.CanonicalAddress(wallet)).
		Str("tx_hash", ledger.CanonicalTxHash(txHash)).
		Logger()
	return logger.WithContext(ctx, &l)
}
