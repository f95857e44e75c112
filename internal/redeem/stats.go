package redeem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/burnpromo/internal/ledger"
	"github.com/kkkkikiki/burnpromo/internal/model"
	"github.com/kkkkikiki/burnpromo/internal/repository"
)

// RedemptionStatus describes a wallet's latest redemption
type RedemptionStatus struct {
	HasRedeemed bool
	TxHash      string
	// BurnAmount is in whole tokens, BurnAmountRaw in the smallest unit
	BurnAmount    string
	BurnAmountRaw string
	CreatedAt     time.Time
	ExpiresAt     *time.Time
}

// Status returns the latest redemption of wallet, if any
func (f *Flow) Status(ctx context.Context, wallet common.Address) (RedemptionStatus, error) {
	r, err := f.inventory.LatestRedemption(ctx, ledger.CanonicalAddress(wallet))
	if errors.Is(err, repository.ErrNotFound) {
		return RedemptionStatus{}, nil
	}
	if err != nil {
		return RedemptionStatus{}, fmt.Errorf("failed to read redemption: %w", err)
	}

	status := RedemptionStatus{
		HasRedeemed:   true,
		TxHash:        r.TxHash,
		BurnAmount:    FormatAmount(r.BurnAmount, f.settings.TokenDecimals),
		BurnAmountRaw: r.BurnAmount,
		CreatedAt:     r.CreatedAt,
	}

	code, err := f.inventory.GetCode(ctx, r.PromoCodeID)
	switch {
	case err == nil:
		status.ExpiresAt = code.ExpiresAt
	case !errors.Is(err, repository.ErrNotFound):
		return RedemptionStatus{}, fmt.Errorf("failed to read promo code: %w", err)
	}
	return status, nil
}

// CampaignStats is the inventory summary shown on the landing page and the
// admin dashboard
type CampaignStats struct {
	Total     int64
	Available int64
	Allocated int64 // legacy rows awaiting migrate-legacy
	Exhausted int64 // codes with every use consumed
	Expired   int64
	Redeemed  int64 // redemption rows
	// BurnAmount is the required burn in whole tokens
	BurnAmount    string
	DaysLeft      *int64
	CampaignStart *time.Time
	CampaignEnd   *time.Time
}

// CampaignStats summarises the inventory
func (f *Flow) CampaignStats(ctx context.Context) (CampaignStats, error) {
	counts, err := f.inventory.CountCodesByStatus(ctx)
	if err != nil {
		return CampaignStats{}, err
	}
	redeemed, err := f.inventory.CountRedemptions(ctx)
	if err != nil {
		return CampaignStats{}, err
	}

	stats := CampaignStats{
		Available:  counts[model.StatusAvailable],
		Allocated:  counts[model.StatusAllocated],
		Exhausted:  counts[model.StatusRedeemed],
		Expired:    counts[model.StatusExpired],
		Redeemed:   redeemed,
		BurnAmount: FormatAmount(f.settings.BurnAmount.String(), f.settings.TokenDecimals),
	}
	for _, n := range counts {
		stats.Total += n
	}

	if start := f.settings.CampaignStart; !start.IsZero() {
		stats.CampaignStart = &start
	}
	if end := f.settings.CampaignEnd; !end.IsZero() {
		stats.CampaignEnd = &end
		days := DaysLeft(end, f.now())
		stats.DaysLeft = &days
	}
	return stats, nil
}

// DaysLeft counts started days until end, never below zero
func DaysLeft(end, now time.Time) int64 {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int64(math.Ceil(remaining.Hours() / 24))
}

// FormatAmount renders a base-10 smallest-unit amount in whole tokens.
// Unparsable input is returned unchanged.
func FormatAmount(raw string, decimals int32) string {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}
