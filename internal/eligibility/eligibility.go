// Package eligibility decides whether a wallet may redeem right now.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kkkkikiki/burnpromo/internal/ledger"
	"github.com/kkkkikiki/burnpromo/internal/repository"
)

// BalanceReader reads a live token balance
type BalanceReader interface {
	Balance(ctx context.Context, owner common.Address) (*big.Int, error)
}

// Status is the wallet-level verdict. Eligible is true iff Reasons is empty.
type Status struct {
	Eligible       bool
	Reasons        []string
	Balance        *big.Int
	LastRedemption *time.Time
	NextEligible   *time.Time
}

// BalanceCheck is the outcome of the minimum balance check
type BalanceCheck struct {
	Eligible bool
	Balance  *big.Int
	Required *big.Int
}

// CooldownCheck is the outcome of the redemption window check
type CooldownCheck struct {
	Eligible       bool
	LastRedemption *time.Time
	NextEligible   *time.Time
}

// Evaluator runs balance, cooldown and duplicate checks
type Evaluator struct {
	balances    BalanceReader
	redemptions repository.RedemptionReader
	minBalance  *big.Int
	cooldown    time.Duration
	now         func() time.Time
}

// NewEvaluator creates an evaluator
func NewEvaluator(balances BalanceReader, redemptions repository.RedemptionReader, minBalance *big.Int, cooldown time.Duration) *Evaluator {
	return &Evaluator{
		balances:    balances,
		redemptions: redemptions,
		minBalance:  minBalance,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// WithClock replaces the time source
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Status runs every wallet-level check and reports all failures together
func (e *Evaluator) Status(ctx context.Context, wallet common.Address) (Status, error) {
	balance, err := e.CheckBalance(ctx, wallet)
	if err != nil {
		return Status{}, err
	}
	cooldown, err := e.CheckCooldown(ctx, wallet)
	if err != nil {
		return Status{}, err
	}

	reasons := []string{}
	if !balance.Eligible {
		reasons = append(reasons, fmt.Sprintf("Insufficient balance: %s (required: %s)", balance.Balance, balance.Required))
	}
	if !cooldown.Eligible {
		reasons = append(reasons, CooldownReason(*cooldown.NextEligible))
	}

	return Status{
		Eligible:       len(reasons) == 0,
		Reasons:        reasons,
		Balance:        balance.Balance,
		LastRedemption: cooldown.LastRedemption,
		NextEligible:   cooldown.NextEligible,
	}, nil
}

// CheckBalance compares the live balance with the configured minimum
func (e *Evaluator) CheckBalance(ctx context.Context, wallet common.Address) (BalanceCheck, error) {
	balance, err := e.balances.Balance(ctx, wallet)
	if err != nil {
		return BalanceCheck{}, fmt.Errorf("failed to read balance: %w", err)
	}
	return BalanceCheck{
		Eligible: balance.Cmp(e.minBalance) >= 0,
		Balance:  balance,
		Required: e.minBalance,
	}, nil
}

// CheckCooldown reports whether the wallet's last redemption is at least one
// cooldown window old. NextEligible is set whenever a redemption exists.
func (e *Evaluator) CheckCooldown(ctx context.Context, wallet common.Address) (CooldownCheck, error) {
	last, err := e.redemptions.LatestRedemption(ctx, ledger.CanonicalAddress(wallet))
	if errors.Is(err, repository.ErrNotFound) {
		return CooldownCheck{Eligible: true}, nil
	}
	if err != nil {
		return CooldownCheck{}, fmt.Errorf("failed to read last redemption: %w", err)
	}

	lastAt := last.CreatedAt
	next := lastAt.Add(e.cooldown)
	return CooldownCheck{
		Eligible:       !e.now().Before(next),
		LastRedemption: &lastAt,
		NextEligible:   &next,
	}, nil
}

// IsDuplicate reports whether txHash already funded a redemption
func (e *Evaluator) IsDuplicate(ctx context.Context, txHash common.Hash) (bool, error) {
	_, err := e.redemptions.RedemptionByTxHash(ctx, ledger.CanonicalTxHash(txHash))
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up transaction: %w", err)
	}
	return true, nil
}

// CooldownReason formats the cooldown rejection
func CooldownReason(next time.Time) string {
	return "Redemption cooldown active until " + next.UTC().Format(time.RFC3339)
}
