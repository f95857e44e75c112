// Package allocation hands out promo codes. One allocation selects a code,
// consumes one of its uses, records the redemption and audit entry, and
// decrypts the code, all inside a single inventory transaction.
package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kkkkikiki/burnpromo/internal/logger"
	"github.com/kkkkikiki/burnpromo/internal/metrics"
	"github.com/kkkkikiki/burnpromo/internal/model"
	"github.com/kkkkikiki/burnpromo/internal/repository"
)

// Outcome classifies a finished allocation
type Outcome string

const (
	OutcomeAllocated Outcome = "allocated"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeMaxUses   Outcome = "max_uses"
)

const (
	// ReasonDuplicate is reported when the transaction already funded a redemption
	ReasonDuplicate = "Transaction already used."
	// ReasonMaxUses is reported for a selected code with no uses left
	ReasonMaxUses = "Code has reached maximum uses"

	defaultMaxAttempts = 3
	defaultBackoff     = 20 * time.Millisecond
	defaultMaxSkipped  = 10
)

// errUnsealable marks an attempt that deactivated a code it could not decrypt
var errUnsealable = errors.New("promo code could not be decrypted")

// Opener decrypts a sealed promo code
type Opener interface {
	Open(batchID, sealed string) (string, error)
}

// Request is one verified claim. Wallet and TxHash must be canonical.
type Request struct {
	Wallet     string
	TxHash     string
	BurnAmount string
	Campaign   string
}

// Result is the outcome of Allocate. Code is set only for OutcomeAllocated.
type Result struct {
	Outcome    Outcome
	Code       string
	Reason     string
	Redemption *model.Redemption
	ExpiresAt  *time.Time
}

// Success reports whether a code was handed out
func (r Result) Success() bool {
	return r.Outcome == OutcomeAllocated
}

// Engine allocates codes from an inventory store
type Engine struct {
	store       repository.Transactor
	opener      Opener
	maxAttempts int
	maxSkipped  int
	backoff     time.Duration
	now         func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithRetry sets the attempt budget for transaction conflicts
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(e *Engine) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
		}
		e.backoff = backoff
	}
}

// WithSkipLimit caps how many undecryptable codes one allocation deactivates
// before giving up
func WithSkipLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSkipped = n
		}
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an allocation engine
func NewEngine(store repository.Transactor, opener Opener, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		opener:      opener,
		maxAttempts: defaultMaxAttempts,
		maxSkipped:  defaultMaxSkipped,
		backoff:     defaultBackoff,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Allocate consumes one use of an available code for req. The error is
// reserved for infrastructure failures; every business outcome is a Result.
// Transaction conflicts are retried and reported as exhaustion when the
// attempt budget runs out. A code that cannot be decrypted is deactivated
// and the next candidate is tried.
func (e *Engine) Allocate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	label := "error"
	defer func() {
		metrics.RecordAllocationDuration(label, time.Since(start).Seconds())
	}()

	log := logger.FromContext(ctx).With().
		Str("wallet", req.Wallet).
		Str("tx_hash", req.TxHash).
		Str("campaign", req.Campaign).
		Logger()

	skipped := 0
	for attempt := 1; ; {
		result, err := e.attempt(ctx, req)
		switch {
		case err == nil:
			label = string(result.Outcome)
			if result.Success() {
				metrics.RecordAllocation(req.Campaign)
				log.Info().
					Str("promo_code_id", result.Redemption.PromoCodeID.String()).
					Str("redemption_id", result.Redemption.ID.String()).
					Msg("promo code allocated")
			} else {
				log.Info().Str("outcome", label).Msg("allocation declined")
			}
			return result, nil

		case errors.Is(err, repository.ErrDuplicateTxHash):
			label = string(OutcomeDuplicate)
			log.Warn().Msg("transaction already redeemed")
			return Result{Outcome: OutcomeDuplicate, Reason: ReasonDuplicate}, nil

		case errors.Is(err, errUnsealable):
			skipped++
			metrics.UnsealableCodes.Inc()
			log.Error().Err(err).Int("skipped", skipped).Msg("promo code deactivated")
			if skipped >= e.maxSkipped {
				return Result{}, fmt.Errorf("gave up after %d undecryptable codes: %w", skipped, err)
			}

		case errors.Is(err, repository.ErrConflict):
			metrics.AllocationRetries.Inc()
			if attempt >= e.maxAttempts {
				label = string(OutcomeExhausted)
				log.Warn().Int("attempts", attempt).Msg("allocation kept conflicting, reporting exhaustion")
				return exhausted(req.Campaign), nil
			}
			log.Debug().Err(err).Int("attempt", attempt).Msg("allocation conflict, retrying")
			if err := e.wait(ctx, attempt); err != nil {
				return Result{}, err
			}
			attempt++

		default:
			log.Error().Err(err).Msg("allocation failed")
			return Result{}, err
		}
	}
}

func (e *Engine) attempt(ctx context.Context, req Request) (Result, error) {
	var result Result
	var openErr error
	err := e.store.InTx(ctx, func(tx repository.InventoryTx) error {
		now := e.now()

		code, err := tx.SelectAvailableCode(ctx, req.Campaign, now)
		if errors.Is(err, repository.ErrNoAvailableCode) {
			result = exhausted(req.Campaign)
			return nil
		}
		if err != nil {
			return err
		}

		// Unreachable while the store keeps used_count < max_uses for AVAILABLE rows
		if code.UsedCount >= code.MaxUses {
			result = Result{Outcome: OutcomeMaxUses, Reason: ReasonMaxUses}
			return nil
		}

		plaintext, err := e.opener.Open(code.BatchID, code.EncryptedCode)
		if err != nil {
			openErr = fmt.Errorf("%w: %s: %w", errUnsealable, code.ID, err)
			return e.deactivate(ctx, tx, code, err, now)
		}

		used := code.UsedCount + 1
		status := model.StatusAvailable
		if used >= code.MaxUses {
			status = model.StatusRedeemed
		}
		if err := tx.UpdateCodeUsage(ctx, code.ID, code.UsedCount, used, status, now); err != nil {
			return err
		}

		redemption := &model.Redemption{
			ID:            uuid.New(),
			WalletAddress: req.Wallet,
			TxHash:        req.TxHash,
			BurnAmount:    req.BurnAmount,
			PromoCodeID:   code.ID,
			CreatedAt:     now,
		}
		if err := tx.InsertRedemption(ctx, redemption); err != nil {
			return err
		}

		metadata, err := json.Marshal(map[string]interface{}{
			"txHash":      req.TxHash,
			"promoCodeId": code.ID,
			"campaign":    code.Campaign,
			"usedCount":   used,
			"maxUses":     code.MaxUses,
		})
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		if err := tx.AppendAudit(ctx, &model.AuditEntry{
			ID:        uuid.New(),
			Action:    model.AuditActionRedemption,
			UserID:    req.Wallet,
			Metadata:  metadata,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		result = Result{
			Outcome:    OutcomeAllocated,
			Code:       plaintext,
			Redemption: redemption,
			ExpiresAt:  code.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if openErr != nil {
		return Result{}, openErr
	}
	return result, nil
}

// deactivate takes an undecryptable code out of selection and records why
func (e *Engine) deactivate(ctx context.Context, tx repository.InventoryTx, code *model.PromoCode, cause error, now time.Time) error {
	if err := tx.DeactivateCode(ctx, code.ID, now); err != nil {
		return err
	}
	metadata, err := json.Marshal(map[string]interface{}{
		"promoCodeId": code.ID,
		"batchId":     code.BatchID,
		"error":       cause.Error(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	return tx.AppendAudit(ctx, &model.AuditEntry{
		ID:        uuid.New(),
		Action:    model.AuditActionSealOpenFail,
		UserID:    "system",
		Metadata:  metadata,
		CreatedAt: now,
	})
}

func (e *Engine) wait(ctx context.Context, attempt int) error {
	if e.backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(attempt) * e.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func exhausted(campaign string) Result {
	reason := "No promo codes available"
	if campaign != "" {
		reason = fmt.Sprintf("No promo codes available for campaign %q", campaign)
	}
	return Result{Outcome: OutcomeExhausted, Reason: reason}
}
