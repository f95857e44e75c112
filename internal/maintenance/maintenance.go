// Package maintenance holds the operator actions on the inventory. Every
// action that changes rows leaves an audit entry.
package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kkkkikiki/burnpromo/internal/logger"
	"github.com/kkkkikiki/burnpromo/internal/model"
	"github.com/kkkkikiki/burnpromo/internal/repository"
)

// Store is what maintenance needs from the inventory
type Store interface {
	repository.Maintainer
	repository.AuditWriter
}

// ExpireCodes marks AVAILABLE codes past their expiry as EXPIRED
func ExpireCodes(ctx context.Context, store Store, actor string, now time.Time) (int64, error) {
	n, err := store.ExpireCodes(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire codes: %w", err)
	}
	if err := audit(ctx, store, model.AuditActionExpireCodes, actor, now, map[string]interface{}{
		"expired": n,
	}); err != nil {
		return n, err
	}
	logger.FromContext(ctx).Info().Int64("expired", n).Str("actor", actor).Msg("expired promo codes")
	return n, nil
}

// ResolveLegacy moves every ALLOCATED row out of the legacy status under
// the given policy
func ResolveLegacy(ctx context.Context, store Store, policy repository.LegacyPolicy, actor string, now time.Time) (int64, error) {
	switch policy {
	case repository.LegacyAsRedeemed, repository.LegacyAsAvailable:
	default:
		return 0, fmt.Errorf("unknown legacy policy %q (want %q or %q)", policy, repository.LegacyAsRedeemed, repository.LegacyAsAvailable)
	}

	n, err := store.ResolveLegacyAllocated(ctx, policy, now)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve legacy rows: %w", err)
	}
	if err := audit(ctx, store, model.AuditActionLegacyResolve, actor, now, map[string]interface{}{
		"policy":   policy,
		"resolved": n,
	}); err != nil {
		return n, err
	}
	logger.FromContext(ctx).Info().Int64("resolved", n).Str("policy", string(policy)).Msg("resolved legacy ALLOCATED codes")
	return n, nil
}

func audit(ctx context.Context, store repository.AuditWriter, action, actor string, now time.Time, metadata map[string]interface{}) error {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	return store.AppendAudit(ctx, &model.AuditEntry{
		ID:        uuid.New(),
		Action:    action,
		UserID:    actor,
		Metadata:  encoded,
		CreatedAt: now,
	})
}
