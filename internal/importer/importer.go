package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kkkkikiki/burnpromo/internal/codes"
	"github.com/kkkkikiki/burnpromo/internal/logger"
	"github.com/kkkkikiki/burnpromo/internal/model"
	"github.com/kkkkikiki/burnpromo/internal/repository"
)

// Store is what an import writes to
type Store interface {
	repository.CodeWriter
	repository.AuditWriter
}

// Sealer encrypts plaintext codes for storage
type Sealer interface {
	Seal(batchID, plaintext string) (string, error)
}

// Options describe one import batch
type Options struct {
	// BatchID defaults to a new UUID
	BatchID string
	// AdminID is recorded in the audit log
	AdminID string
	// DefaultCampaign applies to rows without a campaign
	DefaultCampaign string
}

// Summary reports what an import did. Warnings never contain plaintext codes.
type Summary struct {
	BatchID    string
	Imported   int
	Duplicates int
	Expired    int
	Warnings   []string
}

// Importer seals and stores parsed rows
type Importer struct {
	store  Store
	sealer Sealer
	now    func() time.Time
}

// New creates an importer
func New(store Store, sealer Sealer) *Importer {
	return &Importer{store: store, sealer: sealer, now: time.Now}
}

// WithClock replaces the time source
func (im *Importer) WithClock(now func() time.Time) *Importer {
	im.now = now
	return im
}

// Import stores rows as one batch. Codes already present (by hash) are
// counted as duplicates; rows already past expiry are stored as EXPIRED.
// Creation times step by a microsecond per row so allocation follows file
// order.
func (im *Importer) Import(ctx context.Context, rows []Row, opts Options) (Summary, error) {
	if opts.BatchID == "" {
		opts.BatchID = uuid.NewString()
	}
	summary := Summary{BatchID: opts.BatchID, Warnings: []string{}}
	now := im.now()

	for i, row := range rows {
		sealed, err := im.sealer.Seal(opts.BatchID, row.Code)
		if err != nil {
			return summary, fmt.Errorf("row %d: %w", row.Line, err)
		}

		status := model.StatusAvailable
		if row.ExpiresAt != nil && row.ExpiresAt.Before(now) {
			status = model.StatusExpired
		}

		maxUses := row.MaxUses
		if maxUses < 1 {
			maxUses = 1
		}

		code := &model.PromoCode{
			ID:            uuid.New(),
			CodeHash:      codes.Hash(row.Code),
			EncryptedCode: sealed,
			Status:        status,
			MaxUses:       maxUses,
			IsActive:      true,
			ExpiresAt:     row.ExpiresAt,
			BatchID:       opts.BatchID,
			CreatedAt:     now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt:     now,
		}
		if campaign := campaignFor(row, opts); campaign != "" {
			code.Campaign = &campaign
		}

		inserted, err := im.store.InsertCode(ctx, code)
		if err != nil {
			return summary, fmt.Errorf("row %d: %w", row.Line, err)
		}
		if !inserted {
			summary.Duplicates++
			continue
		}
		summary.Imported++
		if status == model.StatusExpired {
			summary.Expired++
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("Row %d: code is already expired", row.Line))
		}
	}

	metadata, err := json.Marshal(map[string]interface{}{
		"batchId":    opts.BatchID,
		"imported":   summary.Imported,
		"duplicates": summary.Duplicates,
		"expired":    summary.Expired,
		"campaign":   opts.DefaultCampaign,
	})
	if err != nil {
		return summary, fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	if err := im.store.AppendAudit(ctx, &model.AuditEntry{
		ID:        uuid.New(),
		Action:    model.AuditActionCSVUpload,
		UserID:    opts.AdminID,
		Metadata:  metadata,
		CreatedAt: now,
	}); err != nil {
		return summary, err
	}

	logger.FromContext(ctx).Info().
		Str("batch_id", summary.BatchID).
		Int("imported", summary.Imported).
		Int("duplicates", summary.Duplicates).
		Int("expired", summary.Expired).
		Msg("promo codes imported")

	return summary, nil
}

func campaignFor(row Row, opts Options) string {
	if row.Campaign != "" {
		return row.Campaign
	}
	return opts.DefaultCampaign
}
