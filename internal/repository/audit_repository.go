package repository

import (
	"context"
	"fmt"

	"github.com/kkkkikiki/burnpromo/internal/model"
)

// AuditRepository appends audit log entries. The table rejects updates and
// deletes, so there is nothing else to do here.
type AuditRepository struct{}

// NewAuditRepository creates a new audit repository
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

// Append inserts one entry
func (r *AuditRepository) Append(ctx context.Context, db DBExecutor, entry *model.AuditEntry) error {
	query := `
		INSERT INTO audit_logs (id, action, user_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	metadata := entry.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	if _, err := db.ExecContext(ctx, query, entry.ID, entry.Action, entry.UserID, metadata, entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}
