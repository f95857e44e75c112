package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kkkkikiki/burnpromo/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrNoAvailableCode is returned when nothing matches the selection predicate
	ErrNoAvailableCode = errors.New("no available promo codes")
	// ErrDuplicateTxHash is returned when a redemption for the tx hash already exists
	ErrDuplicateTxHash = errors.New("transaction hash already redeemed")
	// ErrConflict marks a lost race inside a transaction; the caller may retry
	ErrConflict = errors.New("concurrent update conflict")
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// InventoryTx is the write surface of one allocation transaction
type InventoryTx interface {
	// SelectAvailableCode locks and returns the oldest selectable code.
	SelectAvailableCode(ctx context.Context, campaign string, now time.Time) (*model.PromoCode, error)
	// UpdateCodeUsage moves used_count from prevUsed to used. It fails with
	// ErrConflict when the row no longer has prevUsed.
	UpdateCodeUsage(ctx context.Context, id uuid.UUID, prevUsed, used int, status model.CodeStatus, now time.Time) error
	InsertRedemption(ctx context.Context, r *model.Redemption) error
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
	// DeactivateCode takes a code out of selection.
	DeactivateCode(ctx context.Context, id uuid.UUID, now time.Time) error
}

// Transactor runs fn inside one transaction. fn returning an error rolls
// everything back.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx InventoryTx) error) error
}

// RedemptionReader looks up redemptions for eligibility checks
type RedemptionReader interface {
	LatestRedemption(ctx context.Context, wallet string) (*model.Redemption, error)
	RedemptionByTxHash(ctx context.Context, txHash string) (*model.Redemption, error)
}

// CodeWriter stores imported codes
type CodeWriter interface {
	// InsertCode returns false when a code with the same hash exists.
	InsertCode(ctx context.Context, code *model.PromoCode) (bool, error)
}

// AuditWriter appends audit entries outside an allocation
type AuditWriter interface {
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
}

// Reporter serves read-only campaign and admin views
type Reporter interface {
	GetCode(ctx context.Context, id uuid.UUID) (*model.PromoCode, error)
	CountCodesByStatus(ctx context.Context) (map[model.CodeStatus]int64, error)
	CountRedemptions(ctx context.Context) (int64, error)
	ListRedemptions(ctx context.Context, offset, limit int) ([]model.Redemption, error)
	// ListCodes pages through codes newest first.
	ListCodes(ctx context.Context, offset, limit int) ([]model.CodeReport, error)
	// SearchRedemption matches a wallet address or a tx hash exactly.
	SearchRedemption(ctx context.Context, query string) (*model.Redemption, error)
}

// LegacyPolicy says how rows left in the legacy ALLOCATED status are resolved
type LegacyPolicy string

const (
	// LegacyAsRedeemed treats legacy rows as fully consumed.
	LegacyAsRedeemed LegacyPolicy = "redeemed"
	// LegacyAsAvailable treats legacy rows as still holding their unused slots.
	LegacyAsAvailable LegacyPolicy = "available"
)

// Maintainer runs operator maintenance on the inventory
type Maintainer interface {
	ExpireCodes(ctx context.Context, now time.Time) (int64, error)
	ResolveLegacyAllocated(ctx context.Context, policy LegacyPolicy, now time.Time) (int64, error)
}

// Store is the full inventory store
type Store interface {
	Transactor
	RedemptionReader
	CodeWriter
	AuditWriter
	Reporter
	Maintainer
}
