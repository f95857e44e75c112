package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// CodeStatus is the lifecycle state of a promo code
type CodeStatus string

const (
	StatusAvailable CodeStatus = "AVAILABLE"
	// StatusAllocated is only found in data imported from the single-use design.
	// Allocation never produces it; see promoctl migrate-legacy.
	StatusAllocated CodeStatus = "ALLOCATED"
	StatusRedeemed  CodeStatus = "REDEEMED"
	StatusExpired   CodeStatus = "EXPIRED"
)

// PromoCode represents one code in the inventory
type PromoCode struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	CodeHash      string     `db:"code_hash" json:"code_hash"`
	EncryptedCode string     `db:"encrypted_code" json:"-"`
	Status        CodeStatus `db:"status" json:"status"`
	MaxUses       int        `db:"max_uses" json:"max_uses"`
	UsedCount     int        `db:"used_count" json:"used_count"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	Campaign      *string    `db:"campaign" json:"campaign,omitempty"`
	BatchID       string     `db:"batch_id" json:"batch_id"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// CodeReport is a promo code joined with its first redemption. It never
// carries the sealed code.
type CodeReport struct {
	PromoCode
	RedeemedBy *string    `db:"redeemed_by" json:"redeemed_by,omitempty"`
	RedeemedAt *time.Time `db:"redeemed_at" json:"redeemed_at,omitempty"`
}

// Selectable reports whether the code may be handed out at now.
func (c *PromoCode) Selectable(now time.Time) bool {
	if c.Status != StatusAvailable || !c.IsActive {
		return false
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return false
	}
	return c.UsedCount < c.MaxUses
}

// InCampaign reports whether the code matches a campaign filter. An empty
// filter matches every code.
func (c *PromoCode) InCampaign(campaign string) bool {
	if campaign == "" {
		return true
	}
	return c.Campaign != nil && *c.Campaign == campaign
}

// CampaignName returns the campaign tag or an empty string
func (c *PromoCode) CampaignName() string {
	if c.Campaign == nil {
		return ""
	}
	return *c.Campaign
}

// Redemption binds one burn transaction to one use of a promo code
type Redemption struct {
	ID            uuid.UUID `db:"id" json:"id"`
	WalletAddress string    `db:"wallet_address" json:"wallet_address"`
	TxHash        string    `db:"tx_hash" json:"tx_hash"`
	BurnAmount    string    `db:"burn_amount" json:"burn_amount"` // base-10, smallest token unit
	PromoCodeID   uuid.UUID `db:"promo_code_id" json:"promo_code_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// AuditEntry is a write-once record of an administrative or redemption action
type AuditEntry struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	Action    string         `db:"action" json:"action"`
	UserID    string         `db:"user_id" json:"user_id"`
	Metadata  types.JSONText `db:"metadata" json:"metadata"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

const (
	AuditActionRedemption    = "redemption"
	AuditActionCSVUpload     = "csv_upload"
	AuditActionExpireCodes   = "expire_codes"
	AuditActionLegacyResolve = "legacy_allocated_resolve"
	AuditActionSealOpenFail  = "seal_open_failed"
)
