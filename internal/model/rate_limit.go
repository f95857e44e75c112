package model

import "time"

// RateLimitEntry is a fixed-window request counter for one identifier
type RateLimitEntry struct {
	Identifier  string    `db:"identifier" json:"identifier"`
	Type        string    `db:"type" json:"type"` // 'ip' or 'wallet'
	Count       int       `db:"count" json:"count"`
	WindowStart time.Time `db:"window_start" json:"window_start"`
	ExpiresAt   time.Time `db:"expires_at" json:"expires_at"`
}
