// Package ratelimit implements fixed-window request counters per IP and per
// wallet.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/kkkkikiki/burnpromo/internal/metrics"
	"github.com/kkkkikiki/burnpromo/internal/model"
)

// Scope is the kind of identifier being counted
type Scope string

const (
	ScopeIP     Scope = "ip"
	ScopeWallet Scope = "wallet"
)

// Rule is a fixed-window limit: at most Limit hits per Window
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one check
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store performs one atomic check-and-increment
type Store interface {
	Hit(ctx context.Context, scope Scope, identifier string, rule Rule, now time.Time) (Decision, error)
}

// Sweeper deletes expired counters
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// Limiter applies per-scope rules on top of a Store
type Limiter struct {
	store Store
	rules map[Scope]Rule
	now   func() time.Time
}

// NewLimiter creates a limiter with rules for the IP and wallet scopes
func NewLimiter(store Store, ip, wallet Rule) *Limiter {
	return &Limiter{
		store: store,
		rules: map[Scope]Rule{ScopeIP: ip, ScopeWallet: wallet},
		now:   time.Now,
	}
}

// WithClock replaces the time source
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check counts one request from identifier in scope
func (l *Limiter) Check(ctx context.Context, identifier string, scope Scope) (Decision, error) {
	rule, ok := l.rules[scope]
	if !ok {
		return Decision{}, fmt.Errorf("no rate limit rule for scope %q", scope)
	}
	decision, err := l.store.Hit(ctx, scope, identifier, rule, l.now())
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	metrics.RecordRateLimit(string(scope), decision.Allowed)
	return decision, nil
}

// CheckIP counts one request from a client IP
func (l *Limiter) CheckIP(ctx context.Context, ip string) (Decision, error) {
	return l.Check(ctx, ip, ScopeIP)
}

// CheckWallet counts one request from a wallet
func (l *Limiter) CheckWallet(ctx context.Context, wallet string) (Decision, error) {
	return l.Check(ctx, wallet, ScopeWallet)
}

// advance applies one hit to entry. entry is nil when no counter exists.
// It returns the counter to persist and whether it changed.
func advance(entry *model.RateLimitEntry, scope Scope, identifier string, rule Rule, now time.Time) (model.RateLimitEntry, Decision, bool) {
	if entry == nil || !now.Before(entry.WindowStart.Add(rule.Window)) {
		fresh := model.RateLimitEntry{
			Identifier:  identifier,
			Type:        string(scope),
			Count:       1,
			WindowStart: now,
			ExpiresAt:   now.Add(rule.Window),
		}
		return fresh, Decision{Allowed: true, Remaining: rule.Limit - 1, ResetAt: fresh.ExpiresAt}, true
	}

	if entry.Count >= rule.Limit {
		return *entry, Decision{Allowed: false, Remaining: 0, ResetAt: entry.ExpiresAt}, false
	}

	next := *entry
	next.Count++
	return next, Decision{Allowed: true, Remaining: rule.Limit - next.Count, ResetAt: next.ExpiresAt}, true
}
