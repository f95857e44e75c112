package redeem

import (
	"errors"
	"time"
)

// Kind classifies a rejected request
type Kind string

const (
	KindCaptcha           Kind = "captcha"
	KindRateLimitedIP     Kind = "rate_limited_ip"
	KindRateLimitedWallet Kind = "rate_limited_wallet"
	KindCooldown          Kind = "cooldown"
	KindIneligible        Kind = "ineligible"
	KindDuplicateTx       Kind = "duplicate_tx"
	KindVerification      Kind = "verification"
	KindExhausted         Kind = "exhausted"
	KindUnavailable       Kind = "unavailable"
)

const (
	ReasonIPRateLimited     = "Rate limit exceeded. Please try again later."
	ReasonWalletRateLimited = "Wallet rate limit exceeded."
	ReasonUnavailable       = "Service temporarily unavailable. Please try again later."
	ReasonNotStarted        = "Campaign has not started yet"
	ReasonEnded             = "Campaign has ended"
)

// RejectError is a client-visible rejection. Reason is safe to show to the
// caller; Err, when set, is the infrastructure failure behind an
// unavailable rejection and is only logged.
type RejectError struct {
	Kind    Kind
	Reason  string
	ResetAt time.Time
	Err     error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Reason + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Reason
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

// AsReject returns the rejection wrapped in err, if any
func AsReject(err error) (*RejectError, bool) {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func reject(kind Kind, reason string) *RejectError {
	return &RejectError{Kind: kind, Reason: reason}
}

func unavailable(err error) *RejectError {
	return &RejectError{Kind: KindUnavailable, Reason: ReasonUnavailable, Err: err}
}
