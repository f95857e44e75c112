package service

import (
	"errors"
	"time"

	"connectrpc.com/connect"

	"github.com/kkkkikiki/burnpromo/internal/redeem"
)

const (
	// HeaderRejectionReason carries the rejection kind on every rejected call
	HeaderRejectionReason = "x-rejection-reason"
	// HeaderRateLimitReset carries the RFC 3339 time a limit or cooldown lifts
	HeaderRateLimitReset = "x-ratelimit-reset"
)

var errUnauthorized = errors.New("unauthorized")

// toConnectError maps a flow error onto a connect error. Errors that are not
// rejections are reported without detail.
func toConnectError(err error, failure string) error {
	rej, ok := redeem.AsReject(err)
	if !ok {
		return connect.NewError(connect.CodeInternal, errors.New(failure))
	}

	cerr := connect.NewError(rejectionCode(rej.Kind), errors.New(rej.Reason))
	cerr.Meta().Set(HeaderRejectionReason, string(rej.Kind))
	if !rej.ResetAt.IsZero() {
		cerr.Meta().Set(HeaderRateLimitReset, rej.ResetAt.UTC().Format(time.RFC3339))
	}
	return cerr
}

func rejectionCode(kind redeem.Kind) connect.Code {
	switch kind {
	case redeem.KindVerification:
		return connect.CodeInvalidArgument
	case redeem.KindDuplicateTx:
		return connect.CodeAlreadyExists
	case redeem.KindCaptcha, redeem.KindCooldown, redeem.KindIneligible:
		return connect.CodeFailedPrecondition
	case redeem.KindRateLimitedIP, redeem.KindRateLimitedWallet, redeem.KindExhausted:
		return connect.CodeResourceExhausted
	case redeem.KindUnavailable:
		return connect.CodeUnavailable
	default:
		return connect.CodeInternal
	}
}
