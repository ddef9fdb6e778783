// Package kernelerr defines the sentinel error taxonomy shared by every
// kernel component, plus the Kind values that the executor's Result
// carries to report which of them caused a failure.
package kernelerr

import "errors"

// Sentinel errors matched with errors.Is throughout the kernel.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientQuota  = errors.New("insufficient quota")
	ErrRateLimited        = errors.New("rate limited")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInUse              = errors.New("in use")
	ErrTimeout             = errors.New("timeout")
	ErrInvocationTooDeep   = errors.New("invocation depth exceeded")
	ErrRuntime             = errors.New("runtime error")
	ErrAuctionClosed       = errors.New("auction closed")
	ErrAuctionNotBidding   = errors.New("auction not accepting bids")
	ErrBudgetExhausted     = errors.New("budget exhausted")
)

// Kind classifies a Result's failure for machine-readable reporting; it
// mirrors the sentinel errors above as stable string tags so event-log
// consumers don't need to parse Go error text.
type Kind string

const (
	KindNone               Kind = ""
	KindNotFound           Kind = "not_found"
	KindAlreadyExists      Kind = "already_exists"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindInsufficientQuota  Kind = "insufficient_quota"
	KindRateLimited        Kind = "rate_limited"
	KindPermissionDenied   Kind = "permission_denied"
	KindInvalidArgument    Kind = "invalid_argument"
	KindInUse              Kind = "in_use"
	KindTimeout            Kind = "timeout"
	KindInvocationTooDeep  Kind = "invocation_too_deep"
	KindRuntime            Kind = "runtime_error"
	KindAuctionClosed      Kind = "auction_closed"
	KindAuctionNotBidding  Kind = "auction_not_bidding"
	KindBudgetExhausted    Kind = "budget_exhausted"
)

var kindByError = map[error]Kind{
	ErrNotFound:         KindNotFound,
	ErrAlreadyExists:    KindAlreadyExists,
	ErrInsufficientFunds: KindInsufficientFunds,
	ErrInsufficientQuota: KindInsufficientQuota,
	ErrRateLimited:      KindRateLimited,
	ErrPermissionDenied: KindPermissionDenied,
	ErrInvalidArgument:  KindInvalidArgument,
	ErrInUse:            KindInUse,
	ErrTimeout:          KindTimeout,
	ErrInvocationTooDeep: KindInvocationTooDeep,
	ErrRuntime:          KindRuntime,
	ErrAuctionClosed:     KindAuctionClosed,
	ErrAuctionNotBidding: KindAuctionNotBidding,
	ErrBudgetExhausted:   KindBudgetExhausted,
}

// KindOf classifies err against the sentinel table, falling back to
// KindRuntime for anything unrecognized so callers always get a non-empty
// kind for a non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for sentinel, kind := range kindByError {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindRuntime
}

var errByKind = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindAlreadyExists:     ErrAlreadyExists,
	KindInsufficientFunds: ErrInsufficientFunds,
	KindInsufficientQuota: ErrInsufficientQuota,
	KindRateLimited:       ErrRateLimited,
	KindPermissionDenied:  ErrPermissionDenied,
	KindInvalidArgument:   ErrInvalidArgument,
	KindInUse:             ErrInUse,
	KindTimeout:           ErrTimeout,
	KindInvocationTooDeep: ErrInvocationTooDeep,
	KindRuntime:           ErrRuntime,
	KindAuctionClosed:     ErrAuctionClosed,
	KindAuctionNotBidding: ErrAuctionNotBidding,
	KindBudgetExhausted:   ErrBudgetExhausted,
}

// ErrOf returns the sentinel error for a Kind, for reconstructing an error
// value from a Result that crossed a serialization boundary (e.g. a
// nested sandbox invocation).
func ErrOf(kind Kind) error {
	if err, ok := errByKind[kind]; ok {
		return err
	}
	return ErrRuntime
}
