package errs

import (
	"context"
	"errors"
)

// Action tells a caller what to do after a failed step.
type Action int

const (
	// Abort means the request cannot succeed without operator intervention.
	Abort Action = iota
	// RetryNow means the same request may be retried immediately.
	RetryNow
	// RetryLater means the request may succeed once time has passed.
	RetryLater
	// Refetch means the caller must reload state before building a new request.
	Refetch
)

func (a Action) String() string {
	switch a {
	case RetryNow:
		return "retry-now"
	case RetryLater:
		return "retry-later"
	case Refetch:
		return "refetch"
	default:
		return "abort"
	}
}

// ActionFor classifies err. A nil error maps to Abort since there is nothing
// to retry.
func ActionFor(err error) Action {
	if err == nil {
		return Abort
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Abort
	}
	switch KindOf(err) {
	case ErrConflict:
		return RetryNow
	case ErrTiming:
		return RetryLater
	case ErrCursor, ErrExternalData:
		return Refetch
	default:
		return Abort
	}
}

// Name returns a short label for err suitable for metrics.
func Name(err error) string {
	if err == nil {
		return "ok"
	}
	switch KindOf(err) {
	case ErrValidation:
		return "validation"
	case ErrTiming:
		return "timing"
	case ErrCursor:
		return "cursor"
	case ErrOverflow:
		return "overflow"
	case ErrExternalData:
		return "external_data"
	case ErrNonQuoteFee:
		return "non_quote_fee"
	case ErrConflict:
		return "conflict"
	case ErrNotFound:
		return "not_found"
	case ErrStorage:
		return "storage"
	default:
		return "unknown"
	}
}
