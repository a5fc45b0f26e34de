// Package errs defines the coded error kinds shared by every fee router
// package. Each package declares its own sentinel errors on top of a kind so
// callers can branch on the kind alone.
package errs

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrValidation is returned for malformed caller input or policy parameters.
	ErrValidation = Register(1, "validation error")

	// ErrTiming is returned when an epoch cannot start yet.
	ErrTiming = Register(2, "timing error")

	// ErrCursor is returned when a caller's cursor is ahead of the stored cursor.
	ErrCursor = Register(3, "cursor error")

	// ErrOverflow is returned when checked arithmetic exceeds its type.
	ErrOverflow = Register(4, "arithmetic overflow")

	// ErrExternalData is returned when a collaborator supplies missing or
	// inconsistent data.
	ErrExternalData = Register(5, "external data error")

	// ErrNonQuoteFee is returned when a fee claim yields anything besides the
	// quote currency.
	ErrNonQuoteFee = Register(6, "non-quote fee")

	// ErrConflict is returned when a concurrent writer won the compare-and-swap.
	ErrConflict = Register(7, "conflict")

	// ErrNotFound is returned for unknown streams.
	ErrNotFound = Register(8, "not found")

	// ErrStorage is returned when the persistence layer fails or holds a
	// corrupt record.
	ErrStorage = Register(9, "storage error")
)

var (
	usedMu    sync.Mutex
	usedCodes = map[uint32]*Kind{}
)

// Kind is a root error. Every error produced by the fee router wraps exactly
// one Kind.
type Kind struct {
	code uint32
	desc string
}

// Register returns a new root error kind. Registering the same code twice
// panics, so call it only from package-level var blocks.
func Register(code uint32, desc string) *Kind {
	usedMu.Lock()
	defer usedMu.Unlock()
	if k, ok := usedCodes[code]; ok {
		panic(fmt.Sprintf("errs: code %d is already registered: %q", code, k.desc))
	}
	k := &Kind{code: code, desc: desc}
	usedCodes[code] = k
	return k
}

func (k *Kind) Error() string { return k.desc }

// Code returns the numeric code of the kind.
func (k *Kind) Code() uint32 { return k.code }

// New returns a sentinel error of this kind carrying its own message.
func (k *Kind) New(msg string) error {
	return &kindError{kind: k, msg: msg}
}

// Newf is New with formatting.
func (k *Kind) Newf(format string, args ...any) error {
	return k.New(fmt.Sprintf(format, args...))
}

type kindError struct {
	kind *Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// KindOf returns the root kind wrapped by err, or nil when err carries none.
func KindOf(err error) *Kind {
	var k *Kind
	if errors.As(err, &k) {
		return k
	}
	return nil
}

// CodeOf returns the code of the kind wrapped by err, 0 when err is nil or
// carries no kind.
func CodeOf(err error) uint32 {
	if k := KindOf(err); k != nil {
		return k.code
	}
	return 0
}
