// Package store persists stream policies and distribution states. Every
// state write is a compare-and-swap on the record version, which is the only
// concurrency control between independent callers.
package store

import (
	"context"

	"github.com/bitfsorg/feerouter-go/errs"
	"github.com/bitfsorg/feerouter-go/policy"
	"github.com/bitfsorg/feerouter-go/progress"
)

var (
	// ErrStreamNotFound indicates no records exist for the stream.
	ErrStreamNotFound = errs.ErrNotFound.New("store: stream not found")

	// ErrStreamExists indicates Create on an initialized stream.
	ErrStreamExists = errs.ErrValidation.New("store: stream already initialized")

	// ErrVersionConflict indicates the stored version moved since it was read.
	ErrVersionConflict = errs.ErrConflict.New("store: version conflict")

	// ErrCorruptRecord indicates a record that fails its checksum or decoding.
	ErrCorruptRecord = errs.ErrStorage.New("store: corrupt record")

	// ErrStreamMismatch indicates a state whose stream id differs from its key.
	ErrStreamMismatch = errs.ErrValidation.New("store: state belongs to another stream")
)

// Record is a stream's policy and state as of Version.
type Record struct {
	Policy  *policy.Policy
	State   *progress.State
	Version uint64
}

// Store is the persistence contract of the fee router.
type Store interface {
	// Create stores both records of a new stream at version 1.
	Create(ctx context.Context, p *policy.Policy, s *progress.State) error

	// Load returns the stream's records. Callers own the returned values.
	Load(ctx context.Context, stream policy.StreamID) (*Record, error)

	// CompareAndSwap replaces the state if the stored version equals
	// expected, and returns the new version.
	CompareAndSwap(ctx context.Context, stream policy.StreamID, expected uint64, s *progress.State) (uint64, error)

	// List returns every stream id.
	List(ctx context.Context) ([]policy.StreamID, error)

	Close() error
}

func checkCreate(p *policy.Policy, s *progress.State) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if s.StreamID != p.StreamID {
		return ErrStreamMismatch
	}
	return nil
}
