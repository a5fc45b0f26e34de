// Package address derives the deterministic record addresses of a stream.
// Two callers that agree on the program id and stream id always agree on
// where the stream's records live.
package address

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/bitfsorg/feerouter-go/errs"
	"github.com/bitfsorg/feerouter-go/policy"
)

// Record seeds.
const (
	SeedPolicy   = "policy"
	SeedProgress = "progress"
	SeedVault    = "vault"
	SeedTreasury = "treasury"

	positionOwnerSuffix = "investor_fee_pos_owner"
)

// DefaultProgramID is used when no program id is configured.
var DefaultProgramID = solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")

var (
	// ErrAddressMismatch indicates a supplied address that does not match the
	// derived one.
	ErrAddressMismatch = errs.ErrValidation.New("address: address does not match derivation")

	// ErrDerivation indicates no valid off-curve address exists for the seeds.
	ErrDerivation = errs.ErrValidation.New("address: cannot derive program address")
)

// Address is a derived record address and its bump seed.
type Address struct {
	Key  solana.PublicKey
	Bump uint8
}

func (a Address) String() string { return a.Key.String() }

// Deriver derives addresses under one program id.
type Deriver struct {
	ProgramID solana.PublicKey
}

// NewDeriver returns a Deriver for programID, or the default program when
// programID is zero.
func NewDeriver(programID solana.PublicKey) *Deriver {
	if programID.IsZero() {
		programID = DefaultProgramID
	}
	return &Deriver{ProgramID: programID}
}

// ParseProgramID decodes a base58 program id; empty selects the default.
func ParseProgramID(s string) (solana.PublicKey, error) {
	if s == "" {
		return DefaultProgramID, nil
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: program id: %w", errs.ErrValidation, err)
	}
	return pk, nil
}

// Derive returns the address for seeds under the deriver's program.
func (d *Deriver) Derive(seeds ...[]byte) (Address, error) {
	key, bump, err := solana.FindProgramAddress(seeds, d.ProgramID)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %w", ErrDerivation, err)
	}
	return Address{Key: key, Bump: bump}, nil
}

// Policy returns the address of a stream's policy record.
func (d *Deriver) Policy(stream policy.StreamID) (Address, error) {
	return d.Derive([]byte(SeedPolicy), stream[:])
}

// State returns the address of a stream's distribution state record.
func (d *Deriver) State(stream policy.StreamID) (Address, error) {
	return d.Derive([]byte(SeedProgress), stream[:])
}

// Treasury returns the address holding claimed fees before payout.
func (d *Deriver) Treasury(stream policy.StreamID) (Address, error) {
	return d.Derive([]byte(SeedTreasury), stream[:])
}

// PositionOwner returns the address that owns the stream's fee position.
func (d *Deriver) PositionOwner(stream policy.StreamID) (Address, error) {
	return d.Derive([]byte(SeedVault), stream[:], []byte(positionOwnerSuffix))
}

// Verify fails with ErrAddressMismatch unless candidate is the address
// derived for seed and stream.
func (d *Deriver) Verify(seed string, stream policy.StreamID, candidate solana.PublicKey) error {
	want, err := d.Derive([]byte(seed), stream[:])
	if err != nil {
		return err
	}
	if !want.Key.Equals(candidate) {
		return fmt.Errorf("%w: %s: got %s, want %s", ErrAddressMismatch, seed, candidate, want.Key)
	}
	return nil
}
