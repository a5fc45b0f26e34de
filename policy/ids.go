package policy

import (
	"encoding/hex"
	"fmt"
)

// StreamID identifies one fee stream.
type StreamID [32]byte

// CurrencyID identifies a token mint.
type CurrencyID [32]byte

// AccountID identifies a payout destination.
type AccountID [32]byte

// InvestorID identifies a vesting recipient. The byte-wise order of
// InvestorIDs is the canonical order of an investor set.
type InvestorID [32]byte

func (id StreamID) String() string   { return hex.EncodeToString(id[:]) }
func (id CurrencyID) String() string { return hex.EncodeToString(id[:]) }
func (id AccountID) String() string  { return hex.EncodeToString(id[:]) }
func (id InvestorID) String() string { return hex.EncodeToString(id[:]) }

func (id StreamID) IsZero() bool   { return id == StreamID{} }
func (id CurrencyID) IsZero() bool { return id == CurrencyID{} }
func (id AccountID) IsZero() bool  { return id == AccountID{} }

func (id StreamID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id CurrencyID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id AccountID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id InvestorID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *StreamID) UnmarshalText(b []byte) error   { return decodeID(id[:], b) }
func (id *CurrencyID) UnmarshalText(b []byte) error { return decodeID(id[:], b) }
func (id *AccountID) UnmarshalText(b []byte) error  { return decodeID(id[:], b) }
func (id *InvestorID) UnmarshalText(b []byte) error { return decodeID(id[:], b) }

// ParseStreamID decodes a 64-character hex stream id.
func ParseStreamID(s string) (StreamID, error) {
	var id StreamID
	err := decodeID(id[:], []byte(s))
	return id, err
}

// Less reports whether a sorts before b in the canonical investor order.
func (id InvestorID) Less(other InvestorID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

func decodeID(dst, src []byte) error {
	if len(src) != 2*len(dst) {
		return fmt.Errorf("%w: expected %d hex chars, got %d", ErrInvalidID, 2*len(dst), len(src))
	}
	if _, err := hex.Decode(dst, src); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	return nil
}
