package progress

import (
	"encoding/hex"

	"github.com/gagliardetto/solana-go"

	"github.com/bitfsorg/feerouter-go/policy"
)

// TransferID identifies one payout. It is stable across retries of the same
// step, so an executor can drop duplicates.
type TransferID [32]byte

func (id TransferID) String() string { return hex.EncodeToString(id[:]) }

func (id TransferID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TransferID) UnmarshalText(b []byte) error { return decodeHex(id[:], b) }

// Transfer is a committed payout an executor has to carry out.
type Transfer struct {
	ID      TransferID       `json:"id"`
	Stream  policy.StreamID  `json:"stream_id"`
	Epoch   uint64           `json:"epoch"`
	From    solana.PublicKey `json:"from"`
	To      policy.AccountID `json:"to"`
	Creator bool             `json:"creator"`
	Amount  uint64           `json:"amount"`
}

// Enqueue adds transfers to the outbox. A transfer whose id is already queued
// is skipped.
func (s *State) Enqueue(transfers ...Transfer) {
	for _, tr := range transfers {
		if s.queued(tr.ID) {
			continue
		}
		s.Outbox = append(s.Outbox, tr)
	}
}

// Acknowledge drops executed transfers from the outbox and returns how many
// were removed. Unknown ids are ignored.
func (s *State) Acknowledge(ids ...TransferID) int {
	if len(ids) == 0 || len(s.Outbox) == 0 {
		return 0
	}
	done := make(map[TransferID]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
	}
	kept := s.Outbox[:0:0]
	for _, tr := range s.Outbox {
		if _, ok := done[tr.ID]; !ok {
			kept = append(kept, tr)
		}
	}
	removed := len(s.Outbox) - len(kept)
	if len(kept) == 0 {
		kept = nil
	}
	s.Outbox = kept
	return removed
}

// Pending returns a copy of the outbox.
func (s *State) Pending() []Transfer {
	if len(s.Outbox) == 0 {
		return nil
	}
	return append([]Transfer(nil), s.Outbox...)
}

func (s *State) queued(id TransferID) bool {
	for _, tr := range s.Outbox {
		if tr.ID == id {
			return true
		}
	}
	return false
}

func decodeHex(dst, src []byte) error {
	if len(src) != 2*len(dst) {
		return ErrInvalidTransferID
	}
	if _, err := hex.Decode(dst, src); err != nil {
		return ErrInvalidTransferID
	}
	return nil
}
