// Package progress tracks where a stream stands within its current epoch.
package progress

import (
	"github.com/bitfsorg/feerouter-go/allocation"
	"github.com/bitfsorg/feerouter-go/policy"
)

// State is the mutable distribution record of a stream. Mutators work on the
// receiver in place; callers clone a loaded record before mutating it so a
// failed step leaves the stored copy untouched.
type State struct {
	StreamID         policy.StreamID
	Epoch            uint64 // 0 until the first epoch starts
	LastEpochStart   int64  // unix seconds, 0 before the first epoch
	EpochDistributed uint64 // investor and creator payouts this epoch
	CarryOverDust    uint64 // withheld payouts, persists across epochs
	Cursor           uint32 // next investor index
	EpochComplete    bool

	// Epoch snapshot fixed at epoch start.
	EpochClaimed      uint64
	EpochRollover     uint64
	EpochLockedTotal  uint64
	EpochInvestorPool uint64
	InvestorCount     uint32

	// Running epoch totals.
	EpochInvestorPaid uint64
	EpochCreatorPaid  uint64
	EpochDust         uint64
	EpochCapWithheld  uint64
	EpochLockedSeen   uint64
	LastInvestor      policy.InvestorID // valid when Cursor > 0

	PendingRollover uint64 // cap-withheld amount for the next epoch

	EpochDustSwept uint64 // carry-over dust paid out after this epoch closed
	SweptEpoch     uint64 // last epoch whose close swept dust

	// Committed transfers not yet confirmed as executed. Survives epochs.
	Outbox []Transfer
}

// New returns the state of a stream that has never distributed.
func New(stream policy.StreamID) *State {
	return &State{StreamID: stream, EpochComplete: true}
}

// Clone returns a copy of s.
func (s *State) Clone() *State {
	c := *s
	c.Outbox = s.Pending()
	return &c
}

// Started reports whether any epoch has begun.
func (s *State) Started() bool { return s.Epoch > 0 }

// Remaining returns how many investors the current epoch has yet to process.
func (s *State) Remaining() uint32 {
	if s.Cursor >= s.InvestorCount {
		return 0
	}
	return s.InvestorCount - s.Cursor
}

// Distributable returns the epoch claim plus the rollover it absorbed.
func (s *State) Distributable() (uint64, error) {
	return allocation.Add(s.EpochClaimed, s.EpochRollover)
}

// EpochStart is the snapshot recorded when an epoch begins.
type EpochStart struct {
	Now           int64
	Claimed       uint64
	LockedTotal   uint64
	InvestorPool  uint64
	InvestorCount uint32
}

// StartEpoch resets the epoch counters. CarryOverDust survives; the pending
// rollover moves into the new epoch.
func (s *State) StartEpoch(e EpochStart) error {
	if s.Started() && !s.EpochComplete {
		return ErrEpochIncomplete
	}
	epoch, err := allocation.Add(s.Epoch, 1)
	if err != nil {
		return err
	}
	rollover := s.PendingRollover
	*s = State{
		StreamID:          s.StreamID,
		Epoch:             epoch,
		LastEpochStart:    e.Now,
		CarryOverDust:     s.CarryOverDust,
		EpochClaimed:      e.Claimed,
		EpochRollover:     rollover,
		EpochLockedTotal:  e.LockedTotal,
		EpochInvestorPool: e.InvestorPool,
		InvestorCount:     e.InvestorCount,
		SweptEpoch:        s.SweptEpoch,
		Outbox:            s.Outbox,
	}
	return nil
}

// PageTotals is what one priced page adds to the epoch.
type PageTotals struct {
	Count        uint32
	LastInvestor policy.InvestorID
	Paid         uint64
	Dust         uint64
	CapWithheld  uint64
	Locked       uint64
}

// ApplyPage advances the cursor past a priced page and accumulates its totals.
func (s *State) ApplyPage(p PageTotals, dailyCap *uint64) error {
	if s.EpochComplete {
		return ErrEpochComplete
	}
	cursor := uint64(s.Cursor) + uint64(p.Count)
	if cursor > uint64(s.InvestorCount) {
		return ErrCursorOverflow
	}
	next := *s
	var err error
	if next.EpochDistributed, err = allocation.Add(s.EpochDistributed, p.Paid); err != nil {
		return err
	}
	if dailyCap != nil && next.EpochDistributed > *dailyCap {
		return ErrDailyCapExceeded
	}
	if next.EpochInvestorPaid, err = allocation.Add(s.EpochInvestorPaid, p.Paid); err != nil {
		return err
	}
	if next.EpochDust, err = allocation.Add(s.EpochDust, p.Dust); err != nil {
		return err
	}
	if next.CarryOverDust, err = allocation.Add(s.CarryOverDust, p.Dust); err != nil {
		return err
	}
	if next.EpochCapWithheld, err = allocation.Add(s.EpochCapWithheld, p.CapWithheld); err != nil {
		return err
	}
	if next.EpochLockedSeen, err = allocation.Add(s.EpochLockedSeen, p.Locked); err != nil {
		return err
	}
	next.Cursor = uint32(cursor)
	if p.Count > 0 {
		next.LastInvestor = p.LastInvestor
	}
	*s = next
	return nil
}

// Close records the creator payout and marks the epoch complete. The whole
// cap-withheld amount of the epoch becomes the next epoch's rollover.
func (s *State) Close(creatorPayout, creatorWithheld uint64, dailyCap *uint64) error {
	if s.EpochComplete {
		return ErrEpochComplete
	}
	if s.Cursor != s.InvestorCount {
		return ErrEpochIncomplete
	}
	next := *s
	var err error
	if next.EpochDistributed, err = allocation.Add(s.EpochDistributed, creatorPayout); err != nil {
		return err
	}
	if dailyCap != nil && next.EpochDistributed > *dailyCap {
		return ErrDailyCapExceeded
	}
	if next.EpochCapWithheld, err = allocation.Add(s.EpochCapWithheld, creatorWithheld); err != nil {
		return err
	}
	next.EpochCreatorPaid = creatorPayout
	next.PendingRollover = next.EpochCapWithheld
	next.EpochComplete = true
	*s = next
	return nil
}

// SweepDust pays out carry-over dust once the current epoch has closed. The
// payout is the largest multiple of minPayout that fits both the dust pool
// and what is left of the daily cap; the rest stays carried over. Each epoch
// sweeps at most once. A zero return leaves s unchanged.
func (s *State) SweepDust(minPayout uint64, dailyCap *uint64) (uint64, error) {
	if !s.Started() || !s.EpochComplete {
		return 0, ErrEpochIncomplete
	}
	if s.SweptEpoch >= s.Epoch {
		return 0, nil
	}
	available := s.CarryOverDust
	if dailyCap != nil {
		if s.EpochDistributed >= *dailyCap {
			return 0, nil
		}
		available = min(available, *dailyCap-s.EpochDistributed)
	}
	payout, _ := allocation.DustPayout(available, minPayout)
	if payout == 0 {
		return 0, nil
	}
	distributed, err := allocation.Add(s.EpochDistributed, payout)
	if err != nil {
		return 0, err
	}
	s.EpochDistributed = distributed
	s.CarryOverDust -= payout
	s.EpochDustSwept = payout
	s.SweptEpoch = s.Epoch
	return payout, nil
}
