// Package vesting reports how much of each investor's allocation is still
// locked under a linear vesting schedule.
package vesting

import (
	"encoding/binary"
	"fmt"

	"github.com/bitfsorg/feerouter-go/allocation"
	"github.com/bitfsorg/feerouter-go/policy"
)

// ScheduleSize is the encoded size of a Schedule.
const ScheduleSize = 32 + 32 + 6*8

// Schedule is one linear vesting stream.
type Schedule struct {
	Recipient policy.InvestorID
	Mint      policy.CurrencyID
	Deposited uint64 // total amount placed under vesting
	Withdrawn uint64 // amount the recipient already took out
	Start     int64  // unix seconds vesting begins
	Cliff     int64  // nothing unlocks before this, 0 for none
	End       int64  // everything is unlocked from here
	ClosedAt  int64  // non-zero once the stream was closed
}

// Validate checks internal consistency and the expected mint.
func (s *Schedule) Validate(mint policy.CurrencyID) error {
	switch {
	case s.Mint != mint:
		return fmt.Errorf("%w: got %s, want %s", ErrMintMismatch, s.Mint, mint)
	case s.End <= s.Start:
		return fmt.Errorf("%w: end %d not after start %d", ErrInvalidScheduleData, s.End, s.Start)
	case s.Cliff != 0 && (s.Cliff < s.Start || s.Cliff > s.End):
		return fmt.Errorf("%w: cliff %d outside [%d, %d]", ErrInvalidScheduleData, s.Cliff, s.Start, s.End)
	case s.Withdrawn > s.Deposited:
		return fmt.Errorf("%w: withdrawn exceeds deposited", ErrInvalidScheduleData)
	}
	return nil
}

// LockedAt returns the amount still locked at unix time t.
func (s *Schedule) LockedAt(t int64) uint64 {
	if s.ClosedAt != 0 {
		return 0
	}
	available := s.Deposited - min(s.Withdrawn, s.Deposited)
	if t < s.Start || t < s.Cliff {
		return available
	}
	if t >= s.End {
		return 0
	}
	vested, err := allocation.MulDiv(s.Deposited, uint64(t-s.Start), uint64(s.End-s.Start))
	if err != nil || vested >= available {
		return 0
	}
	return available - vested
}

// SerializeSchedule encodes s into its fixed binary layout.
func SerializeSchedule(s *Schedule) []byte {
	buf := make([]byte, ScheduleSize)
	copy(buf[0:32], s.Recipient[:])
	copy(buf[32:64], s.Mint[:])
	binary.BigEndian.PutUint64(buf[64:72], s.Deposited)
	binary.BigEndian.PutUint64(buf[72:80], s.Withdrawn)
	binary.BigEndian.PutUint64(buf[80:88], uint64(s.Start))
	binary.BigEndian.PutUint64(buf[88:96], uint64(s.Cliff))
	binary.BigEndian.PutUint64(buf[96:104], uint64(s.End))
	binary.BigEndian.PutUint64(buf[104:112], uint64(s.ClosedAt))
	return buf
}

// DeserializeSchedule decodes a schedule record and validates it against mint.
func DeserializeSchedule(data []byte, mint policy.CurrencyID) (*Schedule, error) {
	if len(data) != ScheduleSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidScheduleData, ScheduleSize, len(data))
	}
	s := &Schedule{
		Deposited: binary.BigEndian.Uint64(data[64:72]),
		Withdrawn: binary.BigEndian.Uint64(data[72:80]),
		Start:     int64(binary.BigEndian.Uint64(data[80:88])),
		Cliff:     int64(binary.BigEndian.Uint64(data[88:96])),
		End:       int64(binary.BigEndian.Uint64(data[96:104])),
		ClosedAt:  int64(binary.BigEndian.Uint64(data[104:112])),
	}
	copy(s.Recipient[:], data[0:32])
	copy(s.Mint[:], data[32:64])
	if err := s.Validate(mint); err != nil {
		return nil, err
	}
	return s, nil
}
