package vesting

import "github.com/bitfsorg/feerouter-go/errs"

var (
	// ErrInvalidScheduleData indicates a malformed schedule record.
	ErrInvalidScheduleData = errs.ErrExternalData.New("vesting: invalid schedule data")

	// ErrMintMismatch indicates a schedule for a different token.
	ErrMintMismatch = errs.ErrExternalData.New("vesting: schedule mint mismatch")

	// ErrUnknownInvestor indicates an investor with no schedule.
	ErrUnknownInvestor = errs.ErrExternalData.New("vesting: unknown investor")

	// ErrUnknownStream indicates a stream with no registered investor book.
	ErrUnknownStream = errs.ErrExternalData.New("vesting: unknown stream")
)
