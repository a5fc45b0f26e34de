package allocation

import "github.com/bitfsorg/feerouter-go/errs"

var (
	// ErrArithmeticOverflow indicates a checked operation exceeded uint64.
	ErrArithmeticOverflow = errs.ErrOverflow.New("allocation: arithmetic overflow")

	// ErrDivisionByZero indicates a MulDiv with a zero divisor.
	ErrDivisionByZero = errs.ErrOverflow.New("allocation: division by zero")

	// ErrZeroTotalAllocation indicates a split requested against a zero Y0.
	ErrZeroTotalAllocation = errs.ErrValidation.New("allocation: y0 total allocation is zero")

	// ErrInvalidFeeShare indicates a fee share above 10000 bps.
	ErrInvalidFeeShare = errs.ErrValidation.New("allocation: fee share exceeds 10000 bps")

	// ErrLockedExceedsTotal indicates the oracle reported more locked tokens
	// than the epoch's locked total.
	ErrLockedExceedsTotal = errs.ErrExternalData.New("allocation: locked amounts exceed epoch locked total")

	// ErrWeightSum indicates page weights adding up to more than 100%.
	ErrWeightSum = errs.ErrExternalData.New("allocation: weight sum exceeds precision")

	// ErrDailyCapExceeded indicates a distribution that would pass the daily cap.
	ErrDailyCapExceeded = errs.ErrValidation.New("allocation: daily cap exceeded")

	// ErrRemainderUnderflow indicates investor totals larger than the epoch's
	// distributable amount.
	ErrRemainderUnderflow = errs.ErrOverflow.New("allocation: creator remainder underflow")
)
