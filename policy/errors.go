package policy

import "github.com/bitfsorg/feerouter-go/errs"

var (
	// ErrInvalidFeeShare indicates InvestorFeeShareBps is above 10000.
	ErrInvalidFeeShare = errs.ErrValidation.New("policy: investor fee share exceeds 10000 bps")

	// ErrInvalidDailyCap indicates a daily cap that is set to zero.
	ErrInvalidDailyCap = errs.ErrValidation.New("policy: daily cap must be positive when set")

	// ErrInvalidMinPayout indicates a zero minimum payout.
	ErrInvalidMinPayout = errs.ErrValidation.New("policy: min payout must be positive")

	// ErrInvalidTotalAllocation indicates a zero Y0 total allocation.
	ErrInvalidTotalAllocation = errs.ErrValidation.New("policy: y0 total allocation must be positive")

	// ErrMissingStreamID indicates a zero stream id.
	ErrMissingStreamID = errs.ErrValidation.New("policy: stream id is required")

	// ErrMissingQuoteCurrency indicates a zero quote currency.
	ErrMissingQuoteCurrency = errs.ErrValidation.New("policy: quote currency is required")

	// ErrMissingCreatorTarget indicates a zero creator payout target.
	ErrMissingCreatorTarget = errs.ErrValidation.New("policy: creator payout target is required")

	// ErrInvalidID indicates a malformed hex identifier.
	ErrInvalidID = errs.ErrValidation.New("policy: invalid identifier")
)
