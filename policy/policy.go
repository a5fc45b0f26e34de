// Package policy holds the immutable configuration of a fee stream.
package policy

const (
	// MaxBasisPoints is 100% expressed in basis points.
	MaxBasisPoints = 10000

	// DefaultMinPayout is the minimum payout used when none is configured.
	DefaultMinPayout uint64 = 1000
)

// Policy is created once per stream and never modified.
type Policy struct {
	StreamID            StreamID   // Stream this policy governs
	QuoteCurrency       CurrencyID // Only currency the stream may claim
	CreatorPayoutTarget AccountID  // Receives the creator remainder
	InvestorFeeShareBps uint16     // Upper bound of the investor share
	DailyCap            *uint64    // Max distributed per epoch, nil for no cap
	MinPayout           uint64     // Smallest payout actually transferred
	Y0TotalAllocation   uint64     // Total investor allocation at launch
}

// Validate checks every parameter and returns the first violation.
func (p *Policy) Validate() error {
	switch {
	case p.StreamID.IsZero():
		return ErrMissingStreamID
	case p.QuoteCurrency.IsZero():
		return ErrMissingQuoteCurrency
	case p.CreatorPayoutTarget.IsZero():
		return ErrMissingCreatorTarget
	case p.InvestorFeeShareBps > MaxBasisPoints:
		return ErrInvalidFeeShare
	case p.DailyCap != nil && *p.DailyCap == 0:
		return ErrInvalidDailyCap
	case p.MinPayout == 0:
		return ErrInvalidMinPayout
	case p.Y0TotalAllocation == 0:
		return ErrInvalidTotalAllocation
	}
	return nil
}

// Cap returns the daily cap and whether one is set.
func (p *Policy) Cap() (uint64, bool) {
	if p.DailyCap == nil {
		return 0, false
	}
	return *p.DailyCap, true
}

// Clone returns a deep copy so callers cannot mutate a stored policy.
func (p *Policy) Clone() *Policy {
	c := *p
	if p.DailyCap != nil {
		v := *p.DailyCap
		c.DailyCap = &v
	}
	return &c
}
