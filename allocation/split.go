// Package allocation implements the fee split between investors and the
// creator. Every function is pure and all arithmetic is overflow-checked.
package allocation

const (
	// BasisPoints is 100% in basis points.
	BasisPoints uint64 = 10000

	// WeightPrecision is the fixed-point scale of investor weights.
	WeightPrecision uint64 = 1_000_000
)

// Split is the epoch-level division of a distributable amount.
type Split struct {
	LockedBps       uint64 // floor(lockedTotal * 10000 / y0)
	EligibleBps     uint64 // min(feeShareBps, LockedBps)
	InvestorPortion uint64
	CreatorPortion  uint64
}

// ComputeSplit divides claimed between the investor pool and the creator.
// The investor share shrinks as tokens unlock and never exceeds feeShareBps.
func ComputeSplit(claimed, lockedTotal, y0 uint64, feeShareBps uint16) (Split, error) {
	if y0 == 0 {
		return Split{}, ErrZeroTotalAllocation
	}
	if uint64(feeShareBps) > BasisPoints {
		return Split{}, ErrInvalidFeeShare
	}
	if lockedTotal == 0 || claimed == 0 {
		return Split{CreatorPortion: claimed}, nil
	}

	lockedBps, err := MulDiv(lockedTotal, BasisPoints, y0)
	if err != nil {
		return Split{}, err
	}
	eligible := min(uint64(feeShareBps), lockedBps)
	investor, err := MulDiv(claimed, eligible, BasisPoints)
	if err != nil {
		return Split{}, err
	}
	return Split{
		LockedBps:       lockedBps,
		EligibleBps:     eligible,
		InvestorPortion: investor,
		CreatorPortion:  claimed - investor,
	}, nil
}

// Weight returns locked's share of lockedTotal scaled by WeightPrecision.
func Weight(locked, lockedTotal uint64) (uint64, error) {
	if lockedTotal == 0 {
		return 0, nil
	}
	return MulDiv(locked, WeightPrecision, lockedTotal)
}

// Share returns an investor's cut of pool for the given weight.
func Share(pool, weight uint64) (uint64, error) {
	return MulDiv(pool, weight, WeightPrecision)
}

// VerifyWeightSum fails when weights add up to more than WeightPrecision.
func VerifyWeightSum(weights []uint64) error {
	total, err := Sum(weights...)
	if err != nil {
		return err
	}
	if total > WeightPrecision {
		return ErrWeightSum
	}
	return nil
}

// DustPayout splits accumulated dust into the largest multiple of minPayout
// that can be paid out and the remainder that stays withheld.
func DustPayout(accumulated, minPayout uint64) (payout, remaining uint64) {
	if minPayout == 0 || accumulated < minPayout {
		return 0, accumulated
	}
	payout = accumulated / minPayout * minPayout
	return payout, accumulated - payout
}
