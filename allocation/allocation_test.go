package allocation

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/feerouter-go/errs"
	"github.com/bitfsorg/feerouter-go/policy"
)

func u64(v uint64) *uint64 { return &v }

func inv(b byte) policy.InvestorID { return policy.InvestorID{b} }

// --------------------------------------------------------------------------
// Checked arithmetic
// --------------------------------------------------------------------------

func TestCheckedArithmetic(t *testing.T) {
	v, err := Add(1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	_, err = Add(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
	assert.ErrorIs(t, err, errs.ErrOverflow)

	_, err = Sub(1, 2)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	// 128-bit intermediate: (2^64-1) * 10000 / 10000 fits again.
	v, err = MulDiv(math.MaxUint64, 10000, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), v)

	_, err = MulDiv(math.MaxUint64, 2, 1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	_, err = MulDiv(1, 1, 0)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = Sum(math.MaxUint64, 0, 1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

// --------------------------------------------------------------------------
// Split
// --------------------------------------------------------------------------

func TestComputeSplit(t *testing.T) {
	tests := []struct {
		name        string
		claimed     uint64
		lockedTotal uint64
		y0          uint64
		bps         uint16
		want        Split
	}{
		{
			name: "half locked caps investor share", claimed: 100_000, lockedTotal: 500_000, y0: 1_000_000, bps: 7000,
			want: Split{LockedBps: 5000, EligibleBps: 5000, InvestorPortion: 50_000, CreatorPortion: 50_000},
		},
		{
			name: "fully locked uses fee share", claimed: 100_000, lockedTotal: 1_000_000, y0: 1_000_000, bps: 7000,
			want: Split{LockedBps: 10000, EligibleBps: 7000, InvestorPortion: 70_000, CreatorPortion: 30_000},
		},
		{
			name: "nothing locked goes to creator", claimed: 100_000, lockedTotal: 0, y0: 1_000_000, bps: 7000,
			want: Split{CreatorPortion: 100_000},
		},
		{
			name: "zero claim", claimed: 0, lockedTotal: 10, y0: 100, bps: 7000,
			want: Split{},
		},
		{
			name: "floor rounding favors creator", claimed: 3, lockedTotal: 1, y0: 3, bps: 10000,
			want: Split{LockedBps: 3333, EligibleBps: 3333, InvestorPortion: 0, CreatorPortion: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeSplit(tt.claimed, tt.lockedTotal, tt.y0, tt.bps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.claimed, got.InvestorPortion+got.CreatorPortion)
		})
	}
}

func TestComputeSplitErrors(t *testing.T) {
	_, err := ComputeSplit(1, 1, 0, 1)
	assert.ErrorIs(t, err, ErrZeroTotalAllocation)

	_, err = ComputeSplit(1, 1, 1, 10001)
	assert.ErrorIs(t, err, ErrInvalidFeeShare)

	_, err = ComputeSplit(math.MaxUint64, math.MaxUint64, 1, 1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestWeightAndShare(t *testing.T) {
	w, err := Weight(250_000, 500_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), w)

	p, err := Share(50_000, w)
	require.NoError(t, err)
	assert.Equal(t, uint64(25_000), p)

	w, err = Weight(5, 0)
	require.NoError(t, err)
	assert.Zero(t, w)
}

func TestVerifyWeightSum(t *testing.T) {
	assert.NoError(t, VerifyWeightSum([]uint64{500_000, 500_000}))
	assert.ErrorIs(t, VerifyWeightSum([]uint64{500_000, 500_001}), ErrWeightSum)
	assert.NoError(t, VerifyWeightSum(nil))
}

func TestDustPayout(t *testing.T) {
	tests := []struct {
		acc, min, pay, rem uint64
	}{
		{2500, 1000, 2000, 500},
		{999, 1000, 0, 999},
		{1000, 1000, 1000, 0},
		{5, 0, 0, 5},
	}
	for _, tt := range tests {
		pay, rem := DustPayout(tt.acc, tt.min)
		assert.Equal(t, tt.pay, pay)
		assert.Equal(t, tt.rem, rem)
	}
}

// --------------------------------------------------------------------------
// Page pricing
// --------------------------------------------------------------------------

func TestComputePageProportional(t *testing.T) {
	res, err := ComputePage(PageInput{
		Locks:         []Lock{{inv(1), 250_000}, {inv(2), 150_000}, {inv(3), 100_000}},
		Distributable: 100_000,
		InvestorPool:  50_000,
		LockedTotal:   500_000,
		Y0:            1_000_000,
		FeeShareBps:   7000,
		MinPayout:     1000,
	})
	require.NoError(t, err)
	require.Len(t, res.Payouts, 3)
	assert.Equal(t, uint64(25_000), res.Payouts[0].Amount)
	assert.Equal(t, uint64(15_000), res.Payouts[1].Amount)
	assert.Equal(t, uint64(10_000), res.Payouts[2].Amount)
	assert.Equal(t, uint64(50_000), res.TotalPaid)
	assert.Zero(t, res.Dust)
	assert.Equal(t, uint64(500_000), res.PageLocked)
	assert.Equal(t, 3, res.Recipients())
	assert.False(t, res.Clamped)
}

func TestComputePageDust(t *testing.T) {
	// weight 0.01 of a 50,000 pool is 500, below the 1000 minimum.
	res, err := ComputePage(PageInput{
		Locks:         []Lock{{inv(1), 5_000}},
		Distributable: 100_000,
		InvestorPool:  50_000,
		LockedTotal:   500_000,
		Y0:            1_000_000,
		FeeShareBps:   7000,
		MinPayout:     1000,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Payouts[0].Amount)
	assert.Equal(t, uint64(500), res.Payouts[0].Dust)
	assert.Equal(t, uint64(500), res.Dust)
	assert.Zero(t, res.TotalPaid)
	assert.Zero(t, res.Recipients())
}

func TestComputePageLockedExceedsTotal(t *testing.T) {
	_, err := ComputePage(PageInput{
		Locks:        []Lock{{inv(1), 600}},
		InvestorPool: 100,
		LockedTotal:  1000,
		LockedSeen:   500,
		Y0:           1000,
		MinPayout:    1,
	})
	assert.ErrorIs(t, err, ErrLockedExceedsTotal)
	assert.ErrorIs(t, err, errs.ErrExternalData)
}

func TestComputePageCapClamp(t *testing.T) {
	in := PageInput{
		Locks:         []Lock{{inv(1), 500_000}, {inv(2), 500_000}},
		Distributable: 100_000,
		InvestorPool:  70_000,
		LockedTotal:   1_000_000,
		Y0:            1_000_000,
		FeeShareBps:   7000,
		MinPayout:     1,
		Distributed:   0,
		DailyCap:      u64(10_000),
	}
	res, err := ComputePage(in)
	require.NoError(t, err)
	assert.True(t, res.Clamped)
	// Clamped claim 10,000 -> investor pool 7,000 split evenly.
	assert.Equal(t, uint64(3_500), res.Payouts[0].Amount)
	assert.Equal(t, uint64(3_500), res.Payouts[1].Amount)
	assert.Equal(t, uint64(7_000), res.TotalPaid)
	assert.Equal(t, uint64(63_000), res.CapWithheld)
	assert.Equal(t, uint64(31_500), res.Payouts[0].CapWithheld)
	assert.LessOrEqual(t, in.Distributed+res.TotalPaid, *in.DailyCap)
}

func TestComputePageCapAlreadyExhausted(t *testing.T) {
	res, err := ComputePage(PageInput{
		Locks:         []Lock{{inv(1), 100}},
		Distributable: 1000,
		InvestorPool:  1000,
		LockedTotal:   100,
		Y0:            100,
		FeeShareBps:   10000,
		MinPayout:     1,
		Distributed:   50,
		DailyCap:      u64(50),
	})
	require.NoError(t, err)
	assert.Zero(t, res.TotalPaid)
	assert.Equal(t, uint64(1000), res.CapWithheld)

	_, err = ComputePage(PageInput{Y0: 1, MinPayout: 1, Distributed: 51, DailyCap: u64(50)})
	assert.ErrorIs(t, err, ErrDailyCapExceeded)
}

func TestComputePageUnderCapNotClamped(t *testing.T) {
	res, err := ComputePage(PageInput{
		Locks:         []Lock{{inv(1), 100}},
		Distributable: 1000,
		InvestorPool:  1000,
		LockedTotal:   100,
		Y0:            100,
		FeeShareBps:   10000,
		MinPayout:     1,
		DailyCap:      u64(1000),
	})
	require.NoError(t, err)
	assert.False(t, res.Clamped)
	assert.Equal(t, uint64(1000), res.TotalPaid)
}

// --------------------------------------------------------------------------
// Creator remainder
// --------------------------------------------------------------------------

func TestCreatorRemainder(t *testing.T) {
	res, err := CreatorRemainder(CloseInput{Distributable: 100_000, InvestorPaid: 49_000, Dust: 500})
	require.NoError(t, err)
	assert.Equal(t, CloseResult{CreatorPayout: 50_500}, res)

	res, err = CreatorRemainder(CloseInput{
		Distributable: 100_000, InvestorPaid: 40_000, Distributed: 40_000, DailyCap: u64(60_000),
	})
	require.NoError(t, err)
	assert.Equal(t, CloseResult{CreatorPayout: 20_000, CapWithheld: 40_000}, res)

	_, err = CreatorRemainder(CloseInput{Distributable: 10, InvestorPaid: 11})
	assert.ErrorIs(t, err, ErrRemainderUnderflow)
}

// TestEpochConservation prices random investor sets page by page and checks
// that paid + dust + cap-withheld + creator equals the distributable amount.
func TestEpochConservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 200; round++ {
		n := rng.IntN(60) + 1
		locks := make([]Lock, n)
		var lockedTotal uint64
		for i := range locks {
			locks[i] = Lock{Investor: inv(byte(i)), Locked: rng.Uint64N(1_000_000)}
			lockedTotal += locks[i].Locked
		}
		y0 := lockedTotal + rng.Uint64N(1_000_000) + 1
		bps := uint16(rng.IntN(10001))
		claimed := rng.Uint64N(10_000_000)
		var dailyCap *uint64
		if rng.IntN(2) == 0 {
			dailyCap = u64(rng.Uint64N(claimed+1) + 1)
		}
		split, err := ComputeSplit(claimed, lockedTotal, y0, bps)
		require.NoError(t, err)

		var paid, dust, withheld, seen uint64
		pageSize := rng.IntN(50) + 1
		for start := 0; start < n; start += pageSize {
			end := min(start+pageSize, n)
			res, err := ComputePage(PageInput{
				Locks: locks[start:end], Distributable: claimed, InvestorPool: split.InvestorPortion,
				LockedTotal: lockedTotal, LockedSeen: seen, Y0: y0, FeeShareBps: bps,
				MinPayout: 1000, Distributed: paid, DailyCap: dailyCap,
			})
			require.NoError(t, err)
			paid += res.TotalPaid
			dust += res.Dust
			withheld += res.CapWithheld
			seen += res.PageLocked
		}
		closing, err := CreatorRemainder(CloseInput{
			Distributable: claimed, InvestorPaid: paid, Dust: dust, CapWithheld: withheld,
			Distributed: paid, DailyCap: dailyCap,
		})
		require.NoError(t, err)
		assert.Equal(t, claimed, paid+dust+withheld+closing.CreatorPayout+closing.CapWithheld)
		assert.LessOrEqual(t, paid, split.InvestorPortion)
		if dailyCap != nil {
			assert.LessOrEqual(t, paid+closing.CreatorPayout, *dailyCap)
		}
	}
}
