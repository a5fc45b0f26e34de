package allocation

import "github.com/bitfsorg/feerouter-go/policy"

// Lock is the still-locked amount an investor held at the step timestamp.
type Lock struct {
	Investor policy.InvestorID
	Locked   uint64
}

// Payout is one investor's outcome on a page.
type Payout struct {
	Investor    policy.InvestorID
	Locked      uint64
	Weight      uint64 // scaled by WeightPrecision
	Amount      uint64 // transferred to the investor
	Dust        uint64 // below MinPayout, withheld into carry-over dust
	CapWithheld uint64 // removed by the daily cap, rolls to the next epoch
}

// PageInput carries the epoch snapshot needed to price one page.
type PageInput struct {
	Locks         []Lock
	Distributable uint64 // epoch claim plus rollover
	InvestorPool  uint64 // investor portion of Distributable
	LockedTotal   uint64 // locked total fixed at epoch start
	LockedSeen    uint64 // locked amounts already priced this epoch
	Y0            uint64
	FeeShareBps   uint16
	MinPayout     uint64
	Distributed   uint64  // paid so far this epoch
	DailyCap      *uint64 // nil for no cap
}

// PageResult is the priced page.
type PageResult struct {
	Payouts     []Payout
	TotalPaid   uint64
	Dust        uint64
	CapWithheld uint64
	PageLocked  uint64
	Clamped     bool // the daily cap scaled this page down
}

// Recipients returns the number of investors that receive a transfer.
func (r *PageResult) Recipients() int {
	n := 0
	for _, p := range r.Payouts {
		if p.Amount > 0 {
			n++
		}
	}
	return n
}

// ComputePage prices every investor on the page against the epoch pool. If
// the page would push the epoch past its daily cap, the distributable amount
// is clamped to what the cap still allows and the page is priced again; the
// difference is reported as CapWithheld.
func ComputePage(in PageInput) (*PageResult, error) {
	pageLocked := uint64(0)
	for _, l := range in.Locks {
		var err error
		if pageLocked, err = Add(pageLocked, l.Locked); err != nil {
			return nil, err
		}
	}
	seen, err := Add(in.LockedSeen, pageLocked)
	if err != nil {
		return nil, err
	}
	if seen > in.LockedTotal {
		return nil, ErrLockedExceedsTotal
	}

	full, err := price(in.Locks, in.InvestorPool, in.LockedTotal, in.MinPayout)
	if err != nil {
		return nil, err
	}
	full.PageLocked = pageLocked

	if in.DailyCap == nil {
		return full, nil
	}
	capacity := *in.DailyCap
	if in.Distributed > capacity {
		return nil, ErrDailyCapExceeded
	}
	after, err := Add(in.Distributed, full.TotalPaid)
	if err != nil {
		return nil, err
	}
	if after <= capacity {
		return full, nil
	}

	clampedClaim := min(in.Distributable, capacity-in.Distributed)
	split, err := ComputeSplit(clampedClaim, in.LockedTotal, in.Y0, in.FeeShareBps)
	if err != nil {
		return nil, err
	}
	clamped, err := price(in.Locks, min(split.InvestorPortion, in.InvestorPool), in.LockedTotal, in.MinPayout)
	if err != nil {
		return nil, err
	}
	clamped.PageLocked = pageLocked
	clamped.Clamped = true
	for i := range clamped.Payouts {
		was := full.Payouts[i].Amount + full.Payouts[i].Dust
		now := clamped.Payouts[i].Amount + clamped.Payouts[i].Dust
		clamped.Payouts[i].CapWithheld = was - now
		if clamped.CapWithheld, err = Add(clamped.CapWithheld, was-now); err != nil {
			return nil, err
		}
	}
	if after, err = Add(in.Distributed, clamped.TotalPaid); err != nil {
		return nil, err
	}
	if after > capacity {
		return nil, ErrDailyCapExceeded
	}
	return clamped, nil
}

func price(locks []Lock, pool, lockedTotal, minPayout uint64) (*PageResult, error) {
	res := &PageResult{Payouts: make([]Payout, 0, len(locks))}
	weights := make([]uint64, 0, len(locks))
	for _, l := range locks {
		w, err := Weight(l.Locked, lockedTotal)
		if err != nil {
			return nil, err
		}
		weights = append(weights, w)
		amount, err := Share(pool, w)
		if err != nil {
			return nil, err
		}
		p := Payout{Investor: l.Investor, Locked: l.Locked, Weight: w}
		if amount < minPayout {
			p.Dust = amount
			if res.Dust, err = Add(res.Dust, amount); err != nil {
				return nil, err
			}
		} else {
			p.Amount = amount
			if res.TotalPaid, err = Add(res.TotalPaid, amount); err != nil {
				return nil, err
			}
		}
		res.Payouts = append(res.Payouts, p)
	}
	if err := VerifyWeightSum(weights); err != nil {
		return nil, err
	}
	return res, nil
}

// CloseInput carries the epoch totals at the moment the investor set is
// exhausted.
type CloseInput struct {
	Distributable uint64 // epoch claim plus rollover
	InvestorPaid  uint64
	Dust          uint64
	CapWithheld   uint64
	Distributed   uint64
	DailyCap      *uint64
}

// CloseResult is the creator's share of an epoch.
type CloseResult struct {
	CreatorPayout uint64
	CapWithheld   uint64 // creator amount the cap kept back
}

// CreatorRemainder returns what is left for the creator after every
// investor page: the creator portion plus the rounding residue of the
// investor pool, clamped to whatever the daily cap still allows.
func CreatorRemainder(in CloseInput) (CloseResult, error) {
	spent, err := Sum(in.InvestorPaid, in.Dust, in.CapWithheld)
	if err != nil {
		return CloseResult{}, err
	}
	if spent > in.Distributable {
		return CloseResult{}, ErrRemainderUnderflow
	}
	due := in.Distributable - spent
	if in.DailyCap == nil {
		return CloseResult{CreatorPayout: due}, nil
	}
	if in.Distributed > *in.DailyCap {
		return CloseResult{}, ErrDailyCapExceeded
	}
	pay := min(due, *in.DailyCap-in.Distributed)
	return CloseResult{CreatorPayout: pay, CapWithheld: due - pay}, nil
}
