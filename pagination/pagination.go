// Package pagination implements the idempotent cursor protocol that lets
// many uncoordinated callers walk one investor set.
package pagination

import "github.com/bitfsorg/feerouter-go/policy"

// MaxPageSize is the largest number of investors one step may process.
const MaxPageSize = 50

// Status is the outcome of a cursor check.
type Status int

const (
	Accepted Status = iota
	AlreadyProcessed
	Rejected
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case AlreadyProcessed:
		return "already-processed"
	default:
		return "rejected"
	}
}

// Check compares a caller's cursor with the stored one. A cursor behind the
// stored one is a replay and must be treated as a no-op success.
func Check(requested, current uint32) (Status, error) {
	switch {
	case requested < current:
		return AlreadyProcessed, nil
	case requested == current:
		return Accepted, nil
	default:
		return Rejected, &CursorError{Requested: requested, Current: current}
	}
}

// Page is a caller-supplied slice of the epoch's investor set.
type Page struct {
	Start         uint32
	Size          uint32 // requested page size
	Investors     []policy.InvestorID
	InvestorCount uint32
	Last          *policy.InvestorID // last investor processed this epoch, nil at cursor 0
}

// End returns the cursor after the page.
func (p Page) End() uint32 { return p.Start + uint32(len(p.Investors)) }

// Final reports whether the page exhausts the investor set.
func (p Page) Final() bool { return uint64(p.Start)+uint64(len(p.Investors)) == uint64(p.InvestorCount) }

// Validate checks page shape and investor ordering.
func (p Page) Validate() error {
	if p.Size == 0 || p.Size > MaxPageSize {
		return ErrInvalidPageSize
	}
	n := uint64(len(p.Investors))
	if n > uint64(p.Size) {
		return ErrPageTooLarge
	}
	if uint64(p.Start)+n > uint64(p.InvestorCount) {
		return ErrPageOutOfRange
	}
	if !p.Final() && n != uint64(p.Size) {
		return ErrShortPage
	}
	prev := p.Last
	for i := range p.Investors {
		if prev != nil && !prev.Less(p.Investors[i]) {
			return ErrInvestorOrder
		}
		prev = &p.Investors[i]
	}
	return nil
}

// Bounds returns the [start, end) ranges a set of total investors splits
// into at the given page size.
func Bounds(total, size uint32) [][2]uint32 {
	if size == 0 {
		return nil
	}
	var out [][2]uint32
	for start := uint32(0); start < total; start += size {
		out = append(out, [2]uint32{start, min(start+size, total)})
		if total-start <= size {
			break
		}
	}
	return out
}
