package vesting

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bitfsorg/feerouter-go/allocation"
	"github.com/bitfsorg/feerouter-go/policy"
)

// Oracle reports an investor's locked amount at a point in time.
type Oracle interface {
	LockedAmount(ctx context.Context, stream policy.StreamID, investor policy.InvestorID, asOf int64) (uint64, error)
}

// Book holds the schedules of one stream's investor set.
type Book struct {
	mint      policy.CurrencyID
	schedules map[policy.InvestorID][]Schedule
}

// NewBook returns an empty Book for mint.
func NewBook(mint policy.CurrencyID) *Book {
	return &Book{mint: mint, schedules: make(map[policy.InvestorID][]Schedule)}
}

// Add validates and records s. An investor may hold several schedules.
func (b *Book) Add(s Schedule) error {
	if err := s.Validate(b.mint); err != nil {
		return err
	}
	b.schedules[s.Recipient] = append(b.schedules[s.Recipient], s)
	return nil
}

// AddRecord decodes a binary schedule record and adds it.
func (b *Book) AddRecord(data []byte) error {
	s, err := DeserializeSchedule(data, b.mint)
	if err != nil {
		return err
	}
	b.schedules[s.Recipient] = append(b.schedules[s.Recipient], *s)
	return nil
}

// Investors returns every investor in canonical order.
func (b *Book) Investors() []policy.InvestorID {
	out := make([]policy.InvestorID, 0, len(b.schedules))
	for id := range b.schedules {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, c policy.InvestorID) int { return bytes.Compare(a[:], c[:]) })
	return out
}

// Locked sums the locked amounts of investor's schedules at asOf.
func (b *Book) Locked(investor policy.InvestorID, asOf int64) (uint64, error) {
	ss, ok := b.schedules[investor]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownInvestor, investor)
	}
	var total uint64
	for i := range ss {
		var err error
		if total, err = allocation.Add(total, ss[i].LockedAt(asOf)); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// LockedTotal sums the locked amounts of every investor at asOf.
func (b *Book) LockedTotal(asOf int64) (uint64, error) {
	var total uint64
	for id := range b.schedules {
		locked, err := b.Locked(id, asOf)
		if err != nil {
			return 0, err
		}
		if total, err = allocation.Add(total, locked); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Registry maps streams to their investor books. It serves as the Oracle and
// as the investor set source of the crank.
type Registry struct {
	mu    sync.RWMutex
	books map[policy.StreamID]*Book
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{books: make(map[policy.StreamID]*Book)}
}

var _ Oracle = (*Registry)(nil)

// Put registers book for stream, replacing any previous one.
func (r *Registry) Put(stream policy.StreamID, book *Book) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[stream] = book
}

func (r *Registry) book(stream policy.StreamID) (*Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[stream]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, stream)
	}
	return b, nil
}

// LockedAmount implements Oracle.
func (r *Registry) LockedAmount(ctx context.Context, stream policy.StreamID, investor policy.InvestorID, asOf int64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b, err := r.book(stream)
	if err != nil {
		return 0, err
	}
	return b.Locked(investor, asOf)
}

// Investors returns the ordered investor set of stream.
func (r *Registry) Investors(ctx context.Context, stream policy.StreamID) ([]policy.InvestorID, error) {
	b, err := r.book(stream)
	if err != nil {
		return nil, err
	}
	return b.Investors(), nil
}

// LockedTotal returns the locked total of stream's investor set at asOf.
func (r *Registry) LockedTotal(ctx context.Context, stream policy.StreamID, asOf int64) (uint64, error) {
	b, err := r.book(stream)
	if err != nil {
		return 0, err
	}
	return b.LockedTotal(asOf)
}

// MockOracle is a function-field Oracle for tests.
type MockOracle struct {
	LockedAmountFn func(ctx context.Context, stream policy.StreamID, investor policy.InvestorID, asOf int64) (uint64, error)
}

var _ Oracle = (*MockOracle)(nil)

// LockedAmount calls LockedAmountFn, or reports nothing locked when it is nil.
func (m *MockOracle) LockedAmount(ctx context.Context, stream policy.StreamID, investor policy.InvestorID, asOf int64) (uint64, error) {
	if m.LockedAmountFn != nil {
		return m.LockedAmountFn(ctx, stream, investor, asOf)
	}
	return 0, nil
}

// registryFile is the YAML layout read by LoadRegistryFile.
type registryFile struct {
	Streams []struct {
		Stream    policy.StreamID   `yaml:"stream"`
		Mint      policy.CurrencyID `yaml:"mint"`
		Schedules []struct {
			Recipient policy.InvestorID `yaml:"recipient"`
			Deposited uint64            `yaml:"deposited"`
			Withdrawn uint64            `yaml:"withdrawn"`
			Start     int64             `yaml:"start"`
			Cliff     int64             `yaml:"cliff"`
			End       int64             `yaml:"end"`
			ClosedAt  int64             `yaml:"closed_at"`
		} `yaml:"schedules"`
	} `yaml:"streams"`
}

// LoadRegistryFile builds a Registry from a YAML description of each
// stream's schedules.
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vesting: read registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("vesting: parse registry: %w", err)
	}
	r := NewRegistry()
	for _, st := range f.Streams {
		b := NewBook(st.Mint)
		for _, s := range st.Schedules {
			err := b.Add(Schedule{
				Recipient: s.Recipient,
				Mint:      st.Mint,
				Deposited: s.Deposited,
				Withdrawn: s.Withdrawn,
				Start:     s.Start,
				Cliff:     s.Cliff,
				End:       s.End,
				ClosedAt:  s.ClosedAt,
			})
			if err != nil {
				return nil, fmt.Errorf("vesting: stream %s: %w", st.Stream, err)
			}
		}
		r.Put(st.Stream, b)
	}
	return r, nil
}
