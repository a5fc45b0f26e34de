package feeclaim

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bitfsorg/feerouter-go/allocation"
	"github.com/bitfsorg/feerouter-go/policy"
)

type claimKey struct {
	stream policy.StreamID
	epoch  uint64
}

type accrual struct {
	currency policy.CurrencyID
	quote    uint64
	base     uint64
}

// Ledger is an in-process fee position. Fees accrue per stream and a Claim
// drains them. Claims are remembered per epoch, so claiming the same epoch
// twice returns the first result without draining again.
type Ledger struct {
	mu      sync.Mutex
	accrued map[policy.StreamID]*accrual
	claimed map[claimKey]Claim
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accrued: make(map[policy.StreamID]*accrual),
		claimed: make(map[claimKey]Claim),
	}
}

var _ Source = (*Ledger)(nil)

// Accrue adds quote fees for stream.
func (l *Ledger) Accrue(stream policy.StreamID, currency policy.CurrencyID, quote uint64) error {
	return l.add(stream, currency, quote, 0)
}

// AccrueBase adds base-currency fees for stream. Claiming them later trips
// the quote-only guard.
func (l *Ledger) AccrueBase(stream policy.StreamID, currency policy.CurrencyID, base uint64) error {
	return l.add(stream, currency, 0, base)
}

func (l *Ledger) add(stream policy.StreamID, currency policy.CurrencyID, quote, base uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accrued[stream]
	if !ok {
		a = &accrual{currency: currency}
		l.accrued[stream] = a
	}
	if a.currency != currency {
		return fmt.Errorf("%w: stream %s accrues %s", ErrCurrencyMismatch, stream, a.currency)
	}
	q, err := allocation.Add(a.quote, quote)
	if err != nil {
		return err
	}
	b, err := allocation.Add(a.base, base)
	if err != nil {
		return err
	}
	a.quote, a.base = q, b
	return nil
}

// Pending returns the unclaimed quote amount of stream.
func (l *Ledger) Pending(stream policy.StreamID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.accrued[stream]; ok {
		return a.quote
	}
	return 0
}

// Claim drains everything accrued for key.Stream.
func (l *Ledger) Claim(ctx context.Context, key EpochKey) (*Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ck := claimKey{stream: key.Stream, epoch: key.Epoch}
	if c, ok := l.claimed[ck]; ok {
		return &c, nil
	}
	c := Claim{}
	if a, ok := l.accrued[key.Stream]; ok {
		c = Claim{Currency: a.currency, Quote: a.quote, Base: a.base}
		a.quote, a.base = 0, 0
	}
	l.claimed[ck] = c
	return &c, nil
}

// ledgerFile is the YAML layout read by LoadLedgerFile.
type ledgerFile struct {
	Accruals []struct {
		Stream   policy.StreamID   `yaml:"stream"`
		Currency policy.CurrencyID `yaml:"currency"`
		Quote    uint64            `yaml:"quote"`
		Base     uint64            `yaml:"base"`
	} `yaml:"accruals"`
}

// LoadLedgerFile builds a Ledger from a YAML list of accruals.
func LoadLedgerFile(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feeclaim: read ledger: %w", err)
	}
	var f ledgerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("feeclaim: parse ledger: %w", err)
	}
	l := NewLedger()
	for _, a := range f.Accruals {
		if err := l.add(a.Stream, a.Currency, a.Quote, a.Base); err != nil {
			return nil, err
		}
	}
	return l, nil
}
