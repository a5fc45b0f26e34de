// Package feeclaim defines the capability that collects a stream's accrued
// fees at the start of an epoch.
package feeclaim

import (
	"context"
	"fmt"

	"github.com/bitfsorg/feerouter-go/errs"
	"github.com/bitfsorg/feerouter-go/policy"
)

var (
	// ErrBaseFeeDetected indicates a claim that yielded base-currency fees.
	ErrBaseFeeDetected = errs.ErrNonQuoteFee.New("feeclaim: base fee detected")

	// ErrCurrencyMismatch indicates a claim in a currency other than the
	// policy's quote currency.
	ErrCurrencyMismatch = errs.ErrNonQuoteFee.New("feeclaim: claim currency is not the quote currency")

	// ErrNoClaim indicates a source that returned neither a claim nor an error.
	ErrNoClaim = errs.ErrExternalData.New("feeclaim: source returned no claim")
)

// EpochKey identifies the epoch a claim belongs to. Sources should return the
// same Claim for a repeated key so a retried epoch start does not lose fees
// that were already moved.
type EpochKey struct {
	Stream policy.StreamID
	Epoch  uint64 // number of the epoch being started
	Start  int64  // unix seconds
}

// Claim is the result of collecting a stream's fees.
type Claim struct {
	Currency policy.CurrencyID
	Quote    uint64 // quote-currency amount moved to the treasury
	Base     uint64 // base-currency amount; must be zero
}

// Source collects accrued fees.
type Source interface {
	Claim(ctx context.Context, key EpochKey) (*Claim, error)
}

// Validate enforces the quote-only rule on a claim. An empty claim with no
// currency is accepted as nothing to distribute.
func Validate(c *Claim, quote policy.CurrencyID) error {
	if c == nil {
		return ErrNoClaim
	}
	if c.Base > 0 {
		return fmt.Errorf("%w: %d base units", ErrBaseFeeDetected, c.Base)
	}
	if c.Currency != quote && !(c.Currency.IsZero() && c.Quote == 0) {
		return fmt.Errorf("%w: got %s, want %s", ErrCurrencyMismatch, c.Currency, quote)
	}
	return nil
}

// QuoteOnly wraps a Source and rejects any claim that is not purely in the
// quote currency.
type QuoteOnly struct {
	src   Source
	quote policy.CurrencyID
}

// NewQuoteOnly returns src guarded by the quote-only rule.
func NewQuoteOnly(src Source, quote policy.CurrencyID) *QuoteOnly {
	return &QuoteOnly{src: src, quote: quote}
}

var _ Source = (*QuoteOnly)(nil)

// Claim delegates to the wrapped source and validates the result. Source
// failures that carry no kind are reported as external data errors.
func (q *QuoteOnly) Claim(ctx context.Context, key EpochKey) (*Claim, error) {
	c, err := q.src.Claim(ctx, key)
	if err != nil {
		if errs.KindOf(err) == nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: feeclaim: %w", errs.ErrExternalData, err)
		}
		return nil, err
	}
	if err := Validate(c, q.quote); err != nil {
		return nil, err
	}
	return c, nil
}

// MockSource is a function-field Source for tests.
type MockSource struct {
	ClaimFn func(ctx context.Context, key EpochKey) (*Claim, error)
}

var _ Source = (*MockSource)(nil)

// Claim calls ClaimFn, or returns an empty claim when it is nil.
func (m *MockSource) Claim(ctx context.Context, key EpochKey) (*Claim, error) {
	if m.ClaimFn != nil {
		return m.ClaimFn(ctx, key)
	}
	return &Claim{}, nil
}
