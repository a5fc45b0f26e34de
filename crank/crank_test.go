package crank

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/feerouter-go/distribution"
	"github.com/bitfsorg/feerouter-go/errs"
	"github.com/bitfsorg/feerouter-go/feeclaim"
	"github.com/bitfsorg/feerouter-go/policy"
	"github.com/bitfsorg/feerouter-go/progress"
	"github.com/bitfsorg/feerouter-go/store"
	"github.com/bitfsorg/feerouter-go/timing"
	"github.com/bitfsorg/feerouter-go/vesting"
)

const T = int64(1_700_000_000)

var (
	streamA = policy.StreamID{0xa1}
	streamB = policy.StreamID{0xb2}
	quote   = policy.CurrencyID{0xc0}
	creator = policy.AccountID{0xee}
)

type fixture struct {
	t        *testing.T
	clock    *clockwork.FakeClock
	store    store.Store
	ledger   *feeclaim.Ledger
	registry *vesting.Registry
	engine   *distribution.Engine
	xfer     *MockTransferer
}

func newFixture(t *testing.T, s store.Store) *fixture {
	t.Helper()
	if s == nil {
		s = store.NewMemStore()
	}
	f := &fixture{
		t:        t,
		clock:    clockwork.NewFakeClockAt(time.Unix(T, 0)),
		store:    s,
		ledger:   feeclaim.NewLedger(),
		registry: vesting.NewRegistry(),
		xfer:     &MockTransferer{},
	}
	eng, err := distribution.New(distribution.Config{
		Store:  s,
		Fees:   f.ledger,
		Oracle: f.registry,
	})
	require.NoError(t, err)
	f.engine = eng
	return f
}

// addStream initializes stream with n fully locked investors of 100,000
// each and accrues claim.
func (f *fixture) addStream(stream policy.StreamID, n int, claim uint64) {
	f.t.Helper()
	f.registry.Put(stream, book(f.t, n))
	_, _, err := f.engine.Initialize(context.Background(), policy.Policy{
		StreamID:            stream,
		QuoteCurrency:       quote,
		CreatorPayoutTarget: creator,
		InvestorFeeShareBps: 7000,
		MinPayout:           1000,
		Y0TotalAllocation:   1_000_000,
	})
	require.NoError(f.t, err)
	require.NoError(f.t, f.ledger.Accrue(stream, quote, claim))
}

func book(t *testing.T, n int) *vesting.Book {
	b := vesting.NewBook(quote)
	for i := 0; i < n; i++ {
		require.NoError(t, b.Add(vesting.Schedule{
			Recipient: policy.InvestorID{0x10, byte(i)},
			Mint:      quote,
			Deposited: 100_000,
			Start:     T + 10_000_000,
			End:       T + 20_000_000,
		}))
	}
	return b
}

func (f *fixture) runner(mutate func(*Config)) *Runner {
	f.t.Helper()
	cfg := Config{
		Engine:    f.engine,
		Investors: f.registry,
		Transfers: f.xfer,
		Clock:     f.clock,
		PageSize:  2,
		Retry:     RetryConfig{MaxAttempts: 3},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) state(stream policy.StreamID) *progress.State {
	f.t.Helper()
	rec, err := f.store.Load(context.Background(), stream)
	require.NoError(f.t, err)
	return rec.State
}

func TestRunEpoch(t *testing.T) {
	f := newFixture(t, nil)
	f.addStream(streamA, 5, 100_000)

	rep, err := f.runner(nil).RunEpoch(context.Background(), streamA)
	require.NoError(t, err)

	// 500k of 1M locked caps the investor share at 50%.
	assert.Equal(t, 3, rep.Steps)
	assert.True(t, rep.Started)
	assert.True(t, rep.Closed)
	assert.False(t, rep.Idle)
	assert.Equal(t, uint64(1), rep.Epoch)
	assert.Equal(t, uint64(50_000), rep.InvestorPaid)
	assert.Equal(t, uint64(50_000), rep.CreatorPaid)
	assert.Equal(t, 6, rep.Transfers)
	assert.NotEqual(t, uuid.Nil, rep.RunID)

	transfers := f.xfer.Transfers()
	require.Len(t, transfers, 6)
	for _, tr := range transfers[:5] {
		assert.Equal(t, uint64(10_000), tr.Amount)
		assert.False(t, tr.Creator)
	}
	assert.True(t, transfers[5].Creator)
	assert.Equal(t, creator, transfers[5].To)

	st := f.state(streamA)
	assert.True(t, st.EpochComplete)
	assert.Equal(t, uint32(5), st.Cursor)
	assert.Equal(t, uint64(100_000), st.EpochDistributed)
}

func TestRunEpochIdleDuringCooldown(t *testing.T) {
	f := newFixture(t, nil)
	f.addStream(streamA, 3, 60_000)
	r := f.runner(nil)
	ctx := context.Background()

	_, err := r.RunEpoch(ctx, streamA)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	rep, err := r.RunEpoch(ctx, streamA)
	require.NoError(t, err)
	assert.True(t, rep.Idle)
	assert.Zero(t, rep.Steps)
	assert.Equal(t, T+timing.EpochDuration, rep.NextEpochAt)

	f.clock.Advance(23 * time.Hour)
	require.NoError(t, f.ledger.Accrue(streamA, quote, 30_000))
	rep, err = r.RunEpoch(ctx, streamA)
	require.NoError(t, err)
	assert.True(t, rep.Started)
	assert.True(t, rep.Closed)
	assert.Equal(t, uint64(2), rep.Epoch)
	assert.Equal(t, uint64(30_000), rep.InvestorPaid+rep.CreatorPaid)
}

func TestRunEpochResumesOpenEpoch(t *testing.T) {
	f := newFixture(t, nil)
	f.addStream(streamA, 5, 100_000)
	ctx := context.Background()

	all, err := f.registry.Investors(ctx, streamA)
	require.NoError(t, err)
	locked, err := f.registry.LockedTotal(ctx, streamA, T)
	require.NoError(t, err)
	_, err = f.engine.Step(ctx, distribution.StepRequest{
		Stream:        streamA,
		Now:           T,
		Investors:     all[:2],
		PageSize:      2,
		LockedTotal:   locked,
		InvestorCount: uint32(len(all)),
	})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	rep, err := f.runner(nil).RunEpoch(ctx, streamA)
	require.NoError(t, err)
	assert.False(t, rep.Started)
	assert.True(t, rep.Closed)
	assert.Equal(t, 2, rep.Steps)
	assert.Equal(t, uint64(30_000), rep.InvestorPaid)
	assert.Equal(t, uint64(50_000), rep.CreatorPaid)
}

// conflictStore fails the first n compare-and-swaps with a version conflict.
type conflictStore struct {
	store.Store
	failures atomic.Int32
}

func (s *conflictStore) CompareAndSwap(ctx context.Context, stream policy.StreamID, expected uint64, st *progress.State) (uint64, error) {
	if s.failures.Add(-1) >= 0 {
		return 0, store.ErrVersionConflict
	}
	return s.Store.CompareAndSwap(ctx, stream, expected, st)
}

func TestRunEpochRetriesConflicts(t *testing.T) {
	cs := &conflictStore{Store: store.NewMemStore()}
	cs.failures.Store(2)
	f := newFixture(t, cs)
	f.addStream(streamA, 5, 100_000)

	rep, err := f.runner(nil).RunEpoch(context.Background(), streamA)
	require.NoError(t, err)
	assert.True(t, rep.Closed)
	assert.Equal(t, 3, rep.Steps)
	assert.Equal(t, uint64(100_000), rep.InvestorPaid+rep.CreatorPaid)
}

func TestRunEpochGivesUpAfterRetries(t *testing.T) {
	cs := &conflictStore{Store: store.NewMemStore()}
	cs.failures.Store(100)
	f := newFixture(t, cs)
	f.addStream(streamA, 2, 10_000)

	_, err := f.runner(nil).RunEpoch(context.Background(), streamA)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRunEpochInvestorSetShrank(t *testing.T) {
	f := newFixture(t, nil)
	f.addStream(streamA, 5, 100_000)
	ctx := context.Background()

	all, err := f.registry.Investors(ctx, streamA)
	require.NoError(t, err)
	_, err = f.engine.Step(ctx, distribution.StepRequest{
		Stream:        streamA,
		Now:           T,
		Investors:     all[:2],
		PageSize:      2,
		LockedTotal:   500_000,
		InvestorCount: 5,
	})
	require.NoError(t, err)

	f.registry.Put(streamA, book(t, 3))
	_, err = f.runner(nil).RunEpoch(ctx, streamA)
	assert.ErrorIs(t, err, ErrInvestorSetChanged)
	assert.Equal(t, uint32(2), f.state(streamA).Cursor)
}

func TestRunEpochTransferFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.addStream(streamA, 2, 10_000)

	var calls atomic.Int32
	f.xfer.ExecuteFn = func(context.Context, []distribution.Transfer) error {
		if calls.Add(1) == 1 {
			return errs.ErrExternalData.New("executor busy")
		}
		return nil
	}
	rep, err := f.runner(nil).RunEpoch(context.Background(), streamA)
	require.NoError(t, err)
	assert.True(t, rep.Closed)
	assert.Len(t, f.xfer.Transfers(), rep.Transfers)
	assert.Empty(t, f.state(streamA).Outbox)

	g := newFixture(t, nil)
	g.addStream(streamA, 2, 10_000)
	g.xfer.ExecuteFn = func(context.Context, []distribution.Transfer) error {
		return errors.New("signer offline")
	}
	r := g.runner(nil)
	rep, err = r.RunEpoch(context.Background(), streamA)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signer offline")
	assert.Contains(t, err.Error(), "after 3 attempts")
	// the step itself committed and its transfers stay queued
	st := g.state(streamA)
	assert.True(t, st.EpochComplete)
	assert.Len(t, st.Outbox, 3)
	assert.Equal(t, 3, rep.Transfers)
	assert.Empty(t, g.xfer.Transfers())

	g.xfer.ExecuteFn = nil
	rep, err = r.RunEpoch(context.Background(), streamA)
	require.NoError(t, err)
	assert.True(t, rep.Idle)
	assert.Len(t, g.xfer.Transfers(), 3)
	assert.Empty(t, g.state(streamA).Outbox)
}

func TestRunEpochRecoversPayoutsAfterExecutorOutage(t *testing.T) {
	f := newFixture(t, nil)
	f.addStream(streamA, 4, 100_000)
	r := f.runner(nil)
	ctx := context.Background()

	var calls atomic.Int32
	f.xfer.ExecuteFn = func(context.Context, []distribution.Transfer) error {
		if calls.Add(1) <= 3 {
			return errors.New("rpc timeout")
		}
		return nil
	}
	rep, err := r.RunEpoch(ctx, streamA)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc timeout")
	assert.Equal(t, 1, rep.Steps)
	assert.Len(t, f.state(streamA).Outbox, 2)

	rep, err = r.RunEpoch(ctx, streamA)
	require.NoError(t, err)
	assert.True(t, rep.Closed)

	var executed uint64
	for _, tr := range f.xfer.Transfers() {
		executed += tr.Amount
	}
	st := f.state(streamA)
	assert.Equal(t, st.EpochDistributed, executed)
	assert.Equal(t, uint64(100_000), executed)
	assert.Len(t, f.xfer.Transfers(), 5)
	assert.Empty(t, st.Outbox)
}

func TestRunEpochSingleTransientTransferFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.addStream(streamA, 4, 100_000)

	var calls atomic.Int32
	f.xfer.ExecuteFn = func(context.Context, []distribution.Transfer) error {
		if calls.Add(1) == 1 {
			return errors.New("rpc timeout")
		}
		return nil
	}
	rep, err := f.runner(nil).RunEpoch(context.Background(), streamA)
	require.NoError(t, err)
	assert.True(t, rep.Closed)
	assert.Len(t, f.xfer.Transfers(), 5)
	assert.Empty(t, f.state(streamA).Outbox)
}

func TestRunEpochSweepsDust(t *testing.T) {
	f := newFixture(t, nil)
	// 400k of 1M locked: a 1,800 pool split 450 each, all below the minimum.
	f.addStream(streamA, 4, 4_500)
	r := f.runner(nil)
	ctx := context.Background()

	rep, err := r.RunEpoch(ctx, streamA)
	require.NoError(t, err)
	assert.True(t, rep.Closed)
	assert.Zero(t, rep.InvestorPaid)
	assert.Equal(t, uint64(2_700), rep.CreatorPaid)
	assert.Equal(t, uint64(1_000), rep.DustSwept)
	assert.Equal(t, 2, rep.Transfers)

	transfers := f.xfer.Transfers()
	require.Len(t, transfers, 2)
	assert.Equal(t, distribution.DustTransferID(streamA, 1, creator), transfers[1].ID)
	assert.Equal(t, uint64(1_000), transfers[1].Amount)

	st := f.state(streamA)
	assert.Equal(t, uint64(800), st.CarryOverDust)
	assert.Equal(t, uint64(3_700), st.EpochDistributed)
	assert.Empty(t, st.Outbox)

	f.clock.Advance(time.Hour)
	rep, err = r.RunEpoch(ctx, streamA)
	require.NoError(t, err)
	assert.True(t, rep.Idle)
	assert.Zero(t, rep.DustSwept)
	assert.Len(t, f.xfer.Transfers(), 2)
}

func TestRunAll(t *testing.T) {
	f := newFixture(t, nil)
	f.addStream(streamA, 5, 100_000)
	f.addStream(streamB, 3, 40_000)
	missing := policy.StreamID{0xdd}

	reports, err := f.runner(func(c *Config) {
		c.MaxParallel = 2
		c.StepsPerSecond = 1000
	}).RunAll(context.Background(), []policy.StreamID{streamA, streamB, missing})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	require.Len(t, reports, 3)

	assert.True(t, reports[0].Closed)
	assert.Equal(t, streamA, reports[0].Stream)
	assert.True(t, reports[1].Closed)
	assert.Equal(t, uint64(40_000), reports[1].InvestorPaid+reports[1].CreatorPaid)
	assert.False(t, reports[2].Closed)
}

func TestServe(t *testing.T) {
	f := newFixture(t, nil)
	f.addStream(streamA, 3, 30_000)
	r := f.runner(func(c *Config) { c.Interval = 24 * time.Hour })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return f.state(streamA).Epoch == 1 && f.state(streamA).EpochComplete
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.ledger.Accrue(streamA, quote, 9_000))
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(24 * time.Hour)
	require.Eventually(t, func() bool {
		return f.state(streamA).Epoch == 2 && f.state(streamA).EpochComplete
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestConfigValidate(t *testing.T) {
	f := newFixture(t, nil)
	_, err := New(Config{Investors: f.registry, PageSize: 2})
	assert.Error(t, err)
	_, err = New(Config{Engine: f.engine, PageSize: 2})
	assert.Error(t, err)
	_, err = New(Config{Engine: f.engine, Investors: f.registry, PageSize: 51})
	assert.ErrorIs(t, err, errs.ErrValidation)

	r, err := New(Config{Engine: f.engine, Investors: f.registry, PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, DefaultRetryConfig(), r.cfg.Retry)
	assert.Equal(t, 1, r.cfg.MaxParallel)
	assert.Nil(t, r.limiter)
}

func TestBackoff(t *testing.T) {
	assert.Zero(t, backoff(0, time.Second, 3))
	for attempt := 1; attempt < 40; attempt++ {
		d := backoff(100*time.Millisecond, 2*time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 2*time.Second)
	}
	assert.True(t, Retryable(store.ErrVersionConflict))
	assert.True(t, Retryable(errs.ErrCursor.New("behind")))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(timing.ErrCooldownNotElapsed))
	assert.True(t, Retryable(ErrInvestorSetChanged))

	assert.True(t, TransferRetryable(errors.New("rpc timeout")))
	assert.True(t, TransferRetryable(errs.ErrExternalData.New("busy")))
	assert.False(t, TransferRetryable(errs.ErrValidation.New("bad account")))
	assert.False(t, TransferRetryable(context.Canceled))
}
