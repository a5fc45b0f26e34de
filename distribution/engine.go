// Package distribution runs the fee distribution state machine. Each Step is
// one atomic transition of a stream: it either commits through a single
// compare-and-swap or leaves the stored state untouched.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/bitfsorg/feerouter-go/address"
	"github.com/bitfsorg/feerouter-go/allocation"
	"github.com/bitfsorg/feerouter-go/errs"
	"github.com/bitfsorg/feerouter-go/feeclaim"
	"github.com/bitfsorg/feerouter-go/metrics"
	"github.com/bitfsorg/feerouter-go/pagination"
	"github.com/bitfsorg/feerouter-go/policy"
	"github.com/bitfsorg/feerouter-go/progress"
	"github.com/bitfsorg/feerouter-go/store"
	"github.com/bitfsorg/feerouter-go/timing"
	"github.com/bitfsorg/feerouter-go/vesting"
)

// Config wires an Engine to its collaborators.
type Config struct {
	Store     store.Store
	Fees      feeclaim.Source
	Oracle    vesting.Oracle
	Sink      EventSink        // optional
	Addresses *address.Deriver // optional, default program when nil
	Logger    *slog.Logger     // optional
}

func (cfg *Config) Validate() error {
	if cfg.Store == nil {
		return errors.New("distribution: store is required")
	}
	if cfg.Fees == nil {
		return errors.New("distribution: fee source is required")
	}
	if cfg.Oracle == nil {
		return errors.New("distribution: vesting oracle is required")
	}
	if cfg.Addresses == nil {
		cfg.Addresses = address.NewDeriver(address.DefaultProgramID)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return nil
}

// Engine executes distribution steps. It holds no per-stream state; any
// number of engines may drive the same stream through a shared store.
type Engine struct {
	cfg Config
	log *slog.Logger
}

// New returns an Engine for cfg.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, log: cfg.Logger}, nil
}

// Addresses returns the deriver the engine checks record addresses with.
func (e *Engine) Addresses() *address.Deriver { return e.cfg.Addresses }

// Initialize validates p and creates the stream's policy and state records.
func (e *Engine) Initialize(ctx context.Context, p policy.Policy) (*policy.Policy, *progress.State, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	st := progress.New(p.StreamID)
	if err := e.cfg.Store.Create(ctx, &p, st); err != nil {
		return nil, nil, err
	}
	e.log.Info("stream initialized",
		"stream", p.StreamID,
		"fee_share_bps", p.InvestorFeeShareBps,
		"min_payout", p.MinPayout,
		"y0", p.Y0TotalAllocation)
	if limit, ok := p.Cap(); ok {
		e.log.Info("stream daily cap", "stream", p.StreamID, "daily_cap", limit)
	}
	return p.Clone(), st.Clone(), nil
}

// State returns the stored records of stream.
func (e *Engine) State(ctx context.Context, stream policy.StreamID) (*store.Record, error) {
	return e.cfg.Store.Load(ctx, stream)
}

// StepRequest is one caller's attempt to advance a stream.
type StepRequest struct {
	Stream    policy.StreamID
	Now       int64 // unix seconds
	Investors []policy.InvestorID
	PageSize  uint32
	Cursor    *uint32 // nil continues from the stored cursor

	// Investor set snapshot, read only when the step starts an epoch.
	LockedTotal   uint64
	InvestorCount uint32

	// StateAddress, when set, must match the derived state address.
	StateAddress *solana.PublicKey
}

// StepResult describes what a step committed.
type StepResult struct {
	Stream        policy.StreamID
	Epoch         uint64
	Decision      timing.Decision
	Status        pagination.Status
	PageStart     uint32
	PageEnd       uint32
	Payouts       []allocation.Payout
	Transfers     []Transfer
	CreatorPayout uint64
	EpochClosed   bool
	State         *progress.State
	Version       uint64
	Events        []Event
}

// Step performs one transition: timing gate, optional epoch start with fee
// claim, cursor check, page pricing, optional epoch close, then a single
// compare-and-swap. Events reach the sink only after the swap committed.
func (e *Engine) Step(ctx context.Context, req StepRequest) (res *StepResult, err error) {
	began := time.Now()
	defer func() {
		metrics.StepDuration.Observe(time.Since(began).Seconds())
		metrics.StepsTotal.WithLabelValues(stepOutcome(res, err)).Inc()
	}()

	if req.StateAddress != nil {
		if err := e.cfg.Addresses.Verify(address.SeedProgress, req.Stream, *req.StateAddress); err != nil {
			return nil, err
		}
	}
	rec, err := e.cfg.Store.Load(ctx, req.Stream)
	if err != nil {
		return nil, err
	}
	pol, st := rec.Policy, rec.State.Clone()

	verdict := timing.Evaluate(req.Now, st)
	if req.Cursor != nil && *req.Cursor < st.Cursor && verdict.Decision != timing.StartNewEpoch {
		e.log.Debug("page already processed", "stream", req.Stream, "requested", *req.Cursor, "cursor", st.Cursor)
		return &StepResult{
			Stream:    req.Stream,
			Epoch:     st.Epoch,
			Decision:  verdict.Decision,
			Status:    pagination.AlreadyProcessed,
			PageStart: *req.Cursor,
			PageEnd:   *req.Cursor,
			State:     st,
			Version:   rec.Version,
		}, nil
	}
	if verdict.Decision == timing.Blocked {
		return nil, verdict.Err
	}
	starting := verdict.Decision == timing.StartNewEpoch

	cursor, count := st.Cursor, st.InvestorCount
	var last *policy.InvestorID
	if starting {
		cursor, count = 0, req.InvestorCount
	} else if st.Cursor > 0 {
		last = &st.LastInvestor
	}
	requested := cursor
	if req.Cursor != nil {
		requested = *req.Cursor
	}
	if _, err := pagination.Check(requested, cursor); err != nil {
		return nil, err
	}
	page := pagination.Page{Start: cursor, Size: req.PageSize, Investors: req.Investors, InvestorCount: count, Last: last}
	if err := page.Validate(); err != nil {
		return nil, err
	}
	locks, err := e.locks(ctx, req.Stream, req.Investors, req.Now)
	if err != nil {
		return nil, err
	}

	var events []Event
	if starting {
		ev, err := e.startEpoch(ctx, pol, st, req)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	distributable, err := st.Distributable()
	if err != nil {
		return nil, err
	}
	priced, err := allocation.ComputePage(allocation.PageInput{
		Locks:         locks,
		Distributable: distributable,
		InvestorPool:  st.EpochInvestorPool,
		LockedTotal:   st.EpochLockedTotal,
		LockedSeen:    st.EpochLockedSeen,
		Y0:            pol.Y0TotalAllocation,
		FeeShareBps:   pol.InvestorFeeShareBps,
		MinPayout:     pol.MinPayout,
		Distributed:   st.EpochDistributed,
		DailyCap:      pol.DailyCap,
	})
	if err != nil {
		return nil, err
	}
	totals := progress.PageTotals{
		Count:       uint32(len(locks)),
		Paid:        priced.TotalPaid,
		Dust:        priced.Dust,
		CapWithheld: priced.CapWithheld,
		Locked:      priced.PageLocked,
	}
	if len(locks) > 0 {
		totals.LastInvestor = locks[len(locks)-1].Investor
	}
	if err := st.ApplyPage(totals, pol.DailyCap); err != nil {
		return nil, err
	}

	treasury, err := e.cfg.Addresses.Treasury(req.Stream)
	if err != nil {
		return nil, err
	}
	res = &StepResult{
		Stream:    req.Stream,
		Epoch:     st.Epoch,
		Decision:  verdict.Decision,
		Status:    pagination.Accepted,
		PageStart: cursor,
		PageEnd:   st.Cursor,
		Payouts:   priced.Payouts,
	}
	for _, p := range priced.Payouts {
		if p.Amount == 0 {
			continue
		}
		res.Transfers = append(res.Transfers, Transfer{
			ID:     InvestorTransferID(req.Stream, st.Epoch, cursor, p.Investor),
			Stream: req.Stream,
			Epoch:  st.Epoch,
			From:   treasury.Key,
			To:     policy.AccountID(p.Investor),
			Amount: p.Amount,
		})
	}
	if len(locks) > 0 {
		events = append(events, InvestorPageProcessed{
			StreamID:       req.Stream,
			Epoch:          st.Epoch,
			PageStart:      cursor,
			PageEnd:        st.Cursor,
			TotalPaid:      priced.TotalPaid,
			RecipientCount: priced.Recipients(),
			DustWithheld:   priced.Dust,
			CapWithheld:    priced.CapWithheld,
			Timestamp:      req.Now,
		})
	}

	if st.Remaining() == 0 {
		closing, err := allocation.CreatorRemainder(allocation.CloseInput{
			Distributable: distributable,
			InvestorPaid:  st.EpochInvestorPaid,
			Dust:          st.EpochDust,
			CapWithheld:   st.EpochCapWithheld,
			Distributed:   st.EpochDistributed,
			DailyCap:      pol.DailyCap,
		})
		if err != nil {
			return nil, err
		}
		if err := st.Close(closing.CreatorPayout, closing.CapWithheld, pol.DailyCap); err != nil {
			return nil, err
		}
		res.CreatorPayout = closing.CreatorPayout
		res.EpochClosed = true
		if closing.CreatorPayout > 0 {
			res.Transfers = append(res.Transfers, Transfer{
				ID:      CreatorTransferID(req.Stream, st.Epoch, pol.CreatorPayoutTarget),
				Stream:  req.Stream,
				Epoch:   st.Epoch,
				From:    treasury.Key,
				To:      pol.CreatorPayoutTarget,
				Creator: true,
				Amount:  closing.CreatorPayout,
			})
		}
		events = append(events, EpochClosed{
			StreamID:              req.Stream,
			Epoch:                 st.Epoch,
			CreatorPayout:         closing.CreatorPayout,
			TotalEpochDistributed: st.EpochDistributed,
			InvestorsProcessed:    st.Cursor,
			CarryOverDust:         st.CarryOverDust,
			Timestamp:             req.Now,
		})
	}

	st.Enqueue(res.Transfers...)
	version, err := e.cfg.Store.CompareAndSwap(ctx, req.Stream, rec.Version, st)
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			e.log.Warn("step lost compare-and-swap", "stream", req.Stream, "version", rec.Version)
		}
		return nil, err
	}
	res.State = st
	res.Version = version
	res.Events = events
	e.record(res, priced)
	e.publish(ctx, events)

	e.log.Debug("step committed",
		"stream", req.Stream,
		"epoch", st.Epoch,
		"page_start", res.PageStart,
		"page_end", res.PageEnd,
		"paid", priced.TotalPaid,
		"closed", res.EpochClosed,
		"version", version)
	return res, nil
}

func (e *Engine) startEpoch(ctx context.Context, pol *policy.Policy, st *progress.State, req StepRequest) (Event, error) {
	claim, err := feeclaim.NewQuoteOnly(e.cfg.Fees, pol.QuoteCurrency).Claim(ctx, feeclaim.EpochKey{
		Stream: req.Stream,
		Epoch:  st.Epoch + 1,
		Start:  req.Now,
	})
	if err != nil {
		return nil, err
	}
	rollover := st.PendingRollover
	distributable, err := allocation.Add(claim.Quote, rollover)
	if err != nil {
		return nil, err
	}
	split, err := allocation.ComputeSplit(distributable, req.LockedTotal, pol.Y0TotalAllocation, pol.InvestorFeeShareBps)
	if err != nil {
		return nil, err
	}
	err = st.StartEpoch(progress.EpochStart{
		Now:           req.Now,
		Claimed:       claim.Quote,
		LockedTotal:   req.LockedTotal,
		InvestorPool:  split.InvestorPortion,
		InvestorCount: req.InvestorCount,
	})
	if err != nil {
		return nil, err
	}
	return EpochStarted{
		StreamID:      req.Stream,
		Epoch:         st.Epoch,
		ClaimedAmount: claim.Quote,
		Rollover:      rollover,
		Timestamp:     req.Now,
	}, nil
}

// locks asks the oracle for every investor on the page. Oracle failures that
// carry no kind are reported as external data errors.
func (e *Engine) locks(ctx context.Context, stream policy.StreamID, investors []policy.InvestorID, now int64) ([]allocation.Lock, error) {
	out := make([]allocation.Lock, 0, len(investors))
	for _, id := range investors {
		locked, err := e.cfg.Oracle.LockedAmount(ctx, stream, id, now)
		if err != nil {
			if errs.KindOf(err) == nil && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: vesting oracle: investor %s: %w", errs.ErrExternalData, id, err)
			}
			return nil, err
		}
		out = append(out, allocation.Lock{Investor: id, Locked: locked})
	}
	return out, nil
}

func (e *Engine) publish(ctx context.Context, events []Event) {
	if e.cfg.Sink == nil || len(events) == 0 {
		return
	}
	if err := e.cfg.Sink.Publish(ctx, events); err != nil {
		e.log.Error("event sink failed", "events", len(events), "error", err)
	}
}

func (e *Engine) record(res *StepResult, priced *allocation.PageResult) {
	if res.Decision == timing.StartNewEpoch {
		metrics.EpochsStartedTotal.Inc()
		metrics.FeesClaimedTotal.Add(float64(res.State.EpochClaimed))
		e.log.Info("epoch started",
			"stream", res.Stream,
			"epoch", res.Epoch,
			"claimed", res.State.EpochClaimed,
			"rollover", res.State.EpochRollover,
			"investors", res.State.InvestorCount)
	}
	metrics.AmountPaidTotal.WithLabelValues("investor").Add(float64(priced.TotalPaid))
	metrics.DustWithheldTotal.Add(float64(priced.Dust))
	metrics.CapWithheldTotal.Add(float64(priced.CapWithheld))
	if res.EpochClosed {
		metrics.EpochsClosedTotal.Inc()
		metrics.AmountPaidTotal.WithLabelValues("creator").Add(float64(res.CreatorPayout))
		e.log.Info("epoch closed",
			"stream", res.Stream,
			"epoch", res.Epoch,
			"creator_payout", res.CreatorPayout,
			"distributed", res.State.EpochDistributed,
			"carry_over_dust", res.State.CarryOverDust,
			"rollover", res.State.PendingRollover)
	}
}

func stepOutcome(res *StepResult, err error) string {
	if err != nil {
		return errs.Name(err)
	}
	if res != nil && res.Status == pagination.AlreadyProcessed {
		return "already_processed"
	}
	return "committed"
}

// Streams lists every initialized stream.
func (e *Engine) Streams(ctx context.Context) ([]policy.StreamID, error) {
	return e.cfg.Store.List(ctx)
}

// Pending returns the committed transfers of stream that were not yet
// acknowledged as executed.
func (e *Engine) Pending(ctx context.Context, stream policy.StreamID) ([]Transfer, error) {
	rec, err := e.cfg.Store.Load(ctx, stream)
	if err != nil {
		return nil, err
	}
	return rec.State.Pending(), nil
}

// Acknowledge removes executed transfers from stream's outbox. Ids that are
// not queued are ignored, so acknowledging twice is harmless.
func (e *Engine) Acknowledge(ctx context.Context, stream policy.StreamID, ids ...TransferID) error {
	rec, err := e.cfg.Store.Load(ctx, stream)
	if err != nil {
		return err
	}
	st := rec.State.Clone()
	if st.Acknowledge(ids...) == 0 {
		return nil
	}
	if _, err := e.cfg.Store.CompareAndSwap(ctx, stream, rec.Version, st); err != nil {
		return err
	}
	e.log.Debug("transfers acknowledged", "stream", stream, "count", len(ids), "pending", len(st.Outbox))
	return nil
}

// SweepResult describes a dust sweep. Transfer is nil when nothing was swept.
type SweepResult struct {
	Stream   policy.StreamID
	Epoch    uint64
	Amount   uint64
	Transfer *Transfer
	State    *progress.State
	Version  uint64
}

// SweepDust pays the payable part of stream's carry-over dust to the creator
// after the current epoch closed. It commits at most once per epoch.
func (e *Engine) SweepDust(ctx context.Context, stream policy.StreamID, now int64) (*SweepResult, error) {
	rec, err := e.cfg.Store.Load(ctx, stream)
	if err != nil {
		return nil, err
	}
	pol, st := rec.Policy, rec.State.Clone()
	amount, err := st.SweepDust(pol.MinPayout, pol.DailyCap)
	if err != nil {
		return nil, err
	}
	res := &SweepResult{Stream: stream, Epoch: st.Epoch, State: st, Version: rec.Version}
	if amount == 0 {
		return res, nil
	}
	treasury, err := e.cfg.Addresses.Treasury(stream)
	if err != nil {
		return nil, err
	}
	tr := Transfer{
		ID:      DustTransferID(stream, st.Epoch, pol.CreatorPayoutTarget),
		Stream:  stream,
		Epoch:   st.Epoch,
		From:    treasury.Key,
		To:      pol.CreatorPayoutTarget,
		Creator: true,
		Amount:  amount,
	}
	st.Enqueue(tr)
	version, err := e.cfg.Store.CompareAndSwap(ctx, stream, rec.Version, st)
	if err != nil {
		return nil, err
	}
	res.Amount = amount
	res.Transfer = &tr
	res.Version = version
	metrics.AmountPaidTotal.WithLabelValues("dust").Add(float64(amount))
	e.log.Info("dust swept", "stream", stream, "epoch", st.Epoch, "amount", amount, "carry_over_dust", st.CarryOverDust)
	e.publish(ctx, []Event{DustSwept{
		StreamID:      stream,
		Epoch:         st.Epoch,
		Amount:        amount,
		CarryOverDust: st.CarryOverDust,
		Timestamp:     now,
	}})
	return res, nil
}
