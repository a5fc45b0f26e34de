// Package crank drives whole distribution epochs: it builds each page from
// the stream's investor set, steps the engine until the epoch closes and
// hands committed transfers to an executor.
package crank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bitfsorg/feerouter-go/distribution"
	"github.com/bitfsorg/feerouter-go/errs"
	"github.com/bitfsorg/feerouter-go/metrics"
	"github.com/bitfsorg/feerouter-go/pagination"
	"github.com/bitfsorg/feerouter-go/policy"
	"github.com/bitfsorg/feerouter-go/timing"
)

// InvestorSet enumerates a stream's investors in canonical order and
// reports their aggregate locked amount. vesting.Registry implements it.
type InvestorSet interface {
	Investors(ctx context.Context, stream policy.StreamID) ([]policy.InvestorID, error)
	LockedTotal(ctx context.Context, stream policy.StreamID, asOf int64) (uint64, error)
}

// ErrInvestorSetChanged is returned when the investor set shrank below the
// count captured at epoch start.
var ErrInvestorSetChanged = errs.ErrExternalData.New("crank: investor set changed during epoch")

type Config struct {
	Engine    *distribution.Engine
	Investors InvestorSet
	Transfers Transferer   // optional, logs transfers when nil
	Logger    *slog.Logger // optional
	Clock     clockwork.Clock

	PageSize       uint32
	Retry          RetryConfig
	StepsPerSecond float64 // zero disables rate limiting
	MaxParallel    int
	Interval       time.Duration // Serve tick
}

func (cfg *Config) Validate() error {
	if cfg.Engine == nil {
		return errors.New("crank: engine is required")
	}
	if cfg.Investors == nil {
		return errors.New("crank: investor set is required")
	}
	if cfg.PageSize == 0 || cfg.PageSize > pagination.MaxPageSize {
		return fmt.Errorf("%w: page size %d", pagination.ErrInvalidPageSize, cfg.PageSize)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Transfers == nil {
		cfg.Transfers = LogTransferer{Logger: cfg.Logger}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return nil
}

// Runner cranks streams through the distribution engine.
type Runner struct {
	cfg     Config
	log     *slog.Logger
	limiter *rate.Limiter
}

func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, log: cfg.Logger}
	if cfg.StepsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.StepsPerSecond), 1)
	}
	return r, nil
}

// Report summarizes one RunEpoch call.
type Report struct {
	RunID        uuid.UUID
	Stream       policy.StreamID
	Epoch        uint64
	Steps        int
	Started      bool
	Closed       bool
	Idle         bool  // cooldown running, nothing was stepped
	NextEpochAt  int64 // set when Idle
	InvestorPaid uint64
	CreatorPaid  uint64
	DustSwept    uint64
	Transfers    int
}

func (r *Report) outcome() string {
	switch {
	case r.Idle:
		return "idle"
	case r.Closed:
		return "closed"
	default:
		return "partial"
	}
}

// RunEpoch steps stream until its current epoch closes. A stream whose
// cooldown is still running returns an idle report. An epoch left open by
// an earlier crash is resumed from its stored cursor.
func (r *Runner) RunEpoch(ctx context.Context, stream policy.StreamID) (rep *Report, err error) {
	rep = &Report{RunID: uuid.New(), Stream: stream}
	log := r.log.With("run", rep.RunID, "stream", stream)
	defer func() {
		if err != nil {
			metrics.CrankRunsTotal.WithLabelValues("error").Inc()
			log.Error("crank run failed", "steps", rep.Steps, "error", err)
			return
		}
		metrics.CrankRunsTotal.WithLabelValues(rep.outcome()).Inc()
	}()

	for !rep.Closed {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return rep, err
			}
		}
		res, err := r.Step(ctx, stream)
		var cooldown *timing.CooldownError
		if errors.As(err, &cooldown) {
			if rep.Steps > 0 {
				// another runner closed the epoch between our steps
				rep.Closed = true
				break
			}
			rep.Idle = true
			rep.NextEpochAt = cooldown.Now + cooldown.RetryAfter
			log.Debug("cooldown running", "next_epoch_at", rep.NextEpochAt)
			// an earlier run may have closed the epoch without sweeping
			return rep, r.sweepInto(ctx, stream, rep)
		}
		if res != nil && res.Status == pagination.Accepted {
			rep.Steps++
			rep.Epoch = res.Epoch
			rep.Started = rep.Started || res.Decision == timing.StartNewEpoch
			rep.Closed = res.EpochClosed
			rep.CreatorPaid += res.CreatorPayout
			for _, p := range res.Payouts {
				rep.InvestorPaid += p.Amount
			}
			rep.Transfers += len(res.Transfers)
		}
		if err != nil {
			return rep, err
		}
	}
	if err := r.sweepInto(ctx, stream, rep); err != nil {
		return rep, err
	}
	log.Info("epoch cranked",
		"epoch", rep.Epoch,
		"steps", rep.Steps,
		"investor_paid", rep.InvestorPaid,
		"creator_paid", rep.CreatorPaid,
		"dust_swept", rep.DustSwept)
	return rep, nil
}

// Step first re-executes any transfers a previous step committed but could
// not confirm, then advances stream by one page, retrying conflicts, and
// executes the page's transfers. Executed transfers are acknowledged so they
// leave the stream's outbox. A transfer failure is returned together with the
// committed result; the transfers stay queued for the next Step.
func (r *Runner) Step(ctx context.Context, stream policy.StreamID) (*distribution.StepResult, error) {
	if err := r.Flush(ctx, stream); err != nil {
		return nil, err
	}
	var res *distribution.StepResult
	err := retry(ctx, r.cfg.Clock, r.cfg.Retry, Retryable, func() error {
		var err error
		res, err = r.step(ctx, stream)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Status == pagination.Accepted {
		if err := r.deliver(ctx, stream, res.Transfers); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Flush executes and acknowledges every transfer queued in stream's outbox.
func (r *Runner) Flush(ctx context.Context, stream policy.StreamID) error {
	pending, err := r.cfg.Engine.Pending(ctx, stream)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	r.log.Info("crank: re-executing queued transfers", "stream", stream, "count", len(pending))
	return r.deliver(ctx, stream, pending)
}

// sweep pays out carry-over dust after an epoch closed and delivers the
// resulting transfer.
func (r *Runner) sweep(ctx context.Context, stream policy.StreamID) (*distribution.SweepResult, error) {
	var res *distribution.SweepResult
	err := retry(ctx, r.cfg.Clock, r.cfg.Retry, Retryable, func() error {
		var err error
		res, err = r.cfg.Engine.SweepDust(ctx, stream, r.cfg.Clock.Now().Unix())
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Transfer != nil {
		if err := r.deliver(ctx, stream, []distribution.Transfer{*res.Transfer}); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Runner) sweepInto(ctx context.Context, stream policy.StreamID, rep *Report) error {
	swept, err := r.sweep(ctx, stream)
	if swept != nil && swept.Transfer != nil {
		rep.DustSwept = swept.Amount
		rep.Transfers++
	}
	return err
}

// step reloads the stream, builds the next page and submits it.
func (r *Runner) step(ctx context.Context, stream policy.StreamID) (*distribution.StepResult, error) {
	now := r.cfg.Clock.Now().Unix()
	rec, err := r.cfg.Engine.State(ctx, stream)
	if err != nil {
		return nil, err
	}
	st := rec.State

	verdict := timing.Evaluate(now, st)
	if verdict.Decision == timing.Blocked {
		return nil, verdict.Err
	}

	all, err := r.cfg.Investors.Investors(ctx, stream)
	if err != nil {
		return nil, err
	}
	req := distribution.StepRequest{
		Stream:   stream,
		Now:      now,
		PageSize: r.cfg.PageSize,
	}
	start, count := st.Cursor, st.InvestorCount
	if verdict.Decision == timing.StartNewEpoch {
		locked, err := r.cfg.Investors.LockedTotal(ctx, stream, now)
		if err != nil {
			return nil, err
		}
		start, count = 0, uint32(len(all))
		req.LockedTotal = locked
		req.InvestorCount = count
	}
	if uint64(len(all)) < uint64(count) {
		return nil, fmt.Errorf("%w: have %d investors, epoch started with %d", ErrInvestorSetChanged, len(all), count)
	}
	var left uint32
	if count > start {
		left = count - start
	}
	end := start
	if pages := pagination.Bounds(left, r.cfg.PageSize); len(pages) > 0 {
		end = start + pages[0][1]
		r.log.Debug("crank: building page", "stream", stream, "start", start, "end", end, "pages_left", len(pages))
	}
	req.Investors = all[start:end]
	req.Cursor = &start
	return r.cfg.Engine.Step(ctx, req)
}

// deliver executes transfers and acknowledges them in the stream's outbox.
func (r *Runner) deliver(ctx context.Context, stream policy.StreamID, transfers []distribution.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	err := retry(ctx, r.cfg.Clock, r.cfg.Retry, TransferRetryable, func() error {
		return r.cfg.Transfers.Execute(ctx, transfers)
	})
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("failed").Add(float64(len(transfers)))
		return fmt.Errorf("crank: execute %d transfers: %w", len(transfers), err)
	}
	metrics.TransfersTotal.WithLabelValues("ok").Add(float64(len(transfers)))

	ids := make([]distribution.TransferID, len(transfers))
	for i, tr := range transfers {
		ids[i] = tr.ID
	}
	err = retry(ctx, r.cfg.Clock, r.cfg.Retry, Retryable, func() error {
		return r.cfg.Engine.Acknowledge(ctx, stream, ids...)
	})
	if err != nil {
		return fmt.Errorf("crank: acknowledge %d transfers: %w", len(ids), err)
	}
	return nil
}

// RunAll cranks every stream with at most MaxParallel in flight. A failing
// stream does not stop the others; their errors are joined.
func (r *Runner) RunAll(ctx context.Context, streams []policy.StreamID) ([]*Report, error) {
	reports := make([]*Report, len(streams))
	failures := make([]error, len(streams))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxParallel)
	for i, stream := range streams {
		g.Go(func() error {
			rep, err := r.RunEpoch(gctx, stream)
			reports[i] = rep
			if err != nil {
				failures[i] = fmt.Errorf("stream %s: %w", stream, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(failures...)
}

// Serve cranks every stored stream once immediately and then on every tick
// until ctx is done.
func (r *Runner) Serve(ctx context.Context) error {
	r.log.Info("crank: starting loop", "interval", r.cfg.Interval, "parallel", r.cfg.MaxParallel)
	ticker := r.cfg.Clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		r.tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	streams, err := r.cfg.Engine.Streams(ctx)
	if err != nil {
		r.log.Error("crank: list streams", "error", err)
		return
	}
	if _, err := r.RunAll(ctx, streams); err != nil {
		r.log.Warn("crank: tick finished with errors", "error", err)
	}
}
