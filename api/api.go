// Package api serves read-only stream status and Prometheus metrics over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bitfsorg/feerouter-go/errs"
	"github.com/bitfsorg/feerouter-go/policy"
	"github.com/bitfsorg/feerouter-go/progress"
	"github.com/bitfsorg/feerouter-go/store"
	"github.com/bitfsorg/feerouter-go/timing"
)

// Reader is the part of the engine the API reads from.
type Reader interface {
	State(ctx context.Context, stream policy.StreamID) (*store.Record, error)
	Streams(ctx context.Context) ([]policy.StreamID, error)
}

// StreamView is the JSON body of GET /streams/{id}.
type StreamView struct {
	Stream        policy.StreamID   `json:"stream"`
	QuoteCurrency policy.CurrencyID `json:"quote_currency"`
	Creator       policy.AccountID  `json:"creator_payout_target"`
	FeeShareBps   uint16            `json:"investor_fee_share_bps"`
	DailyCap      *uint64           `json:"daily_cap,omitempty"`
	MinPayout     uint64            `json:"min_payout"`
	Y0            uint64            `json:"y0_total_allocation"`
	Version       uint64            `json:"version"`
	Decision      string            `json:"decision"`
	NextEpochAt   int64             `json:"next_epoch_at"`
	State         *progress.State   `json:"state"`
}

// NewRouter returns the HTTP handler for r.
func NewRouter(r Reader, clock clockwork.Clock, log *slog.Logger) http.Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	h := &handler{r: r, clock: clock, log: log}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/streams", func(sr chi.Router) {
		sr.Get("/", h.listStreams)
		sr.Get("/{id}", h.getStream)
	})
	return router
}

type handler struct {
	r     Reader
	clock clockwork.Clock
	log   *slog.Logger
}

func (h *handler) listStreams(w http.ResponseWriter, req *http.Request) {
	ids, err := h.r.Streams(req.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if ids == nil {
		ids = []policy.StreamID{}
	}
	h.write(w, http.StatusOK, ids)
}

func (h *handler) getStream(w http.ResponseWriter, req *http.Request) {
	id, err := policy.ParseStreamID(chi.URLParam(req, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	rec, err := h.r.State(req.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	info := timing.Describe(h.clock.Now().Unix(), rec.State)
	h.write(w, http.StatusOK, StreamView{
		Stream:        rec.Policy.StreamID,
		QuoteCurrency: rec.Policy.QuoteCurrency,
		Creator:       rec.Policy.CreatorPayoutTarget,
		FeeShareBps:   rec.Policy.InvestorFeeShareBps,
		DailyCap:      rec.Policy.DailyCap,
		MinPayout:     rec.Policy.MinPayout,
		Y0:            rec.Policy.Y0TotalAllocation,
		Version:       rec.Version,
		Decision:      info.Decision.String(),
		NextEpochAt:   info.NextEpochAt,
		State:         rec.State,
	})
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.ErrValidation:
		status = http.StatusBadRequest
	case errs.ErrNotFound:
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		h.log.Error("api request failed", "error", err)
	}
	h.write(w, status, map[string]any{"error": err.Error(), "kind": errs.Name(err)})
}

func (h *handler) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Debug("api write failed", "error", err)
	}
}
