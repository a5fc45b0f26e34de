package distribution

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bitfsorg/feerouter-go/policy"
)

// Event is emitted after a step commits.
type Event interface {
	EventName() string
}

// EpochStarted is emitted when a step claims fees and opens an epoch.
type EpochStarted struct {
	StreamID      policy.StreamID `json:"stream_id"`
	Epoch         uint64          `json:"epoch"`
	ClaimedAmount uint64          `json:"claimed_amount"`
	Rollover      uint64          `json:"rollover"`
	Timestamp     int64           `json:"timestamp"`
}

// InvestorPageProcessed is emitted for every non-empty investor page.
type InvestorPageProcessed struct {
	StreamID       policy.StreamID `json:"stream_id"`
	Epoch          uint64          `json:"epoch"`
	PageStart      uint32          `json:"page_start"`
	PageEnd        uint32          `json:"page_end"`
	TotalPaid      uint64          `json:"total_paid"`
	RecipientCount int             `json:"recipient_count"`
	DustWithheld   uint64          `json:"dust_withheld"`
	CapWithheld    uint64          `json:"cap_withheld"`
	Timestamp      int64           `json:"timestamp"`
}

// EpochClosed is emitted once the creator remainder is paid.
type EpochClosed struct {
	StreamID              policy.StreamID `json:"stream_id"`
	Epoch                 uint64          `json:"epoch"`
	CreatorPayout         uint64          `json:"creator_payout"`
	TotalEpochDistributed uint64          `json:"total_epoch_distributed"`
	InvestorsProcessed    uint32          `json:"investors_processed"`
	CarryOverDust         uint64          `json:"carry_over_dust"`
	Timestamp             int64           `json:"timestamp"`
}

// DustSwept is emitted when carry-over dust is paid to the creator.
type DustSwept struct {
	StreamID      policy.StreamID `json:"stream_id"`
	Epoch         uint64          `json:"epoch"`
	Amount        uint64          `json:"amount"`
	CarryOverDust uint64          `json:"carry_over_dust"`
	Timestamp     int64           `json:"timestamp"`
}

func (EpochStarted) EventName() string          { return "epoch_started" }
func (InvestorPageProcessed) EventName() string { return "investor_page_processed" }
func (EpochClosed) EventName() string           { return "epoch_closed" }
func (DustSwept) EventName() string             { return "dust_swept" }

// EventSink receives the events of committed steps. A sink failure does not
// undo the step.
type EventSink interface {
	Publish(ctx context.Context, events []Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, events []Event) error

func (f SinkFunc) Publish(ctx context.Context, events []Event) error { return f(ctx, events) }

// MemorySink keeps every published event.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Publish(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

// Events returns a copy of everything published so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Publish(ctx context.Context, events []Event) error {
	for _, ev := range events {
		l.Logger.InfoContext(ctx, "event", "name", ev.EventName(), "event", ev)
	}
	return nil
}

// MultiSink publishes to every sink and returns the first failure.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, events []Event) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, events); err != nil && first == nil {
			first = err
		}
	}
	return first
}
