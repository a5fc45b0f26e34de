package crank

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bitfsorg/feerouter-go/distribution"
)

// Transferer moves committed payouts from the stream treasury. Execute may
// see the same transfer twice after a crash and must treat Transfer.ID as an
// idempotency key.
type Transferer interface {
	Execute(ctx context.Context, transfers []distribution.Transfer) error
}

// LogTransferer only logs transfers. It is the default when no executor is
// configured.
type LogTransferer struct {
	Logger *slog.Logger
}

func (t LogTransferer) Execute(ctx context.Context, transfers []distribution.Transfer) error {
	for _, tr := range transfers {
		t.Logger.Info("transfer",
			"id", tr.ID,
			"stream", tr.Stream,
			"epoch", tr.Epoch,
			"from", tr.From,
			"to", tr.To,
			"creator", tr.Creator,
			"amount", tr.Amount)
	}
	return nil
}

// MockTransferer records transfers and optionally fails through ExecuteFn.
type MockTransferer struct {
	ExecuteFn func(ctx context.Context, transfers []distribution.Transfer) error

	mu   sync.Mutex
	done map[distribution.TransferID]distribution.Transfer
	seq  []distribution.Transfer
}

func (m *MockTransferer) Execute(ctx context.Context, transfers []distribution.Transfer) error {
	if m.ExecuteFn != nil {
		if err := m.ExecuteFn(ctx, transfers); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		m.done = make(map[distribution.TransferID]distribution.Transfer)
	}
	for _, tr := range transfers {
		if _, ok := m.done[tr.ID]; ok {
			continue
		}
		m.done[tr.ID] = tr
		m.seq = append(m.seq, tr)
	}
	return nil
}

// Transfers returns the distinct transfers executed so far, in order.
func (m *MockTransferer) Transfers() []distribution.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]distribution.Transfer(nil), m.seq...)
}
