package store

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/bitfsorg/feerouter-go/policy"
	"github.com/bitfsorg/feerouter-go/progress"
)

// MemStore is an in-memory Store.
type MemStore struct {
	mu      sync.RWMutex
	records map[policy.StreamID]*Record
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[policy.StreamID]*Record)}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) Create(ctx context.Context, p *policy.Policy, s *progress.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkCreate(p, s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[p.StreamID]; ok {
		return ErrStreamExists
	}
	m.records[p.StreamID] = &Record{Policy: p.Clone(), State: s.Clone(), Version: 1}
	return nil
}

func (m *MemStore) Load(ctx context.Context, stream policy.StreamID) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[stream]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return &Record{Policy: r.Policy.Clone(), State: r.State.Clone(), Version: r.Version}, nil
}

func (m *MemStore) CompareAndSwap(ctx context.Context, stream policy.StreamID, expected uint64, s *progress.State) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.StreamID != stream {
		return 0, ErrStreamMismatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[stream]
	if !ok {
		return 0, ErrStreamNotFound
	}
	if r.Version != expected {
		return 0, ErrVersionConflict
	}
	r.State = s.Clone()
	r.Version++
	return r.Version, nil
}

func (m *MemStore) List(ctx context.Context) ([]policy.StreamID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]policy.StreamID, 0, len(m.records))
	for id := range m.records {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b policy.StreamID) int { return bytes.Compare(a[:], b[:]) })
	return out, nil
}

func (m *MemStore) Close() error { return nil }
