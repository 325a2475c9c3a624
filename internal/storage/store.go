// Package storage keeps a history of order snapshots as they arrive
// from the authority, so a restarted or disconnected client can
// restore its last known state.
package storage

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/order"
)

type SnapshotStore interface {
	Save(ctx context.Context, o *order.Order) error
	Latest(ctx context.Context, orderID string) (*order.Order, error)
	// Active returns the most recently saved non-terminal order, or
	// nil when there is none.
	Active(ctx context.Context) (*order.Order, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	latest map[string]order.Order
	active string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{latest: make(map[string]order.Order)}
}

func (m *MemoryStore) Save(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[o.ID] = *o
	if order.Terminal(o.Status) {
		if m.active == o.ID {
			m.active = ""
		}
	} else {
		m.active = o.ID
	}
	return nil
}

func (m *MemoryStore) Latest(ctx context.Context, orderID string) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.latest[orderID]; ok {
		return &o, nil
	}
	return nil, nil
}

func (m *MemoryStore) Active(ctx context.Context) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == "" {
		return nil, nil
	}
	o := m.latest[m.active]
	return &o, nil
}
