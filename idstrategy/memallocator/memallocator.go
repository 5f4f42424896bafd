// Package memallocator is the in-process idstrategy.Allocator used by
// tests and single-process deployments.
package memallocator

import (
	"context"
	"sync"

	"ilink3gw/idstrategy"
)

// Allocator is an in-memory composite-key -> session-id allocator.
type Allocator struct {
	mu     sync.Mutex
	ids    map[idstrategy.CompositeKey]uint64
	nextID uint64
}

// New constructs an empty allocator, ids starting from 1.
func New() *Allocator {
	return &Allocator{ids: make(map[idstrategy.CompositeKey]uint64), nextID: 1}
}

// Allocate implements idstrategy.Allocator.
func (a *Allocator) Allocate(_ context.Context, key idstrategy.CompositeKey) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.ids[key]; exists {
		return 0, idstrategy.ErrDuplicateSession
	}
	id := a.nextID
	a.nextID++
	a.ids[key] = id
	return id, nil
}

// Lookup implements idstrategy.Allocator.
func (a *Allocator) Lookup(_ context.Context, key idstrategy.CompositeKey) (uint64, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.ids[key]
	return id, ok, nil
}

// Reset clears every allocation, restarting id minting from 1. Used by
// the reset_session_ids admin command in tests and single-process
// deployments; a persistent allocator has no equivalent operation.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = make(map[idstrategy.CompositeKey]uint64)
	a.nextID = 1
}
