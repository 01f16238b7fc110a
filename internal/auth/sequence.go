package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"vibegate/internal/storage"
)

// SequenceAllocator hands out internal user ids for auto-provisioned
// identities. The counter lives in memory and is initialized once from the
// highest persisted id; a failed initialization is retried on the next call
// rather than wedging the allocator.
type SequenceAllocator struct {
	store storage.IdentityStore

	mu          sync.Mutex
	initialized bool
	next        atomic.Int64
}

// NewSequenceAllocator creates an allocator backed by the given store.
func NewSequenceAllocator(store storage.IdentityStore) *SequenceAllocator {
	return &SequenceAllocator{store: store}
}

// Next returns the next internal user id. The first call loads the persisted
// maximum; later calls are a single atomic increment.
func (a *SequenceAllocator) Next(ctx context.Context) (int64, error) {
	if err := a.ensureInitialized(ctx); err != nil {
		return 0, err
	}
	return a.next.Add(1), nil
}

func (a *SequenceAllocator) ensureInitialized(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}

	max, err := a.store.MaxInternalUserID(ctx)
	if err != nil {
		return fmt.Errorf("load max internal user id: %w", err)
	}
	a.next.Store(max)
	a.initialized = true
	return nil
}
