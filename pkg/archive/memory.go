package archive

import (
	"context"
	"fmt"
	"sync"
)

// MemoryArchiver is an in-process PlanArchiver used by tests and by callers
// that don't need the snapshot to survive the process, matching spec section
// 6's "no persisted state" default for the core engine — archiving is always
// an opt-in peripheral, never required.
type MemoryArchiver struct {
	mu    sync.Mutex
	store map[string]PlanSnapshot
}

// NewMemoryArchiver constructs an empty MemoryArchiver.
func NewMemoryArchiver() *MemoryArchiver {
	return &MemoryArchiver{store: make(map[string]PlanSnapshot)}
}

func (a *MemoryArchiver) Archive(ctx context.Context, snap PlanSnapshot) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	loc := fmt.Sprintf("mem://%s", objectKey(snap))
	a.store[loc] = snap
	return loc, nil
}

func (a *MemoryArchiver) Retrieve(ctx context.Context, location string) (PlanSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, ok := a.store[location]
	if !ok {
		return PlanSnapshot{}, fmt.Errorf("archive: no snapshot at %q", location)
	}
	return snap, nil
}

var _ PlanArchiver = (*MemoryArchiver)(nil)
