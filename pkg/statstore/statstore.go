// Package statstore persists per-signature, per-step, per-tier transport
// outcome counters that pkg/op's optimization hook consults (spec section
// 4.4's optm_cb, SPEC_FULL section 2.8). The in-memory Store is the default —
// spec section 6 is explicit that the core engine persists no state — and
// RedisStore is an optional cross-restart backend so a long-running fleet of
// workers doesn't re-learn tier choices from zero on every restart.
package statstore

import (
	"fmt"
	"sync"

	"github.com/cobaltmesh/ucg/pkg/op"
	"github.com/cobaltmesh/ucg/pkg/transport"
)

// Store records send outcomes and answers pkg/op.StatsSource queries.
type Store interface {
	op.StatsSource
	Record(signatureKey string, stepIndex int, tier transport.Tier, success bool, latencyNanos int64)
}

type counters struct {
	successes int
	failures  int
	latencySum int64
	latencyN   int64
}

func key(signatureKey string, stepIndex int, tier transport.Tier) string {
	return fmt.Sprintf("%s:%d:%d", signatureKey, stepIndex, tier)
}

// MemoryStore is the zero-value-usable, no-persistence default.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*counters
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*counters)}
}

func (s *MemoryStore) Record(signatureKey string, stepIndex int, tier transport.Tier, success bool, latencyNanos int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string]*counters)
	}
	k := key(signatureKey, stepIndex, tier)
	c, ok := s.data[k]
	if !ok {
		c = &counters{}
		s.data[k] = c
	}
	if success {
		c.successes++
	} else {
		c.failures++
	}
	c.latencySum += latencyNanos
	c.latencyN++
}

func (s *MemoryStore) Stats(signatureKey string, stepIndex int, tier transport.Tier) op.TierStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[key(signatureKey, stepIndex, tier)]
	if !ok {
		return op.TierStats{}
	}
	var avg int64
	if c.latencyN > 0 {
		avg = c.latencySum / c.latencyN
	}
	return op.TierStats{Successes: c.successes, Failures: c.failures, AvgLatencyNanos: avg}
}

var _ Store = (*MemoryStore)(nil)
