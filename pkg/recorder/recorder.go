// Package recorder persists synthetic-benchmark run statistics for
// cmd/ucgbench (SPEC_FULL section 2.7). The core engine itself persists no
// state (spec section 6); this is a peripheral diagnostic tool storage
// layer, storage-agnostic the way pkg/ledger abstracts over its backing
// store in the teacher.
package recorder

import (
	"context"
	"time"
)

// Run is one synthetic-collective benchmark invocation's recorded outcome.
type Run struct {
	ID             string
	Collective     string
	Algorithm      string
	MemberCount    int
	FragmentLength int
	FragmentCount  int
	LatencyNanos   int64
	RecordedAt     time.Time
}

// Recorder persists and queries benchmark Runs.
type Recorder interface {
	Record(ctx context.Context, run Run) error
	// ByCollective returns the most recent runs for collective, newest first,
	// bounded to limit entries.
	ByCollective(ctx context.Context, collective string, limit int) ([]Run, error)
	Init(ctx context.Context) error
}
