package backoff

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeDeterministic(t *testing.T) {
	p := Params{GroupID: 1, CollID: 2, StepIndex: 3, AttemptIndex: 2}
	policy := DefaultPolicy()

	d1 := Compute(p, policy)
	d2 := Compute(p, policy)
	require.Equal(t, d1, d2, "same params must yield the same delay across runs")
}

func TestComputeCapsAtMax(t *testing.T) {
	policy := Policy{BaseMs: 10, MaxMs: 100, MaxJitterMs: 0, MaxAttempts: 20}
	d := Compute(Params{AttemptIndex: 10}, policy)
	require.LessOrEqual(t, d.Milliseconds(), policy.MaxMs+policy.MaxJitterMs)
}

func TestExceedsLimit(t *testing.T) {
	policy := Policy{MaxAttempts: 3}
	require.False(t, ExceedsLimit(2, policy))
	require.True(t, ExceedsLimit(3, policy))
}
