// Package backoff computes deterministic resend delays for the step
// executor's retry path (spec section 4.5). It is adapted directly from the
// teacher's pkg/kernel/retry/backoff.go: exponential backoff with jitter
// derived from a SHA-256 PRF over the attempt's identifying fields, so that
// repeated test runs of the same scenario produce the same schedule.
package backoff

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Params identifies one resend attempt for jitter seeding.
type Params struct {
	GroupID      uint16
	CollID       uint8
	StepIndex    uint8
	AttemptIndex int
}

// Policy bounds the backoff schedule.
type Policy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultPolicy is the policy callers pass as the step executor's Backoff
// when config doesn't override it (the executor itself applies no default):
// fast first retry, capped growth, bounded
// attempt count so a truly unreachable peer surfaces TransportError instead
// of retrying forever.
func DefaultPolicy() Policy {
	return Policy{BaseMs: 1, MaxMs: 250, MaxJitterMs: 4, MaxAttempts: 8}
}

// Compute returns the delay before the given attempt, using deterministic
// jitter rather than math/rand so test scenarios reproduce exactly.
func Compute(params Params, policy Policy) time.Duration {
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << uint(params.AttemptIndex)
		}
	}

	baseDelay := policy.BaseMs * factor
	if baseDelay > policy.MaxMs {
		baseDelay = policy.MaxMs
	}

	jitter := deterministicJitter(params, policy)
	return time.Duration(baseDelay+jitter) * time.Millisecond
}

func deterministicJitter(params Params, policy Policy) int64 {
	if policy.MaxJitterMs == 0 {
		return 0
	}
	seed := fmt.Sprintf("%d:%d:%d:%d", params.GroupID, params.CollID, params.StepIndex, params.AttemptIndex)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs always positive
}

// ExceedsLimit reports whether attemptIndex has exhausted the policy's
// attempt budget, at which point the caller should surface a non-retryable
// TransportError rather than scheduling another resend.
func ExceedsLimit(attemptIndex int, policy Policy) bool {
	return attemptIndex >= policy.MaxAttempts
}
