package op

import "github.com/cobaltmesh/ucg/pkg/transport"

// TierStats reports recent outcome counts for one step's transport tier,
// the statistics spec section 4.4's optm_cb consults ("may rewrite the step
// to a cheaper transport tier if statistics warrant").
type TierStats struct {
	Successes int
	Failures  int
	AvgLatencyNanos int64
}

// StatsSource supplies tier statistics for a step, keyed by its plan
// signature and step index. pkg/statstore's RedisStatsStore and in-memory
// default both implement this.
type StatsSource interface {
	Stats(signatureKey string, stepIndex int, tier transport.Tier) TierStats
}

// Optimize runs the optimization hook after the first N successful
// invocations (spec section 4.4). It rewrites a step's tier to zcopy when
// the short/bcopy tier's observed failure rate exceeds 10% and zcopy has a
// clean track record, matching the "rewrite to a cheaper transport tier if
// statistics warrant" intent without over-specifying a policy the original
// leaves to runtime tuning.
func (o *Op) Optimize(signatureKey string, stats StatsSource) {
	if o.OptCount > 0 {
		o.OptCount--
		return
	}
	for i := range o.Steps {
		st := &o.Steps[i]
		if st.Tier == transport.TierZcopy {
			continue
		}
		current := stats.Stats(signatureKey, st.Phase.StepIndex, st.Tier)
		total := current.Successes + current.Failures
		if total == 0 {
			continue
		}
		failureRate := float64(current.Failures) / float64(total)
		if failureRate <= 0.10 {
			continue
		}
		zcopy := stats.Stats(signatureKey, st.Phase.StepIndex, transport.TierZcopy)
		if zcopy.Failures == 0 && zcopy.Successes > 0 {
			st.Tier = transport.TierZcopy
		}
	}
}
