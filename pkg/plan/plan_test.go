package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobaltmesh/ucg/pkg/plan"
)

func TestValidateRejectsTooManyPhases(t *testing.T) {
	p := &plan.Plan{Phases: make([]plan.Phase, plan.MaxPhases+1)}
	require.Error(t, p.Validate())
}

func TestValidateRejectsOversizedStepIndex(t *testing.T) {
	p := &plan.Plan{Phases: []plan.Phase{{StepIndex: plan.MaxStepIndex + 1, EPCount: 0}}}
	require.Error(t, p.Validate())
}

func TestValidateRejectsEPCountMismatch(t *testing.T) {
	p := &plan.Plan{Phases: []plan.Phase{{Method: plan.MethodReduceRecursive, EPCount: 2, Peers: []int{1}}}}
	require.Error(t, p.Validate())
}

func TestValidateAllowsRingEPCountDiscrepancy(t *testing.T) {
	p := &plan.Plan{Phases: []plan.Phase{{Method: plan.MethodReduceScatterRing, EPCount: 1, Peers: []int{1, 2}}}}
	require.NoError(t, p.Validate())
}
