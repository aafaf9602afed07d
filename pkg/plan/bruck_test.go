package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobaltmesh/ucg/pkg/plan"
)

func TestBruckStepCountIsLog2(t *testing.T) {
	p, err := plan.BuildBruck(
		plan.GroupParams{MemberCount: 8, MemberIndex: 0},
		plan.BuildConfig{},
		plan.CollParams{Type: plan.CollAllToAllV},
		noopConnect,
	)
	require.NoError(t, err)
	require.Len(t, p.Phases, 3)
	for _, ph := range p.Phases {
		require.Equal(t, plan.MethodBruckAlltoall, ph.Method)
		require.Len(t, ph.Peers, 2)
	}
}

func TestBruckNonPowerOfTwoRoundsUp(t *testing.T) {
	p, err := plan.BuildBruck(
		plan.GroupParams{MemberCount: 5, MemberIndex: 0},
		plan.BuildConfig{},
		plan.CollParams{Type: plan.CollAllToAllV},
		noopConnect,
	)
	require.NoError(t, err)
	require.Len(t, p.Phases, 3) // ceil(log2(5)) == 3
}
