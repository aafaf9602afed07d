package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobaltmesh/ucg/pkg/plan"
)

// Scenario 6: N=8, 2 ranks per node — leader is the lower rank of each pair.
func TestPlummerLeaderVsFollowerShape(t *testing.T) {
	leader, err := plan.BuildPlummer(
		plan.GroupParams{MemberCount: 8, MemberIndex: 0, ProcsPerNode: 2, Continuous: true},
		plan.BuildConfig{},
		plan.CollParams{Type: plan.CollAllToAllV},
		noopConnect,
	)
	require.NoError(t, err)
	require.Len(t, leader.Phases, 4)
	require.Equal(t, plan.PlummerIntraGatherCounts, leader.Phases[0].Plummer)
	require.Equal(t, plan.PlummerIntraGatherBuffers, leader.Phases[1].Plummer)
	require.Equal(t, plan.PlummerInterAlltoallv, leader.Phases[2].Plummer)
	require.Len(t, leader.Phases[2].Peers, 3, "three other node leaders among four nodes")
	require.Equal(t, plan.PlummerIntraScatterRecvBuffers, leader.Phases[3].Plummer)
	require.Equal(t, []int{1}, leader.Phases[0].Peers)

	follower, err := plan.BuildPlummer(
		plan.GroupParams{MemberCount: 8, MemberIndex: 1, ProcsPerNode: 2, Continuous: true},
		plan.BuildConfig{},
		plan.CollParams{Type: plan.CollAllToAllV},
		noopConnect,
	)
	require.NoError(t, err)
	require.Len(t, follower.Phases, 4)
	require.Equal(t, []int{0}, follower.Phases[0].Peers)
	require.Empty(t, follower.Phases[2].Peers, "followers don't participate directly in the inter-node step")
}

func TestPlummerSingleRankPerNodeDegeneratesToAllLeaders(t *testing.T) {
	p, err := plan.BuildPlummer(
		plan.GroupParams{MemberCount: 4, MemberIndex: 2},
		plan.BuildConfig{},
		plan.CollParams{Type: plan.CollAllToAllV},
		noopConnect,
	)
	require.NoError(t, err)
	require.Empty(t, p.Phases[0].Peers, "no local peers when ProcsPerNode defaults to 1")
	require.Len(t, p.Phases[2].Peers, 3)
}
