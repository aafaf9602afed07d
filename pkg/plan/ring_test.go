package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobaltmesh/ucg/pkg/plan"
)

// Scenario 3: N=2 ring — ep_cnt=1, peer_src == peer_dst.
func TestRingN2CollapsesToSingleEndpoint(t *testing.T) {
	for r := 0; r < 2; r++ {
		p, err := plan.BuildRing(
			plan.GroupParams{MemberCount: 2, MemberIndex: r},
			plan.BuildConfig{},
			plan.CollParams{Type: plan.CollAllReduce, Commutative: true},
			noopConnect,
		)
		require.NoError(t, err)
		require.Len(t, p.Phases, 2, "phase_count = 2*(N-1)")
		for _, ph := range p.Phases {
			require.Equal(t, 1, ph.EPCount)
			require.Len(t, ph.Peers, 1)
			require.Equal(t, 1-r, ph.Peers[0])
		}
	}
}

// Scenario 4: N=4 ring — phase count 6, first N-1 reduce-scatter, rest allgather.
func TestRingN4PhaseCountAndMethodSplit(t *testing.T) {
	p, err := plan.BuildRing(
		plan.GroupParams{MemberCount: 4, MemberIndex: 1},
		plan.BuildConfig{},
		plan.CollParams{Type: plan.CollAllReduce, Commutative: true},
		noopConnect,
	)
	require.NoError(t, err)
	require.Len(t, p.Phases, 6)
	for i, ph := range p.Phases {
		if i < 3 {
			require.Equal(t, plan.MethodReduceScatterRing, ph.Method)
		} else {
			require.Equal(t, plan.MethodAllgatherRing, ph.Method)
		}
		require.Equal(t, 1, ph.EPCount, "ring reports ep_cnt=1 even though two endpoints are stored")
		require.Len(t, ph.Peers, 2)
	}
}

func TestRingPeerSrcDst(t *testing.T) {
	p, err := plan.BuildRing(
		plan.GroupParams{MemberCount: 4, MemberIndex: 0},
		plan.BuildConfig{},
		plan.CollParams{Type: plan.CollAllReduce, Commutative: true},
		noopConnect,
	)
	require.NoError(t, err)
	// rank 0: src=3, dst=1
	require.Equal(t, 1, p.Phases[0].Peers[0]) // dst
	require.Equal(t, 3, p.Phases[0].Peers[1]) // src
}
