package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobaltmesh/ucg/pkg/config"
	"github.com/cobaltmesh/ucg/pkg/plan"
)

func TestSelectFallsBackToRecursiveKWhenPowerOfTwo(t *testing.T) {
	c, err := plan.NewCatalog(nil)
	require.NoError(t, err)

	algo, b, err := c.Select(plan.CollAllReduce, plan.SelectParams{GroupSize: 4, IsPowerOfTwo: true})
	require.NoError(t, err)
	require.Equal(t, plan.AlgorithmRecursiveK, algo)
	require.NotNil(t, b)
}

func TestSelectFallsBackToRingWhenNotPowerOfTwo(t *testing.T) {
	c, err := plan.NewCatalog(nil)
	require.NoError(t, err)

	algo, _, err := c.Select(plan.CollAllReduce, plan.SelectParams{GroupSize: 5, IsPowerOfTwo: false})
	require.NoError(t, err)
	require.Equal(t, plan.AlgorithmRing, algo)
}

func TestSelectHonorsPolicyOverride(t *testing.T) {
	p, err := config.LoadPolicy([]byte(`
overrides:
  - collective: allreduce
    expr: "msg_size > 65536 && group_size > 128"
    algorithm: ring
`))
	require.NoError(t, err)
	c, err := plan.NewCatalog(p)
	require.NoError(t, err)

	algo, _, err := c.Select(plan.CollAllReduce, plan.SelectParams{MsgSize: 100000, GroupSize: 256, IsPowerOfTwo: true})
	require.NoError(t, err)
	require.Equal(t, plan.AlgorithmRing, algo, "override should win over the power-of-two recursive-K default")
}

func TestSelectOverrideDoesNotMatchWhenExprFalse(t *testing.T) {
	p, err := config.LoadPolicy([]byte(`
overrides:
  - collective: allreduce
    expr: "msg_size > 65536 && group_size > 128"
    algorithm: ring
`))
	require.NoError(t, err)
	c, err := plan.NewCatalog(p)
	require.NoError(t, err)

	algo, _, err := c.Select(plan.CollAllReduce, plan.SelectParams{MsgSize: 10, GroupSize: 4, IsPowerOfTwo: true})
	require.NoError(t, err)
	require.Equal(t, plan.AlgorithmRecursiveK, algo)
}

func TestSelectAlltoallvPrefersPlummerByDefault(t *testing.T) {
	c, err := plan.NewCatalog(nil)
	require.NoError(t, err)

	// Plummer degrades to a flat, correct one-level alltoallv when the group
	// carries no node topology, so it is the unconditional default — unlike
	// Bruck, which never moves real alltoallv payload data (SPEC_FULL
	// section on alltoallv's Non-goal).
	algo, _, err := c.Select(plan.CollAllToAllV, plan.SelectParams{})
	require.NoError(t, err)
	require.Equal(t, plan.AlgorithmPlummer, algo)
}

func TestSelectAlltoallvPrefersPlummerWhenTopologyAware(t *testing.T) {
	c, err := plan.NewCatalog(nil)
	require.NoError(t, err)

	algo, _, err := c.Select(plan.CollAllToAllV, plan.SelectParams{TopologyAware: true})
	require.NoError(t, err)
	require.Equal(t, plan.AlgorithmPlummer, algo)
}

func TestNewCatalogRejectsUnknownAlgorithmInOverride(t *testing.T) {
	p := &config.Policy{Overrides: []config.OverrideRule{
		{Collective: "allreduce", Expr: "true", Algorithm: "quantum"},
	}}
	_, err := plan.NewCatalog(p)
	require.Error(t, err)
}
