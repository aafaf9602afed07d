package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobaltmesh/ucg/pkg/plan"
)

func TestSignatureKeyIsFieldOrderIndependent(t *testing.T) {
	a := plan.Signature{
		Collective:     plan.CollAllReduce,
		Root:           0,
		SendCountShape: []int{4},
		DatatypeID:     "int32",
		OpID:           "sum",
	}
	// Same content, constructed separately with the fields in another order.
	b := plan.Signature{
		OpID:           "sum",
		DatatypeID:     "int32",
		SendCountShape: []int{4},
		Root:           0,
		Collective:     plan.CollAllReduce,
	}

	ka, err := a.Key()
	require.NoError(t, err)
	kb, err := b.Key()
	require.NoError(t, err)
	require.Equal(t, ka, kb)
}

func TestSignatureKeyDiffersOnOp(t *testing.T) {
	a := plan.Signature{Collective: plan.CollAllReduce, DatatypeID: "int32", OpID: "sum"}
	b := plan.Signature{Collective: plan.CollAllReduce, DatatypeID: "int32", OpID: "max"}

	ka, err := a.Key()
	require.NoError(t, err)
	kb, err := b.Key()
	require.NoError(t, err)
	require.NotEqual(t, ka, kb)
}
