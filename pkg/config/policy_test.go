package config_test

import (
	"testing"

	"github.com/cobaltmesh/ucg/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicyValid(t *testing.T) {
	doc := []byte(`
overrides:
  - collective: allreduce
    expr: "msg_size > 65536 && group_size > 128"
    algorithm: ring
  - collective: barrier
    expr: "group_size <= 8"
    algorithm: recursive-k
`)
	p, err := config.LoadPolicy(doc)
	require.NoError(t, err)
	require.Len(t, p.Overrides, 2)
	require.Equal(t, "allreduce", p.Overrides[0].Collective)
	require.Equal(t, "ring", p.Overrides[0].Algorithm)
}

func TestLoadPolicyRejectsMissingField(t *testing.T) {
	doc := []byte(`
overrides:
  - collective: allreduce
    expr: "msg_size > 65536"
`)
	_, err := config.LoadPolicy(doc)
	require.Error(t, err)
}

func TestLoadPolicyRejectsWrongShape(t *testing.T) {
	doc := []byte(`overrides: "not-a-list"`)
	_, err := config.LoadPolicy(doc)
	require.Error(t, err)
}
