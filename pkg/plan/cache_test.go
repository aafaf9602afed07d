package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobaltmesh/ucg/pkg/plan"
)

func TestCacheGetMissThenHit(t *testing.T) {
	c := plan.NewCache()
	key := plan.CacheKey{Algorithm: plan.AlgorithmRing, SignatureKey: "abc"}

	_, ok := c.Get(key)
	require.False(t, ok)

	want := &plan.Plan{Algorithm: plan.AlgorithmRing}
	c.Put(key, want)

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Same(t, want, got)
	require.Equal(t, 1, c.Len())
}

func TestCacheFlushDropsEverything(t *testing.T) {
	c := plan.NewCache()
	key := plan.CacheKey{Algorithm: plan.AlgorithmRecursiveK, SignatureKey: "x"}
	c.Put(key, &plan.Plan{})
	require.Equal(t, 1, c.Len())

	c.Flush()
	require.Equal(t, 0, c.Len())
	_, ok := c.Get(key)
	require.False(t, ok)
}

func TestCacheReleaseDoesNotEvict(t *testing.T) {
	c := plan.NewCache()
	key := plan.CacheKey{Algorithm: plan.AlgorithmBruck, SignatureKey: "y"}
	c.Put(key, &plan.Plan{})

	c.Release(key)
	_, ok := c.Get(key)
	require.True(t, ok, "release does not evict; only Flush does")
}
