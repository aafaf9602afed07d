package statstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobaltmesh/ucg/pkg/statstore"
	"github.com/cobaltmesh/ucg/pkg/transport"
)

func TestMemoryStoreRecordsAndReads(t *testing.T) {
	s := statstore.NewMemoryStore()

	s.Record("sig", 1, transport.TierBcopy, true, 100)
	s.Record("sig", 1, transport.TierBcopy, true, 300)
	s.Record("sig", 1, transport.TierBcopy, false, 200)

	stats := s.Stats("sig", 1, transport.TierBcopy)
	require.Equal(t, 2, stats.Successes)
	require.Equal(t, 1, stats.Failures)
	require.Equal(t, int64(200), stats.AvgLatencyNanos)
}

func TestMemoryStoreUnseenKeyIsZero(t *testing.T) {
	s := statstore.NewMemoryStore()
	stats := s.Stats("nope", 0, transport.TierShort)
	require.Zero(t, stats.Successes)
	require.Zero(t, stats.Failures)
}

func TestMemoryStoreIsolatesTiersAndSteps(t *testing.T) {
	s := statstore.NewMemoryStore()
	s.Record("sig", 1, transport.TierShort, true, 10)
	s.Record("sig", 2, transport.TierShort, false, 10)
	s.Record("sig", 1, transport.TierZcopy, false, 10)

	require.Equal(t, 1, s.Stats("sig", 1, transport.TierShort).Successes)
	require.Equal(t, 1, s.Stats("sig", 2, transport.TierShort).Failures)
	require.Equal(t, 1, s.Stats("sig", 1, transport.TierZcopy).Failures)
}
