package recorder

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteRecorder_RecordAndQuery(t *testing.T) {
	db := openTestSQLite(t)
	r := NewSQLiteRecorder(db)
	ctx := context.Background()
	require.NoError(t, r.Init(ctx))

	older := Run{ID: "run-1", Collective: "allreduce", Algorithm: "recursive-k",
		MemberCount: 4, FragmentLength: 4096, FragmentCount: 1, LatencyNanos: 5000,
		RecordedAt: time.Now().Add(-time.Minute)}
	newer := Run{ID: "run-2", Collective: "allreduce", Algorithm: "ring",
		MemberCount: 4, FragmentLength: 4096, FragmentCount: 3, LatencyNanos: 9000,
		RecordedAt: time.Now()}

	require.NoError(t, r.Record(ctx, older))
	require.NoError(t, r.Record(ctx, newer))

	runs, err := r.ByCollective(ctx, "allreduce", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].ID, "newest run first")
	require.Equal(t, "run-1", runs[1].ID)
}

func TestSQLiteRecorder_ByCollectiveFiltersAndLimits(t *testing.T) {
	db := openTestSQLite(t)
	r := NewSQLiteRecorder(db)
	ctx := context.Background()
	require.NoError(t, r.Init(ctx))

	require.NoError(t, r.Record(ctx, Run{ID: "a", Collective: "barrier", RecordedAt: time.Now()}))
	require.NoError(t, r.Record(ctx, Run{ID: "b", Collective: "allreduce", RecordedAt: time.Now()}))

	runs, err := r.ByCollective(ctx, "barrier", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "a", runs[0].ID)
}
