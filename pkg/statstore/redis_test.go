package statstore

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/cobaltmesh/ucg/pkg/transport"
)

// TestRedisStore_Integration requires a running Redis; skipped otherwise,
// matching the teacher's limiter_redis_test.go convention.
func TestRedisStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer client.Close()

	store := NewRedisStore(client, "ucgtest:")

	store.Record("sig-a", 2, transport.TierShort, true, 1000)
	store.Record("sig-a", 2, transport.TierShort, false, 5000)

	stats := store.Stats("sig-a", 2, transport.TierShort)
	if stats.Successes != 1 || stats.Failures != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.AvgLatencyNanos != 3000 {
		t.Fatalf("expected avg latency 3000, got %d", stats.AvgLatencyNanos)
	}
}

func TestRedisStore_MissingKeyReturnsZero(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer client.Close()

	store := NewRedisStore(client, "ucgtest:")
	stats := store.Stats("sig-never-seen", 0, transport.TierZcopy)
	if stats.Successes != 0 || stats.Failures != 0 {
		t.Fatalf("expected zero stats for unseen key, got %+v", stats)
	}
}
