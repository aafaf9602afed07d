package statstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cobaltmesh/ucg/pkg/op"
	"github.com/cobaltmesh/ucg/pkg/transport"
)

// recordScript atomically bumps the success/failure counter and the running
// latency sum for one (signature, step, tier) key, the same atomic
// HINCRBY-under-Lua shape as the teacher's token-bucket limiter script.
//
// KEYS[1] = stats hash key
// ARGV[1] = "successes" or "failures"
// ARGV[2] = latency delta (nanoseconds) to add to latency_sum
var recordScript = redis.NewScript(`
local key = KEYS[1]
local field = ARGV[1]
local latency = tonumber(ARGV[2])

redis.call("HINCRBY", key, field, 1)
redis.call("HINCRBY", key, "latency_sum", latency)
redis.call("HINCRBY", key, "latency_n", 1)
return 1
`)

// RedisStore persists transport-tier outcome counters in Redis so they
// survive process restarts (SPEC_FULL section 2.8). It is entirely optional
// and off the hot path: pkg/op.Op.Optimize only consults it every N
// invocations per spec section 4.4.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore against an existing client. prefix
// namespaces keys (e.g. "ucg:stats:") so multiple engines can share a Redis
// instance without key collisions.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(signatureKey string, stepIndex int, tier transport.Tier) string {
	return fmt.Sprintf("%sstats:%s:%d:%s", s.prefix, signatureKey, stepIndex, tier)
}

// Record bumps the counters for one outcome. Errors are intentionally
// swallowed beyond a best-effort log at the call site's discretion: a failed
// stats write must never fail the collective it is observing.
func (s *RedisStore) Record(signatureKey string, stepIndex int, tier transport.Tier, success bool, latencyNanos int64) {
	field := "failures"
	if success {
		field = "successes"
	}
	ctx := context.Background()
	_ = recordScript.Run(ctx, s.client, []string{s.redisKey(signatureKey, stepIndex, tier)}, field, latencyNanos).Err()
}

// Stats reads back the counters pkg/op.Optimize needs. A read error or
// missing key returns a zero TierStats, which Optimize treats as "no data
// yet" and leaves the step's tier untouched.
func (s *RedisStore) Stats(signatureKey string, stepIndex int, tier transport.Tier) op.TierStats {
	ctx := context.Background()
	vals, err := s.client.HMGet(ctx, s.redisKey(signatureKey, stepIndex, tier),
		"successes", "failures", "latency_sum", "latency_n").Result()
	if err != nil || len(vals) != 4 {
		return op.TierStats{}
	}
	successes := toInt(vals[0])
	failures := toInt(vals[1])
	latencySum := toInt(vals[2])
	latencyN := toInt(vals[3])
	var avg int64
	if latencyN > 0 {
		avg = latencySum / latencyN
	}
	return op.TierStats{Successes: int(successes), Failures: int(failures), AvgLatencyNanos: avg}
}

func toInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}

var _ Store = (*RedisStore)(nil)
