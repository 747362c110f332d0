package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript performs the whole window update atomically on the
// server: drop expired members, count, and either admit (recording the
// request) or report the oldest member so the caller can compute a retry
// hint. KEYS[1] = window key, ARGV = now_micros, window_micros, max, member.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= max then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, count, tonumber(oldest[2])}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, math.ceil(window / 1000))
return {1, count + 1, now}
`)

// Redis is a sliding-window limiter backed by a Redis sorted set per
// (bucket, key) pair. Suitable for multi-process deployments where the quota
// must be shared across instances.
type Redis struct {
	client      redis.UniversalClient
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

// NewRedis creates a Redis-backed limiter. Zero-valued limits fall back to
// the in-memory defaults.
func NewRedis(client redis.UniversalClient, maxRequests int, window time.Duration) *Redis {
	if maxRequests <= 0 {
		maxRequests = defaultMaxRequests
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Redis{
		client:      client,
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Check runs the sliding-window script. An error means the limiter itself is
// unavailable; the caller chooses fail-open or fail-closed.
func (r *Redis) Check(ctx context.Context, bucket, key string) (Decision, error) {
	now := r.now()
	nowMicros := now.UnixMicro()
	windowMicros := r.window.Microseconds()

	// Members must be unique per request: a timestamp alone collides when two
	// requests land in the same microsecond, and ZADD would overwrite the
	// first, undercounting by one.
	member := strconv.FormatInt(nowMicros, 10) + "-" + uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{redisKey(bucket, key)},
		nowMicros, windowMicros, r.maxRequests, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis check: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: redis check: unexpected script reply length %d", len(res))
	}

	count := int(res[1])
	oldest := time.UnixMicro(res[2])
	reset := oldest.Add(r.window)

	if res[0] == 0 {
		retry := reset.Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{
			Allowed:    false,
			Limit:      r.maxRequests,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: retry,
		}, nil
	}

	remaining := r.maxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Limit:     r.maxRequests,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}

func redisKey(bucket, key string) string {
	return "ratelimit:" + bucket + ":" + key
}
