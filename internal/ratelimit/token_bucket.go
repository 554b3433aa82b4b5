package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "linework:ratelimit"

// Decision is the outcome of one Allow call. Cost is the number of tokens that was asked for
// after clamping.
type Decision struct {
	Allowed    bool
	Cost       int64
	Remaining  int64
	RetryAfter time.Duration
}

// takeTokens refills the bucket for the elapsed time, then takes the cost if it fits.
// Replies {allowed, remaining, retry_after_ms}.
var takeTokens = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "last_ms")
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(capacity, tokens + (now - last) * per_ms)
end

local allowed = 0
local wait = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / per_ms)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "last_ms", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {allowed, math.floor(tokens), wait}
`)

// RedisTokenBucket keeps one bucket per subject in Redis so every API replica draws from the
// same budget. A full bucket holds capacity tokens and refills over window.
type RedisTokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case capacity <= 0:
		return nil, errors.New("capacity must be positive")
	case window <= 0:
		return nil, errors.New("window must be positive")
	}

	keyPrefix = strings.TrimSpace(keyPrefix)
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:      client,
		capacity:    int64(capacity),
		refillPerMS: float64(capacity) / float64(max(window.Milliseconds(), 1)),
		ttl:         2 * window,
		keyPrefix:   keyPrefix,
		now:         time.Now,
	}, nil
}

// Allow takes cost tokens from the subject's bucket. A cost above capacity is clamped, so a
// large batch waits for a full bucket instead of never fitting.
func (l *RedisTokenBucket) Allow(ctx context.Context, subject string, cost int) (Decision, error) {
	requested := min(max(int64(cost), 1), l.capacity)

	reply, err := takeTokens.Run(ctx, l.client, []string{l.key(subject)},
		l.capacity,
		l.refillPerMS,
		l.now().UTC().UnixMilli(),
		requested,
		l.ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("take %d tokens: %w", requested, err)
	}

	decision, err := parseDecision(reply)
	if err != nil {
		return Decision{}, err
	}
	decision.Cost = requested
	return decision, nil
}

func (l *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.keyPrefix + ":" + subject
}

func parseDecision(reply []any) (Decision, error) {
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("token bucket reply has %d values, want 3", len(reply))
	}
	var fields [3]int64
	for i, raw := range reply {
		v, err := toInt64(raw)
		if err != nil {
			return Decision{}, fmt.Errorf("token bucket reply[%d]: %w", i, err)
		}
		fields[i] = v
	}
	return Decision{
		Allowed:    fields[0] == 1,
		Remaining:  fields[1],
		RetryAfter: time.Duration(fields[2]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
