package ratelimit

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewRedisTokenBucketValidates(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	cases := []struct {
		name     string
		client   redis.UniversalClient
		capacity int
		window   time.Duration
	}{
		{name: "nil client", client: nil, capacity: 10, window: time.Minute},
		{name: "zero capacity", client: client, capacity: 0, window: time.Minute},
		{name: "zero window", client: client, capacity: 10, window: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRedisTokenBucket(tc.client, tc.capacity, tc.window, ""); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	bucket, err := NewRedisTokenBucket(client, 60, time.Minute, " ")
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	if bucket.keyPrefix != "linework:ratelimit" {
		t.Fatalf("expected default key prefix, got %q", bucket.keyPrefix)
	}
	if bucket.refillPerMS != 60.0/60000.0 {
		t.Fatalf("unexpected refill rate %v", bucket.refillPerMS)
	}
}

func TestToInt64(t *testing.T) {
	for _, in := range []any{int64(7), 7, float64(7), "7"} {
		got, err := toInt64(in)
		if err != nil || got != 7 {
			t.Fatalf("toInt64(%#v) = %d, %v", in, got, err)
		}
	}
	if _, err := toInt64([]byte("7")); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestParseDecision(t *testing.T) {
	got, err := parseDecision([]any{int64(0), int64(3), int64(1500)})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Allowed || got.Remaining != 3 || got.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("unexpected decision %+v", got)
	}

	if _, err := parseDecision([]any{int64(1)}); err == nil {
		t.Fatal("expected error for short reply")
	}
	if _, err := parseDecision([]any{int64(1), "x", int64(0)}); err == nil {
		t.Fatal("expected error for non-numeric reply")
	}
}

func TestBucketKey(t *testing.T) {
	bucket := &RedisTokenBucket{keyPrefix: "lw"}
	if got := bucket.key(" user-1 "); got != "lw:user-1" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := bucket.key(""); got != "lw:anonymous" {
		t.Fatalf("unexpected key for empty subject %q", got)
	}
}
