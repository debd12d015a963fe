package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryPerKeyBuckets(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryWindow(2, time.Minute)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, _ := m.Allow(ctx, "1.2.3.4"); !d.Allowed {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	d, err := m.Allow(ctx, "1.2.3.4")
	if err != nil || d.Allowed {
		t.Fatalf("third request should be throttled: %+v %v", d, err)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}
	if d, _ := m.Allow(ctx, "5.6.7.8"); !d.Allowed {
		t.Fatalf("other keys have their own bucket")
	}

	now = now.Add(31 * time.Second)
	if d, _ := m.Allow(ctx, "1.2.3.4"); !d.Allowed {
		t.Fatalf("bucket should refill")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisFixedWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedis(client, "login:", 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "a@b.com")
		if err != nil || !d.Allowed {
			t.Fatalf("attempt %d: %+v %v", i+1, d, err)
		}
	}
	d, err := l.Allow(ctx, "a@b.com")
	if err != nil || d.Allowed {
		t.Fatalf("fourth attempt should be throttled: %+v %v", d, err)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}
	if ttl := mr.TTL("login:a@b.com"); ttl <= 0 {
		t.Fatalf("window key has no expiry")
	}

	mr.FastForward(time.Minute + time.Second)
	if d, _ := l.Allow(ctx, "a@b.com"); !d.Allowed {
		t.Fatalf("window should reset after expiry")
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err = NewRedis(client, "", 1, time.Second).Allow(context.Background(), "k")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
