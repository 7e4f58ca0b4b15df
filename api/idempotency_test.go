package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisDeduper(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	ctx := context.Background()
	d := NewRedisDeduper(rc, time.Minute)

	added, err := d.Add(ctx, "user-1", "k")
	if err != nil || !added {
		t.Fatalf("first add = %v, %v", added, err)
	}
	if added, err := d.Add(ctx, "user-1", "k"); err != nil || added {
		t.Fatalf("second add = %v, %v", added, err)
	}
	if added, err := d.Add(ctx, "user-2", "k"); err != nil || !added {
		t.Fatalf("keys must be scoped per user, got %v, %v", added, err)
	}
	if ttl := m.TTL("idempotency:user-1:k"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	if err := d.Remove(ctx, "user-1", "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if added, err := d.Add(ctx, "user-1", "k"); err != nil || !added {
		t.Fatalf("add after remove = %v, %v", added, err)
	}

	m.FastForward(2 * time.Minute)
	if added, err := d.Add(ctx, "user-2", "k"); err != nil || !added {
		t.Fatalf("expired key should be accepted again, got %v, %v", added, err)
	}
}
