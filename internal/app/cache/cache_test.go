package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func exercise(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	var got payload
	ok, err := c.Get(ctx, "missing", &got)
	if err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, "item:1", payload{Name: "alpha", Count: 2}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	ok, err = c.Get(ctx, "item:1", &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got != (payload{Name: "alpha", Count: 2}) {
		t.Fatalf("got %+v", got)
	}

	if err := c.Set(ctx, "raw", []byte("not json"), 0); err != nil {
		t.Fatalf("set raw: %v", err)
	}
	var raw []byte
	if ok, err := c.Get(ctx, "raw", &raw); err != nil || !ok || string(raw) != "not json" {
		t.Fatalf("raw: %q ok=%v err=%v", raw, ok, err)
	}

	if err := c.Del(ctx, "item:1", "raw"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if ok, _ := c.Get(ctx, "item:1", &got); ok {
		t.Fatal("expected item:1 to be evicted")
	}
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory(16, time.Hour))
}

func TestMemoryPerEntryExpiry(t *testing.T) {
	c := NewMemory(16, time.Hour)
	ctx := context.Background()
	if err := c.Set(ctx, "short", 1, 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	var n int
	if ok, _ := c.Get(ctx, "short", &n); ok {
		t.Fatal("entry outlived its ttl")
	}
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemory(2, time.Hour)
	ctx := context.Background()
	_ = c.Set(ctx, "a", 1, 0)
	_ = c.Set(ctx, "b", 2, 0)
	_ = c.Set(ctx, "c", 3, 0)
	var n int
	if ok, _ := c.Get(ctx, "a", &n); ok {
		t.Fatal("expected a to be evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
}

func TestRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	c := NewRedis(client, "cache:", time.Hour)
	exercise(t, c)

	if err := c.Set(context.Background(), "ttl", "v", 5*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := srv.TTL("cache:ttl"); ttl != 5*time.Second {
		t.Fatalf("ttl = %v, want 5s", ttl)
	}
}

func TestNewRedisClientAcceptsURLAndAddr(t *testing.T) {
	srv := miniredis.RunT(t)
	for _, addr := range []string{srv.Addr(), "redis://" + srv.Addr() + "/0"} {
		client := NewRedisClient(addr, "", 0)
		if err := client.Ping(context.Background()).Err(); err != nil {
			t.Fatalf("ping %s: %v", addr, err)
		}
		client.Close()
	}
}
