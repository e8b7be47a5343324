package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestCacheOnlineOfflineRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewCache(mr.Addr(), "", time.Minute)
	ctx := context.Background()

	if err := cache.SetOnline(ctx, "uid-1"); err != nil {
		t.Fatalf("set online: %v", err)
	}
	online, err := cache.IsOnline(ctx, "uid-1")
	if err != nil || !online {
		t.Fatalf("expected online, got %v err=%v", online, err)
	}
	if ttl := mr.TTL(cacheKey("uid-1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	if err := cache.SetOffline(ctx, "uid-1"); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	online, err = cache.IsOnline(ctx, "uid-1")
	if err != nil || online {
		t.Fatalf("expected offline, got %v err=%v", online, err)
	}
}

func TestCacheHeartbeatExtendsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewCache(mr.Addr(), "", time.Minute)
	ctx := context.Background()

	if err := cache.SetOnline(ctx, "uid-1"); err != nil {
		t.Fatalf("set online: %v", err)
	}
	mr.FastForward(50 * time.Second)
	if err := cache.Heartbeat(ctx, "uid-1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if ttl := mr.TTL(cacheKey("uid-1")); ttl < 55*time.Second {
		t.Fatalf("ttl not extended: %v", ttl)
	}
}

func TestCacheHeartbeatRecreatesExpiredKey(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewCache(mr.Addr(), "", time.Minute)
	ctx := context.Background()

	if err := cache.SetOnline(ctx, "uid-1"); err != nil {
		t.Fatalf("set online: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if err := cache.Heartbeat(ctx, "uid-1"); err != nil {
		t.Fatalf("heartbeat after expiry: %v", err)
	}
	online, err := cache.IsOnline(ctx, "uid-1")
	if err != nil || !online {
		t.Fatalf("expected online after recreate, got %v err=%v", online, err)
	}
}

func TestNilCacheIsSafe(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	if err := cache.SetOnline(ctx, "uid-1"); err != nil {
		t.Fatalf("nil set online: %v", err)
	}
	if err := cache.Heartbeat(ctx, "uid-1"); err != nil {
		t.Fatalf("nil heartbeat: %v", err)
	}
	if err := cache.SetOffline(ctx, "uid-1"); err != nil {
		t.Fatalf("nil set offline: %v", err)
	}
	if online, err := cache.IsOnline(ctx, "uid-1"); err != nil || online {
		t.Fatalf("nil cache should report offline, got %v err=%v", online, err)
	}
}
