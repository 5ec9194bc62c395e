package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-queue-scheduling/internal/lock"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisLockHoldsKeyWithTTLAndReleases(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisLocker(rdb, 5*time.Second, time.Second)
	key := lock.BlockKey("b-1")

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		if !mr.Exists(key) {
			t.Error("lock key missing while held")
		}
		if ttl := mr.TTL(key); ttl <= 0 || ttl > 5*time.Second {
			t.Errorf("unexpected ttl %s", ttl)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("lock key still present after release")
	}
}

func TestRedisLockGivesUpAfterWait(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisLocker(rdb, 5*time.Second, 100*time.Millisecond)
	key := lock.BlockKey("b-1")

	if err := mr.Set(key, "someone-else"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	called := false
	err := locker.WithLock(context.Background(), key, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if called {
		t.Fatal("fn ran without the lock")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("wait not bounded: %s", elapsed)
	}
	if v, _ := mr.Get(key); v != "someone-else" {
		t.Fatalf("foreign lock value changed to %q", v)
	}
}

func TestRedisLockRetriesUntilFree(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisLocker(rdb, 5*time.Second, 2*time.Second)
	key := lock.BlockKey("b-1")

	if err := mr.Set(key, "someone-else"); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		mr.Del(key)
	}()

	if err := locker.WithLock(context.Background(), key, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected lock after holder left, got %v", err)
	}
}

func TestRedisLockReleaseKeepsNewHolder(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisLocker(rdb, 5*time.Second, time.Second)
	key := lock.BlockKey("b-1")

	err := locker.WithLock(context.Background(), key, func(context.Context) error {
		// Our key expired and another node took it.
		return mr.Set(key, "next-holder")
	})
	if err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if v, _ := mr.Get(key); v != "next-holder" {
		t.Fatalf("release removed another holder's lock, value %q", v)
	}
}

func TestRedisLockExcludesAcrossNodes(t *testing.T) {
	mr, _ := newTestRedis(t)
	key := lock.ScopeKey("clinic:doctor:2025-03-10")

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for node := 0; node < 2; node++ {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		locker := NewRedisLocker(rdb, 5*time.Second, 10*time.Second)

		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := locker.WithLock(context.Background(), key, func(context.Context) error {
					n := inside.Add(1)
					for {
						m := maxInside.Load()
						if n <= m || maxInside.CompareAndSwap(m, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					inside.Add(-1)
					return nil
				})
				if err != nil {
					t.Errorf("with lock: %v", err)
				}
			}()
		}
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Fatalf("%d holders at once", maxInside.Load())
	}
}

func TestNewRedisClientPings(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = rdb.Close()

	stopped, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	addr := stopped.Addr()
	stopped.Close()
	if _, err := NewRedisClient(context.Background(), Options{Addr: addr}); err == nil {
		t.Fatal("expected error for a stopped server")
	}
}
