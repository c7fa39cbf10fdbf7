package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	return client
}

func TestRedisGetSetDelete(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(testLogger(), client)
	key := fmt.Sprintf("test:kv:%d", time.Now().UnixNano())

	_, found, err := adapter.Get(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected a miss before the key exists")
	}

	if err := adapter.Set(ctx, key, "42", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	value, found, err := adapter.Get(ctx, key)
	if err != nil || !found {
		t.Fatalf("expected a hit, found=%v err=%v", found, err)
	}
	if value != "42" {
		t.Errorf("expected 42, got %q", value)
	}

	if err := adapter.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, found, _ = adapter.Get(ctx, key)
	if found {
		t.Error("expected a miss after delete")
	}
}

func TestRedisSetIfAbsent_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(testLogger(), client)
	key := fmt.Sprintf("test:nx:%d", time.Now().UnixNano())
	defer adapter.Delete(ctx, key)

	const workers = 20

	var wg sync.WaitGroup
	var winners atomic.Int32

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.SetIfAbsent(ctx, key, "0", time.Minute)
			if err != nil {
				t.Errorf("set if absent: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Errorf("expected exactly one winner, got %d", got)
	}
}

func TestRedisIncrement(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(testLogger(), client)
	key := fmt.Sprintf("test:ctr:%d", time.Now().UnixNano())
	defer adapter.Delete(ctx, key)

	for want := int64(1); want <= 3; want++ {
		got, err := adapter.Increment(ctx, key)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
}

func TestRedisSetMembership(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(testLogger(), client)
	key := fmt.Sprintf("test:set:%d", time.Now().UnixNano())
	defer adapter.Delete(ctx, key)

	in, err := adapter.InSet(ctx, key, "101")
	if err != nil {
		t.Fatalf("in set: %v", err)
	}
	if in {
		t.Fatal("expected member to be absent")
	}

	added, err := adapter.AddToSet(ctx, key, "101")
	if err != nil {
		t.Fatalf("add to set: %v", err)
	}
	if added != 1 {
		t.Errorf("expected one member added, got %d", added)
	}

	in, err = adapter.InSet(ctx, key, "101")
	if err != nil || !in {
		t.Errorf("expected member to be present, in=%v err=%v", in, err)
	}

	in, _ = adapter.InSet(ctx, key, "102")
	if in {
		t.Error("unrelated member reported as present")
	}
}
