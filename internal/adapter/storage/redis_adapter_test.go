package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-ledger/internal/core/domain"
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

func TestRedisTakePending_Once(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, StateTTL{Pending: time.Minute, Correction: time.Minute})
	client.Del(ctx, "pending:test-actor")

	err := adapter.PutPending(ctx, domain.PendingConfirmation{
		ActorID: "test-actor", ShopID: "shop-1", Transcript: "10 Parle-G sold", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	var taken int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := adapter.TakePending(ctx, "test-actor")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if p != nil {
				atomic.AddInt32(&taken, 1)
			}
		}()
	}
	wg.Wait()

	if taken != 1 {
		t.Errorf("expected exactly 1 take, got %d", taken)
	}
}

func TestRedisTakePending_Expired(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, StateTTL{Pending: time.Minute, Correction: time.Minute})
	client.Del(ctx, "pending:test-actor")

	adapter.PutPending(ctx, domain.PendingConfirmation{
		ActorID: "test-actor", Transcript: "old", CreatedAt: time.Now().Add(-2 * time.Minute),
	})

	p, err := adapter.TakePending(ctx, "test-actor")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected expired entry to read as absent, got %+v", p)
	}
}

func TestRedisDeleteCorrectionIf(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, StateTTL{Pending: time.Minute, Correction: time.Minute})
	client.Del(ctx, "correction:test-actor")

	adapter.PutCorrection(ctx, domain.CorrectionState{
		ID: "state-2", ActorID: "test-actor", Type: domain.CorrectionBatchSelection,
		Payload: []byte(`{}`), CreatedAt: time.Now(),
	})

	ok, err := adapter.DeleteCorrectionIf(ctx, "test-actor", "state-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("stale id must not delete the newer state")
	}

	ok, _ = adapter.DeleteCorrectionIf(ctx, "test-actor", "state-2")
	if !ok {
		t.Error("expected delete with matching id")
	}

	c, _ := adapter.GetCorrection(ctx, "test-actor")
	if c != nil {
		t.Errorf("expected correction removed, got %+v", c)
	}
}

func TestRedisLock_Serializes(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, StateTTL{})
	client.Del(ctx, "lock:test-key")

	var wg sync.WaitGroup
	var inside, maxInside int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := adapter.Lock(ctx, "test-key")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected at most one holder, saw %d", maxInside)
	}
}

func TestRedisLock_ContextCancelled(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	adapter := NewRedisAdapter(client, StateTTL{})
	client.Del(context.Background(), "lock:test-key")

	unlock, err := adapter.Lock(context.Background(), "test-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := adapter.Lock(ctx, "test-key"); err == nil {
		t.Error("expected error while the key is held")
	}
}
