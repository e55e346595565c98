package dedup

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// newTestRedisStore はTEST_REDIS_ADDRのRedisに接続する。未設定または接続できない場合はスキップする。
func newTestRedisStore(t *testing.T, window time.Duration) *RedisStore {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR が未設定のためスキップ")
	}

	client := NewRedisClient(addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redisに接続できないためスキップ: %v", err)
	}

	s := NewRedisStore(client, window)
	s.prefix = fmt.Sprintf("wellnesswire:test:%s:%d:", t.Name(), time.Now().UnixNano())

	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, s.prefix+"*").Result()
		if len(keys) > 0 {
			_ = client.Del(ctx, keys...).Err()
		}
		_ = client.Close()
	})
	return s
}

func TestRedisStore_ReserveTwice(t *testing.T) {
	s := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	ok, err := s.Reserve(ctx, "fp")
	if err != nil || !ok {
		t.Fatalf("初回の予約は成功するべき: ok=%v err=%v", ok, err)
	}
	ok, err = s.Reserve(ctx, "fp")
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if ok {
		t.Error("2回目の予約は失敗するべき")
	}
}

func TestRedisStore_ExpiresAfterWindow(t *testing.T) {
	s := newTestRedisStore(t, 200*time.Millisecond)
	ctx := context.Background()

	if ok, _ := s.Reserve(ctx, "fp"); !ok {
		t.Fatal("初回の予約は成功するべき")
	}
	time.Sleep(400 * time.Millisecond)
	if ok, _ := s.Reserve(ctx, "fp"); !ok {
		t.Error("ウィンドウ経過後は再び予約できるべき")
	}
}

func TestRedisStore_ConcurrentReserveSingleWinner(t *testing.T) {
	s := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.Reserve(ctx, "same"); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("予約に成功した数 = %d, want 1", got)
	}
}

func TestRedisStore_ReleaseAndSeed(t *testing.T) {
	s := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	_, _ = s.Reserve(ctx, "fp")
	if err := s.Release(ctx, "fp"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if ok, _ := s.Reserve(ctx, "fp"); !ok {
		t.Error("取り消した後は再び予約できるべき")
	}

	if err := s.Seed(ctx, "seeded", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Seed returned error: %v", err)
	}
	if ok, _ := s.Reserve(ctx, "seeded"); ok {
		t.Error("復元済みの記録は予約を妨げるべき")
	}

	if err := s.Seed(ctx, "old", time.Now().Add(-2*time.Hour)); err != nil {
		t.Fatalf("Seed returned error: %v", err)
	}
	if ok, _ := s.Reserve(ctx, "old"); !ok {
		t.Error("ウィンドウ外の記録は復元されないべき")
	}
}
