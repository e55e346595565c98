package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix はRedisに保存するキーの接頭辞。
const DefaultKeyPrefix = "wellnesswire:dedup:"

// RedisStore はRedisのSET NX PXで記録を保持するStore。
// 複数プロセスで同じRedisを共有しても予約は不可分になる。
// 有効期限はRedisのTTLに任せる。
type RedisStore struct {
	client *redis.Client
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client *redis.Client, window time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		window: window,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
}

// NewRedisClient はアドレス・パスワード・DB番号からRedisクライアントを生成する。
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Reserve はStoreインターフェースを実装する。
func (s *RedisStore) Reserve(ctx context.Context, fingerprint string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(fingerprint), s.now().Unix(), s.window).Result()
	if err != nil {
		return false, fmt.Errorf("重複排除キーの予約に失敗しました: %w", err)
	}
	return ok, nil
}

// Release はStoreインターフェースを実装する。
func (s *RedisStore) Release(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, s.key(fingerprint)).Err(); err != nil {
		return fmt.Errorf("重複排除キーの削除に失敗しました: %w", err)
	}
	return nil
}

// Seed はStoreインターフェースを実装する。残り有効期間をTTLにして記録する。
func (s *RedisStore) Seed(ctx context.Context, fingerprint string, recordedAt time.Time) error {
	ttl := s.window - s.now().Sub(recordedAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.SetNX(ctx, s.key(fingerprint), recordedAt.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("重複排除キーの復元に失敗しました: %w", err)
	}
	return nil
}

func (s *RedisStore) key(fingerprint string) string {
	return s.prefix + fingerprint
}

var _ Store = (*RedisStore)(nil)
