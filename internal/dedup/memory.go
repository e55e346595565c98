package dedup

import (
	"context"
	"sync"
	"time"
)

// maxPruneInterval は期限切れ記録の掃除を行う最大間隔。
const maxPruneInterval = time.Hour

// MemoryStore はプロセス内のマップで記録を保持するStore。
// 全ての操作は1つのミューテックスで直列化される。
type MemoryStore struct {
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	records   map[string]time.Time
	lastPrune time.Time
}

// MemoryOption はMemoryStoreの設定を変更する。
type MemoryOption func(*MemoryStore)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore はウィンドウを指定してMemoryStoreを生成する。
func NewMemoryStore(window time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		window:  window,
		now:     time.Now,
		records: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastPrune = s.now()
	return s
}

// Reserve はStoreインターフェースを実装する。
func (s *MemoryStore) Reserve(_ context.Context, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)

	if at, ok := s.records[fingerprint]; ok && s.live(at, now) {
		return false, nil
	}
	s.records[fingerprint] = now
	return true, nil
}

// Release はStoreインターフェースを実装する。
func (s *MemoryStore) Release(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, fingerprint)
	return nil
}

// Seed はStoreインターフェースを実装する。既存の記録より新しい場合のみ上書きする。
func (s *MemoryStore) Seed(_ context.Context, fingerprint string, recordedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live(recordedAt, s.now()) {
		return nil
	}
	if at, ok := s.records[fingerprint]; ok && !recordedAt.After(at) {
		return nil
	}
	s.records[fingerprint] = recordedAt
	return nil
}

// Len は保持している記録数（期限切れで未掃除のものを含む）を返す。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) live(recordedAt, now time.Time) bool {
	return now.Sub(recordedAt) < s.window
}

// pruneLocked は一定間隔ごとに期限切れの記録を削除する。s.muを保持した状態で呼ぶ。
func (s *MemoryStore) pruneLocked(now time.Time) {
	interval := min(s.window, maxPruneInterval)
	if now.Sub(s.lastPrune) < interval {
		return
	}
	for fp, at := range s.records {
		if !s.live(at, now) {
			delete(s.records, fp)
		}
	}
	s.lastPrune = now
}

var _ Store = (*MemoryStore)(nil)
