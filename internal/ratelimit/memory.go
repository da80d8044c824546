package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// purgeHorizon より古いウィンドウのカウンタは掃除対象とする。
const purgeHorizon = 24 * time.Hour

// counterKey はカウンタ行の複合キー。共有ストア側と同じ粒度を保つ。
type counterKey struct {
	callerID    string
	endpoint    string
	windowStart int64
}

// MemoryStore は共有ストア到達不能時のプロセス内フォールバック。
// インスタンス間で合算されない非権威なカウンタである。
type MemoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]int
	windows  map[counterKey]time.Time
	randFn   func() float64
	now      func() time.Time
}

// NewMemoryStore は空のローカルカウンタを構築する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[counterKey]int),
		windows:  make(map[counterKey]time.Time),
		randFn:   rand.Float64,
		now:      time.Now,
	}
}

// CheckAndIncrement はローカルカウンタを加算しインクリメント後の値を返す。
// 共有ストアと同じく約 1% の確率で古い行を掃除する。
func (s *MemoryStore) CheckAndIncrement(_ context.Context, callerID, endpoint string, windowStart time.Time) (int, error) {
	key := counterKey{callerID: callerID, endpoint: endpoint, windowStart: windowStart.UnixMilli()}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[key]++
	s.windows[key] = windowStart

	if s.randFn() < 0.01 {
		s.purgeLocked()
	}
	return s.counters[key], nil
}

// purgeLocked は安全ホライズンより古いウィンドウの行を削除する。
// 呼び出し元が mu を保持していること。
func (s *MemoryStore) purgeLocked() {
	horizon := s.now().Add(-purgeHorizon)
	for key, start := range s.windows {
		if start.Before(horizon) {
			delete(s.counters, key)
			delete(s.windows, key)
		}
	}
}
