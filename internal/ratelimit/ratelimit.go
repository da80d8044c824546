// Package ratelimit は固定ウィンドウ方式のエンドポイント別レートリミットを提供する。
package ratelimit

import (
	"context"
	"log"
	"time"
)

// Policy はエンドポイント 1 つ分の割り当て設定。
// 固定ウィンドウのため、境界をまたぐバーストは瞬間的に最大 2 倍まで
// 通過しうる。実装の単純さを優先した割り切りであり、全インスタンスで
// 同一の設定を共有しないとウィンドウ計算が成立しない。
type Policy struct {
	Endpoint    string
	MaxRequests int
	Window      time.Duration
}

// WindowStart は now が属する固定ウィンドウの開始時刻を返す。
func (p Policy) WindowStart(now time.Time) time.Time {
	if p.Window <= 0 {
		return now.UTC().Truncate(time.Minute)
	}
	return now.UTC().Truncate(p.Window)
}

// Store はカウンタの check-and-increment を 1 回のアトミックな
// ストア側操作として実行するポート。戻り値はインクリメント後のカウント。
type Store interface {
	CheckAndIncrement(ctx context.Context, callerID, endpoint string, windowStart time.Time) (int, error)
}

// Limiter は共有ストアを第一候補とし、到達不能時のみプロセス内
// カウンタへフォールバックするガード。フォールバック中はインスタンス間の
// 合算が効かなくなるため、使用のたびに警告を出す。
type Limiter struct {
	shared   Store
	fallback Store
	logger   *log.Logger
	now      func() time.Time
}

// New は共有ストアとフォールバックを束ねた Limiter を構築する。
func New(shared Store, fallback Store, logger *log.Logger) *Limiter {
	return &Limiter{shared: shared, fallback: fallback, logger: logger, now: time.Now}
}

// IsLimited は割り当て超過なら true を返す。
// ストア障害時は可用性側に倒し、正規のトラフィックを塞がない。
func (l *Limiter) IsLimited(ctx context.Context, callerID string, policy Policy) bool {
	now := l.now()
	windowStart := policy.WindowStart(now)

	count, err := l.shared.CheckAndIncrement(ctx, callerID, policy.Endpoint, windowStart)
	if err == nil {
		return count > policy.MaxRequests
	}

	if l.logger != nil {
		l.logger.Printf("共有カウンタストアに到達できないためローカルカウンタへフォールバック: endpoint=%s err=%v", policy.Endpoint, err)
	}

	if l.fallback == nil {
		return false
	}
	count, err = l.fallback.CheckAndIncrement(ctx, callerID, policy.Endpoint, windowStart)
	if err != nil {
		if l.logger != nil {
			l.logger.Printf("ローカルカウンタの更新に失敗: endpoint=%s err=%v", policy.Endpoint, err)
		}
		return false
	}
	return count > policy.MaxRequests
}
