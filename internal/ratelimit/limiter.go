// Package ratelimit implements a fixed-window counter on top of the shared
// ephemeral store, bounding endpoints that do expensive work per call. A
// denial is a normal outcome surfaced as a boolean, never an error.
package ratelimit

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/page-vault/page-vault/internal/kv"
)

// bucket 是固定窗口计数器：窗口翻转时整体替换，不做滑动。
type bucket struct {
	Count   int64 `json:"count"`
	ResetAt int64 `json:"reset_at"`
}

// Limiter 将桶状态存放在共享 KV 中，多个进程共享同一份计数。
type Limiter struct {
	store kv.Store
	now   func() time.Time
}

// New 构建 Limiter。
func New(store kv.Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Allow 判定 key 在当前窗口内是否还可放行。limit<=0 表示显式放开。
// KV 故障时放行：限流器是保护层，不允许它本身成为故障点。
func (l *Limiter) Allow(key string, limit int64, window time.Duration) bool {
	if limit <= 0 {
		return true
	}

	allowed := false
	err := l.store.Update("ratelimit:"+key, 2*window, func(old []byte) ([]byte, error) {
		now := l.now().Unix()

		var b bucket
		if old != nil {
			if err := json.Unmarshal(old, &b); err != nil {
				b = bucket{}
			}
		}
		if old == nil || now > b.ResetAt {
			b = bucket{Count: 0, ResetAt: now + int64(window/time.Second)}
		}

		if b.Count >= limit {
			allowed = false
			return json.Marshal(b)
		}

		b.Count++
		allowed = true
		return json.Marshal(b)
	})
	if err != nil {
		return true
	}
	return allowed
}
