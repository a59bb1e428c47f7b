// Package warmer converts reactive cache misses into proactive population:
// it counts hits per URL over a rolling window and periodically re-fetches
// the hottest ones through the normal capture path. A single short-TTL lock
// in the shared store keeps one sweep running at a time across processes;
// its expiry heals the lock if a holder crashes.
package warmer

import (
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/page-vault/page-vault/internal/kv"
)

const (
	hitWindowKey = "warmer:hits"
	lockKey      = "warmer:lock"
)

// Tracker 记录可预热请求的命中次数，窗口整体存放在共享 KV 中。
// 窗口条目使用 2× 窗口时长的 TTL：即便某个周期被跳过，过期窗口也会自清。
type Tracker struct {
	store  kv.Store
	window time.Duration
}

// NewTracker 构建 Tracker，window 是命中统计的滚动窗口时长。
func NewTracker(store kv.Store, window time.Duration) *Tracker {
	return &Tracker{store: store, window: window}
}

// Track 对完整 URL 的命中计数加一。失败静默忽略：
// 命中统计是尽力而为的信号，不允许拖累请求路径。
func (t *Tracker) Track(url string) {
	_ = t.store.Update(hitWindowKey, 2*t.window, func(old []byte) ([]byte, error) {
		hits := decodeWindow(old)
		hits[url]++
		return json.Marshal(hits)
	})
}

// Snapshot 返回当前窗口的全部计数。
func (t *Tracker) Snapshot() map[string]int64 {
	raw, err := t.store.Get(hitWindowKey)
	if err != nil {
		return map[string]int64{}
	}
	return decodeWindow(raw)
}

// Reset 清空窗口，由每个预热周期在派发后调用。
func (t *Tracker) Reset() error {
	return t.store.Delete(hitWindowKey)
}

// TopN 按命中次数降序返回前 n 个 URL。
func (t *Tracker) TopN(n int) []string {
	hits := t.Snapshot()
	urls := make([]string, 0, len(hits))
	for url := range hits {
		urls = append(urls, url)
	}
	sort.Slice(urls, func(i, j int) bool {
		if hits[urls[i]] != hits[urls[j]] {
			return hits[urls[i]] > hits[urls[j]]
		}
		return urls[i] < urls[j]
	})
	if n >= 0 && len(urls) > n {
		urls = urls[:n]
	}
	return urls
}

func decodeWindow(raw []byte) map[string]int64 {
	hits := make(map[string]int64)
	if raw != nil {
		// 解码失败当作空窗口重新累计
		_ = json.Unmarshal(raw, &hits)
	}
	return hits
}
