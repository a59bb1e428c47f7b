// Package stats keeps weekly usage metrics in the shared ephemeral store.
// Every metric is partitioned by an ISO week key, so a new week simply opens
// a fresh row and history stays readable. All writes go through the store's
// atomic upsert; concurrent callers cannot lose updates.
package stats

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/page-vault/page-vault/internal/kv"
)

// 周指标名。avg_* 是指数平滑滚动平均，其余为累加计数。
const (
	MetricWarmedPages = "warmed_pages"
	MetricLCPPreloads = "lcp_preloads"
	MetricCacheHits   = "cache_hits"
	MetricAvgUncached = "avg_uncached_ms"
	MetricAvgCached   = "avg_cached_ms"
	MetricTimeSaved   = "time_saved_ms"
)

// Tracker 封装周指标的读写；一个进程一份实例即可。
type Tracker struct {
	store kv.Store
	now   func() time.Time
}

// New 构建 Tracker。
func New(store kv.Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// WeekKey 返回当前 ISO 周键，形如 2026-W35。
func (t *Tracker) WeekKey() string {
	year, week := t.now().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// Increment 对指标做原子 insert-or-add，step 可为任意正数。
func (t *Tracker) Increment(metric string, step int64) error {
	return t.upsert(metric, func(old int64) int64 {
		return old + step
	})
}

// RecordUncachedTiming 更新未命中请求的滚动平均渲染耗时。
// 更新公式 new = round((old*9 + ms) / 10)：历史权重 9:1，单次尖刺被抑制，
// 真实趋势在约 10 个样本内跟上。首个样本直接采用。
func (t *Tracker) RecordUncachedTiming(ms int64) error {
	return t.rollAverage(MetricAvgUncached, ms)
}

// RecordCachedTiming 更新命中请求的滚动平均耗时。
func (t *Tracker) RecordCachedTiming(ms int64) error {
	return t.rollAverage(MetricAvgCached, ms)
}

// AddTimeSavedFromHit 在每次命中时把 (未命中平均 − 命中平均) 累加进
// time_saved_ms，负差值按 0 计。
func (t *Tracker) AddTimeSavedFromHit() error {
	uncached := t.Value(MetricAvgUncached)
	cached := t.Value(MetricAvgCached)

	saved := uncached - cached
	if saved <= 0 {
		return nil
	}
	return t.Increment(MetricTimeSaved, saved)
}

// Value 读取当前周某指标的值，缺失返回 0。
func (t *Tracker) Value(metric string) int64 {
	raw, err := t.store.Get(t.key(metric))
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// WeekSnapshot 汇总当前周全部指标，供 stats 接口输出。
func (t *Tracker) WeekSnapshot() map[string]int64 {
	snapshot := make(map[string]int64)
	for _, metric := range []string{
		MetricWarmedPages, MetricLCPPreloads, MetricCacheHits,
		MetricAvgUncached, MetricAvgCached, MetricTimeSaved,
	} {
		snapshot[metric] = t.Value(metric)
	}
	return snapshot
}

func (t *Tracker) rollAverage(metric string, sample int64) error {
	return t.upsertWithPresence(metric, func(old int64, present bool) int64 {
		if !present {
			return sample
		}
		return int64(math.Round(float64(old*9+sample) / 10))
	})
}

func (t *Tracker) upsert(metric string, fn func(old int64) int64) error {
	return t.upsertWithPresence(metric, func(old int64, _ bool) int64 {
		return fn(old)
	})
}

func (t *Tracker) upsertWithPresence(metric string, fn func(old int64, present bool) int64) error {
	return t.store.Update(t.key(metric), 0, func(raw []byte) ([]byte, error) {
		var old int64
		present := false
		if raw != nil {
			parsed, err := strconv.ParseInt(string(raw), 10, 64)
			if err == nil {
				old = parsed
				present = true
			}
		}
		next := fn(old, present)
		return []byte(strconv.FormatInt(next, 10)), nil
	})
}

func (t *Tracker) key(metric string) string {
	return "stats:" + t.WeekKey() + ":" + metric
}
