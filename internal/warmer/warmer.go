package warmer

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/page-vault/page-vault/internal/cache"
	"github.com/page-vault/page-vault/internal/config"
	"github.com/page-vault/page-vault/internal/kv"
	"github.com/page-vault/page-vault/internal/policy"
	"github.com/page-vault/page-vault/internal/resolver"
)

// ErrLockHeld 表示另一个进程正在执行预热周期，本周期直接跳过。
// 这是正常结果而非故障：周期从不排队，锁 TTL 保证崩溃后自愈。
var ErrLockHeld = errors.New("warm lock held")

// Warmer 驱动预热周期：抢锁 → 取 TopN → 逐个发出带预热标记的回源请求。
type Warmer struct {
	store    kv.Store
	tracker  *Tracker
	pages    cache.Store
	resolver *resolver.Resolver
	client   *http.Client
	logger   *logrus.Logger
	cfg      config.WarmerConfig
}

// New 构建 Warmer；client 复用进程级共享 HTTP 客户端。
func New(
	store kv.Store,
	tracker *Tracker,
	pages cache.Store,
	res *resolver.Resolver,
	client *http.Client,
	logger *logrus.Logger,
	cfg config.WarmerConfig,
) *Warmer {
	return &Warmer{
		store:    store,
		tracker:  tracker,
		pages:    pages,
		resolver: res,
		client:   client,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start 以配置的间隔循环执行 RunCycle，直到 ctx 取消。
func (w *Warmer) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval.DurationValue())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunCycle(ctx); err != nil && !errors.Is(err, ErrLockHeld) {
				w.logger.WithError(err).WithField("action", "warm_cycle_failed").Warn("warm cycle failed")
			}
		}
	}
}

// RunCycle 执行一次预热周期。锁被持有时返回 ErrLockHeld。
func (w *Warmer) RunCycle(ctx context.Context) error {
	if err := w.acquireLock(); err != nil {
		if errors.Is(err, ErrLockHeld) {
			w.logger.WithField("action", "warm_lock_held").Info("skipping warm cycle")
		}
		return err
	}
	defer w.releaseLock()

	targets := w.tracker.TopN(w.cfg.MaxURLs)
	dispatched := w.dispatch(ctx, targets)

	if err := w.tracker.Reset(); err != nil {
		w.logger.WithError(err).WithField("action", "hit_window_reset_failed").Warn("hit window reset failed")
	}

	w.logger.WithFields(logrus.Fields{
		"action":     "warm_cycle_done",
		"candidates": len(targets),
		"dispatched": dispatched,
	}).Info("warm cycle complete")
	return nil
}

// dispatch 对尚未被有效缓存覆盖的目标发出 fire-and-forget 抓取。
// 响应体直接丢弃：目的只是触发源站侧的捕获路径，而不是在这里消费页面。
func (w *Warmer) dispatch(ctx context.Context, targets []string) int {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(w.cfg.Concurrency)

	dispatched := 0
	for _, target := range targets {
		entryPath, err := w.resolver.ResolveURL(target)
		if err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"action": "warm_target_rejected",
				"url":    target,
			}).Warn("unsafe warm target")
			continue
		}
		if w.pages.IsValid(entryPath) {
			continue
		}

		warmURL, err := withWarmMarker(target)
		if err != nil {
			continue
		}
		dispatched++
		group.Go(func() error {
			w.fetch(ctx, warmURL)
			return nil
		})
	}

	_ = group.Wait()
	return dispatched
}

func (w *Warmer) fetch(ctx context.Context, warmURL string) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout.DurationValue())
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, warmURL, nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", "page-vault-warmer")

	resp, err := w.client.Do(req)
	if err != nil {
		// 目标不可达或超时都只记 debug：慢源站不允许拖住调度器。
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action": "warm_fetch_failed",
			"url":    warmURL,
		}).Debug("warm fetch failed")
		return
	}
	resp.Body.Close()
}

func (w *Warmer) acquireLock() error {
	err := w.store.AddIfAbsent(lockKey, []byte(time.Now().Format(time.RFC3339)), w.cfg.LockTTL.DurationValue())
	if errors.Is(err, kv.ErrExists) {
		return ErrLockHeld
	}
	return err
}

func (w *Warmer) releaseLock() {
	if err := w.store.Delete(lockKey); err != nil {
		w.logger.WithError(err).WithField("action", "warm_lock_release_failed").Warn("warm lock release failed")
	}
}

// withWarmMarker 为目标 URL 追加预热参数，让请求穿过缓存策略。
func withWarmMarker(target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set(policy.WarmParam, policy.WarmValue)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
