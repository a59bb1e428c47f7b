// Package invalidate reacts to content-change events from the host CMS.
// Each purge target is independent: a target that fails to resolve or
// delete is logged and skipped, the rest still run.
package invalidate

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/page-vault/page-vault/internal/cache"
	"github.com/page-vault/page-vault/internal/logging"
	"github.com/page-vault/page-vault/internal/metrics"
	"github.com/page-vault/page-vault/internal/resolver"
)

// Event 描述一次内容变更：文档标识、规范 URL 与所属分类页 URL。
// Revision 为 true 表示仅保存了历史修订，不触发任何清除。
type Event struct {
	ContentID    string   `json:"content_id"`
	URL          string   `json:"url"`
	TaxonomyURLs []string `json:"taxonomy_urls"`
	Revision     bool     `json:"revision"`
}

// Router 将内容变更事件转换为缓存目录删除。
type Router struct {
	resolver   *resolver.Resolver
	pages      cache.Store
	logger     *logrus.Logger
	recorder   metrics.Recorder
	feedSuffix string
}

// New 构建 Router；feedSuffix 是站点 feed 端点相对首页的路径。
func New(res *resolver.Resolver, pages cache.Store, logger *logrus.Logger, recorder metrics.Recorder, feedSuffix string) *Router {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Router{
		resolver:   res,
		pages:      pages,
		logger:     logger,
		recorder:   recorder,
		feedSuffix: feedSuffix,
	}
}

// HandleContentChange 清除文档自身目录，然后无条件清除首页与 feed，
// 最后清除每个分类页。任何目标失败都不阻塞其余目标。
func (r *Router) HandleContentChange(event Event) {
	if event.Revision {
		r.logger.WithFields(logging.PurgeFields("purge_skipped", event.URL, "revision")).Debug("revision change ignored")
		return
	}

	r.purgeURL(event.URL, "content_change")

	if home, feed, ok := homeAndFeed(event.URL, r.feedSuffix); ok {
		r.purgeURL(home, "home_refresh")
		r.purgeURL(feed, "feed_refresh")
	}

	for _, taxonomy := range event.TaxonomyURLs {
		r.purgeURL(taxonomy, "taxonomy_refresh")
	}
}

// PurgeURL 清除单个 URL 对应的缓存目录，供外部调用方复用。
func (r *Router) PurgeURL(rawURL string) bool {
	return r.purgeURL(rawURL, "manual")
}

func (r *Router) purgeURL(rawURL, reason string) bool {
	entryPath, err := r.resolver.ResolveURL(rawURL)
	if err != nil {
		r.logger.WithError(err).WithFields(logging.PurgeFields("purge_resolve_failed", rawURL, reason)).Warn("purge target rejected")
		return false
	}

	// 首页的条目目录就是整个 host 目录，只删正文与 sidecar；
	// 其余页面连同子目录一起删除。
	dir := resolver.EntryDir(entryPath)
	if filepath.Dir(dir) == r.resolver.Root() {
		if err := r.pages.Delete(entryPath, false); err != nil {
			r.logger.WithError(err).WithFields(logging.PurgeFields("purge_failed", rawURL, reason)).Warn("purge failed")
			return false
		}
		_ = r.pages.Delete(resolver.MetaPath(entryPath), false)
	} else if err := r.pages.Delete(dir, true); err != nil {
		r.logger.WithError(err).WithFields(logging.PurgeFields("purge_failed", rawURL, reason)).Warn("purge failed")
		return false
	}

	r.recorder.Purged()
	r.logger.WithFields(logging.PurgeFields("purged", rawURL, reason)).Info("cache purged")
	return true
}

// homeAndFeed 从文档 URL 推导站点首页与 feed 端点。
func homeAndFeed(rawURL, feedSuffix string) (string, string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "", "", false
	}
	home := parsed.Scheme + "://" + parsed.Host + "/"
	feed := home + strings.Trim(feedSuffix, "/") + "/"
	return home, feed, true
}
