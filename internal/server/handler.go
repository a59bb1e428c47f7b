package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/page-vault/page-vault/internal/cache"
	"github.com/page-vault/page-vault/internal/config"
	"github.com/page-vault/page-vault/internal/logging"
	"github.com/page-vault/page-vault/internal/metrics"
	"github.com/page-vault/page-vault/internal/policy"
	"github.com/page-vault/page-vault/internal/resolver"
	"github.com/page-vault/page-vault/internal/stats"
	"github.com/page-vault/page-vault/internal/warmer"
)

// 登录态 Cookie 前缀：命中任意一个即视为已认证会话，绕过缓存。
var sessionCookiePrefixes = []string{
	"wordpress_logged_in",
	"wp-postpass",
	"comment_author",
}

// Handler 编排单个请求的完整生命周期：
// 策略判定 → 命中直出 → 未命中回源并在响应收尾时捕获正文写入缓存。
type Handler struct {
	client   *http.Client
	logger   *logrus.Logger
	pages    cache.Store
	resolver *resolver.Resolver
	policy   *policy.Policy
	stats    *stats.Tracker
	tracker  *warmer.Tracker
	recorder metrics.Recorder
	origin   *url.URL
	cfg      *config.Config
}

// NewHandler constructs the request handler with shared client/logger/stores.
func NewHandler(
	client *http.Client,
	logger *logrus.Logger,
	pages cache.Store,
	res *resolver.Resolver,
	pol *policy.Policy,
	statsTracker *stats.Tracker,
	hitTracker *warmer.Tracker,
	recorder metrics.Recorder,
	cfg *config.Config,
) (*Handler, error) {
	origin, err := url.Parse(cfg.Global.OriginURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Handler{
		client:   client,
		logger:   logger,
		pages:    pages,
		resolver: res,
		policy:   pol,
		stats:    statsTracker,
		tracker:  hitTracker,
		recorder: recorder,
		origin:   origin,
		cfg:      cfg,
	}, nil
}

// Handle 执行缓存查找与回源捕获，任何缓存层故障都降级为直接回源。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := RequestID(c)
	host := hostHeader(c)
	path := string(c.Request().URI().Path())
	rawQuery := string(c.Request().URI().QueryString())
	cookieNames := requestCookieNames(c)

	req := policy.Request{
		Method:        c.Method(),
		Path:          path,
		RawQuery:      rawQuery,
		CookieNames:   cookieNames,
		Authenticated: hasSessionCookie(cookieNames),
	}

	cacheable, reason := h.policy.Cacheable(req)
	if !cacheable {
		h.logger.WithFields(logrus.Fields{
			"action":     "passthrough",
			"host":       host,
			"path":       path,
			"reason":     reason,
			"request_id": requestID,
		}).Debug("request not cacheable")
		return h.passthrough(c)
	}

	isWarm := policy.IsWarmRequest(rawQuery)
	if !isWarm {
		h.tracker.Track(requestURL(c, host, path))
	}

	entryPath, err := h.resolver.Resolve(host, path)
	if err != nil {
		// 非法路径按未命中处理，只记警告
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action": "path_rejected",
			"host":   host,
			"path":   path,
		}).Warn("unsafe request path")
		return h.passthrough(c)
	}

	if payload, meta, err := h.pages.Read(entryPath); err == nil {
		return h.serveHit(c, payload, meta, host, path, requestID, started)
	}

	return h.captureMiss(c, entryPath, host, path, requestID, isWarm, started)
}

func (h *Handler) serveHit(c fiber.Ctx, payload []byte, meta cache.Meta, host, path, requestID string, started time.Time) error {
	h.recorder.Hit()
	_ = h.stats.Increment(stats.MetricCacheHits, 1)
	_ = h.stats.RecordCachedTiming(time.Since(started).Milliseconds())
	_ = h.stats.AddTimeSavedFromHit()

	// 回放捕获时的 Content-Type；老条目的 sidecar 没有该字段时退回默认值。
	contentType := meta.ContentType
	if contentType == "" {
		contentType = fiber.MIMETextHTMLCharsetUTF8
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set("X-Page-Vault", "HIT")
	h.logger.WithFields(logging.RequestFields(host, path, requestID, true)).Info("served from cache")
	return c.Status(fiber.StatusOK).Send(payload)
}

// captureMiss 回源渲染页面，把正文同时写给客户端与缓存。
// 捕获发生在响应收尾处：正文为空时记日志放弃，绝不写空缓存文件。
func (h *Handler) captureMiss(c fiber.Ctx, entryPath, host, path, requestID string, isWarm bool, started time.Time) error {
	h.recorder.Miss()

	resp, err := h.fetchOrigin(c)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action": "origin_failed",
			"host":   host,
			"path":   path,
		}).Warn("origin fetch failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "origin_failed"})
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Page-Vault", "MISS")
	c.Status(resp.StatusCode)

	capture := io.TeeReader(resp.Body, c.Response().BodyWriter())
	payload, err := io.ReadAll(capture)
	renderMS := time.Since(started).Milliseconds()
	h.logger.WithFields(logging.RequestFields(host, path, requestID, false)).Info("served from origin")
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("origin stream failed: %v", err))
	}

	h.finalizeCapture(entryPath, payload, host, path, resp.StatusCode, resp.Header.Get(fiber.HeaderContentType), isWarm, renderMS)
	return nil
}

// finalizeCapture 是写入决策点：状态码、正文非空都满足才落盘。
func (h *Handler) finalizeCapture(entryPath string, payload []byte, host, path string, status int, contentType string, isWarm bool, renderMS int64) {
	if status != http.StatusOK {
		return
	}
	if len(payload) == 0 {
		h.logger.WithFields(logrus.Fields{
			"action": "empty_capture",
			"host":   host,
			"path":   path,
		}).Warn("refusing to cache empty page")
		return
	}

	class := policy.Classify(path, h.cfg.Cache)
	ttl := policy.TTLFor(class, h.cfg.Cache)
	if err := h.pages.Write(entryPath, payload, ttl, contentType); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_write_failed",
			"host":   host,
			"path":   path,
		}).Warn("cache write failed")
		return
	}

	if isWarm {
		h.recorder.Warmed()
		_ = h.stats.Increment(stats.MetricWarmedPages, 1)
	} else {
		// 未命中的渲染耗时喂给滚动平均，之后命中时据此估算节省时间
		_ = h.stats.RecordUncachedTiming(renderMS)
	}

	h.logger.WithFields(logrus.Fields{
		"action": "captured",
		"host":   host,
		"path":   path,
		"class":  class.String(),
		"ttl_s":  int64(ttl / time.Second),
		"warm":   isWarm,
	}).Debug("page captured")
}

// passthrough 将不可缓存的请求原样转发给源站。
func (h *Handler) passthrough(c fiber.Ctx) error {
	resp, err := h.fetchOrigin(c)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "origin_failed"})
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Page-Vault", "BYPASS")
	c.Status(resp.StatusCode)

	if _, err := io.Copy(c.Response().BodyWriter(), resp.Body); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) fetchOrigin(c fiber.Ctx) (*http.Response, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	target := *h.origin
	target.Path = string(c.Request().URI().Path())
	target.RawQuery = string(c.Request().URI().QueryString())

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}

	CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = h.origin.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	req.Header.Set("X-Forwarded-Proto", c.Scheme())

	return h.client.Do(req)
}

// requestURL 重建完整请求 URL 作为命中窗口键；预热器稍后会原样回放，
// 所以必须使用 scheme 而非协议版本号，保证键可被解析回源。
func requestURL(c fiber.Ctx, host, path string) string {
	return c.Scheme() + "://" + host + path
}

func requestCookieNames(c fiber.Ctx) []string {
	var names []string
	c.Request().Header.VisitAllCookie(func(key, _ []byte) {
		names = append(names, string(key))
	})
	return names
}

func hasSessionCookie(names []string) bool {
	for _, name := range names {
		for _, prefix := range sessionCookiePrefixes {
			if strings.HasPrefix(name, prefix) {
				return true
			}
		}
	}
	return false
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if isHopByHopHeader(key) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
			} else {
				c.Response().Header.Add(key, value)
			}
		}
	}
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	headers := make(http.Header)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers.Add(string(key), string(value))
	})
	return headers
}
