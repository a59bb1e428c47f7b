// Package routes wires the /-/ admin surface: purge webhook, flush, stats,
// generated proxy rules, health and Prometheus metrics. These endpoints are
// callers of the cache core, kept thin on purpose.
package routes

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/page-vault/page-vault/internal/cache"
	"github.com/page-vault/page-vault/internal/config"
	"github.com/page-vault/page-vault/internal/invalidate"
	"github.com/page-vault/page-vault/internal/metrics"
	"github.com/page-vault/page-vault/internal/ratelimit"
	"github.com/page-vault/page-vault/internal/resolver"
	"github.com/page-vault/page-vault/internal/server"
	"github.com/page-vault/page-vault/internal/stats"
	"github.com/page-vault/page-vault/internal/version"
)

// Options 汇总管理接口需要的全部依赖。
type Options struct {
	Logger    *logrus.Logger
	Pages     cache.Store
	Resolver  *resolver.Resolver
	Purger    *invalidate.Router
	Stats     *stats.Tracker
	Limiter   *ratelimit.Limiter
	Figures   *server.FigureSource
	Recorder  metrics.Recorder
	Registry  *prometheus.Registry
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
}

// Register 挂载 /-/ 下的全部管理路由。
func Register(app *fiber.App, opts Options) {
	if app == nil || opts.Logger == nil {
		return
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Noop{}
	}

	app.Get("/-/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": version.Full()})
	})

	// 内容变更 webhook：限流保护，revision 在 Router 内部过滤。
	app.Post("/-/purge", func(c fiber.Ctx) error {
		if !opts.Limiter.Allow("purge:"+c.IP(), int64(opts.RateLimit.PurgeLimit), opts.RateLimit.PurgeWindow.DurationValue()) {
			recorder.RateLimited()
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		}

		var event invalidate.Event
		if err := json.Unmarshal(c.Body(), &event); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_event"})
		}
		if event.URL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}

		opts.Purger.HandleContentChange(event)
		return c.JSON(fiber.Map{"status": "accepted"})
	})

	app.Post("/-/flush", func(c fiber.Ctx) error {
		if err := opts.Pages.FlushAll(); err != nil {
			opts.Logger.WithError(err).WithField("action", "flush_failed").Error("flush failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "flush_failed"})
		}
		opts.Figures.Invalidate()
		opts.Logger.WithField("action", "flush_all").Info("cache flushed")
		return c.JSON(fiber.Map{"status": "flushed"})
	})

	app.Get("/-/stats", func(c fiber.Ctx) error {
		figures, err := opts.Figures.Current()
		if err != nil {
			opts.Logger.WithError(err).WithField("action", "figures_failed").Warn("figures unavailable")
		}
		return c.JSON(fiber.Map{
			"week":    opts.Stats.WeekKey(),
			"metrics": opts.Stats.WeekSnapshot(),
			"figures": figures,
		})
	})

	// 前端性能上报：目前只消费 LCP 预加载计数，同样受限流保护。
	app.Post("/-/telemetry", func(c fiber.Ctx) error {
		if !opts.Limiter.Allow("telemetry:"+c.IP(), int64(opts.RateLimit.TelemetryLimit), opts.RateLimit.TelemetryWindow.DurationValue()) {
			recorder.RateLimited()
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		}

		var payload struct {
			LCPPreloads int64 `json:"lcp_preloads"`
		}
		if err := json.Unmarshal(c.Body(), &payload); err != nil || payload.LCPPreloads <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		if err := opts.Stats.Increment(stats.MetricLCPPreloads, payload.LCPPreloads); err != nil {
			opts.Logger.WithError(err).WithField("action", "telemetry_failed").Warn("telemetry ingest failed")
		}
		return c.JSON(fiber.Map{"status": "recorded"})
	})

	app.Get("/-/rules/:host", func(c fiber.Ctx) error {
		host := strings.TrimSpace(c.Params("host"))
		if host == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "host_required"})
		}
		text := opts.Resolver.RuleText(host, opts.Cache.ExcludeCookies)
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(text)
	})

	if opts.Registry != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{
			Timeout: 5 * time.Second,
		})))
	}
}
