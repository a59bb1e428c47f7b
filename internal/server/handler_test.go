package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/page-vault/page-vault/internal/cache"
	"github.com/page-vault/page-vault/internal/config"
	"github.com/page-vault/page-vault/internal/kv"
	"github.com/page-vault/page-vault/internal/metrics"
	"github.com/page-vault/page-vault/internal/policy"
	"github.com/page-vault/page-vault/internal/resolver"
	"github.com/page-vault/page-vault/internal/stats"
	"github.com/page-vault/page-vault/internal/warmer"
)

type handlerEnv struct {
	app      *fiber.App
	pages    cache.Store
	resolver *resolver.Resolver
	stats    *stats.Tracker
	hits     *warmer.Tracker
	origin   *originStub
}

type originStub struct {
	server    *httptest.Server
	gets      atomic.Int64
	status    atomic.Int64
	body      atomic.Value
	ctype     atomic.Value
	lastProto atomic.Value
}

func newOriginStub(t *testing.T) *originStub {
	t.Helper()
	stub := &originStub{}
	stub.status.Store(int64(http.StatusOK))
	stub.body.Store([]byte("<html>rendered page</html>"))
	stub.ctype.Store("text/html; charset=UTF-8")
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			stub.gets.Add(1)
		}
		stub.lastProto.Store(r.Header.Get("X-Forwarded-Proto"))
		w.Header().Set("Content-Type", stub.ctype.Load().(string))
		w.Header().Set("X-Origin-Marker", "wp")
		w.WriteHeader(int(stub.status.Load()))
		_, _ = w.Write(stub.body.Load().([]byte))
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	origin := newOriginStub(t)
	root := t.TempDir()

	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:    5100,
			Mode:          config.ModeEnabled,
			OriginURL:     origin.server.URL,
			CacheRoot:     root,
			OriginTimeout: config.Duration(5 * time.Second),
		},
		Cache: config.CacheConfig{
			TTLDefault:     config.Duration(2 * time.Hour),
			TTLFront:       config.Duration(30 * time.Minute),
			TTLPost:        config.Duration(2 * time.Hour),
			PostPrefixes:   []string{"blog"},
			ExcludeCookies: []string{"woocommerce_items_in_cart"},
		},
	}

	pages, err := cache.NewStore(root, logger)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	res, err := resolver.New(root)
	if err != nil {
		t.Fatalf("resolver error: %v", err)
	}
	store, err := kv.Open("")
	if err != nil {
		t.Fatalf("kv error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tracker := stats.New(store)
	hits := warmer.NewTracker(store, time.Hour)

	handler, err := NewHandler(
		NewOriginClient(cfg),
		logger,
		pages,
		res,
		policy.New(cfg),
		tracker,
		hits,
		metrics.Noop{},
		cfg,
	)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	app, err := NewApp(AppOptions{
		Logger:     logger,
		Pages:      handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}

	return &handlerEnv{app: app, pages: pages, resolver: res, stats: tracker, hits: hits, origin: origin}
}

func (e *handlerEnv) get(t *testing.T, target string, modify ...func(*http.Request)) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://example.com"+target, nil)
	req.Host = "example.com"
	for _, fn := range modify {
		fn(req)
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func TestMissThenHit(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.get(t, "/blog/hello-world/")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Page-Vault"); got != "MISS" {
		t.Fatalf("expected MISS on first request, got %q", got)
	}
	if string(body) != "<html>rendered page</html>" {
		t.Fatalf("unexpected body: %s", string(body))
	}

	entry, err := env.resolver.Resolve("example.com", "/blog/hello-world/")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !env.pages.IsValid(entry) {
		t.Fatalf("expected entry cached after miss")
	}

	resp2 := env.get(t, "/blog/hello-world/")
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	if got := resp2.Header.Get("X-Page-Vault"); got != "HIT" {
		t.Fatalf("expected HIT on second request, got %q", got)
	}
	if string(body2) != string(body) {
		t.Fatalf("cached body differs from origin body")
	}
	if env.origin.gets.Load() != 1 {
		t.Fatalf("expected single origin fetch, got %d", env.origin.gets.Load())
	}
	if got := env.stats.Value(stats.MetricCacheHits); got != 1 {
		t.Fatalf("expected 1 recorded hit, got %d", got)
	}
}

func TestQueryStringBypassesCache(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.get(t, "/blog/hello/?s=search")
	resp.Body.Close()
	if got := resp.Header.Get("X-Page-Vault"); got != "BYPASS" {
		t.Fatalf("expected BYPASS for query request, got %q", got)
	}

	entry, _ := env.resolver.Resolve("example.com", "/blog/hello/")
	if env.pages.Exists(entry) {
		t.Fatalf("query requests must not populate the cache")
	}
}

func TestSessionCookieBypassesCache(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.get(t, "/blog/hello/", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "wordpress_logged_in_abc123", Value: "user"})
	})
	resp.Body.Close()
	if got := resp.Header.Get("X-Page-Vault"); got != "BYPASS" {
		t.Fatalf("expected BYPASS for logged-in user, got %q", got)
	}

	entry, _ := env.resolver.Resolve("example.com", "/blog/hello/")
	if env.pages.Exists(entry) {
		t.Fatalf("authenticated requests must not populate the cache")
	}
}

func TestWarmRequestCapturesWithoutTracking(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.get(t, "/blog/hot-post/?pv_warm=1")
	resp.Body.Close()
	if got := resp.Header.Get("X-Page-Vault"); got != "MISS" {
		t.Fatalf("expected warm fetch to be a cacheable miss, got %q", got)
	}

	entry, err := env.resolver.Resolve("example.com", "/blog/hot-post/")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !env.pages.IsValid(entry) {
		t.Fatalf("expected warm fetch to populate the cache")
	}
	if got := env.stats.Value(stats.MetricWarmedPages); got != 1 {
		t.Fatalf("expected warmed counter 1, got %d", got)
	}

	if window := env.hits.Snapshot(); len(window) != 0 {
		t.Fatalf("warm fetches must not feed the hit window, got %v", window)
	}
}

func TestOrganicRequestFeedsHitWindow(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.get(t, "/blog/popular/")
	resp.Body.Close()

	window := env.hits.Snapshot()
	if window["http://example.com/blog/popular/"] != 1 {
		t.Fatalf("expected tracked organic request, got %v", window)
	}

	// 窗口键必须能被解析回缓存路径，否则预热器拿到的是死条目。
	for url := range window {
		if _, err := env.resolver.ResolveURL(url); err != nil {
			t.Fatalf("hit-window key %q must be resolvable: %v", url, err)
		}
	}
}

func TestForwardedProtoIsScheme(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.get(t, "/blog/proto/")
	resp.Body.Close()

	proto, _ := env.origin.lastProto.Load().(string)
	if proto != "http" {
		t.Fatalf("expected X-Forwarded-Proto to carry the scheme, got %q", proto)
	}
}

func TestNonOKResponseNotCached(t *testing.T) {
	env := newHandlerEnv(t)
	env.origin.status.Store(int64(http.StatusNotFound))

	resp := env.get(t, "/blog/missing/")
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected origin 404 to propagate, got %d", resp.StatusCode)
	}

	entry, _ := env.resolver.Resolve("example.com", "/blog/missing/")
	if env.pages.Exists(entry) {
		t.Fatalf("non-200 responses must not be cached")
	}
}

func TestEmptyBodyNotCached(t *testing.T) {
	env := newHandlerEnv(t)
	env.origin.body.Store([]byte{})

	resp := env.get(t, "/blog/empty/")
	resp.Body.Close()

	entry, _ := env.resolver.Resolve("example.com", "/blog/empty/")
	if env.pages.Exists(entry) {
		t.Fatalf("empty pages must never be written to the cache")
	}
}

func TestReservedPathBypasses(t *testing.T) {
	env := newHandlerEnv(t)

	for _, target := range []string{"/wp-admin/options.php", "/wp-login.php/", "/feed/", "/blog/post/feed/"} {
		resp := env.get(t, target)
		resp.Body.Close()
		if got := resp.Header.Get("X-Page-Vault"); got != "BYPASS" {
			t.Fatalf("%s: expected BYPASS, got %q", target, got)
		}
	}
}

func TestHitReplaysOriginContentType(t *testing.T) {
	env := newHandlerEnv(t)
	env.origin.ctype.Store("text/html; charset=ISO-8859-1")

	resp := env.get(t, "/blog/latin/")
	resp.Body.Close()
	if got := resp.Header.Get("X-Page-Vault"); got != "MISS" {
		t.Fatalf("expected MISS, got %q", got)
	}

	resp2 := env.get(t, "/blog/latin/")
	resp2.Body.Close()
	if got := resp2.Header.Get("X-Page-Vault"); got != "HIT" {
		t.Fatalf("expected HIT, got %q", got)
	}
	if got := resp2.Header.Get("Content-Type"); got != "text/html; charset=ISO-8859-1" {
		t.Fatalf("hit must replay the captured content type, got %q", got)
	}
}

func TestOriginHeadersForwarded(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.get(t, "/blog/headers/")
	resp.Body.Close()
	if got := resp.Header.Get("X-Origin-Marker"); got != "wp" {
		t.Fatalf("expected origin header forwarded, got %q", got)
	}
}

func TestOriginDownReturnsBadGateway(t *testing.T) {
	env := newHandlerEnv(t)
	env.origin.server.Close()

	resp := env.get(t, "/blog/down/")
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502 when origin is down, got %d", resp.StatusCode)
	}
}
