package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/page-vault/page-vault/internal/cache"
	"github.com/page-vault/page-vault/internal/config"
	"github.com/page-vault/page-vault/internal/invalidate"
	"github.com/page-vault/page-vault/internal/kv"
	"github.com/page-vault/page-vault/internal/logging"
	"github.com/page-vault/page-vault/internal/metrics"
	"github.com/page-vault/page-vault/internal/policy"
	"github.com/page-vault/page-vault/internal/ratelimit"
	"github.com/page-vault/page-vault/internal/resolver"
	"github.com/page-vault/page-vault/internal/server"
	"github.com/page-vault/page-vault/internal/server/routes"
	"github.com/page-vault/page-vault/internal/stats"
	"github.com/page-vault/page-vault/internal/version"
	"github.com/page-vault/page-vault/internal/warmer"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origin"] = cfg.Global.OriginURL
		fields["cache_root"] = cfg.Global.CacheRoot
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：共享 KV → 页面缓存 → 解析器/策略 → 统计与指标 →
	// 请求处理器 → 预热器 → Fiber server，所有组件共享同一批实例。
	store, err := kv.Open(cfg.Global.EphemeralPath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化共享 KV 失败: %v\n", err)
		return 1
	}
	defer store.Close()

	pages, err := cache.NewStore(cfg.Global.CacheRoot, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	res, err := resolver.New(cfg.Global.CacheRoot)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化路径解析器失败: %v\n", err)
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewProm(registry)

	pol := policy.New(cfg)
	statsTracker := stats.New(store)
	hitTracker := warmer.NewTracker(store, cfg.Warmer.HitWindow.DurationValue())

	handler, err := server.NewHandler(
		server.NewOriginClient(cfg),
		logger,
		pages,
		res,
		pol,
		statsTracker,
		hitTracker,
		recorder,
		cfg,
	)
	if err != nil {
		fmt.Fprintf(stdErr, "构建请求处理器失败: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Warmer.Enabled {
		warm := warmer.New(store, hitTracker, pages, res, server.NewWarmClient(cfg), logger, cfg.Warmer)
		go warm.Start(ctx)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = cfg.Global.OriginURL
	fields["cache_root"] = cfg.Global.CacheRoot
	fields["listen_port"] = cfg.Global.ListenPort
	fields["warmer"] = cfg.Warmer.Enabled
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, handler, routes.Options{
		Logger:    logger,
		Pages:     pages,
		Resolver:  res,
		Purger:    invalidate.New(res, pages, logger, recorder, cfg.Cache.FeedSuffix),
		Stats:     statsTracker,
		Limiter:   ratelimit.New(store),
		Figures:   server.NewFigureSource(pages, store),
		Recorder:  recorder,
		Registry:  registry,
		RateLimit: cfg.RateLimit,
		Cache:     cfg.Cache,
	}, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("page-vault", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PAGE_VAULT_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PAGE_VAULT_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, handler *server.Handler, adminOpts routes.Options, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Pages:      handler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.Register(app, adminOpts)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
