package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offlinecache/offline-cache/internal/cache"
	"github.com/offlinecache/offline-cache/internal/config"
	"github.com/offlinecache/offline-cache/internal/logging"
	"github.com/offlinecache/offline-cache/internal/proxy"
	"github.com/offlinecache/offline-cache/internal/server"
	"github.com/offlinecache/offline-cache/internal/server/routes"
	"github.com/offlinecache/offline-cache/internal/version"
	"github.com/offlinecache/offline-cache/internal/worker"
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

// shutdownGrace 限制退出前等待后台缓存写入的时间。
const shutdownGrace = 10 * time.Second

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
		fields["origin"] = cfg.Site.Origin
		fields["version"] = cfg.Site.CacheVersion
		fields["manifest"] = len(cfg.Site.Manifest)
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序：配置 → 缓存存储 → install → activate → Fiber server。
	// install 或 activate 失败时进程直接退出，不对外提供服务。
	store, err := server.OpenStorage(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer store.Close()

	httpClient := server.NewUpstreamClient(cfg)
	w, err := bootstrap(ctx, cfg, store, httpClient, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "缓存初始化失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["origin"] = cfg.Site.Origin
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["version"] = version.Full()
	fields["cache_version"] = w.Version()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, w, httpClient, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}

	settleCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := w.Settle(settleCtx); err != nil {
		logger.WithError(err).Warn("等待缓存写入超时")
	}
	return 0
}

// bootstrap 构建 Worker，必要时执行 install，然后执行 activate。
func bootstrap(ctx context.Context, cfg *config.Config, store cache.Storage, client worker.Fetcher, logger *logrus.Logger) (*worker.Worker, error) {
	w, err := worker.New(worker.Options{
		Version:  cfg.Site.CacheVersion,
		Origin:   cfg.Site.OriginURL(),
		Manifest: cfg.Site.Manifest,
		Storage:  store,
		Client:   client,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	// 同一版本的缓存已完整时直接复用，源站离线也能启动。
	restored, err := w.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if !restored {
		if err := w.Install(ctx); err != nil {
			return nil, err
		}
	}
	if err := w.Activate(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("offline-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("OFFLINE_CACHE_CONFIG")
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

func startHTTPServer(ctx context.Context, cfg *config.Config, w *worker.Worker, client *http.Client, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewHandler(client, logger, w),
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, w)

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Warn("Fiber 服务关闭失败")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
