package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/artisan/internal/artifact"
	"github.com/any-hub/artisan/internal/config"
	"github.com/any-hub/artisan/internal/logging"
	"github.com/any-hub/artisan/internal/meta"
	"github.com/any-hub/artisan/internal/server"
	"github.com/any-hub/artisan/internal/server/routes"
	"github.com/any-hub/artisan/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	listOnly    bool
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
		fields["root_dir"] = cfg.Global.RootDir
		fields["metadata_fallback"] = cfg.Global.MetadataFallback
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序为“配置 → 日志 → artifact Cache → Fiber server”，
	// 列表模式与读服务共享同一个 Cache 实例。
	cache, err := artifact.NewCache(cacheOptions(cfg.Global, logger))
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 artifact 根目录失败: %v\n", err)
		return 1
	}

	if opts.listOnly {
		if err := printListings(cache); err != nil {
			fmt.Fprintf(stdErr, "读取 artifact 列表失败: %v\n", err)
			return 1
		}
		return 0
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["root_dir"] = cache.Root()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, cache, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// cacheOptions 把全局配置映射为 artifact.Options。
func cacheOptions(g config.GlobalConfig, logger *logrus.Logger) artifact.Options {
	fallback := meta.FallbackPermissive
	if g.StrictMetadata() {
		fallback = meta.FallbackStrict
	}
	grace := g.MetaGrace.DurationValue()
	if grace == 0 {
		// 配置为 0 表示关闭新目录的等待窗口。
		grace = -time.Nanosecond
	}
	return artifact.Options{
		Root:         g.RootDir,
		Registry:     artifact.NewRegistry(),
		Store:        &meta.Store{Fallback: fallback, Logger: logger},
		PollInterval: g.PollInterval.DurationValue(),
		MetaGrace:    grace,
		Logger:       logger,
	}
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("artisan", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		listOnly   bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ARTISAN_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&listOnly, "list", false, "列出根目录下的 artifact 后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ARTISAN_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		listOnly:    listOnly,
		showVersion: showVer,
	}, nil
}

// printListings 以表格形式输出每个 artifact 的名称、状态与类型。
func printListings(cache *artifact.Cache) error {
	listings, err := cache.List()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(stdOut, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tTYPE")
	for _, l := range listings {
		status := string(l.Record.Status)
		if l.Err != nil {
			status = "unreadable"
		}
		kind := l.Record.Spec.Type()
		if kind == "" {
			kind = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.Name, status, kind)
	}
	return w.Flush()
}

func startHTTPServer(cfg *config.Config, cache *artifact.Cache, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Cache:      cache,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterArtifactRoutes(app, cache)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
