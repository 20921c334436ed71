package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fetchq/fetchq/internal/cache"
	"github.com/fetchq/fetchq/internal/config"
	"github.com/fetchq/fetchq/internal/dispatch"
	"github.com/fetchq/fetchq/internal/logging"
	"github.com/fetchq/fetchq/internal/server"
	"github.com/fetchq/fetchq/internal/transport"
	"github.com/fetchq/fetchq/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	urls        []string
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
		fields["warmups"] = len(cfg.Warmups)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动遵循“配置 → 缓存 → 执行器 → 调度器 → 诊断服务”顺序，
	// 保证所有请求共享同一份缓存与 ledger 实例。
	store, err := buildStore(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}

	httpClient := transport.NewUpstreamClient(cfg)
	executor := transport.NewExecutor(httpClient, logger, cfg.Global.MaxBodyBytes)

	dispatcher, err := dispatch.New(dispatch.Options{
		Store:          store,
		Executor:       executor,
		Logger:         logger,
		NetworkWorkers: cfg.Global.NetworkWorkers,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建调度器失败: %v\n", err)
		return 1
	}
	dispatcher.Start()
	defer dispatcher.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["warmups"] = len(cfg.Warmups)
	fields["network_workers"] = cfg.Global.NetworkWorkers
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	targets := collectTargets(cfg, opts.urls)
	failures := dispatchTargets(dispatcher, targets)

	if cfg.Global.DiagnosticsEnabled() && len(opts.urls) == 0 {
		if err := serveDiagnostics(cfg, dispatcher, logger); err != nil {
			fmt.Fprintf(stdErr, "诊断服务启动失败: %v\n", err)
			return 1
		}
		return 0
	}

	if failures > 0 {
		return 1
	}
	return 0
}

// fetchTarget 描述一次待调度的抓取。
type fetchTarget struct {
	name      string
	url       string
	cacheable bool
	priority  dispatch.Priority
}

func collectTargets(cfg *config.Config, urls []string) []fetchTarget {
	targets := make([]fetchTarget, 0, len(cfg.Warmups)+len(urls))
	for _, w := range cfg.Warmups {
		targets = append(targets, fetchTarget{
			name:      w.Name,
			url:       w.URL,
			cacheable: w.IsCacheable(),
			priority:  dispatch.ParsePriority(w.Priority),
		})
	}
	for _, raw := range urls {
		targets = append(targets, fetchTarget{
			name:      raw,
			url:       raw,
			cacheable: true,
			priority:  dispatch.PriorityNormal,
		})
	}
	return targets
}

// dispatchTargets 提交全部目标并等待回调收齐，返回失败数量。
func dispatchTargets(d *dispatch.Dispatcher, targets []fetchTarget) int {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures int
	)

	for _, target := range targets {
		target := target
		opts := []dispatch.Option{dispatch.WithPriority(target.priority)}
		if !target.cacheable {
			opts = append(opts, dispatch.WithoutCache())
		}

		wg.Add(1)
		d.Add(dispatch.NewRequest(dispatch.ResourceID(target.url), dispatch.BytesParser(),
			func(res dispatch.Result[[]byte]) {
				defer wg.Done()
				mu.Lock()
				defer mu.Unlock()
				if res.Err != nil {
					failures++
					fmt.Fprintf(stdErr, "%s: %v\n", target.name, res.Err)
					return
				}
				fmt.Fprintf(stdOut, "%s: %d bytes\n", target.name, len(res.Value))
			}, opts...))
	}

	wg.Wait()
	return failures
}

func buildStore(cfg *config.Config) (cache.Store, error) {
	memory := cache.NewMemoryStore()
	if !cfg.Global.PersistEnabled() {
		return memory, nil
	}
	disk, err := cache.NewDiskStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, err
	}
	return cache.NewTieredStore(memory, disk), nil
}

func serveDiagnostics(cfg *config.Config, dispatcher *dispatch.Dispatcher, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Stats:      dispatcher,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("诊断服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("fetchq", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 FETCHQ_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("FETCHQ_CONFIG")
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
		urls:        fs.Args(),
	}, nil
}
