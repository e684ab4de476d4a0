package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	_ "github.com/sshcollectorpro/acsconsole/addone/acs/platforms"
	"github.com/sshcollectorpro/acsconsole/api/router"
	"github.com/sshcollectorpro/acsconsole/internal/config"
	"github.com/sshcollectorpro/acsconsole/internal/database"
	"github.com/sshcollectorpro/acsconsole/internal/model"
	"github.com/sshcollectorpro/acsconsole/internal/service"
	"github.com/sshcollectorpro/acsconsole/pkg/logger"
	acsssh "github.com/sshcollectorpro/acsconsole/pkg/ssh"
	"github.com/sshcollectorpro/acsconsole/simulate"
)

const defaultConfigPath = "configs/config.yaml"

type options struct {
	configPath  string
	serve       bool
	simulate    bool
	host        string
	port        int
	user        string
	password    string
	consolePort int
	platform    string
	commands    []string
	readTimeout int
}

func parseFlags() options {
	var o options
	flag.StringVarP(&o.configPath, "config", "c", defaultConfigPath, "配置文件路径")
	flag.BoolVar(&o.serve, "serve", false, "启动 HTTP 服务")
	flag.BoolVar(&o.simulate, "simulate", false, "启动内置 ACS 模拟器，未指定 --host 时直接连接模拟器")
	flag.StringVar(&o.host, "host", "", "ACS 地址，默认取配置 acs.host")
	flag.IntVar(&o.port, "port", 0, "ACS SSH 端口")
	flag.StringVarP(&o.user, "user", "u", "", "ACS 用户名")
	flag.StringVarP(&o.password, "password", "p", "", "ACS 密码")
	flag.IntVar(&o.consolePort, "console-port", 0, "设备所在串口号")
	flag.StringVar(&o.platform, "platform", "", "设备平台，见 /api/v1/console/platforms")
	flag.StringArrayVar(&o.commands, "cmd", nil, "要执行的命令，可重复")
	flag.IntVar(&o.readTimeout, "read-timeout", 0, "单条命令读取超时（秒）")
	flag.Parse()

	// 未显式指定且默认文件不存在时只使用默认值与环境变量
	if !flag.CommandLine.Changed("config") {
		if _, err := os.Stat(o.configPath); err != nil {
			o.configPath = ""
		}
	}
	return o
}

func main() {
	os.Exit(run(parseFlags()))
}

func run(opts options) int {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return 1
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sim *simulator
	if opts.simulate || cfg.Simulate.Enable {
		sim, err = startSimulator(cfg.Simulate)
		if err != nil {
			logger.Errorf("Simulate: failed to start: %v", err)
			return 1
		}
		defer sim.Stop()
	}

	pool := acsssh.NewPool(cfg.SSHPool())
	defer pool.Close()

	if opts.serve {
		if err := serve(ctx, opts, cfg, pool); err != nil {
			logger.Errorf("Server: %v", err)
			return 1
		}
		return 0
	}
	return runOnce(ctx, opts, cfg, pool, sim)
}

// simulator 运行中的模拟器及其登录信息
type simulator struct {
	*simulate.Server
	cfg simulate.Config
}

func startSimulator(sc config.SimulateConfig) (*simulator, error) {
	simCfg := simulate.DefaultConfig()
	if sc.ConfigFile != "" {
		loaded, err := simulate.LoadConfig(sc.ConfigFile)
		if err != nil {
			return nil, err
		}
		simCfg = *loaded
	}
	srv, err := simulate.Start(simCfg)
	if err != nil {
		return nil, err
	}
	logger.Infof("Simulate: ACS ready on %s (user %s)", srv.Addr(), simCfg.Username)
	return &simulator{Server: srv, cfg: simCfg}, nil
}

// runOnce 命令行模式：执行一次任务并打印各命令输出
func runOnce(ctx context.Context, opts options, cfg *config.Config, pool *acsssh.Pool, sim *simulator) int {
	req := service.ExecRequest{
		Host:        cfg.ACS.Host,
		Port:        cfg.ACS.Port,
		Username:    cfg.ACS.Username,
		Password:    cfg.ACS.Password,
		ConsolePort: cfg.ACS.ConsolePort,
		Platform:    cfg.ACS.Platform,
		Commands:    opts.commands,
		ReadTimeout: opts.readTimeout,
	}
	if sim != nil && opts.host == "" {
		req.Host, req.Port = "127.0.0.1", sim.Port()
		req.Username, req.Password = sim.cfg.Username, sim.cfg.Password
	}
	if opts.host != "" {
		req.Host = opts.host
	}
	if opts.port > 0 {
		req.Port = opts.port
	}
	if opts.user != "" {
		req.Username = opts.user
	}
	if opts.password != "" {
		req.Password = opts.password
	}
	if opts.consolePort > 0 {
		req.ConsolePort = opts.consolePort
	}
	if opts.platform != "" {
		req.Platform = opts.platform
	}
	if req.Host == "" || req.Username == "" || len(req.Commands) == 0 {
		fmt.Fprintln(os.Stderr, "usage: acsconsole --host <acs> --user <name> --cmd <command> [--cmd ...]  |  acsconsole --serve")
		flag.PrintDefaults()
		return 2
	}

	svc := service.NewConsoleService(cfg, pool, nil, service.NewTranscriptWriter(cfg.Storage))
	res, err := svc.Execute(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", svc.Target(req), err)
		return 1
	}

	fmt.Printf("# %s (%s) prompt=%s\n", res.Target, res.Platform, res.Prompt)
	for _, cr := range res.Commands {
		fmt.Printf("\n%s> %s\n", res.Prompt, cr.Command)
		fmt.Println(cr.Output)
		if cr.Error != "" {
			fmt.Fprintf(os.Stderr, "# %s: %s\n", cr.Status, cr.Error)
		}
	}
	if res.Transcript != nil {
		fmt.Printf("\n# transcript: %s\n", res.Transcript.URI)
	}
	if res.Status != model.RunStatusSuccess {
		return 1
	}
	return 0
}

// serve HTTP 服务模式
func serve(ctx context.Context, opts options, cfg *config.Config, pool *acsssh.Pool) error {
	logger.Info("Starting ACS Console server")

	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	svc := service.NewConsoleService(cfg, pool, database.GetDB(), service.NewTranscriptWriter(cfg.Storage))

	if opts.configPath != "" {
		err := config.Watch(ctx, opts.configPath, func(newCfg *config.Config) {
			if err := logger.Init(newCfg.Log); err != nil {
				logger.Warnf("Config reload: logger init failed: %v", err)
			}
			svc.UpdateConfig(newCfg)
		})
		if err != nil {
			logger.Warnf("Config watch disabled: %v", err)
		}
	}

	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        router.SetupRouter(cfg.Server.Mode, svc, pool),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on %s (mode %s)", server.Addr, cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server shutdown complete")
	return nil
}
