package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/livp123/netxpf/internal/api"
	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/core"
	"github.com/livp123/netxpf/internal/utils/logger"
	"github.com/livp123/netxpf/internal/version"
)

// Options configures a daemon. Zero values fall back to the defaults.
// Options 配置守护进程，零值使用默认设置。
type Options struct {
	// ConfigPath overrides the global config path.
	ConfigPath string
	// PidPath enables the PID file when set.
	PidPath string
	// Listener serves the API instead of listening on api.listen.
	Listener net.Listener
	// Interfaces overrides host interface resolution.
	Interfaces core.InterfaceResolver
	// Logger skips logger.Init and uses this logger.
	Logger *zap.SugaredLogger
}

// Daemon owns one engine and the control API serving it.
// Daemon 持有一个引擎及为其服务的控制 API。
type Daemon struct {
	opts   Options
	cm     *config.ConfigManager
	engine *core.Engine
	server *api.Server
	log    *zap.SugaredLogger
}

// New loads (or creates) the configuration, builds the engine, starts
// the filter and loads the configured rulesets.
// New 加载（或创建）配置，构建引擎，启动过滤器并加载配置的规则集。
func New(ctx context.Context, opts Options) (*Daemon, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.GetConfigPath()
	}
	d := &Daemon{opts: opts, cm: config.NewConfigManager(path)}

	// 1. Load configuration / 加载配置
	created, err := config.InitConfig(path)
	if err != nil {
		return nil, fmt.Errorf("init config: %w", err)
	}
	if err := d.cm.LoadConfig(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg := d.cm.GetConfig()

	// 2. Initialize logging / 初始化日志
	if opts.Logger != nil {
		d.log = opts.Logger
	} else {
		logger.Init(cfg.Logging)
		d.log = logger.Get(nil)
	}
	if created {
		d.log.Infof("📄 [Config] Wrote default configuration to %s", path)
	}

	// 3. Ensure an admin token exists / 确保存在管理员令牌
	if cfg.API.AdminToken == "" {
		token, err := api.GenerateToken(16)
		if err != nil {
			return nil, err
		}
		cfg.API.AdminToken = token
		d.cm.UpdateConfig(cfg)
		if err := d.cm.SaveConfig(); err != nil {
			return nil, fmt.Errorf("save generated token: %w", err)
		}
		d.log.Infof("🔑 [API] Generated admin token and saved it to %s", path)
	}

	// 4. Build and start the engine / 构建并启动引擎
	ifaces := opts.Interfaces
	if ifaces == nil {
		ifaces = hostInterfaces{}
	}
	engineOpts := append(cfg.EngineOptions(), core.WithLogger(d.log), core.WithInterfaces(ifaces))
	d.engine = core.New(engineOpts...)
	if err := d.engine.Start(); err != nil {
		return nil, err
	}
	if cfg.StatusInterface != "" {
		if err := d.engine.SetStatusInterface(cfg.StatusInterface); err != nil {
			d.log.Warnf("⚠️  [Core] Status interface %s: %v", cfg.StatusInterface, err)
		}
	}

	// 5. Load rulesets / 加载规则集
	if err := d.loadRulesets(cfg.Rulesets); err != nil {
		d.engine.Shutdown()
		return nil, err
	}

	d.server, err = api.NewServer(d.engine, d.cm.GetAPIConfig(), d.cm.GetMetricsConfig())
	if err != nil {
		d.engine.Shutdown()
		return nil, err
	}
	return d, nil
}

// Engine returns the daemon's engine.
func (d *Daemon) Engine() *core.Engine { return d.engine }

// Config returns the configuration the daemon runs with.
func (d *Daemon) Config() *config.GlobalConfig { return d.cm.GetConfig() }

func (d *Daemon) loadRulesets(path string) error {
	if path == "" {
		return nil
	}
	rs, err := config.LoadRuleset(path)
	if err != nil {
		return fmt.Errorf("load rulesets %s: %w", path, err)
	}
	n, err := config.Apply(core.NewOps(d.engine, core.CapAdmin), rs)
	if err != nil {
		return fmt.Errorf("apply rulesets %s: %w", path, err)
	}
	d.log.Infof("📥 [Core] Loaded %d rules from %s", n, path)
	return nil
}

// Reload re-reads the configuration and applies timeouts, limits and
// rulesets. Settings that only take effect at startup (API listener,
// logging) are left alone.
// Reload 重新读取配置并应用超时、限制与规则集，仅启动时生效的设置保持不变。
func (d *Daemon) Reload(ctx context.Context) error {
	cfg, err := config.LoadConfig(d.cm.GetConfigPath())
	if err != nil {
		return err
	}
	cur := d.cm.GetConfig()

	var errs error
	for name, v := range cfg.Timeouts {
		t, _ := core.ParseTimeout(name)
		if _, err := d.engine.TimeoutSet(t, v); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("timeout %s: %w", name, err))
		}
	}
	if cfg.Purge.Interval > 0 {
		if _, err := d.engine.TimeoutSet(core.TimeoutInterval, cfg.Purge.Interval); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purge interval: %w", err))
		}
	}
	for name, v := range cfg.Limits {
		l, _ := core.ParseLimit(name)
		if _, err := d.engine.LimitSet(l, v); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("limit %s: %w", name, err))
		}
	}
	if cfg.StatusInterface != cur.StatusInterface {
		errs = multierr.Append(errs, d.engine.SetStatusInterface(cfg.StatusInterface))
	}

	cur.Timeouts, cur.Limits, cur.Purge = cfg.Timeouts, cfg.Limits, cfg.Purge
	cur.StatusInterface, cur.Rulesets = cfg.StatusInterface, cfg.Rulesets
	d.cm.UpdateConfig(cur)
	errs = multierr.Append(errs, d.loadRulesets(cur.Rulesets))
	return errs
}

// Run serves the API and drives the purge loop until ctx is cancelled,
// then frees everything the engine holds. SIGHUP triggers Reload.
// Run 提供 API 服务并驱动清理循环直到 ctx 取消，随后释放引擎持有的全部资源；SIGHUP 触发 Reload。
func (d *Daemon) Run(ctx context.Context) error {
	if d.opts.PidPath != "" {
		if err := managePidFile(d.opts.PidPath); err != nil {
			return err
		}
		defer removePidFile(d.opts.PidPath)
	}
	defer d.engine.Shutdown()

	ctx = logger.WithContext(ctx, d.log)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.engine.Run(ctx)
	})
	g.Go(func() error {
		if d.opts.Listener != nil {
			return d.server.Serve(ctx, d.opts.Listener)
		}
		return d.server.ListenAndServe(ctx)
	})
	g.Go(func() error {
		d.watchSignals(ctx)
		return nil
	})

	d.log.Infof("🛡️ netxpf %s is running (hostid %08x)", version.Version, d.engine.HostID())
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		d.log.Errorf("❌ Daemon stopped: %v", err)
		return err
	}
	d.log.Info("👋 Daemon shutting down...")
	return nil
}

func (d *Daemon) watchSignals(ctx context.Context) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	defer signal.Stop(sig)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			d.log.Info("🔄 Received SIGHUP, reloading configuration...")
			if err := d.Reload(ctx); err != nil {
				d.log.Errorf("❌ Failed to reload config: %v", err)
				continue
			}
			d.log.Info("✅ Configuration reloaded")
		}
	}
}
