// Package app wires the probe loop, log store, stats, web API, bot and
// retention into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"intercheck/internal/config"
	"intercheck/internal/force"
	"intercheck/internal/httpapi"
	"intercheck/internal/retention"
	"intercheck/internal/runtime/supervisor"
	"intercheck/internal/scheduler"
	"intercheck/internal/settings"
	"intercheck/internal/stats"
	"intercheck/internal/status"
	"intercheck/internal/storage"
	"intercheck/internal/telegram"
	logx "intercheck/pkg/logx"
	"intercheck/pkg/speedtest"
)

// Options carry command line values. Zero values leave the persisted
// schedule settings alone.
type Options struct {
	ConfigPath    string
	Version       string
	Port          int
	Interval      int
	IntervalExact *bool
}

type App struct {
	opt  Options
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store    storage.LogStore
	settings *settings.FileProvider
	status   *status.Tracker
	force    *force.Signal
	sched    *scheduler.Scheduler
	stats    *stats.Engine
	ret      *retention.Service
	api      *httpapi.Server
	listen   httpapi.ListenConfig
	bot      *telegram.Bot

	sup     *supervisor.Supervisor
	workers *supervisor.Supervisor
}

func New(opt Options) (*App, error) {
	cfgm := config.NewManager(opt.ConfigPath, logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logs, log := logx.New(logConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		opt:    opt,
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logs,
		status: status.NewTracker(),
		force:  force.New(),
	}
	if err := a.build(cfg); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	a.settings = settings.NewFileProvider(settingsPath(cfg), a.logFor("settings"))
	sets, err := applyOverrides(a.settings, a.opt)
	if err != nil {
		return err
	}

	sc, err := storageConfig(cfg)
	if err != nil {
		return err
	}
	if a.store, err = storage.Open(sc, a.logFor("storage")); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	// Speedtest ping workers are owned by a supervisor that never cancels
	// the app; a failed probe is recorded, not fatal.
	spawn := speedtest.SpawnerFunc(func(name string, fn func()) {
		a.workers.Go0(name, func(context.Context) { fn() })
	})
	client, err := probeClient(cfg, spawn)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(schedCfg, scheduler.Deps{
		Log:      a.logFor("scheduler"),
		Probe:    client,
		Store:    a.store,
		Settings: a.settings,
		Status:   a.status,
		Force:    a.force,
	})
	a.stats = stats.NewEngine(a.store, a.logFor("stats"))

	rc, err := retentionConfig(cfg)
	if err != nil {
		return err
	}
	a.ret = retention.New(rc, a.store, a.logFor("retention"))
	if err := a.ret.Validate(); err != nil {
		return err
	}

	if cfg.HTTPEnabled() {
		if a.listen, err = listenConfig(cfg, sets.Port); err != nil {
			return err
		}
		a.api = httpapi.New(httpapi.Deps{
			Log:      a.logFor("http"),
			Status:   a.status,
			Stats:    a.stats,
			Settings: a.settings,
			Force:    a.force,
			Store:    a.store,
		}, httpapi.Options{
			Version:    a.opt.Version,
			ForceRate:  cfg.HTTP.ForceRate,
			ForceBurst: cfg.HTTP.ForceBurst,
			Pprof:      cfg.HTTP.Pprof,
		})
	}

	tc, every, err := telegramConfig(cfg)
	if err != nil {
		return err
	}
	if tc.Token != "" {
		cmds := telegram.NewCommands(telegram.Deps{
			Status:  a.status,
			Stats:   a.stats,
			Log:     a.store,
			Force:   a.force,
			Tasks:   a.tasks,
			Version: a.opt.Version,
		}, every)
		if a.bot, err = telegram.New(tc, cmds, a.logFor("telegram")); err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
	}
	return nil
}

func (a *App) logFor(comp string) logx.Logger {
	return a.log.With(logx.String("comp", comp))
}

// applyOverrides merges explicit command line values into the persisted
// settings and saves the result.
func applyOverrides(p *settings.FileProvider, opt Options) (settings.Settings, error) {
	s := p.Load()
	if opt.Port == 0 && opt.Interval == 0 && opt.IntervalExact == nil {
		return s, nil
	}
	if opt.Port != 0 {
		if opt.Port < 0 || opt.Port > 65535 {
			return s, fmt.Errorf("port %d out of range", opt.Port)
		}
		s.Port = opt.Port
	}
	if opt.Interval != 0 {
		if opt.Interval < settings.MinUserInterval || opt.Interval > settings.MaxUserInterval {
			return s, fmt.Errorf("%w: %d", settings.ErrInvalidInterval, opt.Interval)
		}
		s.Interval = opt.Interval
	}
	if opt.IntervalExact != nil {
		s.IntervalExact = *opt.IntervalExact
	}
	if err := p.Save(s); err != nil {
		return s, fmt.Errorf("save settings: %w", err)
	}
	return s, nil
}

// tasks reports both supervisors for /health.
func (a *App) tasks() []supervisor.TaskState {
	var out []supervisor.TaskState
	if a.sup != nil {
		out = append(out, a.sup.Tasks()...)
	}
	if a.workers != nil {
		out = append(out, a.workers.Tasks()...)
	}
	return out
}

// Done is closed when the app stops, either by Stop or after a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Done()
}

// Err returns the first fatal error.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.logFor("supervisor")), supervisor.WithCancelOnError(true))
	a.workers = supervisor.New(a.sup.Context(), supervisor.WithLogger(a.logFor("workers")))
	c := a.sup.Context()

	if err := a.ret.Start(c); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go("scheduler", a.sched.Run)

	a.sup.Go("settings.watch", func(ctx context.Context) error {
		return a.settings.Watch(ctx, func(s settings.Settings) {
			a.log.Info("settings changed on disk; probing now",
				logx.Int("interval", s.Interval), logx.Bool("interval_exact", s.IntervalExact))
			a.force.Set()
		})
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.watchConfig()

	if a.api != nil {
		a.log.Info("intercheck starting", logx.String("url", serverURL(a.listen.Addr)), logx.String("version", a.opt.Version))
		a.sup.GoRestart("http", func(ctx context.Context) error {
			err := a.api.Serve(ctx, a.listen)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
			supervisor.WithRestartBackoff(time.Second, 30*time.Second),
			supervisor.WithMaxRestarts(5),
		)
	}

	if a.bot != nil {
		a.bot.Start(c)
	}
	return nil
}

// watchConfig applies live-reloadable sections and warns about the rest.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.apply", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				sections, attrs := config.Changes(last, cfg)
				last = cfg
				if len(sections) == 0 {
					continue
				}
				a.log.Info("config change", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
				for _, s := range sections {
					if s == "logging" {
						a.logs.Apply(logConfig(cfg))
						continue
					}
					a.log.Warn("restart required for config section", logx.String("section", s))
				}
			}
		}
	})
}

// Stop shuts every component down and closes the log store.
func (a *App) Stop(ctx context.Context) error {
	if a.bot != nil {
		a.bot.Stop(ctx)
	}
	a.ret.Stop()

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if a.workers != nil {
		if werr := a.workers.Stop(ctx); werr != nil && !errors.Is(werr, context.DeadlineExceeded) {
			a.log.Debug("probe workers stopped with error", logx.Err(werr))
		}
	}
	if cerr := a.store.Close(); cerr != nil {
		a.log.Warn("closing log store failed", logx.Err(cerr))
	}
	a.log.Info("intercheck stopped")
	_ = a.logs.Close()
	return err
}

// serverURL renders the address people should open, resolving a wildcard
// host to this machine's address.
func serverURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
		if name, err := os.Hostname(); err == nil {
			if ips, err := net.LookupHost(name); err == nil && len(ips) > 0 {
				host = ips[0]
			}
		}
	}
	return "http://" + net.JoinHostPort(host, port)
}
