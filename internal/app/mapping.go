package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"intercheck/internal/config"
	"intercheck/internal/httpapi"
	"intercheck/internal/probe"
	"intercheck/internal/retention"
	"intercheck/internal/scheduler"
	"intercheck/internal/storage"
	"intercheck/internal/telegram"
	logx "intercheck/pkg/logx"
	"intercheck/pkg/speedtest"
)

func dataPath(cfg *config.Config, name string) string {
	dir := strings.TrimSpace(cfg.DataDir)
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, name)
}

func settingsPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.SettingsPath); p != "" {
		return p
	}
	return dataPath(cfg, "settings.json")
}

func logConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	console := l.Console == nil || *l.Console
	path := strings.TrimSpace(l.File.Path)
	if l.File.Enabled && path == "" {
		path = dataPath(cfg, "intercheck.log")
	}
	return logx.Config{
		Level:   l.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
	}
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			path = dataPath(cfg, "log.json")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			path = dataPath(cfg, "log.db")
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	var (
		out scheduler.Config
		err error
	)
	if out.MinConnected, err = config.Duration("scheduler.min_connected", s.MinConnected); err != nil {
		return out, err
	}
	if out.MinDisconnected, err = config.Duration("scheduler.min_disconnected", s.MinDisconnected); err != nil {
		return out, err
	}
	if out.SnapGrid, err = config.Duration("scheduler.snap_grid", s.SnapGrid); err != nil {
		return out, err
	}
	if out.ProbeTimeout, err = config.Duration("scheduler.probe_timeout", s.ProbeTimeout); err != nil {
		return out, err
	}
	out.MaxAppendFailures = s.MaxAppendFailures
	return out, nil
}

// probeClient selects the external command when one is configured and the
// built-in speedtest runner otherwise.
func probeClient(cfg *config.Config, spawn speedtest.Spawner) (probe.Client, error) {
	p := cfg.Probe
	if cmd := strings.TrimSpace(p.Command); cmd != "" {
		c, err := probe.NewCommandClient(cmd)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	dial, err := config.Duration("probe.dial_timeout", p.DialTimeout)
	if err != nil {
		return nil, err
	}
	r := speedtest.NewRunner(speedtest.RunConfig{
		ServerCount:         p.ServerCount,
		FullTestServers:     p.FullTestServers,
		SavingMode:          p.SavingMode,
		MaxConnections:      p.MaxConnections,
		DialTimeout:         dial,
		PostRunFreeOSMemory: p.SavingMode,
	}, speedtest.WithSpawner(spawn))
	return probe.NewSpeedtestClient(r), nil
}

func retentionConfig(cfg *config.Config) (retention.Config, error) {
	r := cfg.Retention
	age, err := config.Duration("retention.max_age", r.MaxAge)
	if err != nil {
		return retention.Config{}, err
	}
	return retention.Config{Schedule: r.Schedule, MaxAge: age, Timezone: r.Timezone}, nil
}

// listenConfig falls back to the port from the schedule settings when
// http.addr is empty.
func listenConfig(cfg *config.Config, port int) (httpapi.ListenConfig, error) {
	h := cfg.HTTP
	lc := httpapi.ListenConfig{Addr: strings.TrimSpace(h.Addr)}
	if lc.Addr == "" {
		lc.Addr = fmt.Sprintf(":%d", port)
	}
	var err error
	if lc.ReadTimeout, err = config.Duration("http.read_timeout", h.ReadTimeout); err != nil {
		return lc, err
	}
	if lc.WriteTimeout, err = config.Duration("http.write_timeout", h.WriteTimeout); err != nil {
		return lc, err
	}
	if lc.IdleTimeout, err = config.Duration("http.idle_timeout", h.IdleTimeout); err != nil {
		return lc, err
	}
	if lc.ShutdownTimeout, err = config.Duration("http.shutdown_timeout", h.ShutdownTimeout); err != nil {
		return lc, err
	}
	return lc, nil
}

func telegramConfig(cfg *config.Config) (telegram.Config, time.Duration, error) {
	t := cfg.Telegram
	poll, err := config.DurationOr("telegram.poll_timeout", t.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, 0, err
	}
	every, err := config.DurationOr("telegram.force_every", t.ForceEvery, time.Minute)
	if err != nil {
		return telegram.Config{}, 0, err
	}
	return telegram.Config{
		Token:        strings.TrimSpace(t.Token),
		APIURL:       strings.TrimSpace(t.APIURL),
		PollTimeout:  poll,
		AllowedChats: t.AllowedChats,
	}, every, nil
}
