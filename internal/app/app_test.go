package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"intercheck/internal/config"
	"intercheck/internal/settings"
	"intercheck/internal/status"
	logx "intercheck/pkg/logx"
)

func TestStorageConfigDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = "/data"

	sc, err := storageConfig(cfg)
	if err != nil || sc.Driver != "file" || sc.Path != filepath.Join("/data", "log.json") {
		t.Fatalf("file: %+v %v", sc, err)
	}

	cfg.Storage.Driver = "SQLite"
	sc, err = storageConfig(cfg)
	if err != nil || sc.Driver != "sqlite" || sc.Path != filepath.Join("/data", "log.db") || sc.BusyTimeout != time.Second {
		t.Fatalf("sqlite: %+v %v", sc, err)
	}

	cfg.Storage.Driver = "csv"
	if _, err := storageConfig(cfg); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestListenConfigFallsBackToSettingsPort(t *testing.T) {
	cfg := config.Default()
	lc, err := listenConfig(cfg, 5123)
	if err != nil || lc.Addr != ":5123" {
		t.Fatalf("lc=%+v err=%v", lc, err)
	}
	cfg.HTTP.Addr = "127.0.0.1:9000"
	cfg.HTTP.ShutdownTimeout = "3s"
	lc, err = listenConfig(cfg, 5123)
	if err != nil || lc.Addr != "127.0.0.1:9000" || lc.ShutdownTimeout != 3*time.Second {
		t.Fatalf("lc=%+v err=%v", lc, err)
	}
}

func TestApplyOverrides(t *testing.T) {
	p := settings.NewFileProvider(filepath.Join(t.TempDir(), "settings.json"), logx.Nop())

	s, err := applyOverrides(p, Options{})
	if err != nil || s != settings.Defaults() {
		t.Fatalf("no overrides: %+v %v", s, err)
	}

	exact := false
	s, err = applyOverrides(p, Options{Port: 8080, Interval: 600, IntervalExact: &exact})
	if err != nil {
		t.Fatalf("applyOverrides: %v", err)
	}
	want := settings.Settings{Interval: 600, IntervalExact: false, Port: 8080}
	if s != want || p.Load() != want {
		t.Fatalf("got %+v, persisted %+v", s, p.Load())
	}

	if _, err := applyOverrides(p, Options{Interval: 5}); err == nil {
		t.Fatalf("expected interval range error")
	}
	if _, err := applyOverrides(p, Options{Port: 70000}); err == nil {
		t.Fatalf("expected port range error")
	}
}

func TestServerURL(t *testing.T) {
	if got := serverURL("127.0.0.1:5000"); got != "http://127.0.0.1:5000" {
		t.Fatalf("serverURL=%q", got)
	}
	if got := serverURL(":5000"); got == "http://:5000" {
		t.Fatalf("wildcard host not resolved: %q", got)
	}
}

// fakeSpeedtest writes a script printing speedtest-cli --simple output.
func fakeSpeedtest(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "speedtest")
	script := "#!/bin/sh\necho 'Ping: 12.5 ms'\necho 'Download: 95.1 Mbit/s'\necho 'Upload: 20.4 Mbit/s'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAppProbesAndStops(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "intercheck.yaml")
	yml := "data_dir: " + dir + "\n" +
		"http:\n  addr: 127.0.0.1:0\n" +
		"logging:\n  level: error\n  console: false\n" +
		"probe:\n  command: " + fakeSpeedtest(t, dir) + "\n"
	if err := os.WriteFile(cfgPath, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := New(Options{ConfigPath: cfgPath, Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		recs, err := a.store.ReadAll(ctx)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if len(recs) > 0 {
			if !recs[0].Success() {
				t.Fatalf("record=%+v", recs[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no probe recorded")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if a.status.Snapshot().Link != status.LinkConnected {
		t.Fatalf("status=%+v", a.status.Snapshot())
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "intercheck.json")
	if err := os.WriteFile(cfgPath, []byte(`{"storage": {"driver": "mongo"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Options{ConfigPath: cfgPath}); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestNewWithUnreachableTelegram(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "intercheck.yaml")
	yml := "data_dir: " + dir + "\n" +
		"logging:\n  level: error\n" +
		"probe:\n  command: " + fakeSpeedtest(t, dir) + "\n" +
		"telegram:\n  token: \"123:abc\"\n  api_url: http://127.0.0.1:1\n"
	if err := os.WriteFile(cfgPath, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := New(Options{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("New must not need the Telegram API: %v", err)
	}
	if a.bot == nil {
		t.Fatalf("bot not built")
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
