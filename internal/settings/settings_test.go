package settings

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "intercheck/pkg/logx"
)

func TestLoadMissingWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	p := NewFileProvider(path, logx.Nop())

	got := p.Load()
	if got != Defaults() {
		t.Fatalf("Load()=%+v want defaults %+v", got, Defaults())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults were not persisted: %v", err)
	}
}

func TestLoadCorruptFallsBackAndRepairs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := NewFileProvider(path, logx.Nop())
	if got := p.Load(); got != Defaults() {
		t.Fatalf("Load()=%+v want defaults", got)
	}

	// A second provider must read the repaired file without falling back.
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) == "{not json" {
		t.Fatalf("corrupt settings were not replaced")
	}
}

func TestLoadPartialAppliesDefaultsPerField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"interval": 120, "port": -4}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := NewFileProvider(path, logx.Nop()).Load()
	want := Settings{Interval: 120, IntervalExact: DefaultIntervalExact, Port: DefaultPort}
	if got != want {
		t.Fatalf("Load()=%+v want %+v", got, want)
	}
	if onDisk := readFile(t, path); onDisk != want {
		t.Fatalf("file=%+v want repaired %+v", onDisk, want)
	}
}

func TestLoadRewritesInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"interval": -5, "interval_exact": false, "port": 0}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := NewFileProvider(path, logx.Nop())
	want := Settings{Interval: DefaultInterval, IntervalExact: false, Port: DefaultPort}
	if got := p.Load(); got != want {
		t.Fatalf("Load()=%+v want %+v", got, want)
	}
	if onDisk := readFile(t, path); onDisk != want {
		t.Fatalf("file=%+v want repaired %+v", onDisk, want)
	}
}

func TestLoadLeavesCompleteFileAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	raw := []byte(`{"interval":600,"interval_exact":false,"port":8080}`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	NewFileProvider(path, logx.Nop()).Load()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != string(raw) {
		t.Fatalf("complete settings file was rewritten: %s", b)
	}
}

func TestLoadDoesNotMarkExternalContentAsOwn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	p := NewFileProvider(path, logx.Nop())
	if err := p.Save(Settings{Interval: 300, IntervalExact: true, Port: 5000}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	external := []byte(`{"interval":900,"interval_exact":true,"port":5000}`)
	if err := os.WriteFile(path, external, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := p.Load(); got.Interval != 900 {
		t.Fatalf("Load()=%+v want interval 900", got)
	}
	if p.isOwnContent(external) {
		t.Fatalf("content read by Load was treated as our own write")
	}
}

func readFile(t *testing.T, path string) Settings {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var s Settings
	if err := json.Unmarshal(b, &s); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return s
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	p := NewFileProvider(path, logx.Nop())
	want := Settings{Interval: 900, IntervalExact: false, Port: 8080}
	if err := p.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := NewFileProvider(path, logx.Nop()).Load(); got != want {
		t.Fatalf("Load()=%+v want %+v", got, want)
	}
}

func TestAcceptInterval(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		invalid bool
	}{
		{"60", 60, false},
		{"3600", 3600, false},
		{" 600 ", 600, false},
		{"59", DefaultInterval, true},
		{"3601", DefaultInterval, true},
		{"abc", DefaultInterval, true},
		{"", DefaultInterval, true},
	}
	for _, c := range cases {
		got, err := AcceptInterval(c.in)
		if got != c.want {
			t.Fatalf("AcceptInterval(%q)=%d want %d", c.in, got, c.want)
		}
		if c.invalid != errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("AcceptInterval(%q) err=%v", c.in, err)
		}
	}
}

func TestAcceptIntervalExact(t *testing.T) {
	cases := []struct {
		in     string
		want   bool
		parsed bool
	}{
		{"true", true, true},
		{"FALSE", false, true},
		{"yes", DefaultIntervalExact, false},
	}
	for _, c := range cases {
		got, ok := AcceptIntervalExact(c.in)
		if got != c.want || ok != c.parsed {
			t.Fatalf("AcceptIntervalExact(%q)=(%v,%v) want (%v,%v)", c.in, got, ok, c.want, c.parsed)
		}
	}
}

func TestWatchReportsExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	p := NewFileProvider(path, logx.Nop())
	p.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan Settings, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Watch(ctx, func(s Settings) { changed <- s })
	}()

	// Give the watcher a moment to register before editing.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"interval": 1800, "interval_exact": false}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case s := <-changed:
		if s.Interval != 1800 || s.IntervalExact {
			t.Fatalf("unexpected settings from watcher: %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher did not report the edit")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not return after cancel")
	}
}

func TestWatchReportsEditReadDuringDebounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	p := NewFileProvider(path, logx.Nop())
	if err := p.Save(Defaults()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan Settings, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Watch(ctx, func(s Settings) { changed <- s })
	}()

	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"interval":1200,"interval_exact":true,"port":5000}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// A reader such as the HTTP settings page loads before the debounce fires.
	if got := p.Load(); got.Interval != 1200 {
		t.Fatalf("Load()=%+v want interval 1200", got)
	}

	select {
	case s := <-changed:
		if s.Interval != 1200 {
			t.Fatalf("unexpected settings from watcher: %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher dropped an edit that was read during the debounce window")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not return after cancel")
	}
}
