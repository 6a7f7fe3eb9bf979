package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn").With(String("comp", "test"))

	log.Info("hidden")
	log.Warn("shown", Int("n", 3), Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%q", lines)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["message"] != "shown" || got["comp"] != "test" || got["n"] != float64(3) || got["err"] != "boom" {
		t.Fatalf("entry=%v", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace":   LevelTrace,
		" Debug ": LevelDebug,
		"warning": LevelWarn,
		"ERROR":   LevelError,
		"":        LevelInfo,
		"loud":    LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Errorf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestServiceFileSinkAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "intercheck.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Debug("too quiet")
	log.Info("probe recorded", Float64("ping", 12.5))
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now visible")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	s := string(b)
	if strings.Contains(s, "too quiet") || !strings.Contains(s, "probe recorded") || !strings.Contains(s, "now visible") {
		t.Fatalf("log file:\n%s", s)
	}
}

func TestNopAndZero(t *testing.T) {
	var zero Logger
	if !zero.IsZero() || Nop().IsZero() {
		t.Fatalf("IsZero mismatch")
	}
	zero.Info("must not panic")
}
