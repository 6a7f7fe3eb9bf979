package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"intercheck/internal/force"
	"intercheck/internal/record"
	"intercheck/internal/runtime/supervisor"
	"intercheck/internal/stats"
	"intercheck/internal/status"
	logx "intercheck/pkg/logx"
)

type memLog struct {
	recs []record.ProbeRecord
	err  error
}

func (m memLog) ReadAll(context.Context) ([]record.ProbeRecord, error) { return m.recs, m.err }

func fp(v float64) *float64 { return &v }

func TestStatus(t *testing.T) {
	tr := status.NewTracker()
	c := NewCommands(Deps{Status: tr}, 0)
	if got := c.Status(); !strings.Contains(got, "unknown") || !strings.Contains(got, "init") {
		t.Fatalf("Status()=%q", got)
	}
	tr.SetPhase(status.PhaseWaiting)
	tr.Observe(false)
	if got := c.Status(); !strings.HasPrefix(got, "🔴") || !strings.Contains(got, "disconnected (waiting)") {
		t.Fatalf("Status()=%q", got)
	}
}

func TestLast(t *testing.T) {
	now := time.Now()
	log := memLog{recs: []record.ProbeRecord{
		record.New(now.Add(-time.Hour), 10*time.Second, fp(1), fp(2), fp(3)),
		record.New(now, 12*time.Second, fp(11.5), nil, fp(4)),
	}}
	got := NewCommands(Deps{Log: log}, 0).Last(context.Background())
	for _, want := range []string{"Disconnected", "11.50 ms", "Download: ERROR", "4.00 Mbps", "12.0s"} {
		if !strings.Contains(got, want) {
			t.Fatalf("Last() missing %q:\n%s", want, got)
		}
	}

	if got := NewCommands(Deps{Log: memLog{}}, 0).Last(context.Background()); !strings.Contains(got, "No probes") {
		t.Fatalf("empty Last()=%q", got)
	}
	if got := NewCommands(Deps{Log: memLog{err: errors.New("io")}}, 0).Last(context.Background()); !strings.Contains(got, "could not read") {
		t.Fatalf("error Last()=%q", got)
	}
}

func TestSummary(t *testing.T) {
	now := time.Now()
	log := memLog{recs: []record.ProbeRecord{
		record.New(now.Add(-3*time.Hour), 20*time.Second, fp(10), fp(10), fp(5)),
		record.New(now.Add(-2*time.Hour), 20*time.Second, fp(10), fp(20), fp(5)),
		record.New(now.Add(-time.Hour), 20*time.Second, fp(10), fp(30), fp(5)),
	}}
	c := NewCommands(Deps{Stats: stats.NewEngine(log, logx.Nop())}, 0)
	got := c.Summary(context.Background(), []int{30, 1})
	for _, want := range []string{"Last 1 day", "Last 30 days", "download: 20.00 ± 6.67 Mbps", "downtime: 0.00 min"} {
		if !strings.Contains(got, want) {
			t.Fatalf("Summary() missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "Last 1 day") > strings.Index(got, "Last 30 days") {
		t.Fatalf("windows not in ascending order:\n%s", got)
	}

	empty := NewCommands(Deps{Stats: stats.NewEngine(memLog{}, logx.Nop())}, 0)
	if got := empty.Summary(context.Background(), []int{1}); !strings.Contains(got, "No probe data") {
		t.Fatalf("empty Summary()=%q", got)
	}
}

func TestForceRateLimited(t *testing.T) {
	sig := force.New()
	c := NewCommands(Deps{Force: sig}, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	if got := c.Force(); !strings.Contains(got, "scheduled") || !sig.TestAndClear() {
		t.Fatalf("first Force()=%q", got)
	}
	if got := c.Force(); !strings.Contains(got, "recently") || sig.IsSet() {
		t.Fatalf("second Force()=%q set=%v", got, sig.IsSet())
	}
	now = now.Add(2 * time.Minute)
	if got := c.Force(); !strings.Contains(got, "scheduled") {
		t.Fatalf("Force() after window=%q", got)
	}
}

func TestHealth(t *testing.T) {
	c := NewCommands(Deps{Tasks: func() []supervisor.TaskState {
		return []supervisor.TaskState{
			{Name: "scheduler", Running: 1},
			{Name: "http", Restarts: 2, LastErr: "listen: address in use", LastErrAt: time.Now()},
		}
	}}, 0)
	got := c.Health()
	for _, want := range []string{"▶️ scheduler", "⏹ http (restarts 2)", "address in use"} {
		if !strings.Contains(got, want) {
			t.Fatalf("Health() missing %q:\n%s", want, got)
		}
	}
}

func TestChatAllowed(t *testing.T) {
	open := &Bot{allowed: allowSet(nil)}
	if !open.chatAllowed(42) {
		t.Fatalf("empty allow list must allow everyone")
	}
	locked := &Bot{allowed: allowSet([]int64{7, -1001})}
	if !locked.chatAllowed(-1001) || locked.chatAllowed(42) {
		t.Fatalf("allow list not applied")
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: " "}, NewCommands(Deps{}, 0), logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
}
