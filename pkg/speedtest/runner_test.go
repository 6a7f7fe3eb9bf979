package speedtest

import (
	"context"
	"testing"
	"time"
)

func TestAverageResults(t *testing.T) {
	avg := averageResults([]serverResult{
		{download: 100, upload: 10, ping: 10 * time.Millisecond},
		{download: 50, upload: 30, ping: 20 * time.Millisecond},
	})
	if avg.download != 75 || avg.upload != 20 || avg.ping != 15*time.Millisecond {
		t.Fatalf("unexpected average: %+v", avg)
	}
	if got := averageResults(nil); got.download != 0 || got.ping != 0 {
		t.Fatalf("expected zero average for no results, got %+v", got)
	}
}

func TestBestResultPrefersLowPingThenDownload(t *testing.T) {
	best := bestResult([]serverResult{
		{download: 100, ping: 20 * time.Millisecond},
		{download: 80, ping: 10 * time.Millisecond},
		{download: 90, ping: 10 * time.Millisecond},
	})
	if best.download != 90 {
		t.Fatalf("expected download=90 winner, got %+v", best)
	}
}

func TestRunHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRunner(RunConfig{}).Run(ctx); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestNewRunnerDefaults(t *testing.T) {
	r := NewRunner(RunConfig{ServerCount: 2, FullTestServers: 5})
	if r.cfg.FullTestServers != 2 {
		t.Fatalf("FullTestServers should be capped to ServerCount, got %d", r.cfg.FullTestServers)
	}
	if r.cfg.MaxConnections != 4 || r.cfg.PingConcurrency != 4 {
		t.Fatalf("unexpected defaults: %+v", r.cfg)
	}
}
