package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks every field that the decoder cannot: durations, enums,
// bounds and the retention timezone.
func (c *Config) Validate() error {
	durations := []struct{ field, raw string }{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
		{"http.shutdown_timeout", c.HTTP.ShutdownTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"scheduler.min_connected", c.Scheduler.MinConnected},
		{"scheduler.min_disconnected", c.Scheduler.MinDisconnected},
		{"scheduler.snap_grid", c.Scheduler.SnapGrid},
		{"scheduler.probe_timeout", c.Scheduler.ProbeTimeout},
		{"probe.dial_timeout", c.Probe.DialTimeout},
		{"retention.max_age", c.Retention.MaxAge},
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"telegram.force_every", c.Telegram.ForceEvery},
	}
	for _, d := range durations {
		if _, err := Duration(d.field, d.raw); err != nil {
			return err
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.HTTP.ForceRate < 0 {
		return fmt.Errorf("http.force_rate must be >= 0")
	}
	if c.HTTP.ForceBurst < 0 {
		return fmt.Errorf("http.force_burst must be >= 0")
	}
	if c.Scheduler.MaxAppendFailures < 0 {
		return fmt.Errorf("scheduler.max_append_failures must be >= 0")
	}
	for _, n := range []struct {
		field string
		v     int
	}{
		{"probe.server_count", c.Probe.ServerCount},
		{"probe.full_test_servers", c.Probe.FullTestServers},
		{"probe.max_connections", c.Probe.MaxConnections},
	} {
		if n.v < 0 {
			return fmt.Errorf("%s must be >= 0", n.field)
		}
	}
	if tz := strings.TrimSpace(c.Retention.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("retention.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
