// Package telegram answers status and stats commands over a Telegram bot.
package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"intercheck/internal/force"
	"intercheck/internal/record"
	"intercheck/internal/runtime/supervisor"
	"intercheck/internal/stats"
	"intercheck/internal/status"
)

// LogReader is the read side of the probe log.
type LogReader interface {
	ReadAll(ctx context.Context) ([]record.ProbeRecord, error)
}

type Deps struct {
	Status  *status.Tracker
	Stats   *stats.Engine
	Log     LogReader
	Force   *force.Signal
	Tasks   func() []supervisor.TaskState
	Version string
}

// Commands renders replies. It holds no Telegram state so it can be driven
// directly in tests.
type Commands struct {
	d       Deps
	limiter *rate.Limiter
	now     func() time.Time
}

// NewCommands builds the command set. forceEvery bounds how often /force may
// trigger a probe; 0 disables the limit.
func NewCommands(d Deps, forceEvery time.Duration) *Commands {
	c := &Commands{d: d, now: time.Now}
	if forceEvery > 0 {
		c.limiter = rate.NewLimiter(rate.Every(forceEvery), 1)
	}
	return c
}

func (c *Commands) Help() string {
	return "📡 intercheck " + c.d.Version + "\n" +
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n" +
		"/status  current link state\n" +
		"/last    most recent probe\n" +
		"/summary 1 and 30 day stats\n" +
		"/force   probe now\n" +
		"/health  background tasks"
}

func (c *Commands) Status() string {
	if c.d.Status == nil {
		return "status unavailable"
	}
	snap := c.d.Status.Snapshot()
	icon := "❔"
	switch snap.Link {
	case status.LinkConnected:
		icon = "🟢"
	case status.LinkDisconnected:
		icon = "🔴"
	}
	return fmt.Sprintf("%s %s (%s)", icon, snap.Link, snap.Phase)
}

func (c *Commands) Last(ctx context.Context) string {
	if c.d.Log == nil {
		return "log unavailable"
	}
	recs, err := c.d.Log.ReadAll(ctx)
	if err != nil {
		return "⚠️ could not read the probe log"
	}
	if len(recs) == 0 {
		return "No probes recorded yet"
	}
	return formatRecord(recs[len(recs)-1])
}

func formatRecord(r record.ProbeRecord) string {
	head := "✅ Connected"
	if !r.Success() {
		head = "❌ Disconnected"
	}
	return fmt.Sprintf(
		"%s\n"+
			"⏰ %s\n"+
			"📡 Ping: %s\n"+
			"⬇️  Download: %s\n"+
			"⬆️  Upload: %s\n"+
			"⏱ Took %.1fs",
		head,
		r.Start.Local().Format("2006-01-02 15:04:05"),
		metric(r, record.MetricPing, "ms"),
		metric(r, record.MetricDownload, "Mbps"),
		metric(r, record.MetricUpload, "Mbps"),
		r.Duration,
	)
}

func metric(r record.ProbeRecord, name, unit string) string {
	v := r.Value(name)
	if !v.Valid {
		return "ERROR"
	}
	return fmt.Sprintf("%.2f %s", v.Float64, unit)
}

var units = map[string]string{
	record.MetricPing:     "ms",
	record.MetricDownload: "Mbps",
	record.MetricUpload:   "Mbps",
	stats.MetricDuration:  "s",
}

func (c *Commands) Summary(ctx context.Context, days []int) string {
	if c.d.Stats == nil {
		return "stats unavailable"
	}
	sum := c.d.Stats.Summary(ctx, days)
	if len(sum.Windows) == 0 {
		return "📊 No probe data available yet"
	}

	keys := make([]int, 0, len(sum.Windows))
	for d := range sum.Windows {
		keys = append(keys, d)
	}
	sort.Ints(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Probe statistics (%d days of history)\n", sum.RecordDays)
	b.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for _, d := range keys {
		ds := sum.Windows[d]
		fmt.Fprintf(&b, "\n\n🗓 Last %s\n", plural(d, "day"))
		for _, k := range stats.Keys {
			m, ok := ds.Metrics[k]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "   • %s: %.2f ± %.2f %s\n", k, m.Average, m.Variance, units[k])
		}
		fmt.Fprintf(&b, "   • downtime: %.2f min", ds.DowntimeMinutes)
	}
	return b.String()
}

func (c *Commands) Force() string {
	if c.d.Force == nil {
		return "force unavailable"
	}
	if c.limiter != nil && !c.limiter.AllowN(c.now(), 1) {
		return "⏳ A probe was forced recently; try again later"
	}
	c.d.Force.Set()
	return "🚀 Probe scheduled"
}

func (c *Commands) Health() string {
	if c.d.Tasks == nil {
		return "health unavailable"
	}
	tasks := c.d.Tasks()
	if len(tasks) == 0 {
		return "No background tasks"
	}
	var b strings.Builder
	b.WriteString("🩺 Background tasks")
	for _, t := range tasks {
		icon := "⏹"
		if t.Running > 0 {
			icon = "▶️"
		}
		fmt.Fprintf(&b, "\n%s %s", icon, t.Name)
		if t.Restarts > 0 {
			fmt.Fprintf(&b, " (restarts %d)", t.Restarts)
		}
		if t.LastErr != "" {
			fmt.Fprintf(&b, "\n   last error %s: %s", t.LastErrAt.Local().Format("15:04:05"), t.LastErr)
		}
	}
	return b.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
