package stats

import (
	"context"
	"math"
	"time"

	"github.com/guregu/null/v5"

	"intercheck/internal/record"
)

// DaySummary is one window of a Summary, rounded for presentation.
type DaySummary struct {
	Metrics         map[string]MetricStat
	DowntimeMinutes float64
	Samples         int
}

// Summary is the dashboard view: per-day windows plus how many days of
// history back them.
type Summary struct {
	Windows    map[int]DaySummary
	RecordDays int
	Earliest   time.Time
}

// Summary aggregates over windows of the given lengths in days. Values are
// rounded to two decimals. RecordDays is the age of the earliest record
// considered, rounded up to whole days.
func (e *Engine) Summary(ctx context.Context, days []int) Summary {
	now := e.now()
	windows := make([]time.Duration, 0, len(days))
	for _, d := range days {
		if d > 0 {
			windows = append(windows, time.Duration(d)*day)
		}
	}
	res, _ := compute(e.read(ctx), now, windows, nil)

	out := Summary{
		Windows:    make(map[int]DaySummary, len(res.Windows)),
		RecordDays: recordDays(now, res.Earliest),
		Earliest:   res.Earliest,
	}
	for w, ws := range res.Windows {
		ds := DaySummary{
			Metrics:         make(map[string]MetricStat, len(ws.Metrics)),
			DowntimeMinutes: Round(ws.DowntimeSeconds / 60),
		}
		for k, m := range ws.Metrics {
			ds.Metrics[k] = MetricStat{Average: Round(m.Average), Variance: Round(m.Variance), Count: m.Count}
			if m.Count > ds.Samples {
				ds.Samples = m.Count
			}
		}
		out.Windows[int(w/day)] = ds
	}
	return out
}

func recordDays(now, earliest time.Time) int {
	span := now.Sub(earliest)
	if span <= 0 {
		return 0
	}
	return int(math.Ceil(span.Hours() / 24))
}

// Series is the raw per-record data of one window, in chronological order.
// The slices are aligned: index i of each belongs to the same record.
type Series struct {
	Window          time.Duration `json:"-"`
	Start           []float64     `json:"start"`
	Duration        []float64     `json:"duration"`
	Ping            []null.Float  `json:"ping"`
	Download        []null.Float  `json:"download"`
	Upload          []null.Float  `json:"upload"`
	DowntimeSeconds float64       `json:"downtime"`
}

// Len is the number of records in the series.
func (s Series) Len() int { return len(s.Start) }

// Points returns the records of a windowDays-long window, ignoring records
// before floor when it is non-nil.
func (e *Engine) Points(ctx context.Context, windowDays int, floor *time.Time) Series {
	if windowDays <= 0 {
		windowDays = 30
	}
	w := time.Duration(windowDays) * day
	res, recs := compute(e.read(ctx), e.now(), []time.Duration{w}, floor)

	s := Series{
		Window:   w,
		Start:    make([]float64, 0, len(recs)),
		Duration: make([]float64, 0, len(recs)),
		Ping:     make([]null.Float, 0, len(recs)),
		Download: make([]null.Float, 0, len(recs)),
		Upload:   make([]null.Float, 0, len(recs)),
	}
	for _, r := range recs {
		s.Start = append(s.Start, r.StartUnix())
		s.Duration = append(s.Duration, r.Duration)
		s.Ping = append(s.Ping, r.Value(record.MetricPing))
		s.Download = append(s.Download, r.Value(record.MetricDownload))
		s.Upload = append(s.Upload, r.Value(record.MetricUpload))
	}
	if ws := res.Windows[w]; ws != nil {
		s.DowntimeSeconds = ws.DowntimeSeconds
	}
	return s
}
