// Package stats computes windowed averages, spread and downtime over the
// probe log.
//
// "Variance" throughout this package is the mean absolute deviation
// (sum |v-avg| / n), not the squared variance. Clients depend on it.
package stats

import (
	"context"
	"math"
	"sort"
	"time"

	"intercheck/internal/record"
	logx "intercheck/pkg/logx"
)

const day = 24 * time.Hour

// MetricDuration is the probe duration, reported alongside the measured
// metrics.
const MetricDuration = "duration"

// Keys lists every metric the engine aggregates, in report order.
var Keys = []string{record.MetricPing, record.MetricDownload, record.MetricUpload, MetricDuration}

// Reader is the read side of the probe log.
type Reader interface {
	ReadAll(ctx context.Context) ([]record.ProbeRecord, error)
}

// MetricStat is the aggregate of one metric in one window.
type MetricStat struct {
	Average  float64
	Variance float64 // mean absolute deviation
	Count    int
}

// WindowStat is the aggregate of one window.
type WindowStat struct {
	Window          time.Duration
	Metrics         map[string]MetricStat // a metric with no samples is absent
	DowntimeSeconds float64
}

// Result is the outcome of Compute.
type Result struct {
	Windows  map[time.Duration]*WindowStat
	Earliest time.Time // earliest record considered, or now when none was
}

// Engine answers stats queries. It only reads the log and is safe for
// concurrent use.
type Engine struct {
	log   logx.Logger
	store Reader
	now   func() time.Time
}

func NewEngine(store Reader, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{log: log, store: store, now: time.Now}
}

// Compute aggregates the log over each window ending now. Records before
// floor (when non-nil) are ignored. A failed read is treated as an empty log.
func (e *Engine) Compute(ctx context.Context, windows []time.Duration, floor *time.Time) Result {
	recs := e.read(ctx)
	res, _ := compute(recs, e.now(), windows, floor)
	return res
}

func (e *Engine) read(ctx context.Context) []record.ProbeRecord {
	if e.store == nil {
		return nil
	}
	recs, err := e.store.ReadAll(ctx)
	if err != nil {
		e.log.Warn("read probe log failed; treating as empty", logx.Err(err))
		return nil
	}
	return recs
}

type accumulator struct {
	horizon  time.Time
	samples  map[string][]float64
	downtime float64
}

// compute is the core of Compute. It also returns the records that passed
// the floor and largest-window filters, in chronological order.
func compute(recs []record.ProbeRecord, now time.Time, windows []time.Duration, floor *time.Time) (Result, []record.ProbeRecord) {
	res := Result{Windows: map[time.Duration]*WindowStat{}, Earliest: now}

	windows = normalizeWindows(windows)
	if len(windows) == 0 || len(recs) == 0 {
		return res, nil
	}

	sorted := make([]record.ProbeRecord, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	accs := make([]*accumulator, len(windows))
	for i, w := range windows {
		accs[i] = &accumulator{horizon: now.Add(-w), samples: map[string][]float64{}}
	}
	oldest := accs[len(accs)-1].horizon

	var (
		considered     []record.ProbeRecord
		earliest       time.Time
		connectedSince time.Time
		haveConnected  bool
		wasDown        bool
	)
	for _, r := range sorted {
		if floor != nil && r.Start.Before(*floor) {
			continue
		}
		if r.Start.Before(oldest) {
			continue
		}
		if len(considered) == 0 || r.Start.Before(earliest) {
			earliest = r.Start
		}
		considered = append(considered, r)

		for _, a := range accs {
			if r.Start.Before(a.horizon) {
				continue
			}
			for _, k := range Keys {
				if v, ok := value(r, k); ok {
					a.samples[k] = append(a.samples[k], v)
				}
			}
		}

		if !r.Success() {
			wasDown = true
			continue
		}
		if wasDown {
			for _, a := range accs {
				if r.Start.Before(a.horizon) {
					continue
				}
				var anchor time.Time
				if haveConnected {
					anchor = later(connectedSince, a.horizon)
				} else {
					anchor = later(earliest, a.horizon.Truncate(day))
				}
				if d := r.Start.Sub(anchor).Seconds(); d > 0 {
					a.downtime += d
				}
			}
			wasDown = false
		}
		connectedSince = r.Start
		haveConnected = true
	}

	if len(considered) == 0 {
		return res, nil
	}
	res.Earliest = earliest
	for i, w := range windows {
		a := accs[i]
		ws := &WindowStat{Window: w, Metrics: map[string]MetricStat{}, DowntimeSeconds: a.downtime}
		for k, vs := range a.samples {
			if len(vs) == 0 {
				continue
			}
			avg, mad := meanAbsDev(vs)
			ws.Metrics[k] = MetricStat{Average: avg, Variance: mad, Count: len(vs)}
		}
		res.Windows[w] = ws
	}
	return res, considered
}

func value(r record.ProbeRecord, key string) (float64, bool) {
	if key == MetricDuration {
		return r.Duration, true
	}
	v := r.Value(key)
	return v.Float64, v.Valid
}

// normalizeWindows sorts ascending and drops duplicates and non-positive
// windows.
func normalizeWindows(in []time.Duration) []time.Duration {
	out := make([]time.Duration, 0, len(in))
	for _, w := range in {
		if w > 0 {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	j := 0
	for i, w := range out {
		if i > 0 && w == out[j-1] {
			continue
		}
		out[j] = w
		j++
	}
	return out[:j]
}

func meanAbsDev(vs []float64) (avg, mad float64) {
	n := float64(len(vs))
	for _, v := range vs {
		avg += v
	}
	avg /= n
	for _, v := range vs {
		mad += math.Abs(v - avg)
	}
	return avg, mad / n
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// Round rounds v to two decimal places for presentation.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}
