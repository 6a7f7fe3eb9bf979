package scheduler

import (
	"math"
	"time"

	"intercheck/internal/record"
	"intercheck/internal/status"
)

// Plan is the outcome of one scheduling decision.
type Plan struct {
	Interval time.Duration // configured interval after clamping
	Delay    time.Duration // interval, or the fast-retry delay after a failure
	Timeout  time.Duration // how long to sleep before the next probe
	Wake     time.Time     // absolute wake time
	Offset   time.Duration // grid-snap correction applied to Timeout and Wake
}

// ClampInterval raises interval to the minimum allowed for the link state.
// An unknown link uses the connected minimum.
func ClampInterval(interval time.Duration, link status.Link, cfg Config) (time.Duration, bool) {
	floor := cfg.MinConnected
	if link == status.LinkDisconnected {
		floor = cfg.MinDisconnected
	}
	if interval < floor {
		return floor, true
	}
	return interval, false
}

// NextPlan computes the sleep before the next probe.
//
// The probe's own duration is subtracted so that probe start times, not the
// gaps between probes, follow the configured cadence. A failed probe retries
// after MinDisconnected. With exact set, the wake time is snapped to the
// nearest multiple of the grid (SnapGrid on success, MinDisconnected on
// failure); a snap that would land in the past moves one grid step forward.
func NextPlan(now time.Time, success bool, duration float64, interval time.Duration, exact bool, cfg Config) Plan {
	delay := interval
	if !success {
		delay = cfg.MinDisconnected
	}
	timeout := math.Max(0, delay.Seconds()-duration)

	nowSec := record.Unix(now)
	future := nowSec + timeout
	offset := 0.0
	if exact {
		grid := cfg.SnapGrid.Seconds()
		if !success {
			grid = cfg.MinDisconnected.Seconds()
		}
		if grid > 0 {
			nearest := SnapToGrid(future, grid)
			if nearest < nowSec {
				nearest += grid
			}
			offset = nearest - future
		}
	}
	timeout = math.Max(0, timeout+offset)
	future += offset

	return Plan{
		Interval: interval,
		Delay:    delay,
		Timeout:  seconds(timeout),
		Wake:     record.FromUnix(future),
		Offset:   seconds(offset),
	}
}

// SnapToGrid rounds t (epoch seconds) to the nearest multiple of grid.
func SnapToGrid(t, grid float64) float64 {
	if grid <= 0 {
		return t
	}
	return math.Round(t/grid) * grid
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// durationAverage is the running probe duration estimate: the first sample
// seeds it, every later sample is averaged in with equal weight.
type durationAverage struct {
	value  float64
	seeded bool
}

func (a *durationAverage) Add(d float64) float64 {
	if !a.seeded {
		a.value = d
		a.seeded = true
		return a.value
	}
	a.value = (a.value + d) / 2
	return a.value
}

func (a *durationAverage) Value() (float64, bool) { return a.value, a.seeded }
