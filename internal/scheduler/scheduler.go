// Package scheduler drives the probe/sleep cycle.
//
// One Scheduler runs per process. It is the only writer of the probe log and
// the only mutator of the connectivity status.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"intercheck/internal/force"
	"intercheck/internal/probe"
	"intercheck/internal/record"
	"intercheck/internal/settings"
	"intercheck/internal/status"
	"intercheck/internal/storage"
	logx "intercheck/pkg/logx"
)

type Config struct {
	MinConnected    time.Duration // floor for the interval while connected
	MinDisconnected time.Duration // floor while disconnected, and the fast-retry delay
	SnapGrid        time.Duration // wake-time grid after a successful probe
	ProbeTimeout    time.Duration // 0 disables the probe deadline

	// MaxAppendFailures is how many consecutive log append failures are
	// tolerated before Run gives up.
	MaxAppendFailures int
}

func (c Config) withDefaults() Config {
	if c.MinConnected <= 0 {
		c.MinConnected = 60 * time.Second
	}
	if c.MinDisconnected <= 0 {
		c.MinDisconnected = 30 * time.Second
	}
	if c.SnapGrid <= 0 {
		c.SnapGrid = 60 * time.Second
	}
	if c.MaxAppendFailures <= 0 {
		c.MaxAppendFailures = 3
	}
	return c
}

// Appender is the write side of the probe log.
type Appender interface {
	Append(ctx context.Context, r record.ProbeRecord) error
}

// SettingsLoader supplies the schedule settings for each iteration.
type SettingsLoader interface {
	Load() settings.Settings
}

type Deps struct {
	Log      logx.Logger
	Probe    probe.Client
	Store    Appender
	Settings SettingsLoader
	Status   *status.Tracker
	Force    *force.Signal
}

type Scheduler struct {
	cfg      Config
	log      logx.Logger
	probe    probe.Client
	store    Appender
	settings SettingsLoader
	status   *status.Tracker
	force    *force.Signal

	now func() time.Time

	appendFailures int

	mu   sync.Mutex
	avg  durationAverage
	last *record.ProbeRecord
}

func New(cfg Config, d Deps) *Scheduler {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	st := d.Status
	if st == nil {
		st = status.NewTracker()
	}
	fs := d.Force
	if fs == nil {
		fs = force.New()
	}
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		log:      log,
		probe:    d.Probe,
		store:    d.Store,
		settings: d.Settings,
		status:   st,
		force:    fs,
		now:      time.Now,
	}
}

// Run loops until ctx is cancelled. It returns a non-nil error only when the
// probe log cannot be written.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.probe == nil || s.store == nil || s.settings == nil {
		return errors.New("scheduler: probe, store and settings are required")
	}
	s.log.Info("scheduler started",
		logx.Duration("min_connected", s.cfg.MinConnected),
		logx.Duration("min_disconnected", s.cfg.MinDisconnected),
		logx.Duration("probe_timeout", s.cfg.ProbeTimeout),
	)
	defer s.log.Info("scheduler stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		plan, err := s.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		forced, err := s.sleep(ctx, plan.Timeout)
		if err != nil {
			return nil
		}
		if forced {
			s.log.Info("forcing probe")
		}
	}
}

// RunOnce performs one probe and returns the plan for the following sleep.
func (s *Scheduler) RunOnce(ctx context.Context) (Plan, error) {
	set := s.settings.Load()
	interval, clamped := ClampInterval(time.Duration(set.Interval)*time.Second, s.status.Snapshot().Link, s.cfg)
	if clamped {
		s.log.Warn("interval below minimum; clamped",
			logx.Int("configured_sec", set.Interval),
			logx.Duration("interval", interval),
		)
	}
	if avg, ok := s.AverageDuration(); ok && interval.Seconds() < avg {
		s.log.Warn("interval less than average probe duration",
			logx.Duration("interval", interval),
			logx.Float64("avg_duration_sec", avg),
		)
	}

	s.status.SetPhase(status.PhaseTesting)
	s.log.Info("performing probe")
	rec, perr := probe.Measure(ctx, s.probe, s.cfg.ProbeTimeout)
	s.status.SetPhase(status.PhaseWaiting)
	if perr != nil && ctx.Err() != nil {
		return Plan{}, ctx.Err()
	}
	if perr != nil {
		s.log.Warn("probe failed", logx.Err(perr))
	}

	s.status.Observe(rec.Success())
	s.report(rec)

	if err := s.appendRecord(ctx, rec); err != nil {
		return Plan{}, err
	}

	s.mu.Lock()
	avg := s.avg.Add(rec.Duration)
	s.last = &rec
	s.mu.Unlock()

	plan := NextPlan(s.now(), rec.Success(), rec.Duration, interval, set.IntervalExact, s.cfg)
	s.log.Info("waiting for next check",
		logx.Duration("timeout", plan.Timeout),
		logx.String("at", plan.Wake.Local().Format("01/02/06 15:04:05")),
		logx.Duration("interval", plan.Delay),
		logx.Duration("offset", plan.Offset),
		logx.Float64("avg_duration_sec", avg),
	)
	return plan, nil
}

func (s *Scheduler) appendRecord(ctx context.Context, rec record.ProbeRecord) error {
	err := s.store.Append(ctx, rec)
	if err == nil {
		s.appendFailures = 0
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, storage.ErrClosed) {
		return fmt.Errorf("append probe record: %w", err)
	}
	s.appendFailures++
	s.log.Error("append probe record failed",
		logx.Err(err),
		logx.Int("consecutive", s.appendFailures),
		logx.Int("max", s.cfg.MaxAppendFailures),
	)
	if s.appendFailures >= s.cfg.MaxAppendFailures {
		return fmt.Errorf("append probe record: %d consecutive failures: %w", s.appendFailures, err)
	}
	return nil
}

func (s *Scheduler) report(rec record.ProbeRecord) {
	fields := []logx.Field{
		metricField("ping_ms", rec.Ping.Ptr()),
		metricField("download_mbps", rec.Download.Ptr()),
		metricField("upload_mbps", rec.Upload.Ptr()),
		logx.Float64("duration_sec", rec.Duration),
		logx.String("performed", rec.Start.Local().Format("01/02/06 15:04:05")),
	}
	if rec.Success() {
		s.log.Info("probe done", fields...)
		return
	}
	s.log.Warn("probe done; disconnected", fields...)
}

func metricField(key string, v *float64) logx.Field {
	if v == nil {
		return logx.String(key, "ERROR")
	}
	return logx.Float64(key, *v)
}

// sleep waits for d, returning early when the force signal is raised.
// The signal is consumed on wake.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) (bool, error) {
	if s.force.TestAndClear() {
		return true, nil
	}
	if d <= 0 {
		return false, ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
			return false, nil
		case <-s.force.C():
			if s.force.TestAndClear() {
				return true, nil
			}
		}
	}
}

// AverageDuration returns the running probe duration estimate in seconds.
func (s *Scheduler) AverageDuration() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avg.Value()
}

// Last returns the most recent record produced by this scheduler.
func (s *Scheduler) Last() (record.ProbeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return record.ProbeRecord{}, false
	}
	return *s.last, true
}
