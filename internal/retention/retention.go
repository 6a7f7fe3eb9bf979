// Package retention prunes old probe records on a cron schedule.
package retention

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "intercheck/pkg/logx"
)

const (
	DefaultSchedule = "@daily"
	DefaultTimeout  = 2 * time.Minute
)

type Config struct {
	// Schedule is a 5-field cron spec or descriptor (@daily, @every 6h).
	Schedule string
	// MaxAge is how long records are kept. 0 disables pruning.
	MaxAge   time.Duration
	Timezone string
	Timeout  time.Duration
}

func (c Config) Enabled() bool { return c.MaxAge > 0 }

// Pruner is the part of the log store retention needs.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Run describes one completed prune.
type Run struct {
	At      time.Time
	Cutoff  time.Time
	Removed int
	Err     error
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	store  Pruner
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	now    func() time.Time

	last *Run
}

func New(cfg Config, store Pruner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Service{
		log:    log,
		cfg:    cfg,
		store:  store,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

// Validate checks the schedule without starting anything.
func (s *Service) Validate() error {
	_, err := s.parser.Parse(s.cfg.Schedule)
	return err
}

// Start registers the prune job and starts the cron runner. It is a no-op
// when retention is disabled. Jobs run with ctx as their parent.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled() {
		s.log.Info("retention disabled")
		return nil
	}
	if s.store == nil {
		return errors.New("retention: store is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := s.loadLocationLocked()
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() { _, _ = s.RunNow(s.ctx) }); err != nil {
		return err
	}
	s.ctx = ctx
	s.c = c
	c.Start()
	s.log.Info("retention started",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("max_age", s.cfg.MaxAge),
		logx.String("tz", loc.String()),
	)
	return nil
}

// Stop halts the cron runner and waits for a running prune to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunNow prunes records older than MaxAge immediately.
func (s *Service) RunNow(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.cfg.Enabled() {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	now := s.now()
	cutoff := now.Add(-s.cfg.MaxAge)
	n, err := s.store.Prune(ctx, cutoff)

	s.mu.Lock()
	s.last = &Run{At: now, Cutoff: cutoff, Removed: n, Err: err}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("retention prune failed", logx.Err(err), logx.Time("cutoff", cutoff))
		return n, err
	}
	if n > 0 {
		s.log.Info("retention pruned records", logx.Int("removed", n), logx.Time("cutoff", cutoff))
	} else {
		s.log.Debug("retention: nothing to prune", logx.Time("cutoff", cutoff))
	}
	return n, nil
}

// Last returns the most recent prune, if any ran.
func (s *Service) Last() (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Run{}, false
	}
	return *s.last, true
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
