package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "intercheck/pkg/logx"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int
	err     error
	called  chan struct{}
}

func (f *fakePruner) Prune(_ context.Context, before time.Time) (int, error) {
	f.mu.Lock()
	f.cutoffs = append(f.cutoffs, before)
	f.mu.Unlock()
	if f.called != nil {
		select {
		case f.called <- struct{}{}:
		default:
		}
	}
	return f.n, f.err
}

func TestRunNowUsesMaxAge(t *testing.T) {
	p := &fakePruner{n: 4}
	s := New(Config{MaxAge: 90 * 24 * time.Hour}, p, logx.Nop())
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.RunNow(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("RunNow=(%d,%v)", n, err)
	}
	want := now.Add(-90 * 24 * time.Hour)
	if len(p.cutoffs) != 1 || !p.cutoffs[0].Equal(want) {
		t.Fatalf("cutoffs=%v want %v", p.cutoffs, want)
	}
	last, ok := s.Last()
	if !ok || last.Removed != 4 || !last.Cutoff.Equal(want) {
		t.Fatalf("Last()=%+v,%v", last, ok)
	}
}

func TestRunNowRecordsFailure(t *testing.T) {
	p := &fakePruner{err: errors.New("locked")}
	s := New(Config{MaxAge: time.Hour}, p, logx.Nop())
	if _, err := s.RunNow(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if last, _ := s.Last(); last.Err == nil {
		t.Fatalf("failure not recorded")
	}
}

func TestDisabledNeverPrunes(t *testing.T) {
	p := &fakePruner{}
	s := New(Config{}, p, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if n, err := s.RunNow(context.Background()); n != 0 || err != nil {
		t.Fatalf("RunNow=(%d,%v)", n, err)
	}
	if len(p.cutoffs) != 0 {
		t.Fatalf("disabled retention pruned")
	}
}

func TestValidate(t *testing.T) {
	if err := New(Config{Schedule: "0 3 * * *"}, nil, logx.Nop()).Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if err := New(Config{Schedule: "every tuesday"}, nil, logx.Nop()).Validate(); err == nil {
		t.Fatalf("invalid spec accepted")
	}
	if err := New(Config{}, nil, logx.Nop()).Validate(); err != nil {
		t.Fatalf("default spec rejected: %v", err)
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	p := &fakePruner{called: make(chan struct{}, 1)}
	s := New(Config{Schedule: "@every 1s", MaxAge: time.Hour}, p, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	select {
	case <-p.called:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduled prune did not run")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(Config{Schedule: "nope", MaxAge: time.Hour}, &fakePruner{}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Fatalf("expected error for bad schedule")
	}
}
