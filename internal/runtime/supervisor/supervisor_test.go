package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoErrorCancelsWhenConfigured(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("failing", func(context.Context) error { return boom })
	s.Go0("waiter", func(ctx context.Context) { <-ctx.Done() })

	err := s.Wait(waitCtx(t))
	if !errors.Is(err, boom) {
		t.Fatalf("Wait=%v want boom", err)
	}
}

func TestGoCancellationIsClean(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop=%v want nil", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go0("panicky", func(context.Context) { panic("oops") })
	if err := s.Wait(waitCtx(t)); err == nil {
		t.Fatalf("panic was not reported")
	}
	tasks := s.Tasks()
	if len(tasks) != 1 || tasks[0].Panics != 1 || tasks[0].Running != 0 {
		t.Fatalf("tasks=%+v", tasks)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait=%v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d want 3", calls.Load())
	}
	if st := s.Tasks()[0]; st.Restarts != 2 || st.LastErr == "" {
		t.Fatalf("state=%+v", st)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.GoRestart("broken", func(context.Context) error { return errors.New("nope") },
		WithRestartBackoff(time.Millisecond, time.Millisecond),
		WithMaxRestarts(2),
	)
	if err := s.Wait(waitCtx(t)); err == nil {
		t.Fatalf("expected give-up error")
	}
	if s.Context().Err() == nil {
		t.Fatalf("give-up should cancel with cancel-on-error")
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	s := New(context.Background())
	started := make(chan struct{}, 1)
	s.GoRestart("server", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return context.Canceled
	})
	<-started
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop=%v", err)
	}
}

func TestWaitTimesOut(t *testing.T) {
	s := New(context.Background())
	release := make(chan struct{})
	defer close(release)
	s.Go0("stuck", func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait=%v want deadline exceeded", err)
	}
}
