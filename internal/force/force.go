// Package force implements the early-wake signal shared by request handlers
// and the scheduler.
package force

import "sync/atomic"

// Signal is level-triggered: Set may be called any number of times before the
// scheduler looks, and a single TestAndClear consumes all of them.
//
// The zero value is not usable; construct with New.
type Signal struct {
	set  atomic.Bool
	wake chan struct{}
}

func New() *Signal {
	return &Signal{wake: make(chan struct{}, 1)}
}

// Set raises the signal and wakes a sleeping waiter.
func (s *Signal) Set() {
	s.set.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// TestAndClear reports whether the signal was raised and lowers it atomically.
func (s *Signal) TestAndClear() bool {
	return s.set.Swap(false)
}

// IsSet reports the signal without consuming it.
func (s *Signal) IsSet() bool { return s.set.Load() }

// C delivers a value after Set. A receive is only a hint; callers must
// confirm with TestAndClear.
func (s *Signal) C() <-chan struct{} { return s.wake }
