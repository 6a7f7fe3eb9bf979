// Package status tracks the scheduler phase and the link state derived from
// the most recent probe.
package status

import "sync"

type Phase int

const (
	PhaseInit Phase = iota
	PhaseTesting
	PhaseWaiting
)

func (p Phase) String() string {
	switch p {
	case PhaseTesting:
		return "testing"
	case PhaseWaiting:
		return "waiting"
	default:
		return "init"
	}
}

type Link int

const (
	LinkUnknown Link = iota
	LinkConnected
	LinkDisconnected
)

func (l Link) String() string {
	switch l {
	case LinkConnected:
		return "connected"
	case LinkDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the tracker.
type Snapshot struct {
	Phase Phase
	Link  Link
}

// Flags renders the snapshot as the flag set reported to clients:
// the phase flag ("init", "testing" or "waiting") followed by the link flag
// when one is known.
func (s Snapshot) Flags() []string {
	out := make([]string, 0, 2)
	out = append(out, s.Phase.String())
	if s.Link != LinkUnknown {
		out = append(out, s.Link.String())
	}
	return out
}

// Tracker holds the current {phase, link} pair. The scheduler is the only
// writer; any number of goroutines may read.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewTracker() *Tracker { return &Tracker{} }

// SetPhase moves the scheduler phase. Testing and waiting replace each other.
func (t *Tracker) SetPhase(p Phase) {
	t.mu.Lock()
	t.snap.Phase = p
	t.mu.Unlock()
}

// Observe flips the link state from a probe outcome. There is no hysteresis:
// one result is enough to change state.
func (t *Tracker) Observe(success bool) {
	l := LinkDisconnected
	if success {
		l = LinkConnected
	}
	t.mu.Lock()
	t.snap.Link = l
	t.mu.Unlock()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

func (t *Tracker) Flags() []string { return t.Snapshot().Flags() }
