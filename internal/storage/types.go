package storage

import (
	"context"
	"errors"
	"time"

	"intercheck/internal/record"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": NDJSON log file (default)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// LogStore is the append/read contract of the probe log.
//
// ReadAll returns records in append order. The returned slice is a snapshot:
// appends that happen after the call starts are not visible in it.
type LogStore interface {
	Append(ctx context.Context, r record.ProbeRecord) error
	ReadAll(ctx context.Context) ([]record.ProbeRecord, error)
	// Prune removes records that started before the cutoff and reports how many
	// were removed.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}
