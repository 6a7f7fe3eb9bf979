package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"intercheck/internal/record"
	logx "intercheck/pkg/logx"
)

// fileStore keeps the probe log in a JSON Lines file (one record per line).
//
// Appends go through a single O_APPEND handle under mu; reads open the file
// separately under the same lock, so a reader never observes a torn line.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
	f  *os.File
}

func openFile(cfg Config, log logx.Logger) (LogStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &fileStore{log: log, path: path, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, r record.ProbeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func (s *fileStore) ReadAll(ctx context.Context) ([]record.ProbeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	return s.readLocked()
}

func (s *fileStore) readLocked() ([]record.ProbeRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	out := make([]record.ProbeRecord, 0, 256)
	skipped := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record.ProbeRecord
		if err := json.Unmarshal(line, &r); err != nil {
			skipped++
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan log file: %w", err)
	}
	if skipped > 0 {
		s.log.Debug("skipped unreadable log lines", logx.Int("count", skipped), logx.String("path", s.path))
	}
	return out, nil
}

// Prune rewrites the file without the old records (temp file + rename) and
// reopens the append handle on the new file.
func (s *fileStore) Prune(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrClosed
	}

	all, err := s.readLocked()
	if err != nil {
		return 0, err
	}
	kept := all[:0:0]
	for _, r := range all {
		if r.Start.Before(before) {
			continue
		}
		kept = append(kept, r)
	}
	removed := len(all) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	tmp := s.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open temp log file: %w", err)
	}
	bw := bufio.NewWriter(out)
	for _, r := range kept {
		b, err := json.Marshal(r)
		if err != nil {
			continue
		}
		_, _ = bw.Write(b)
		_ = bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write temp log file: %w", err)
	}
	_ = out.Sync()
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("close temp log file: %w", err)
	}

	_ = s.f.Close()
	s.f = nil
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		// Keep appending to the original file.
		if f, oerr := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); oerr == nil {
			s.f = f
		}
		return 0, fmt.Errorf("replace log file: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return removed, fmt.Errorf("reopen log file: %w", err)
	}
	s.f = f
	return removed, nil
}
