// Package settings persists the user-editable schedule settings.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	logx "intercheck/pkg/logx"
)

const (
	DefaultInterval      = 5 * 60
	DefaultIntervalExact = true
	DefaultPort          = 5000

	// Bounds accepted from user input. The scheduler applies its own,
	// state-dependent minimum on top of these.
	MinUserInterval = 60
	MaxUserInterval = 3600
)

var ErrInvalidInterval = errors.New("interval out of range")

// Settings are the schedule settings read by the scheduler every iteration.
type Settings struct {
	Interval      int  `json:"interval"` // seconds between probe starts
	IntervalExact bool `json:"interval_exact"`
	Port          int  `json:"port"`
}

func Defaults() Settings {
	return Settings{Interval: DefaultInterval, IntervalExact: DefaultIntervalExact, Port: DefaultPort}
}

// Provider loads and saves settings.
type Provider interface {
	Load() Settings
	Save(s Settings) error
}

// fileSettings mirrors Settings with optional fields so absent keys fall back
// to defaults individually.
type fileSettings struct {
	Interval      *int  `json:"interval,omitempty"`
	IntervalExact *bool `json:"interval_exact,omitempty"`
	Port          *int  `json:"port,omitempty"`
}

// FileProvider keeps settings in a JSON file.
//
// A missing or corrupt file is replaced by defaults on Load.
type FileProvider struct {
	path string
	log  logx.Logger

	mu sync.Mutex
	// lastHash is the hash of the content this provider last wrote; the
	// watcher uses it to ignore our own writes. Reads never touch it.
	lastHash uint64
}

func NewFileProvider(path string, log logx.Logger) *FileProvider {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FileProvider{path: path, log: log}
}

func (p *FileProvider) Path() string { return p.path }

// Load reads the settings, applying defaults for absent or invalid values.
// Whenever a default was substituted the corrected settings are persisted.
func (p *FileProvider) Load() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, repaired, err := p.readLocked()
	if err == nil && repaired {
		p.log.Warn("settings incomplete or invalid; persisting defaults for those fields",
			logx.String("path", p.path),
			logx.Int("interval", s.Interval),
			logx.Bool("interval_exact", s.IntervalExact),
			logx.Int("port", s.Port),
		)
		if werr := p.writeLocked(s); werr != nil {
			p.log.Warn("persist repaired settings failed", logx.String("path", p.path), logx.Err(werr))
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			p.log.Info("settings file missing; writing defaults", logx.String("path", p.path))
		} else {
			p.log.Warn("settings unreadable; writing defaults", logx.String("path", p.path), logx.Err(err))
		}
		s = Defaults()
		if werr := p.writeLocked(s); werr != nil {
			p.log.Warn("persist default settings failed", logx.String("path", p.path), logx.Err(werr))
		}
	}
	return s
}

// readLocked decodes the file. repaired reports that at least one field was
// absent or invalid and took its default.
func (p *FileProvider) readLocked() (s Settings, repaired bool, err error) {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return Settings{}, false, err
	}
	var fs fileSettings
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&fs); err != nil {
		return Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}

	s = Defaults()
	if fs.Interval != nil && *fs.Interval > 0 {
		s.Interval = *fs.Interval
	} else {
		repaired = true
	}
	if fs.IntervalExact != nil {
		s.IntervalExact = *fs.IntervalExact
	} else {
		repaired = true
	}
	if fs.Port != nil && *fs.Port > 0 && *fs.Port < 65536 {
		s.Port = *fs.Port
	} else {
		repaired = true
	}
	return s, repaired, nil
}

// Save writes the settings atomically (temp file + rename).
func (p *FileProvider) Save(s Settings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(s)
}

func (p *FileProvider) writeLocked(s Settings) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	b = append(b, '\n')
	if dir := filepath.Dir(p.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace settings file: %w", err)
	}
	p.lastHash = hashBytes(b)
	return nil
}

func (p *FileProvider) isOwnContent(b []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := hashBytes(b)
	return h != 0 && h == p.lastHash
}

// AcceptInterval validates a user-supplied interval. Values that do not parse
// or fall outside [MinUserInterval, MaxUserInterval] are replaced by the
// default and reported with ErrInvalidInterval.
func AcceptInterval(raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < MinUserInterval || v > MaxUserInterval {
		return DefaultInterval, ErrInvalidInterval
	}
	return v, nil
}

// AcceptIntervalExact parses "true"/"false"; anything else yields the default.
func AcceptIntervalExact(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return DefaultIntervalExact, false
	}
}

func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
