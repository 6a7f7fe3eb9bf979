// Package config loads the intercheck application config. JSON and YAML are
// accepted; both go through the same strict decoder.
package config

// Config is the on-disk application config. Durations are Go duration
// strings ("30s", "72h"); an empty or zero duration selects the default.
type Config struct {
	// DataDir holds the probe log and the schedule settings file unless a
	// path below overrides them.
	DataDir string `json:"data_dir,omitempty"`

	// SettingsPath is the schedule settings file written by PUT /settings/.
	SettingsPath string `json:"settings_path,omitempty"`

	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Probe     ProbeConfig     `json:"probe"`
	Retention RetentionConfig `json:"retention"`
	Telegram  TelegramConfig  `json:"telegram"`
}

// HTTPConfig controls the web API. An empty addr serves on the port from the
// schedule settings.
type HTTPConfig struct {
	Enabled    *bool   `json:"enabled,omitempty"` // default true
	Addr       string  `json:"addr,omitempty"`
	Pprof      bool    `json:"pprof,omitempty"`
	ForceRate  float64 `json:"force_rate,omitempty"` // requests per second, 0 = unlimited
	ForceBurst int     `json:"force_burst,omitempty"`

	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// HTTPEnabled reports whether the web API should run.
func (c *Config) HTTPEnabled() bool {
	return c.HTTP.Enabled == nil || *c.HTTP.Enabled
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console *bool       `json:"console,omitempty"` // default true
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// StorageConfig selects the probe log backend.
//
//	"storage": { "driver": "sqlite", "path": "./data/log.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // file (default) | sqlite
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type SchedulerConfig struct {
	MinConnected    string `json:"min_connected,omitempty"`
	MinDisconnected string `json:"min_disconnected,omitempty"`
	SnapGrid        string `json:"snap_grid,omitempty"`
	// ProbeTimeout bounds a single probe. "0s" or empty leaves it unbounded.
	ProbeTimeout      string `json:"probe_timeout,omitempty"`
	MaxAppendFailures int    `json:"max_append_failures,omitempty"`
}

// ProbeConfig configures the measurement backend. When Command is set it is
// run instead of the built-in speedtest client and its output is parsed in
// the speedtest-cli --simple format.
type ProbeConfig struct {
	Command         string `json:"command,omitempty"`
	ServerCount     int    `json:"server_count,omitempty"`
	FullTestServers int    `json:"full_test_servers,omitempty"`
	MaxConnections  int    `json:"max_connections,omitempty"`
	SavingMode      bool   `json:"saving_mode,omitempty"`
	DialTimeout     string `json:"dial_timeout,omitempty"`
}

// RetentionConfig prunes old probe records. An empty or zero max_age keeps
// everything.
type RetentionConfig struct {
	Schedule string `json:"schedule,omitempty"` // cron spec, default @daily
	MaxAge   string `json:"max_age,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token,omitempty"`
	APIURL       string  `json:"api_url,omitempty"`
	AllowedChats []int64 `json:"allowed_chats,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	// ForceEvery bounds how often /force may trigger a probe.
	ForceEvery string `json:"force_every,omitempty"`
}

// Default returns the config used when no file exists.
func Default() *Config {
	return &Config{DataDir: "."}
}
