package config

import (
	"reflect"

	logx "intercheck/pkg/logx"
)

// Changes lists the sections that differ between two configs, plus log
// fields describing the new values. Secrets are never included.
//
// Only logging is applied live; every other section needs a restart.
func Changes(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.DataDir != newCfg.DataDir || oldCfg.SettingsPath != newCfg.SettingsPath {
		changed = append(changed, "data_dir")
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr), logx.Bool("http.pprof", newCfg.HTTP.Pprof))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
	}
	if oldCfg.Probe != newCfg.Probe {
		changed = append(changed, "probe")
	}
	if oldCfg.Retention != newCfg.Retention {
		changed = append(changed, "retention")
	}
	if oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.ForceEvery != newCfg.Telegram.ForceEvery ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL ||
		!reflect.DeepEqual(oldCfg.Telegram.AllowedChats, newCfg.Telegram.AllowedChats) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
			logx.Int("telegram.allowed_chats", len(newCfg.Telegram.AllowedChats)),
		)
	}
	return changed, attrs
}
