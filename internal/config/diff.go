package config

import (
	"strings"

	logx "almanac/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and structured attrs
// describing their new values, for logging a hot reload.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		// Storage is bound at startup; a change only takes effect on restart.
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.restart_required", true),
		)
	}
	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
			logx.String("engine.default_timeout", strings.TrimSpace(newCfg.Engine.DefaultTimeout)),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int64("scheduler.id_offset", newCfg.Scheduler.IDOffset),
			logx.Bool("scheduler.restart_required", true),
		)
	}
	if oldCfg.Wake != newCfg.Wake {
		changed = append(changed, "wake")
		attrs = append(attrs,
			logx.Bool("wake.enabled", newCfg.Wake.Enabled),
			logx.String("wake.max_hold", strings.TrimSpace(newCfg.Wake.MaxHold)),
		)
	}
	return changed, attrs
}
