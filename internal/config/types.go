package config

// Config is the daemon configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Engine    EngineConfig    `json:"engine"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Wake      WakeConfig      `json:"wake"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	storage: { driver: sqlite, path: ./almanac.db }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`  // sqlite only
	CompactEvery int    `json:"compact_every,omitempty"` // file only
}

// EngineConfig controls the handler worker pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type SchedulerConfig struct {
	// IDOffset is the first auto-assigned order id. 0 means 1000000.
	IDOffset int64 `json:"id_offset,omitempty"`
	// ClockOffset shifts the scheduler clock, e.g. "-1h" to test against
	// a fake "now". Empty or "0s" means the system clock.
	ClockOffset string `json:"clock_offset,omitempty"`
}

type WakeConfig struct {
	Enabled bool   `json:"enabled"`
	MaxHold string `json:"max_hold,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "sqlite", Path: "./almanac.db"},
	}
}
