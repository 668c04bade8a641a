package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlDoc = `
logging:
  level: debug
  console: false
storage:
  driver: file
  path: ./data
  compact_every: 50
engine:
  workers: 2
  default_timeout: 30s
scheduler:
  id_offset: 500
wake:
  enabled: true
  max_hold: 2m
`

const tomlDoc = `
[logging]
level = "debug"
console = false

[storage]
driver = "file"
path = "./data"
compact_every = 50

[engine]
workers = 2
default_timeout = "30s"

[scheduler]
id_offset = 500

[wake]
enabled = true
max_hold = "2m"
`

const jsonDoc = `{
  "logging": {"level": "debug", "console": false},
  "storage": {"driver": "file", "path": "./data", "compact_every": 50},
  "engine": {"workers": 2, "default_timeout": "30s"},
  "scheduler": {"id_offset": 500},
  "wake": {"enabled": true, "max_hold": "2m"}
}`

func TestDecodeFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
		doc  string
	}{
		{"yaml", "almanac.yaml", yamlDoc},
		{"yml", "almanac.yml", yamlDoc},
		{"toml", "almanac.toml", tomlDoc},
		{"json", "almanac.json", jsonDoc},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tt.file, []byte(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, "debug", cfg.Logging.Level)
			assert.False(t, cfg.Logging.Console)
			assert.Equal(t, StorageConfig{Driver: "file", Path: "./data", CompactEvery: 50}, cfg.Storage)
			assert.Equal(t, 2, cfg.Engine.Workers)
			assert.Equal(t, "30s", cfg.Engine.DefaultTimeout)
			assert.Equal(t, int64(500), cfg.Scheduler.IDOffset)
			assert.Equal(t, WakeConfig{Enabled: true, MaxHold: "2m"}, cfg.Wake)
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Decode("a.yaml", []byte("storage:\n  driver: memory\n  flavour: vanilla\n"))
	require.Error(t, err)

	_, err = Decode("a.toml", []byte("[telegram]\ntoken = \"x\"\n"))
	require.Error(t, err)

	_, err = Decode("a.json", []byte(`{"logging":{"level":"info"}}{}`))
	require.Error(t, err)
}

func TestDecodeValidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"bad duration", "engine:\n  default_timeout: soon\n"},
		{"negative duration", "wake:\n  max_hold: -1s\n"},
		{"unknown driver", "storage:\n  driver: postgres\n  path: x\n"},
		{"missing path", "storage:\n  driver: sqlite\n  path: \"\"\n"},
		{"negative offset", "scheduler:\n  id_offset: -5\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("a.yaml", []byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestEmptyDocumentUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("a.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	m := NewConfigManager("")
	cfg, err = m.Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Same(t, cfg, m.Get())
}

func TestClockOffsetMayBeNegative(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("a.yaml", []byte("scheduler:\n  clock_offset: -1h\n"))
	require.NoError(t, err)
	d, err := ParseSignedDuration("x", cfg.Scheduler.ClockOffset)
	require.NoError(t, err)
	assert.Equal(t, -time.Hour, d)
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	d, err = ParseDurationOrDefault("x", "5s", 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a := Default()
	b := Default()
	b.Logging.Level = "debug"
	b.Engine.Workers = 8

	changed, attrs := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"logging", "engine"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeConfigChange(a, a)
	assert.Empty(t, changed)
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "almanac.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  workers: 1\n"), 0o600))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  workers: 3\n"), 0o600))

	select {
	case cfg := <-ch:
		assert.Equal(t, 3, cfg.Engine.Workers)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	assert.Equal(t, 3, m.Get().Engine.Workers)

	cancel()
	<-done
}

func TestWatchRejectsWithValidator(t *testing.T) {
	m := NewConfigManager("unused.yaml")
	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	m.Commit(Default())
	ch := m.Subscribe(1)

	dir := t.TempDir()
	m.path = filepath.Join(dir, "almanac.yaml")
	require.NoError(t, os.WriteFile(m.path, []byte("engine:\n  workers: 9\n"), 0o600))
	m.reload(context.Background())

	select {
	case <-ch:
		t.Fatal("rejected config was published")
	default:
	}
	assert.Equal(t, 0, m.Get().Engine.Workers)
}
