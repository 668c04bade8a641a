package logx

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("nothing happens", String("k", "v"))
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "test"))
	l.Debug("armed", Int64("id", 42), Bool("repeating", true))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "armed", m["message"])
	assert.Equal(t, "test", m["comp"])
	assert.EqualValues(t, 42, m["id"])
	assert.Equal(t, true, m["repeating"])
	assert.Contains(t, m[zerolog.CallerFieldName], "logging_test.go:")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("dropped")
	assert.Zero(t, buf.Len())
	assert.False(t, l.Enabled(LevelDebug))
	assert.True(t, l.Enabled(LevelError))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{" DEBUG ", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in, zerolog.InfoLevel), tt.in)
	}
}
