package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreGlobals(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})
}

func TestSetupJSON(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer

	logger, err := Setup("warn", false, &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	log.Warn().Str("component", "watcher").Msg("queue overflow")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "watcher", entry["component"])
	assert.Equal(t, "queue overflow", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestSetupPretty(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer

	_, err := Setup("debug", true, &buf)
	require.NoError(t, err)
	log.Debug().Msg("flush complete")

	out := buf.String()
	assert.Contains(t, out, "flush complete")
	assert.NotContains(t, out, `"message"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
