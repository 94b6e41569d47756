package utils

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "WARN")
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Str("component", "test").Msg("shown")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "test", entry["component"])
	assert.Contains(t, entry, "time")
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, newLogger(&bytes.Buffer{}, "").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(&bytes.Buffer{}, "loud").GetLevel())
	assert.Equal(t, zerolog.DebugLevel, newLogger(&bytes.Buffer{}, "debug").GetLevel())
}
