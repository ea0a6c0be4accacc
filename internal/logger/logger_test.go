package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "debug", false)
	defer Init("info", false)

	WithComponent("capture").Info().Int("seq", 3).Msg("frame published")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "capture", entry["component"])
	assert.Equal(t, "frame published", entry["message"])
	assert.EqualValues(t, 3, entry["seq"])
}
