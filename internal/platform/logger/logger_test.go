package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AttachesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", ServiceName: "be-plot-transfers", Version: "1.2.3", Output: &buf})

	log.WithComponent("workflow").Debug().Str("case_id", "c-1").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "be-plot-transfers", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "workflow", entry["component"])
	assert.Equal(t, "c-1", entry["case_id"])
	assert.Equal(t, "debug", entry["level"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "WARN", Output: &buf})

	log.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("kept")
	assert.NotZero(t, buf.Len())
}
