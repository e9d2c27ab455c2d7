package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesToConfiguredWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Writer: &buf})

	logger.Info().Str("component", "pipeline").Msg("started")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"component":"pipeline"`)
}

func TestNewLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "chatty", Writer: &buf})

	logger.Debug().Msg("suppressed")
	logger.Info().Msg("kept")

	out := buf.String()
	assert.NotContains(t, out, "suppressed")
	assert.Contains(t, out, "kept")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestSetupLoggerConfiguresGlobal(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	SetupLogger(Config{Level: "warn", Writer: &buf})

	log.Info().Msg("below threshold")
	log.Warn().Msg("surfaced")

	out := buf.String()
	assert.NotContains(t, out, "below threshold")
	assert.Contains(t, out, "surfaced")
}
