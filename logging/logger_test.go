package logging_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/warp/funding-ledger/logging"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, logging.ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, logging.ParseLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, logging.ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, logging.ParseLevel("loud"))
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(&buf, "warn", true)

	log.Info().Msg("hidden")
	log.Warn().Str("booking_id", "b1").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"booking_id":"b1"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"time":`)
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(&buf, "debug", false)

	log.Debug().Msg("allocated")

	assert.Contains(t, buf.String(), "allocated")
	assert.NotContains(t, buf.String(), `"message"`)
}
