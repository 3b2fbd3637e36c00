package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLogger(level LogLevel) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewZerologLogger(&Config{
		Level:  level,
		Format: JSONFormat,
		Output: buf,
	}), buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestZerologLogger_JSONOutput(t *testing.T) {
	log, buf := createTestLogger(TraceLevel)

	log.Info("lease created", String("entity_id", "u1"), Int("port", 5432), Bool("relayed", true))

	entry := lastLine(t, buf)
	assert.Equal(t, "lease created", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "u1", entry["entity_id"])
	assert.Equal(t, float64(5432), entry["port"])
	assert.Equal(t, true, entry["relayed"])
}

func TestZerologLogger_ErrField(t *testing.T) {
	log, buf := createTestLogger(TraceLevel)

	log.Error("revocation failed", Err(errors.New("boom")))

	entry := lastLine(t, buf)
	assert.Equal(t, "boom", entry["error"])
}

func TestZerologLogger_LevelFiltering(t *testing.T) {
	log, buf := createTestLogger(WarnLevel)

	log.Debug("filtered out")
	log.Info("also filtered")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.NotZero(t, buf.Len())

	assert.False(t, log.IsLevelEnabled(DebugLevel))
	assert.True(t, log.IsLevelEnabled(ErrorLevel))
}

func TestZerologLogger_WithSubsystem(t *testing.T) {
	log, buf := createTestLogger(TraceLevel)

	log.WithSubsystem("gateway").Info("tunnel established")
	assert.Equal(t, "gateway", lastLine(t, buf)["module"])

	log.WithSubsystem("lease").WithSubsystem("postgres").Info("nested")
	assert.Equal(t, "lease.postgres", lastLine(t, buf)["module"])
}

func TestZerologLogger_WithFields(t *testing.T) {
	log, buf := createTestLogger(TraceLevel)

	scoped := log.WithFields(String("request_id", "01ABC"), String("kind", "postgres"))
	scoped.Info("lease created")

	entry := lastLine(t, buf)
	assert.Equal(t, "01ABC", entry["request_id"])
	assert.Equal(t, "postgres", entry["kind"])

	// The parent logger is untouched
	log.Info("plain")
	assert.NotContains(t, lastLine(t, buf), "request_id")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, TraceLevel, ParseLogLevel("trace"))
	assert.Equal(t, DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("err"))
	assert.Equal(t, InfoLevel, ParseLogLevel("bogus"))
}
