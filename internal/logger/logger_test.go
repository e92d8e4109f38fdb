package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildJSON(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, "api", "debug", "JSON")
	log.Debug("hello", slog.Int64("id", 3))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "api", line["service"])
	require.Equal(t, "hello", line["msg"])
	require.Equal(t, float64(3), line["id"])
}

func TestBuildTextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, "worker", "warn", "")
	log.Info("dropped")
	require.Zero(t, buf.Len())

	log.Warn("kept")
	require.Contains(t, buf.String(), "msg=kept")
	require.Contains(t, buf.String(), "service=worker")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelInfo, parseLevel(""))
	require.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
