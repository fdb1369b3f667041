package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderWriterNilWithoutDir(t *testing.T) {
	assert.Nil(t, Config{}.RecorderWriter("chan"))
}

func TestRecorderWriterWritesFile(t *testing.T) {
	dir := t.TempDir()
	w := Config{Dir: dir}.RecorderWriter("chan")
	require.NotNil(t, w)
	_, err := w.Write([]byte("streamlink output\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	b, err := os.ReadFile(filepath.Join(dir, "chan.recorder.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "streamlink output")
}

func TestNewSloggerLevels(t *testing.T) {
	lg := Config{Level: "warn"}.NewSlogger()
	require.NotNil(t, lg)
	assert.False(t, lg.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, lg.Enabled(t.Context(), slog.LevelWarn))
}

func TestNewSloggerFileOutput(t *testing.T) {
	dir := t.TempDir()
	lg := Config{Dir: dir, Level: "debug"}.NewSlogger()
	lg.Info("hello", "k", "v")

	b, err := os.ReadFile(filepath.Join(dir, "streamwatch.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
}

func TestColorHandlerSurvivesDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	h := newColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	slog.New(h).With("target", "chan").WithGroup("poll").Info("tick")
	out := buf.String()
	assert.Contains(t, out, "\033[32m", "derived loggers must keep colorizing")
	assert.Contains(t, out, "target=chan")

	buf.Reset()
	require.NoError(t, h.WithAttrs([]slog.Attr{slog.String("a", "b")}).Handle(
		t.Context(), slog.NewRecord(time.Now(), slog.LevelWarn, "careful", 0)))
	assert.Contains(t, buf.String(), "\033[33m")
}
