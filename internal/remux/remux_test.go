package remux

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldPostprocess(t *testing.T) {
	tests := []struct {
		name     string
		enabled  bool
		stopping bool
		exitCode int
		signaled bool
		want     bool
	}{
		{"clean exit", true, false, 0, false, true},
		{"signal-mapped exit code", true, false, 130, false, true},
		{"explicit signal", true, false, -1, true, true},
		{"disabled", false, false, 0, false, false},
		{"daemon stopping", true, true, 0, false, false},
		{"plain failure", true, false, 1, false, false},
		{"boundary 128", true, false, 128, false, true},
		{"boundary 127", true, false, 127, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldPostprocess(tt.enabled, tt.stopping, tt.exitCode, tt.signaled))
		})
	}
}

// writeFakeFFmpeg writes an executable script standing in for the remux tool.
// The output file is always the script's last argument.
func writeFakeFFmpeg(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	full := "#!/bin/sh\nfor last; do :; done\n" + script + "\n"
	require.NoError(t, os.WriteFile(path, []byte(full), 0o755))
	return path
}

func writeRecording(t *testing.T) string {
	t.Helper()
	in := filepath.Join(t.TempDir(), "alpha.ts")
	require.NoError(t, os.WriteFile(in, []byte("mpegts data"), 0o644))
	return in
}

func TestRunMissingInput(t *testing.T) {
	r := New(writeFakeFFmpeg(t, `exit 0`), nil)
	_, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "nope.ts"))
	assert.Error(t, err)
}

func TestRunSuccess(t *testing.T) {
	r := New(writeFakeFFmpeg(t, `echo remuxed > "$last"`), nil)
	in := writeRecording(t)

	out, err := r.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(in), "alpha.mp4"), out)

	// exactly one surviving file: the remuxed output
	_, err = os.Stat(in)
	assert.True(t, os.IsNotExist(err), "original must be deleted after verified remux")
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), "remuxed")
}

func TestRunDeduplicatesOutputPath(t *testing.T) {
	r := New(writeFakeFFmpeg(t, `echo remuxed > "$last"`), nil)
	in := writeRecording(t)
	taken := filepath.Join(filepath.Dir(in), "alpha.mp4")
	require.NoError(t, os.WriteFile(taken, []byte("previous recording"), 0o644))

	out, err := r.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(in), "alpha_1.mp4"), out)

	// the pre-existing file is untouched
	b, _ := os.ReadFile(taken)
	assert.Equal(t, "previous recording", string(b))
}

func TestRunTolerantRetry(t *testing.T) {
	// First attempt fails; the -err_detect retry succeeds.
	script := `case "$*" in
*err_detect*) echo remuxed > "$last" ;;
*) exit 1 ;;
esac`
	r := New(writeFakeFFmpeg(t, script), nil)
	in := writeRecording(t)

	out, err := r.Run(context.Background(), in)
	require.NoError(t, err)
	assert.FileExists(t, out)
	_, err = os.Stat(in)
	assert.True(t, os.IsNotExist(err))
}

func TestRunFailureKeepsOriginal(t *testing.T) {
	// Both attempts write a partial file then fail.
	r := New(writeFakeFFmpeg(t, `echo partial > "$last"; exit 1`), nil)
	in := writeRecording(t)

	_, err := r.Run(context.Background(), in)
	require.Error(t, err)

	assert.FileExists(t, in, "source must never be deleted on remux failure")
	entries, _ := os.ReadDir(filepath.Dir(in))
	assert.Len(t, entries, 1, "partial outputs must be cleaned up")
}

func TestRunEmptyOutputRejected(t *testing.T) {
	// Tool "succeeds" but writes an empty file; the source must survive.
	r := New(writeFakeFFmpeg(t, `: > "$last"`), nil)
	in := writeRecording(t)

	_, err := r.Run(context.Background(), in)
	require.Error(t, err)
	assert.FileExists(t, in)
}
