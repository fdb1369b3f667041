// Package remux converts finished recordings into an MP4 container without
// re-encoding, using an external ffmpeg-compatible tool. The source file is
// only ever deleted after a replacement has been verified on disk.
package remux

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ShouldPostprocess decides whether a finished recording gets remuxed.
// Recordings that were cut off by a signal (stream tools exit that way when a
// stream ends or the daemon stops them) are still usually intact, so they
// qualify; exit codes >= 128 are treated as signal-mapped on platforms that
// don't report the signal itself.
func ShouldPostprocess(enabled, stopping bool, exitCode int, signaled bool) bool {
	if !enabled || stopping {
		return false
	}
	if exitCode == 0 || signaled {
		return true
	}
	return exitCode >= 128
}

// Remuxer runs the external remux tool.
type Remuxer struct {
	binary string
	log    *slog.Logger
}

func New(binary string, log *slog.Logger) *Remuxer {
	if binary == "" {
		binary = "ffmpeg"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Remuxer{binary: binary, log: log}
}

// Run remuxes inputPath into a sibling .mp4 and returns the new path. A fast
// stream-copy attempt is followed by one error-tolerant retry. On success the
// original file is removed; on failure it is left untouched.
func (r *Remuxer) Run(ctx context.Context, inputPath string) (string, error) {
	if _, err := os.Stat(inputPath); err != nil {
		r.log.Warn("remux skipped, recording file missing", "path", inputPath)
		return "", fmt.Errorf("remux input missing: %w", err)
	}
	outputPath := dedupPath(mp4Sibling(inputPath))

	if err := r.attempt(ctx, inputPath, outputPath, false); err != nil {
		r.log.Warn("fast remux failed, retrying tolerant", "input", inputPath, "error", err)
		removeIfExists(outputPath)
		if err := r.attempt(ctx, inputPath, outputPath, true); err != nil {
			removeIfExists(outputPath)
			return "", fmt.Errorf("remux failed after retry: %w", err)
		}
	}

	// Never drop the source unless the replacement is really there.
	fi, err := os.Stat(outputPath)
	if err != nil || fi.Size() == 0 {
		removeIfExists(outputPath)
		return "", fmt.Errorf("remux produced no usable output for %s", inputPath)
	}
	if err := os.Remove(inputPath); err != nil {
		r.log.Warn("remuxed but could not remove original", "path", inputPath, "error", err)
	}
	return outputPath, nil
}

func (r *Remuxer) attempt(ctx context.Context, in, out string, tolerant bool) error {
	args := []string{"-y"}
	if tolerant {
		args = append(args, "-err_detect", "ignore_err", "-fflags", "+genpts+discardcorrupt")
	}
	args = append(args, "-i", in, "-c", "copy", "-movflags", "+faststart", out)
	cmd := exec.CommandContext(ctx, r.binary, args...)
	if outB, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %s", err, lastLine(outB))
	}
	return nil
}

// mp4Sibling swaps the extension for .mp4 next to the input file.
func mp4Sibling(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".mp4"
}

// dedupPath appends _1, _2, ... until the candidate does not exist yet.
func dedupPath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		cand := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(cand); os.IsNotExist(err) {
			return cand
		}
	}
}

func removeIfExists(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
