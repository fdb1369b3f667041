package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/streamwatch/internal/logger"
)

// embedded_logger: demonstrate streamwatch's logging setup. The daemon logger
// writes colorized text to stderr plus a rotating JSON file, and each recorder
// subprocess gets its own rotated capture log in the same directory.
func main() {
	logDir := os.Getenv("STREAMWATCH_LOG_DIR")
	if logDir == "" {
		logDir = filepath.Join(os.TempDir(), fmt.Sprintf("streamwatch-logs-%d", time.Now().UnixNano()))
	}
	_ = os.MkdirAll(logDir, 0o750)

	cfg := logger.Config{Dir: logDir, Level: "debug"}
	log := cfg.NewSlogger()
	log.Info("daemon log line", "poll_interval", "60s")
	log.Debug("debug lines show up with level=debug")

	w := cfg.RecorderWriter("demo-channel")
	if w != nil {
		_, _ = w.Write([]byte("captured recorder output goes here\n"))
		_ = w.Close()
	}

	fmt.Println("Embedded logger example")
	fmt.Println("  Log directory:", logDir)
	fmt.Println("  Daemon log:", filepath.Join(logDir, "streamwatch.log"))
	fmt.Println("  Recorder log:", filepath.Join(logDir, "demo-channel.recorder.log"))
	fmt.Println("Tip: set STREAMWATCH_LOG_DIR to choose a custom log directory.")
}
