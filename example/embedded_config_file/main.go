package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/loykin/streamwatch/internal/config"
)

// embedded_config_file: write a minimal TOML config, load it, and show the
// normalized daemon settings including the defaults that got filled in.
func main() {
	dir, err := os.MkdirTemp("", "streamwatch-config-*")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "streamwatch.toml")
	content := `
state_dir = "` + dir + `"
poll_interval = "90s"
max_concurrent = 3

[[targets]]
address = "https://example.com/live/chan"
name = "chan"
quality = "1080p60"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal(err)
	}
	s := cfg.Settings()
	fmt.Println("state dir:      ", cfg.StateDir)
	fmt.Println("store DSN:      ", cfg.StoreDSN)
	fmt.Println("poll interval:  ", s.PollInterval)
	fmt.Println("probe timeout:  ", s.ProbeTimeout, "(default)")
	fmt.Println("max concurrent: ", s.MaxConcurrent)
	fmt.Println("stream tool:    ", cfg.StreamTool, "(default)")
	for _, t := range cfg.Targets {
		fmt.Printf("target: %s (%s) quality=%s\n", t.Name, t.Address, t.Quality)
	}
}
