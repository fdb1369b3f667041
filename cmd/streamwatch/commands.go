package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/streamwatch"
	"github.com/loykin/streamwatch/pkg/client"
)

// command carries the output writer so tests can capture what gets printed.
type command struct {
	out io.Writer
}

func newCommand() command { return command{out: os.Stdout} }

// Daemon runs the watcher in the foreground until a signal or a control-plane
// shutdown request arrives.
func (c command) Daemon(f DaemonFlags) error {
	cfg, err := streamwatch.LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	w, err := streamwatch.New(cfg)
	if err != nil {
		return err
	}
	if err := w.Start(context.Background()); err != nil {
		w.Stop()
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		w.Logger().Info("signal received, shutting down", "signal", s.String())
		w.Stop()
	case <-w.Done():
		// Shutdown was requested over the control plane.
	}
	return nil
}

// dial resolves the running daemon from the state directory advertisement.
func (c command) dial(configPath string, timeout time.Duration) (*client.Client, context.Context, context.CancelFunc, error) {
	cfg, err := streamwatch.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	cl, err := client.FromAdvertisement(cfg.StateDir, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return cl, ctx, cancel, nil
}

func (c command) Status(f ClientFlags) error {
	cl, ctx, cancel, err := c.dial(f.ConfigPath, f.Timeout)
	if err != nil {
		return err
	}
	defer cancel()
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "running:            %v\n", st.Running)
	fmt.Fprintf(c.out, "pid:                %d\n", st.PID)
	fmt.Fprintf(c.out, "port:               %d\n", st.Port)
	fmt.Fprintf(c.out, "uptime:             %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(c.out, "active recordings:  %d\n", st.ActiveRecordings)
	fmt.Fprintf(c.out, "next poll:          %s\n", st.NextPollAt.Format(time.RFC3339))
	return nil
}

func (c command) Recordings(f ClientFlags) error {
	cl, ctx, cancel, err := c.dial(f.ConfigPath, f.Timeout)
	if err != nil {
		return err
	}
	defer cancel()
	recs, err := cl.Recordings(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(c.out, "no active recordings")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintf(c.out, "[%d] %s  pid=%d  quality=%s  since=%s\n  %s\n",
			r.TargetID, r.TargetName, r.PID, r.Quality,
			r.StartedAt.Format(time.RFC3339), r.OutputPath)
	}
	return nil
}

func (c command) Probe(f ProbeFlags) error {
	if f.TargetID <= 0 {
		return fmt.Errorf("target id must be a positive integer")
	}
	cl, ctx, cancel, err := c.dial(f.ConfigPath, f.Timeout)
	if err != nil {
		return err
	}
	defer cancel()
	res, err := cl.Probe(ctx, f.TargetID)
	if err != nil {
		return err
	}
	if res.Error != "" {
		fmt.Fprintf(c.out, "probe failed: %s\n", res.Error)
		return nil
	}
	if !res.Live {
		fmt.Fprintln(c.out, "offline")
		return nil
	}
	fmt.Fprintf(c.out, "live, qualities: %v\n", res.Qualities)
	return nil
}

func (c command) Reload(f ClientFlags) error {
	cl, ctx, cancel, err := c.dial(f.ConfigPath, f.Timeout)
	if err != nil {
		return err
	}
	defer cancel()
	if err := cl.Reload(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "reloaded")
	return nil
}

func (c command) Shutdown(f ClientFlags) error {
	cl, ctx, cancel, err := c.dial(f.ConfigPath, f.Timeout)
	if err != nil {
		return err
	}
	defer cancel()
	if err := cl.Shutdown(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "shutdown requested")
	return nil
}
