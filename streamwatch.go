// Package streamwatch provides a stable public API for embedding the stream
// recording daemon: configuration loading, the watcher lifecycle, and typed
// access to its state store and control-plane snapshots.
package streamwatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/streamwatch/internal/config"
	"github.com/loykin/streamwatch/internal/daemon"
	"github.com/loykin/streamwatch/internal/history"
	hfactory "github.com/loykin/streamwatch/internal/history/factory"
	"github.com/loykin/streamwatch/internal/metrics"
	iapi "github.com/loykin/streamwatch/internal/server"
	"github.com/loykin/streamwatch/internal/store"
	sfactory "github.com/loykin/streamwatch/internal/store/factory"
	"github.com/loykin/streamwatch/internal/streamtool"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Target = store.Target

type Session = store.Session

type Status = daemon.Status

type ActiveSummary = daemon.ActiveSummary

type ProbeResult = streamtool.ProbeResult

type HistorySink = history.Sink

// LoadConfig reads the TOML config at path; an empty path yields defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Watcher is a thin facade over the internal daemon. One Watcher per process.
type Watcher struct {
	inner *daemon.Daemon
	st    store.Store
	log   *slog.Logger
}

// New builds a Watcher from configuration: opens the state store, constructs
// the configured history sinks, and wires the daemon. The Watcher owns the
// store and closes it on Stop.
func New(cfg *Config) (*Watcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("streamwatch: config is required")
	}
	log := cfg.Log.NewSlogger()

	st, err := sfactory.NewFromDSN(cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var sinks []history.Sink
	for _, dsn := range cfg.HistorySinks {
		s, err := hfactory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		sinks = append(sinks, s)
	}

	d, err := daemon.New(daemon.Options{
		Config: cfg,
		Store:  st,
		Logger: log,
		Sinks:  sinks,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &Watcher{inner: d, st: st, log: log}, nil
}

// Start brings the daemon up, including its loopback control plane.
func (w *Watcher) Start(ctx context.Context) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		w.log.Warn("metrics registration failed", "error", err)
	}
	handler := iapi.NewRouter(w.inner, w.inner.Token(), w.log).Handler()
	return w.inner.Start(ctx, handler)
}

// Stop shuts the daemon down and closes the store.
func (w *Watcher) Stop() {
	w.inner.Stop()
	_ = w.st.Close()
}

// Done is closed once a shutdown (local or via control plane) completes.
func (w *Watcher) Done() <-chan struct{} { return w.inner.Done() }

func (w *Watcher) Status() Status                    { return w.inner.Status() }
func (w *Watcher) ActiveRecordings() []ActiveSummary { return w.inner.ActiveRecordings() }
func (w *Watcher) Reload(ctx context.Context) error  { return w.inner.Reload(ctx) }
func (w *Watcher) ProbeTarget(ctx context.Context, id int64) (ProbeResult, error) {
	return w.inner.ProbeTarget(ctx, id)
}

// Store exposes the state store for target management commands.
func (w *Watcher) Store() store.Store { return w.st }

// Logger returns the logger built from the watcher's log configuration.
func (w *Watcher) Logger() *slog.Logger { return w.log }
