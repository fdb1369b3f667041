// Package daemon is the recording orchestrator: it owns the poll scheduler,
// the admission ceiling, the in-memory map of active recordings and their
// subprocess supervision, and the daemon lifecycle (PID lock, advertisement,
// control-plane listener). One Daemon is instantiated per process and passed
// explicitly to the control plane; there are no package-level singletons.
package daemon

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/streamwatch/internal/advert"
	"github.com/loykin/streamwatch/internal/config"
	"github.com/loykin/streamwatch/internal/history"
	"github.com/loykin/streamwatch/internal/remux"
	"github.com/loykin/streamwatch/internal/store"
	"github.com/loykin/streamwatch/internal/streamtool"
)

var (
	// ErrAlreadyRecording: an ActiveRecording exists for the target id.
	ErrAlreadyRecording = errors.New("target is already being recorded")
	// ErrCeilingReached: admission ceiling hit; not an error condition for polling.
	ErrCeilingReached = errors.New("admission ceiling reached")
	// ErrStopping: the daemon is shutting down and admits nothing new.
	ErrStopping = errors.New("daemon is stopping")
)

// Tool abstracts the stream tool so tests can stand in a fake.
type Tool interface {
	Probe(ctx context.Context, address string) streamtool.ProbeResult
	SpawnRecording(address, qualityLabel, outputPath string, output io.Writer) (*exec.Cmd, error)
	AssertAvailable() error
}

// Remuxer abstracts the remux pipeline for the same reason.
type Remuxer interface {
	Run(ctx context.Context, inputPath string) (string, error)
}

// ActiveRecording is the in-memory record of one running capture. It exists
// from successful spawn until the subprocess exits; at most one per target id.
type ActiveRecording struct {
	SessionID  int64
	Target     store.Target
	Quality    string
	OutputPath string
	StartedAt  time.Time

	cmd       *exec.Cmd
	logCloser io.WriteCloser
}

// ActiveSummary is the JSON shape served by /recordings.
type ActiveSummary struct {
	SessionID  int64     `json:"session_id"`
	TargetID   int64     `json:"target_id"`
	TargetName string    `json:"target_name"`
	Address    string    `json:"address"`
	PID        int       `json:"pid"`
	Quality    string    `json:"quality"`
	OutputPath string    `json:"output_path"`
	StartedAt  time.Time `json:"started_at"`
}

// Status is the JSON shape served by /status.
type Status struct {
	Running          bool      `json:"running"`
	PID              int       `json:"pid"`
	Port             int       `json:"port"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	ActiveRecordings int       `json:"active_recordings"`
	NextPollAt       time.Time `json:"next_poll_at"`
}

// Options configures a Daemon. Store and Config are required.
type Options struct {
	Config *config.Config
	Store  store.Store
	Logger *slog.Logger
	Sinks  []history.Sink

	// NewTool and NewRemuxer are test seams; nil means the real adapters.
	NewTool    func(binary string, probeTimeout time.Duration) Tool
	NewRemuxer func(binary string, log *slog.Logger) Remuxer
}

type Daemon struct {
	cfg        *config.Config
	st         store.Store
	log        *slog.Logger
	sinks      []history.Sink
	newTool    func(binary string, probeTimeout time.Duration) Tool
	newRemuxer func(binary string, log *slog.Logger) Remuxer

	mu             sync.Mutex
	settings       config.Settings
	tool           Tool
	remuxer        Remuxer
	active         map[int64]*ActiveRecording
	stopping       bool
	pollInProgress bool
	nextPollAt     time.Time
	ticker         *time.Ticker

	token      string
	port       int
	startedAt  time.Time
	httpSrv    *http.Server
	lockHeld   bool
	advertised bool

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon: config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("daemon: store is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	newTool := opts.NewTool
	if newTool == nil {
		newTool = func(binary string, probeTimeout time.Duration) Tool {
			return streamtool.New(binary, probeTimeout)
		}
	}
	newRemuxer := opts.NewRemuxer
	if newRemuxer == nil {
		newRemuxer = func(binary string, log *slog.Logger) Remuxer {
			return remux.New(binary, log)
		}
	}
	settings := opts.Config.Settings()
	d := &Daemon{
		cfg:        opts.Config,
		st:         opts.Store,
		log:        log,
		sinks:      opts.Sinks,
		newTool:    newTool,
		newRemuxer: newRemuxer,
		settings:   settings,
		active:     make(map[int64]*ActiveRecording),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	d.tool = newTool(opts.Config.StreamTool, settings.ProbeTimeout)
	d.remuxer = newRemuxer(opts.Config.RemuxTool, log)
	// Minted here so the control-plane router can be built before Start.
	d.token = newToken()
	return d, nil
}

// Token returns the bearer token the control plane authenticates against.
func (d *Daemon) Token() string { return d.token }

// Port returns the bound control-plane port (valid after Start).
func (d *Daemon) Port() int { return d.port }

// Done is closed after a full shutdown.
func (d *Daemon) Done() <-chan struct{} { return d.done }

// Start brings the daemon up: adapter preflight, schema, config target seeds,
// store-held setting overrides, PID lock, loopback listener, advertisement,
// control-plane server, poll loop. Any failure aborts startup entirely.
func (d *Daemon) Start(ctx context.Context, handler http.Handler) error {
	if err := d.tool.AssertAvailable(); err != nil {
		return fmt.Errorf("startup preflight: %w", err)
	}
	if err := d.st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := d.seedTargets(ctx); err != nil {
		return err
	}
	if err := d.loadSettings(ctx); err != nil {
		return err
	}

	if err := advert.AcquireLock(d.cfg.StateDir); err != nil {
		return err
	}
	d.mu.Lock()
	d.lockHeld = true
	d.mu.Unlock()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		d.releaseOwnedState()
		return fmt.Errorf("bind control plane: %w", err)
	}
	d.port = ln.Addr().(*net.TCPAddr).Port
	d.startedAt = time.Now()

	ad := advert.Advertisement{
		PID:       os.Getpid(),
		Port:      d.port,
		Token:     d.token,
		StartedAt: d.startedAt.UTC(),
		StateDir:  d.cfg.StateDir,
	}
	if err := advert.Write(d.cfg.StateDir, ad); err != nil {
		_ = ln.Close()
		d.releaseOwnedState()
		return fmt.Errorf("write advertisement: %w", err)
	}
	d.mu.Lock()
	d.advertised = true
	d.mu.Unlock()
	_ = d.st.SetMeta(ctx, "daemon_started_at", d.startedAt.UTC().Format(time.RFC3339))

	d.httpSrv = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = d.httpSrv.Serve(ln) }()

	interval := d.currentSettings().PollInterval
	d.mu.Lock()
	d.ticker = time.NewTicker(interval)
	d.nextPollAt = time.Now().Add(interval)
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run()

	d.log.Info("daemon started",
		"pid", os.Getpid(), "port", d.port,
		"poll_interval", interval, "state_dir", d.cfg.StateDir)
	return nil
}

// Stop shuts the daemon down. Active recordings get a SIGTERM to their process
// group and are not awaited; running remuxes finish on their own.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	d.mu.Lock()
	d.stopping = true
	actives := make([]*ActiveRecording, 0, len(d.active))
	for _, ar := range d.active {
		actives = append(actives, ar)
	}
	ticker := d.ticker
	d.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	close(d.stopCh)
	d.wg.Wait()

	for _, ar := range actives {
		d.terminate(ar)
	}

	if d.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = d.httpSrv.Shutdown(ctx)
		cancel()
	}
	d.releaseOwnedState()
	d.log.Info("daemon stopped", "active_at_stop", len(actives))
	close(d.done)
}

// releaseOwnedState removes the advertisement and PID lock, but only the ones
// this instance wrote. A Stop after a failed Start must never delete the state
// of the daemon that actually owns the directory.
func (d *Daemon) releaseOwnedState() {
	d.mu.Lock()
	advertised, lockHeld := d.advertised, d.lockHeld
	d.advertised, d.lockHeld = false, false
	d.mu.Unlock()
	if advertised {
		advert.Remove(d.cfg.StateDir)
	}
	if lockHeld {
		advert.ReleaseLock(d.cfg.StateDir)
	}
}

// RequestShutdown schedules an async stop so the /shutdown handler can reply
// before the listener goes away.
func (d *Daemon) RequestShutdown() {
	go d.Stop()
}

// Status returns the /status snapshot.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Running:          !d.stopping,
		PID:              os.Getpid(),
		Port:             d.port,
		UptimeSeconds:    int64(time.Since(d.startedAt).Seconds()),
		ActiveRecordings: len(d.active),
		NextPollAt:       d.nextPollAt,
	}
}

// ActiveRecordings returns summaries of everything currently being captured.
func (d *Daemon) ActiveRecordings() []ActiveSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ActiveSummary, 0, len(d.active))
	for _, ar := range d.active {
		pid := 0
		if ar.cmd != nil && ar.cmd.Process != nil {
			pid = ar.cmd.Process.Pid
		}
		out = append(out, ActiveSummary{
			SessionID:  ar.SessionID,
			TargetID:   ar.Target.ID,
			TargetName: ar.Target.Name,
			Address:    ar.Target.Address,
			PID:        pid,
			Quality:    ar.Quality,
			OutputPath: ar.OutputPath,
			StartedAt:  ar.StartedAt,
		})
	}
	sortSummaries(out)
	return out
}

// Reload re-reads store-held settings, rebuilds and re-preflights the stream
// tool, and resets the poll timer when the interval changed. A failing
// preflight keeps the previous adapter and settings.
func (d *Daemon) Reload(ctx context.Context) error {
	next := d.cfg.Settings()
	kv, err := d.st.ListSettings(ctx)
	if err != nil {
		return fmt.Errorf("reload settings: %w", err)
	}
	next, errs := next.ApplyOverrides(kv)
	for _, e := range errs {
		d.log.Warn("ignoring setting override", "error", e)
	}

	tool := d.newTool(d.cfg.StreamTool, next.ProbeTimeout)
	if err := tool.AssertAvailable(); err != nil {
		return fmt.Errorf("reload preflight: %w", err)
	}

	d.mu.Lock()
	prevInterval := d.settings.PollInterval
	d.settings = next
	d.tool = tool
	if next.PollInterval != prevInterval && d.ticker != nil {
		// Reset replaces the timer; pollInProgress is untouched on purpose.
		d.ticker.Reset(next.PollInterval)
		d.nextPollAt = time.Now().Add(next.PollInterval)
	}
	d.mu.Unlock()

	d.log.Info("configuration reloaded",
		"poll_interval", next.PollInterval, "max_concurrent", next.MaxConcurrent,
		"postprocess", next.Postprocess)
	return nil
}

func (d *Daemon) run() {
	defer d.wg.Done()
	// One pass right away so freshly started daemons don't idle a full interval.
	d.pollOnce(context.Background())
	for {
		select {
		case <-d.stopCh:
			return
		case <-d.tickerC():
			d.pollOnce(context.Background())
		}
	}
}

func (d *Daemon) tickerC() <-chan time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticker.C
}

func (d *Daemon) currentSettings() config.Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

func (d *Daemon) currentTool() Tool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tool
}

// seedTargets inserts config-file targets whose address the store does not
// know yet. The store owns targets from then on.
func (d *Daemon) seedTargets(ctx context.Context) error {
	if len(d.cfg.Targets) == 0 {
		return nil
	}
	existing, err := d.st.ListTargets(ctx)
	if err != nil {
		return fmt.Errorf("seed targets: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		known[t.Address] = struct{}{}
	}
	for _, seed := range d.cfg.Targets {
		if seed.Address == "" {
			continue
		}
		if _, ok := known[seed.Address]; ok {
			continue
		}
		enabled := true
		if seed.Enabled != nil {
			enabled = *seed.Enabled
		}
		name := seed.Name
		if name == "" {
			name = seed.Address
		}
		id, err := d.st.AddTarget(ctx, store.Target{
			Address: seed.Address,
			Name:    name,
			Quality: seed.Quality,
			Enabled: enabled,
		})
		if err != nil {
			return fmt.Errorf("seed target %s: %w", seed.Address, err)
		}
		d.log.Info("seeded target from config", "id", id, "address", seed.Address)
	}
	return nil
}

func (d *Daemon) loadSettings(ctx context.Context) error {
	kv, err := d.st.ListSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	next, errs := d.cfg.Settings().ApplyOverrides(kv)
	for _, e := range errs {
		d.log.Warn("ignoring setting override", "error", e)
	}
	d.mu.Lock()
	d.settings = next
	d.mu.Unlock()
	return nil
}

func newToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("token generation failed: %v", err))
	}
	return hex.EncodeToString(b)
}
