package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/streamwatch/internal/history"
	"github.com/loykin/streamwatch/internal/metrics"
	"github.com/loykin/streamwatch/internal/quality"
	"github.com/loykin/streamwatch/internal/remux"
	"github.com/loykin/streamwatch/internal/store"
	"github.com/loykin/streamwatch/internal/streamtool"
)

// pollOnce runs a single poll pass. A pass that arrives while the previous one
// is still probing is skipped entirely, not queued; the interval clock keeps
// ticking regardless.
func (d *Daemon) pollOnce(ctx context.Context) {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		return
	}
	if d.pollInProgress {
		d.mu.Unlock()
		metrics.IncPollPass("skipped")
		d.log.Debug("poll pass still running, skipping tick")
		return
	}
	d.pollInProgress = true
	d.nextPollAt = time.Now().Add(d.settings.PollInterval)
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.pollInProgress = false
		d.mu.Unlock()
	}()
	metrics.IncPollPass("run")

	targets, err := d.st.ListEnabledTargets(ctx)
	if err != nil {
		d.log.Error("poll pass: list targets", "error", err)
		return
	}
	for _, t := range targets {
		d.mu.Lock()
		stopping := d.stopping
		_, recording := d.active[t.ID]
		ceiling := d.settings.MaxConcurrent
		full := ceiling > 0 && len(d.active) >= ceiling
		d.mu.Unlock()

		if stopping {
			return
		}
		if recording {
			continue
		}
		if full {
			// Remaining targets wait for the next pass rather than queueing.
			d.log.Debug("admission ceiling reached, deferring remaining targets",
				"ceiling", ceiling)
			break
		}
		if err := d.probeAndRecord(ctx, t); err != nil {
			d.log.Warn("target check failed", "target", t.Name, "error", err)
		}
	}
}

// probeAndRecord probes one target and starts a recording when it is live.
// Probe failures are transient: logged, never fatal to the pass.
func (d *Daemon) probeAndRecord(ctx context.Context, t store.Target) error {
	res := d.currentTool().Probe(ctx, t.Address)
	if res.Error != "" {
		metrics.IncProbe("error")
		d.log.Warn("probe failed", "target", t.Name, "error", res.Error)
		return nil
	}
	if !res.Live {
		metrics.IncProbe("offline")
		return nil
	}
	metrics.IncProbe("live")

	requested := t.Quality
	if requested == "" {
		requested = d.currentSettings().DefaultQuality
	}
	q := quality.Select(requested, res.Qualities)
	if q != requested {
		d.log.Info("requested quality unavailable, falling back",
			"target", t.Name, "requested", requested, "selected", q)
	}
	err := d.startRecording(t, q)
	if errors.Is(err, ErrAlreadyRecording) || errors.Is(err, ErrCeilingReached) || errors.Is(err, ErrStopping) {
		d.log.Debug("recording not admitted", "target", t.Name, "reason", err)
		return nil
	}
	return err
}

// ProbeTarget probes one target immediately on behalf of the control plane and
// starts a recording when it is live. It works on disabled targets too; an
// explicit request outranks the enabled flag.
func (d *Daemon) ProbeTarget(ctx context.Context, id int64) (streamtool.ProbeResult, error) {
	t, err := d.st.GetTarget(ctx, id)
	if err != nil {
		return streamtool.ProbeResult{}, err
	}
	res := d.currentTool().Probe(ctx, t.Address)
	if res.Error != "" {
		metrics.IncProbe("error")
		return res, nil
	}
	if !res.Live {
		metrics.IncProbe("offline")
		return res, nil
	}
	metrics.IncProbe("live")
	requested := t.Quality
	if requested == "" {
		requested = d.currentSettings().DefaultQuality
	}
	if err := d.startRecording(t, quality.Select(requested, res.Qualities)); err != nil {
		if errors.Is(err, ErrAlreadyRecording) || errors.Is(err, ErrCeilingReached) || errors.Is(err, ErrStopping) {
			d.log.Debug("probe did not start a recording", "target", t.Name, "reason", err)
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// startRecording admits and spawns one capture. The per-target reservation and
// the ceiling check happen under one lock acquisition, so the scheduled pass
// and a concurrent on-demand probe can never both admit the same target or
// overshoot the ceiling. The reservation holds the slot through the spawn and
// is rolled back when the spawn fails.
func (d *Daemon) startRecording(t store.Target, q string) error {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		return ErrStopping
	}
	if _, ok := d.active[t.ID]; ok {
		d.mu.Unlock()
		return ErrAlreadyRecording
	}
	if ceil := d.settings.MaxConcurrent; ceil > 0 && len(d.active) >= ceil {
		d.mu.Unlock()
		return ErrCeilingReached
	}
	outputDir := d.settings.OutputDir
	ar := &ActiveRecording{Target: t, Quality: q, StartedAt: time.Now()}
	d.active[t.ID] = ar
	n := len(d.active)
	d.mu.Unlock()
	metrics.SetActiveRecordings(n)

	release := func() {
		d.mu.Lock()
		delete(d.active, t.ID)
		n := len(d.active)
		d.mu.Unlock()
		metrics.SetActiveRecordings(n)
	}

	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		release()
		return fmt.Errorf("output dir: %w", err)
	}
	ar.OutputPath = filepath.Join(outputDir,
		fmt.Sprintf("%s-%s.ts", sanitizeName(t), ar.StartedAt.Format("20060102-150405")))

	logW := d.cfg.Log.RecorderWriter(sanitizeName(t))
	cmd, err := d.currentTool().SpawnRecording(t.Address, q, ar.OutputPath, logW)
	if err != nil {
		if logW != nil {
			_ = logW.Close()
		}
		release()
		return fmt.Errorf("spawn recorder: %w", err)
	}
	ar.cmd = cmd
	ar.logCloser = logW

	sid, err := d.st.InsertSession(context.Background(), store.Session{
		TargetID:   t.ID,
		PID:        cmd.Process.Pid,
		Quality:    q,
		OutputPath: ar.OutputPath,
		StartedAt:  ar.StartedAt,
	})
	if err != nil {
		// The capture is already running; losing the session row is the
		// lesser harm. It just won't show up in history queries.
		d.log.Error("persist session", "target", t.Name, "error", err)
	}
	ar.SessionID = sid

	metrics.IncRecordingStart()
	d.log.Info("recording started",
		"target", t.Name, "pid", cmd.Process.Pid, "quality", q, "output", ar.OutputPath)
	d.emit(history.Event{
		Type:       history.EventStarted,
		OccurredAt: ar.StartedAt.UTC(),
		SessionID:  sid,
		TargetID:   t.ID,
		TargetName: t.Name,
		PID:        cmd.Process.Pid,
		Quality:    q,
		OutputPath: ar.OutputPath,
	})

	go d.supervise(ar)
	return nil
}

// supervise blocks on the recorder subprocess and routes its exit.
func (d *Daemon) supervise(ar *ActiveRecording) {
	waitErr := ar.cmd.Wait()
	if ar.logCloser != nil {
		_ = ar.logCloser.Close()
	}

	code, signaled, abnormal := exitStatus(waitErr)
	d.onRecordingExit(ar, code, signaled, abnormal)
}

// exitStatus maps a Wait error to (exitCode, signaled, abnormal). abnormal
// means Wait failed for a reason other than the process exiting, e.g. an I/O
// error; those carry a synthetic -1 and never remux.
func exitStatus(waitErr error) (code int, signaled, abnormal bool) {
	if waitErr == nil {
		return 0, false, false
	}
	var ee *exec.ExitError
	if !errors.As(waitErr, &ee) {
		return -1, false, true
	}
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), true, false
	}
	return ee.ExitCode(), false, false
}

func (d *Daemon) onRecordingExit(ar *ActiveRecording, code int, signaled, abnormal bool) {
	d.mu.Lock()
	delete(d.active, ar.Target.ID)
	n := len(d.active)
	stopping := d.stopping
	post := d.settings.Postprocess
	d.mu.Unlock()
	metrics.SetActiveRecordings(n)

	endedAt := time.Now()
	outcome := "clean"
	switch {
	case abnormal:
		outcome = "abnormal"
	case signaled:
		outcome = "signaled"
	case code != 0:
		outcome = "failed"
	}
	metrics.IncRecordingFinished(outcome)
	d.log.Info("recording finished",
		"target", ar.Target.Name, "exit_code", code, "signaled", signaled,
		"duration", endedAt.Sub(ar.StartedAt).Round(time.Second))

	if ar.SessionID > 0 {
		if err := d.st.FinishSession(context.Background(), ar.SessionID, endedAt, code); err != nil {
			d.log.Error("finish session", "session", ar.SessionID, "error", err)
		}
	}
	d.emit(history.Event{
		Type:       history.EventFinished,
		OccurredAt: endedAt.UTC(),
		SessionID:  ar.SessionID,
		TargetID:   ar.Target.ID,
		TargetName: ar.Target.Name,
		PID:        ar.pid(),
		Quality:    ar.Quality,
		OutputPath: ar.OutputPath,
		ExitCode:   sql.NullInt64{Int64: int64(code), Valid: !abnormal},
	})

	if abnormal {
		metrics.IncRemux("skipped")
		return
	}
	if !remux.ShouldPostprocess(post, stopping, code, signaled) {
		metrics.IncRemux("skipped")
		return
	}
	go d.runRemux(ar)
}

// runRemux converts one finished capture off the orchestrator path. A failed
// remux keeps the source file and is logged; nothing retries it.
func (d *Daemon) runRemux(ar *ActiveRecording) {
	out, err := d.remuxer.Run(context.Background(), ar.OutputPath)
	if err != nil {
		metrics.IncRemux("failed")
		d.log.Warn("remux failed, keeping original", "input", ar.OutputPath, "error", err)
		return
	}
	metrics.IncRemux("ok")
	if ar.SessionID > 0 {
		if err := d.st.UpdateSessionOutputPath(context.Background(), ar.SessionID, out); err != nil {
			d.log.Error("update session output path", "session", ar.SessionID, "error", err)
		}
	}
}

// terminate signals the recorder's whole process group and does not wait;
// supervise picks up the exit as usual.
func (d *Daemon) terminate(ar *ActiveRecording) {
	pid := ar.pid()
	if pid <= 0 {
		return
	}
	d.log.Info("stopping recording", "target", ar.Target.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		d.log.Debug("signal recorder group", "pid", pid, "error", err)
	}
}

// emit fans an event out to every configured history sink, best effort.
func (d *Daemon) emit(e history.Event) {
	for _, s := range d.sinks {
		go func(s history.Sink) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Send(ctx, e); err != nil {
				d.log.Warn("history sink send", "type", string(e.Type), "error", err)
			}
		}(s)
	}
}

func (ar *ActiveRecording) pid() int {
	if ar.cmd != nil && ar.cmd.Process != nil {
		return ar.cmd.Process.Pid
	}
	return 0
}

func sanitizeName(t store.Target) string {
	name := t.Name
	if name == "" {
		name = fmt.Sprintf("target-%d", t.ID)
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func sortSummaries(s []ActiveSummary) {
	sort.Slice(s, func(i, j int) bool { return s[i].TargetID < s[j].TargetID })
}
