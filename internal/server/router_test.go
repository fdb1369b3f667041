package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/streamwatch/internal/config"
	"github.com/loykin/streamwatch/internal/daemon"
	"github.com/loykin/streamwatch/internal/store"
	"github.com/loykin/streamwatch/internal/store/sqlite"
	"github.com/loykin/streamwatch/internal/streamtool"
)

const testToken = "0123456789abcdef0123456789abcdef"

type stubTool struct {
	result    streamtool.ProbeResult
	available error
}

func (s *stubTool) Probe(_ context.Context, _ string) streamtool.ProbeResult { return s.result }

func (s *stubTool) SpawnRecording(_, _, _ string, _ io.Writer) (*exec.Cmd, error) {
	// Exits immediately so tests never leak a subprocess.
	cmd := exec.Command("sh", "-c", "exit 0")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (s *stubTool) AssertAvailable() error { return s.available }

func newTestRouter(t *testing.T, tool daemon.Tool) (http.Handler, store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := sqlite.New(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(context.Background()))

	mc := 0
	post := false
	cfg := &config.Config{
		StateDir:       dir,
		OutputDir:      filepath.Join(dir, "out"),
		PollInterval:   time.Minute,
		ProbeTimeout:   5 * time.Second,
		MaxConcurrent:  &mc,
		Postprocess:    &post,
		DefaultQuality: "best",
		StreamTool:     "streamlink",
		RemuxTool:      "ffmpeg",
	}
	d, err := daemon.New(daemon.Options{
		Config:  cfg,
		Store:   st,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewTool: func(string, time.Duration) daemon.Tool { return tool },
	})
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(d, testToken, logger).Handler(), st
}

func doReq(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestEveryRouteRequiresToken(t *testing.T) {
	h, _ := newTestRouter(t, &stubTool{})
	routes := []struct{ method, path string }{
		{http.MethodGet, "/status"},
		{http.MethodGet, "/recordings"},
		{http.MethodPost, "/probe/1"},
		{http.MethodPost, "/reload"},
		{http.MethodPost, "/shutdown"},
		{http.MethodGet, "/metrics"},
	}
	for _, rt := range routes {
		w := doReq(h, rt.method, rt.path, "")
		require.Equal(t, http.StatusUnauthorized, w.Code, "%s %s without token", rt.method, rt.path)

		w = doReq(h, rt.method, rt.path, "wrong-token")
		require.Equal(t, http.StatusUnauthorized, w.Code, "%s %s with wrong token", rt.method, rt.path)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, &stubTool{})
	w := doReq(h, http.MethodGet, "/status", testToken)
	require.Equal(t, http.StatusOK, w.Code)

	var st daemon.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.True(t, st.Running)
	require.Zero(t, st.ActiveRecordings)
}

func TestRecordingsEndpointEmpty(t *testing.T) {
	h, _ := newTestRouter(t, &stubTool{})
	w := doReq(h, http.MethodGet, "/recordings", testToken)
	require.Equal(t, http.StatusOK, w.Code)

	var out []daemon.ActiveSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Empty(t, out)
}

func TestProbeRejectsBadID(t *testing.T) {
	h, _ := newTestRouter(t, &stubTool{})
	for _, id := range []string{"abc", "0", "-3", "1.5"} {
		w := doReq(h, http.MethodPost, "/probe/"+id, testToken)
		require.Equal(t, http.StatusBadRequest, w.Code, "id %q", id)
	}
}

func TestProbeUnknownTarget(t *testing.T) {
	h, _ := newTestRouter(t, &stubTool{})
	w := doReq(h, http.MethodPost, "/probe/42", testToken)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestProbeLiveTarget(t *testing.T) {
	tool := &stubTool{result: streamtool.ProbeResult{Live: true, Qualities: []string{"720p"}}}
	h, st := newTestRouter(t, tool)
	id, err := st.AddTarget(context.Background(), store.Target{
		Address: "https://example.com/live/a", Name: "a", Enabled: true,
	})
	require.NoError(t, err)

	w := doReq(h, http.MethodPost, "/probe/"+strconv.FormatInt(id, 10), testToken)
	require.Equal(t, http.StatusOK, w.Code)

	var res streamtool.ProbeResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, res.Live)
	require.Equal(t, []string{"720p"}, res.Qualities)
}

func TestReloadEndpoint(t *testing.T) {
	h, st := newTestRouter(t, &stubTool{})
	require.NoError(t, st.SetSetting(context.Background(), "max_concurrent", "3"))
	w := doReq(h, http.MethodPost, "/reload", testToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"ok":true`)
}

func TestReloadFailureBodyStaysGeneric(t *testing.T) {
	tool := &stubTool{}
	h, _ := newTestRouter(t, tool)
	tool.available = errors.New("/opt/private/streamlink: permission denied")

	w := doReq(h, http.MethodPost, "/reload", testToken)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "internal error")
	require.NotContains(t, w.Body.String(), "/opt/private/streamlink",
		"500 bodies must not leak internal error detail")
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, &stubTool{})
	w := doReq(h, http.MethodGet, "/metrics", testToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}
