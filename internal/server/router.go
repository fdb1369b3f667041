package server

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/streamwatch/internal/daemon"
	"github.com/loykin/streamwatch/internal/metrics"
	"github.com/loykin/streamwatch/internal/store"
)

// Router provides the daemon's loopback control-plane handlers.
// Endpoints (all bearer-token authenticated, including /metrics):
//   GET  /status        daemon snapshot
//   GET  /recordings    active recordings
//   POST /probe/:id     probe one target now, record if live
//   POST /reload        re-read store-held settings
//   POST /shutdown      graceful stop (responds before stopping)
//   GET  /metrics       Prometheus exposition

type Router struct {
	d     *daemon.Daemon
	token string
	log   *slog.Logger
}

func NewRouter(d *daemon.Daemon, token string, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{d: d, token: token, log: log}
}

// Handler returns the gin handler; it can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.CustomRecovery(func(c *gin.Context, _ any) {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "internal error"})
	}))
	g.Use(r.requireToken)
	g.GET("/status", r.handleStatus)
	g.GET("/recordings", r.handleRecordings)
	g.POST("/probe/:id", r.handleProbe)
	g.POST("/reload", r.handleReload)
	g.POST("/shutdown", r.handleShutdown)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// requireToken rejects every request whose Authorization header does not carry
// the daemon's bearer token. Constant-time compare; no unauthenticated routes.
func (r *Router) requireToken(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "missing bearer token"})
		c.Abort()
		return
	}
	got := strings.TrimPrefix(auth, prefix)
	if subtle.ConstantTimeCompare([]byte(got), []byte(r.token)) != 1 {
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid token"})
		c.Abort()
		return
	}
	c.Next()
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.d.Status())
}

func (r *Router) handleRecordings(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.d.ActiveRecordings())
}

func (r *Router) handleProbe(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "target id must be a positive integer"})
		return
	}
	res, err := r.d.ProbeTarget(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "target not found"})
			return
		}
		// Full detail stays server-side; the body never carries internals.
		r.log.Error("probe target", "id", id, "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "internal error"})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleReload(c *gin.Context) {
	if err := r.d.Reload(c.Request.Context()); err != nil {
		r.log.Error("reload", "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "internal error"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleShutdown(c *gin.Context) {
	// Reply first; the stop happens asynchronously so the response gets out
	// before the listener closes.
	writeJSON(c, http.StatusOK, okResp{OK: true})
	r.d.RequestShutdown()
}
