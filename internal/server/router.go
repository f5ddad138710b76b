package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keithk/siteherd/internal/metrics"
	"github.com/keithk/siteherd/internal/supervisor"
)

// Router exposes the supervisor over HTTP. Endpoints:
//
//	POST {basePath}/processes/start         body: LaunchSpec JSON
//	POST {basePath}/processes/stop          query: site=...&port=...&wait=5s
//	POST {basePath}/processes/restart       query: site=...&port=...
//	POST {basePath}/processes/restart-site  query: site=...
//	GET  {basePath}/processes               list summaries
//	GET  {basePath}/processes/status        query: site=...&port=...
//	GET  {basePath}/healthz
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
	metrics  bool
}

// NewRouter constructs a Router over the supervisor. When withMetrics is set
// the prometheus handler is mounted at {basePath}/metrics.
func NewRouter(sup *supervisor.Supervisor, basePath string, withMetrics bool) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath), metrics: withMetrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/processes/start", r.handleStart)
	group.POST("/processes/stop", r.handleStop)
	group.POST("/processes/restart", r.handleRestart)
	group.POST("/processes/restart-site", r.handleRestartSite)
	group.GET("/processes", r.handleList)
	group.GET("/processes/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, withMetrics bool) *http.Server {
	r := NewRouter(sup, basePath, withMetrics)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleStart(c *gin.Context) {
	var spec supervisor.LaunchSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeSite(spec.Site) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid site: allowed [A-Za-z0-9._-]"})
		return
	}
	if spec.Port <= 0 || spec.Port > 65535 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid port"})
		return
	}
	if spec.Script == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "script required"})
		return
	}
	if !isSafeAbsPath(spec.Cwd) || !isSafeAbsPath(spec.Log.Dir) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "paths must be absolute without traversal"})
		return
	}
	sum, err := r.sup.Start(c.Request.Context(), spec)
	if err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (r *Router) handleStop(c *gin.Context) {
	site, port, ok := identityParams(c)
	if !ok {
		return
	}
	wait := 5 * time.Second
	if w := c.Query("wait"); w != "" {
		if d, err := time.ParseDuration(w); err == nil {
			wait = d
		}
	}
	if err := r.sup.Stop(c.Request.Context(), site, port, wait); err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleRestart(c *gin.Context) {
	site, port, ok := identityParams(c)
	if !ok {
		return
	}
	sum, err := r.sup.Restart(c.Request.Context(), site, port)
	if err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (r *Router) handleRestartSite(c *gin.Context) {
	site := c.Query("site")
	if site == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "site query param required"})
		return
	}
	sums, err := r.sup.RestartAll(c.Request.Context(), site)
	if err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, sums)
}

func (r *Router) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.ListProcesses())
}

func (r *Router) handleStatus(c *gin.Context) {
	site, port, ok := identityParams(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"site":    site,
		"port":    port,
		"running": r.sup.HasProcess(c.Request.Context(), site, port),
	})
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// identityParams extracts and validates the site/port selector; on failure it
// writes the error response and returns ok=false.
func identityParams(c *gin.Context) (string, int, bool) {
	site := c.Query("site")
	if site == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "site query param required"})
		return "", 0, false
	}
	port, err := strconv.Atoi(c.Query("port"))
	if err != nil || port <= 0 || port > 65535 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "valid port query param required"})
		return "", 0, false
	}
	return site, port, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, supervisor.ErrPortUnavailable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
