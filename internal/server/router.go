package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flockd/flockd/internal/connmgr"
	"github.com/flockd/flockd/internal/health"
	"github.com/flockd/flockd/internal/metrics"
	"github.com/flockd/flockd/internal/scaler"
	"github.com/flockd/flockd/internal/store"
	"github.com/flockd/flockd/internal/supervisor"
)

// Router provides embeddable HTTP handlers for inspecting and steering the
// worker pool.
// Endpoints:
//   GET  {basePath}/status              pool metrics and scaler state
//   GET  {basePath}/workers             worker records
//   POST {basePath}/workers             start one worker
//   POST {basePath}/workers/:id/stop    query: graceful=false to force kill
//   POST {basePath}/workers/:id/restart
//   POST {basePath}/scale               body: {"target": N}
//   GET  {basePath}/events              query: limit=N (default 50)
//   GET  {basePath}/connections         outbound pool records
//   GET  {basePath}/metrics             prometheus exposition
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	sup      *supervisor.Supervisor
	mon      *health.Monitor
	asc      *scaler.AutoScaler
	mgr      *connmgr.Manager
	st       store.Store // nil when persistence is disabled
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, mon *health.Monitor, asc *scaler.AutoScaler, mgr *connmgr.Manager, st store.Store, basePath string) *Router {
	return &Router{
		sup:      sup,
		mon:      mon,
		asc:      asc,
		mgr:      mgr,
		st:       st,
		basePath: sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/workers", r.handleWorkers)
	group.POST("/workers", r.handleStartWorker)
	group.POST("/workers/:id/stop", r.handleStopWorker)
	group.POST("/workers/:id/restart", r.handleRestartWorker)
	group.POST("/scale", r.handleScale)
	group.GET("/events", r.handleEvents)
	group.GET("/connections", r.handleConnections)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router. The
// caller shuts it down via http.Server's Shutdown or Close.
func NewServer(addr string, r *Router) *http.Server {
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

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	State   scaler.SystemState `json:"state"`
	Metrics health.PoolMetrics `json:"metrics"`
}

func (r *Router) handleStatus(c *gin.Context) {
	m := r.mon.AggregateMetrics(c.Request.Context())
	writeJSON(c, http.StatusOK, statusResp{State: r.asc.State(), Metrics: m})
}

func (r *Router) handleWorkers(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Records())
}

type startResp struct {
	Worker supervisor.WorkerRecord `json:"worker"`
}

func (r *Router) handleStartWorker(c *gin.Context) {
	rec, err := r.sup.Start(supervisor.NewWorkerID())
	if err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, startResp{Worker: rec})
}

func (r *Router) handleStopWorker(c *gin.Context) {
	id := c.Param("id")
	if !isSafeWorkerID(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid worker id"})
		return
	}
	graceful := c.DefaultQuery("graceful", "true") != "false"
	if err := r.sup.Stop(id, graceful); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestartWorker(c *gin.Context) {
	id := c.Param("id")
	if !isSafeWorkerID(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid worker id"})
		return
	}
	if err := r.sup.Restart(id); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type scaleReq struct {
	Target int `json:"target"`
}

func (r *Router) handleScale(c *gin.Context) {
	var req scaleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Target < 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "target must be >= 0"})
		return
	}
	if err := r.sup.ScaleTo(req.Target); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.st == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "event store disabled"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := r.st.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleConnections(c *gin.Context) {
	if r.mgr == nil {
		writeJSON(c, http.StatusOK, []connmgr.ConnRecord{})
		return
	}
	writeJSON(c, http.StatusOK, r.mgr.PoolStats())
}
