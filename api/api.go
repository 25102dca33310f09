// Package api serves the conveyor admin HTTP API.
//
// Routes:
//
//	GET  /v1/jobs                 list envelopes (state, name, limit, offset)
//	GET  /v1/jobs/:jobId          one envelope
//	POST /v1/jobs/:jobId/kill     kill a running envelope
//	GET  /v1/stats                envelope counts by state
//	GET  /v1/reports              websocket report feed (WithHub)
//	GET  /v1/crons                recurring entries (WithScheduler)
//	GET  /v1/crons/:name          one recurring entry
//	POST /v1/crons/:name/enable   resume an entry
//	POST /v1/crons/:name/disable  pause an entry
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/conveyor/cron"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/tracker"
	"github.com/xraph/conveyor/tracker/wsfeed"
)

// Store is the store surface the API reads and kills through. Every
// store.Store satisfies it.
type Store interface {
	job.Inspector
	Kill(ctx context.Context, jobID id.JobID, opts job.KillOpts) error
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the API logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithHub enables the /v1/reports websocket feed.
func WithHub(h *tracker.Hub) Option {
	return func(a *API) { a.hub = h }
}

// WithScheduler enables the /v1/crons routes.
func WithScheduler(s *cron.Scheduler) Option {
	return func(a *API) { a.scheduler = s }
}

// API wires the admin HTTP handlers together.
type API struct {
	store     Store
	hub       *tracker.Hub
	scheduler *cron.Scheduler
	logger    *slog.Logger
}

// New creates an API over store.
func New(store Store, opts ...Option) *API {
	a := &API{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with recovery and all routes registered.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes on router.
func (a *API) RegisterRoutes(router gin.IRouter) {
	g := router.Group("/v1")

	g.GET("/jobs", a.listJobs)
	g.GET("/jobs/:jobId", a.getJob)
	g.POST("/jobs/:jobId/kill", a.killJob)
	g.GET("/stats", a.stats)

	if a.hub != nil {
		g.GET("/reports", gin.WrapH(wsfeed.New(a.hub, wsfeed.WithLogger(a.logger))))
	}

	if a.scheduler != nil {
		g.GET("/crons", a.listCrons)
		g.GET("/crons/:name", a.getCron)
		g.POST("/crons/:name/enable", a.enableCron)
		g.POST("/crons/:name/disable", a.disableCron)
	}
}

// ListJobsRequest holds the /v1/jobs query parameters.
type ListJobsRequest struct {
	State  string `form:"state"`
	Name   string `form:"name"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// KillJobRequest is the optional /v1/jobs/:jobId/kill body.
type KillJobRequest struct {
	Reason string `json:"reason"`
}

// StatsResponse reports envelope counts.
type StatsResponse struct {
	Jobs  map[job.State]int64 `json:"jobs"`
	Total int64               `json:"total"`
	Hub   *tracker.HubStats   `json:"hub,omitempty"`
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

func defaultLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}
