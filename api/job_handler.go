package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

const defaultKillReason = "killed via admin api"

func (a *API) listJobs(c *gin.Context) {
	var req ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	opts := job.ListOpts{
		Name:   req.Name,
		Limit:  defaultLimit(req.Limit),
		Offset: req.Offset,
	}
	if req.State != "" {
		state, err := job.ParseState(req.State)
		if err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
		opts.State = state
	}

	jobs, err := a.store.List(c.Request.Context(), opts)
	if err != nil {
		a.storeError(c, fmt.Errorf("list jobs: %w", err))
		return
	}
	if jobs == nil {
		jobs = []*job.Envelope{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (a *API) getJob(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	env, err := a.store.Get(c.Request.Context(), jobID)
	if err != nil {
		a.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, env)
}

func (a *API) killJob(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	var req KillJobRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = defaultKillReason
	}

	if err := a.store.Kill(c.Request.Context(), jobID, job.KillOpts{Reason: req.Reason}); err != nil {
		a.storeError(c, err)
		return
	}

	a.logger.Info("job killed via api",
		slog.String("job_id", jobID.String()),
		slog.String("reason", req.Reason),
	)
	c.Status(http.StatusNoContent)
}

func parseJobID(c *gin.Context) (id.JobID, bool) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("invalid job ID: %w", err))
		return id.Nil, false
	}
	return jobID, true
}

// storeError maps conveyor errors to HTTP statuses.
func (a *API) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conveyor.ErrJobNotFound), errors.Is(err, conveyor.ErrCronEntryNotFound):
		abort(c, http.StatusNotFound, err)
	case conveyor.IsStale(err):
		abort(c, http.StatusConflict, err)
	default:
		a.logger.Error("api store error", slog.String("error", err.Error()))
		abort(c, http.StatusInternalServerError, err)
	}
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}
