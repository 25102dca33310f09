package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/conveyor/job"
)

func (a *API) stats(c *gin.Context) {
	ctx := c.Request.Context()

	resp := StatsResponse{Jobs: make(map[job.State]int64, len(job.States))}
	for _, state := range job.States {
		n, err := a.store.Count(ctx, job.CountOpts{State: state})
		if err != nil {
			a.storeError(c, fmt.Errorf("count jobs (%s): %w", state, err))
			return
		}
		resp.Jobs[state] = n
		resp.Total += n
	}

	if a.hub != nil {
		hs := a.hub.Stats()
		resp.Hub = &hs
	}

	c.JSON(http.StatusOK, resp)
}
