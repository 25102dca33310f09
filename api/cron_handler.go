package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/conveyor"
)

func (a *API) listCrons(c *gin.Context) {
	c.JSON(http.StatusOK, a.scheduler.Entries())
}

func (a *API) getCron(c *gin.Context) {
	name := c.Param("name")
	entry, ok := a.scheduler.Entry(name)
	if !ok {
		abort(c, http.StatusNotFound, fmt.Errorf("%w: %s", conveyor.ErrCronEntryNotFound, name))
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) enableCron(c *gin.Context)  { a.setCronEnabled(c, true) }
func (a *API) disableCron(c *gin.Context) { a.setCronEnabled(c, false) }

func (a *API) setCronEnabled(c *gin.Context, enabled bool) {
	name := c.Param("name")
	if err := a.scheduler.SetEnabled(name, enabled); err != nil {
		a.storeError(c, err)
		return
	}
	entry, _ := a.scheduler.Entry(name)
	c.JSON(http.StatusOK, entry)
}
