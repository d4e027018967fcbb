package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gridport-io/gridport/internal/models"
)

// Live reports process liveness.
func (api *API) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// Ready reports readiness, which requires a working database connection.
func (api *API) Ready(c *gin.Context) {
	sqlDB, err := api.db.DB()
	if err != nil {
		api.sendInternalServerError(c, err)
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, models.NewApiInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
