package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gridport-io/gridport/internal/models"
)

// ListFeatureFlags returns the name and state of every feature flag.
func (api *API) ListFeatureFlags(c *gin.Context) {
	_, span := tracer.Start(c.Request.Context(), "ListFeatureFlags")
	defer span.End()
	c.JSON(http.StatusOK, api.fflags.ListFlags())
}

// GetFeatureFlag returns the state of one feature flag by name.
func (api *API) GetFeatureFlag(c *gin.Context) {
	_, span := tracer.Start(c.Request.Context(), "GetFeatureFlag")
	defer span.End()

	name := c.Param("name")
	enabled, err := api.fflags.GetFlag(name)
	if err != nil {
		c.JSON(http.StatusNotFound, models.NewNotFoundError(name))
		return
	}
	c.JSON(http.StatusOK, map[string]bool{name: enabled})
}
