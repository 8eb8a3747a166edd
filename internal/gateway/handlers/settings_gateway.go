package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	settingshandler "partnerhub/internal/services/settings/handler"
)

type SettingsHTTPHandler struct {
	settings *settingshandler.SettingsHandler
}

func NewSettingsHTTPHandler(settings *settingshandler.SettingsHandler) *SettingsHTTPHandler {
	return &SettingsHTTPHandler{
		settings: settings,
	}
}

func (h *SettingsHTTPHandler) GetSettings(c *gin.Context) {
	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	resp, err := h.settings.Get(ctx)
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Settings retrieved successfully", resp))
}

// UpdateSettings applies a partial update. Invalid values are rejected as a whole and the
// stored settings stay unchanged.
func (h *SettingsHTTPHandler) UpdateSettings(c *gin.Context) {
	var patch settingshandler.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	resp, err := h.settings.Update(ctx, patch)
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Settings updated successfully", resp))
}
