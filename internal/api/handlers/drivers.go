package handlers

import (
	"errors"
	"io"
	"net/http"

	"fleet-routing-service/internal/api/dto"
	"fleet-routing-service/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DriverHandler exposes the driver's view of an assignment and their progress updates.
type DriverHandler struct {
	Drivers *services.DriverService
	Log     *zap.Logger
}

func (h *DriverHandler) GetRoute(c *gin.Context) {
	a, err := h.Drivers.GetDriverRoute(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *DriverHandler) UpdateRouteStatus(c *gin.Context) {
	var req dto.RouteStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "driver_id and status are required")
		return
	}
	dr, err := h.Drivers.UpdateRouteStatus(c.Request.Context(), req.DriverID, c.Param("id"), req.Status, req.Location)
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusOK, dr)
}

func (h *DriverHandler) UpdateStopStatus(c *gin.Context) {
	var req dto.StopStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "driver_id and status are required")
		return
	}
	res, err := h.Drivers.UpdateStopStatus(c.Request.Context(), req.DriverID, c.Param("id"), req.Status, req.Location)
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *DriverHandler) Heartbeat(c *gin.Context) {
	var req dto.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid json body")
		return
	}
	drv, err := h.Drivers.Heartbeat(c.Request.Context(), c.Param("id"), req.Location)
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusOK, drv)
}
