package handlers

import (
	"net/http"

	"fleet-routing-service/internal/api/dto"
	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/ports"
	"fleet-routing-service/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouteHandler exposes optimization, stored routes and route assignment.
type RouteHandler struct {
	Optimizer *services.Optimizer
	Stops     ports.StopRepository
	Log       *zap.Logger
}

func (h *RouteHandler) Optimize(c *gin.Context) {
	log := nopIfNil(h.Log)

	var req dto.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json body")
		return
	}

	var stored []domain.Stop
	if len(req.StopIDs) > 0 && h.Stops != nil {
		var err error
		stored, err = h.Stops.ListStops(c.Request.Context())
		if err != nil {
			writeError(c, log, err)
			return
		}
	}
	svcReq, err := req.ToService(stored)
	if err != nil {
		writeError(c, log, err)
		return
	}

	rs, err := h.Optimizer.Optimize(c.Request.Context(), svcReq)
	if err != nil {
		writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, rs)
}

func (h *RouteHandler) Get(c *gin.Context) {
	rs, err := h.Optimizer.LoadRoute(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusOK, rs)
}

func (h *RouteHandler) Assign(c *gin.Context) {
	var req dto.AssignRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "driver_id is required")
		return
	}
	a, err := h.Optimizer.AssignRoute(c.Request.Context(), c.Param("id"), req.VehicleID, req.DriverID)
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *RouteHandler) ListStops(c *gin.Context) {
	stops, err := h.Stops.ListStops(c.Request.Context())
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	if stops == nil {
		stops = []domain.Stop{}
	}
	c.JSON(http.StatusOK, dto.ListStopsResponse{Stops: stops})
}
