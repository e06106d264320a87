package handlers

import (
	"net/http"

	"fleet-routing-service/internal/api/dto"
	"fleet-routing-service/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type FuelHandler struct {
	Tracker *services.FuelTracker
	Log     *zap.Logger
}

func (h *FuelHandler) Record(c *gin.Context) {
	var req dto.RecordFuelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "route_id and a positive actual_fuel are required")
		return
	}
	rec, err := h.Tracker.RecordActualFuel(c.Request.Context(), req.ToService())
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *FuelHandler) Accuracy(c *gin.Context) {
	rep, err := h.Tracker.AnalyzeAccuracy(c.Request.Context())
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
