package handlers

import (
	"errors"
	"io"
	"net/http"

	"fleet-routing-service/internal/api/dto"
	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IncidentHandler exposes the incident and transfer workflow.
type IncidentHandler struct {
	Incidents *services.IncidentManager
	Log       *zap.Logger
}

func (h *IncidentHandler) Report(c *gin.Context) {
	var req dto.ReportIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "driver_id, driver_route_id and incident_type are required")
		return
	}
	svcReq, err := req.ToService()
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	rep, err := h.Incidents.ReportIncident(c.Request.Context(), svcReq)
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	if rep.Candidates == nil {
		rep.Candidates = []domain.Candidate{}
	}
	c.JSON(http.StatusCreated, rep)
}

func (h *IncidentHandler) Get(c *gin.Context) {
	details, err := h.Incidents.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *IncidentHandler) Cancel(c *gin.Context) {
	var req dto.CancelIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "driver_id is required")
		return
	}
	inc, err := h.Incidents.CancelIncident(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (h *IncidentHandler) Resolve(c *gin.Context) {
	inc, err := h.Incidents.ResolveIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (h *IncidentHandler) Substitutes(c *gin.Context) {
	var req dto.SubstitutesRequest
	// An empty body is a plain driver-radius search.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid json body")
		return
	}
	vt, err := req.VehicleTypeFilter()
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	cands, err := h.Incidents.FindSubstitutes(c.Request.Context(), c.Param("id"), req.Admin, vt)
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	if cands == nil {
		cands = []domain.Candidate{}
	}
	c.JSON(http.StatusOK, dto.SubstitutesResponse{Candidates: cands})
}

func (h *IncidentHandler) AcceptTransfer(c *gin.Context) {
	var req dto.TransferDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "driver_id is required")
		return
	}
	res, err := h.Incidents.AcceptTransfer(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *IncidentHandler) AssignTransfer(c *gin.Context) {
	var req dto.TransferDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "driver_id is required")
		return
	}
	res, err := h.Incidents.AssignTransfer(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *IncidentHandler) DriverTransfers(c *gin.Context) {
	transfers, err := h.Incidents.ListTransfersForDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, nopIfNil(h.Log), err)
		return
	}
	if transfers == nil {
		transfers = []domain.Transfer{}
	}
	c.JSON(http.StatusOK, dto.ListTransfersResponse{Transfers: transfers})
}
