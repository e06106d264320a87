package dto

import (
	"strings"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/services"
)

type ReportIncidentRequest struct {
	DriverID            string            `json:"driver_id" binding:"required"`
	DriverRouteID       string            `json:"driver_route_id" binding:"required"`
	IncidentType        string            `json:"incident_type" binding:"required"`
	Description         string            `json:"description"`
	Location            domain.Coordinate `json:"location"`
	RequiredVehicleType string            `json:"required_vehicle_type"`
}

func (r ReportIncidentRequest) ToService() (services.ReportIncidentRequest, error) {
	vt, err := optionalVehicleType(r.RequiredVehicleType)
	if err != nil {
		return services.ReportIncidentRequest{}, err
	}
	return services.ReportIncidentRequest{
		DriverID:            r.DriverID,
		DriverRouteID:       r.DriverRouteID,
		Type:                r.IncidentType,
		Description:         r.Description,
		Location:            r.Location,
		RequiredVehicleType: vt,
	}, nil
}

type CancelIncidentRequest struct {
	DriverID string `json:"driver_id" binding:"required"`
}

type SubstitutesRequest struct {
	Admin       bool   `json:"admin"`
	VehicleType string `json:"vehicle_type"`
}

func (r SubstitutesRequest) VehicleTypeFilter() (*domain.VehicleType, error) {
	return optionalVehicleType(r.VehicleType)
}

type SubstitutesResponse struct {
	Candidates []domain.Candidate `json:"candidates"`
}

type TransferDriverRequest struct {
	DriverID string `json:"driver_id" binding:"required"`
}

type ListTransfersResponse struct {
	Transfers []domain.Transfer `json:"transfers"`
}

// optionalVehicleType returns nil for an empty filter.
func optionalVehicleType(s string) (*domain.VehicleType, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	vt, err := domain.ParseVehicleType(s)
	if err != nil {
		return nil, err
	}
	return &vt, nil
}
