package dto

import "fleet-routing-service/internal/domain"

type StopStatusRequest struct {
	DriverID string                    `json:"driver_id" binding:"required"`
	Status   domain.DeliveryStopStatus `json:"status" binding:"required"`
	Location *domain.Coordinate        `json:"location"`
}

type RouteStatusRequest struct {
	DriverID string                   `json:"driver_id" binding:"required"`
	Status   domain.DriverRouteStatus `json:"status" binding:"required"`
	Location *domain.Coordinate       `json:"location"`
}

// HeartbeatRequest may be empty; the location is only updated when given.
type HeartbeatRequest struct {
	Location *domain.Coordinate `json:"location"`
}
