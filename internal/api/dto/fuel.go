package dto

import "fleet-routing-service/internal/services"

type RecordFuelRequest struct {
	RouteID    string  `json:"route_id" binding:"required"`
	VehicleID  string  `json:"vehicle_id"`
	DriverID   string  `json:"driver_id"`
	ActualFuel float64 `json:"actual_fuel" binding:"required,gt=0"`
	LoadKg     float64 `json:"load_weight" binding:"gte=0"`
}

func (r RecordFuelRequest) ToService() services.FuelObservation {
	return services.FuelObservation{
		RouteID:    r.RouteID,
		VehicleID:  r.VehicleID,
		DriverID:   r.DriverID,
		ActualFuel: r.ActualFuel,
		LoadKg:     r.LoadKg,
	}
}
