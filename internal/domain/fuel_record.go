package domain

import "time"

type RoadType string

const (
	RoadHighway RoadType = "highway"
	RoadUrban   RoadType = "urban"
	RoadMixed   RoadType = "mixed"
)

// FuelRecord pairs the predicted fuel of a completed route with what was actually burnt.
type FuelRecord struct {
	ID              string      `json:"id"`
	RouteID         string      `json:"route_id"`
	VehicleID       string      `json:"vehicle_id"`
	DriverID        string      `json:"driver_id,omitempty"`
	VehicleType     VehicleType `json:"vehicle_type"`
	PredictedFuel   float64     `json:"predicted_fuel"`
	ActualFuel      float64     `json:"actual_fuel"`
	DistanceKm      float64     `json:"distance"`
	VehicleWeightKg float64     `json:"vehicle_weight"`
	LoadKg          float64     `json:"load_weight"`
	AvgSpeedKmh     float64     `json:"avg_speed"`
	TrafficFactor   float64     `json:"traffic_factor"`
	StopFrequency   float64     `json:"stop_frequency"`
	RoadType        RoadType    `json:"road_type"`
	RecordedAt      time.Time   `json:"date_recorded"`
}

// PredictionError is actual minus predicted litres.
func (r FuelRecord) PredictionError() float64 { return r.ActualFuel - r.PredictedFuel }

// ErrorPercent is the prediction error relative to the actual fuel, 0 when nothing was burnt.
func (r FuelRecord) ErrorPercent() float64 {
	if r.ActualFuel <= 0 {
		return 0
	}
	return r.PredictionError() / r.ActualFuel * 100
}
