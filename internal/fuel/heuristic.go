// Package fuel predicts fuel consumption for route legs.
package fuel

import (
	"math"

	"fleet-routing-service/internal/domain"
)

// MinLiters floors every estimate so consumption is never zero or negative.
const MinLiters = 0.1

var baseConsumption = map[domain.VehicleType]float64{
	domain.VehicleCar:       7.0,
	domain.VehicleVan:       10.0,
	domain.VehicleTruck:     20.0,
	domain.VehicleMotorbike: 4.0,
}

var roadFactor = map[domain.RoadType]float64{
	domain.RoadHighway: 0.8,
	domain.RoadUrban:   1.3,
	domain.RoadMixed:   1.0,
}

// Input describes one leg (or a whole route) for prediction.
type Input struct {
	VehicleType domain.VehicleType
	// Litres per 100 km; zero uses the vehicle-type baseline.
	BaseConsumption float64
	DistanceKm      float64
	LoadKg          float64
	VehicleWeightKg float64
	TrafficFactor   float64
	StopsPerKm      float64
	RoadType        domain.RoadType
}

// BaseFor returns the baseline L/100km for a vehicle type (10 for unknown types).
func BaseFor(t domain.VehicleType) float64 {
	if b, ok := baseConsumption[t]; ok {
		return b
	}
	return 10.0
}

// Estimate is the physics-style heuristic: baseline consumption scaled by
// load, traffic, stop density and road type.
func Estimate(in Input) float64 {
	base := in.BaseConsumption
	if base <= 0 {
		base = BaseFor(in.VehicleType)
	}
	traffic := in.TrafficFactor
	if traffic <= 0 {
		traffic = 1
	}
	road, ok := roadFactor[in.RoadType]
	if !ok {
		road = 1
	}

	weight := 1 + (in.LoadKg/1000)*0.1
	trafficAdj := 0.5 + traffic*0.5
	stops := 1 + in.StopsPerKm*0.5

	liters := base / 100 * in.DistanceKm * weight * trafficAdj * stops * road
	return math.Max(MinLiters, liters)
}

// RoadTypeFor infers the road type from the road distance and the
// straight-line distance between the same endpoints.
func RoadTypeFor(roadKm, straightKm float64) domain.RoadType {
	ratio := 1.0
	if straightKm > 0 {
		ratio = roadKm / straightKm
	}
	switch {
	case roadKm > 20 && ratio < 1.2:
		return domain.RoadHighway
	case roadKm < 5 || ratio > 1.4:
		return domain.RoadUrban
	}
	return domain.RoadMixed
}
