package domain

import (
	"fmt"
	"strings"
	"time"
)

// Objective is the quantity the solver minimizes.
type Objective string

const (
	ObjectiveDistance Objective = "distance"
	ObjectiveTime     Objective = "time"
	ObjectiveFuel     Objective = "fuel"
	ObjectiveBalanced Objective = "balanced"
)

func ParseObjective(s string) (Objective, error) {
	o := Objective(strings.ToLower(strings.TrimSpace(s)))
	switch o {
	case ObjectiveDistance, ObjectiveTime, ObjectiveFuel, ObjectiveBalanced:
		return o, nil
	case "":
		return ObjectiveDistance, nil
	}
	return "", fmt.Errorf("%w: unknown objective %q", ErrInvalidInput, s)
}

// FallbackStage records how far the optimizer had to relax the problem.
type FallbackStage string

const (
	StageNone          FallbackStage = "none"
	StageNoTimeWindows FallbackStage = "without_time_windows"
	StageNoClusters    FallbackStage = "without_clusters"
	StageManual        FallbackStage = "manual"
)

// RouteStop is one visit in a vehicle's ordered stop list. Leg metrics
// describe the leg arriving at this stop.
type RouteStop struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Coordinate    Coordinate  `json:"coordinate"`
	IsDepot       bool        `json:"is_depot"`
	TimeWindow    *TimeWindow `json:"time_window,omitempty"`
	LegDistance   float64     `json:"leg_distance"`
	LegTime       float64     `json:"leg_time"`
	LegFuel       float64     `json:"leg_fuel"`
	TrafficFactor float64     `json:"traffic_factor,omitempty"`
}

// Route is a single vehicle's tour, bracketed by the depot.
type Route struct {
	VehicleID     string      `json:"vehicle_id"`
	VehicleType   VehicleType `json:"vehicle_type"`
	Stops         []RouteStop `json:"stops"`
	TotalDistance float64     `json:"total_distance"`
	TotalTime     float64     `json:"total_time"`
	TotalFuel     float64     `json:"total_fuel"`
	FuelSaved     float64     `json:"fuel_saved"`
	FuelCost      float64     `json:"fuel_cost"`
	CostSaved     float64     `json:"cost_saved"`
	CO2Kg         float64     `json:"co2_kg"`
	// Minutes added by traffic over free-flow driving.
	TrafficImpact float64 `json:"traffic_impact,omitempty"`
}

// DeliveryStops returns the non-depot stops of the route in visiting order.
func (r Route) DeliveryStops() []RouteStop {
	out := make([]RouteStop, 0, len(r.Stops))
	for _, s := range r.Stops {
		if !s.IsDepot {
			out = append(out, s)
		}
	}
	return out
}

// SelectVehicleRoute picks the route for vehicleID: an exact vehicle-id
// match wins, otherwise the first route in the list.
func SelectVehicleRoute(routes []Route, vehicleID string) (Route, bool) {
	for _, r := range routes {
		if r.VehicleID == vehicleID {
			return r, true
		}
	}
	if len(routes) == 0 {
		return Route{}, false
	}
	return routes[0], true
}

type RouteMetadata struct {
	Objective         Objective     `json:"objective"`
	FallbackUsed      bool          `json:"fallback_used"`
	FallbackStage     FallbackStage `json:"fallback_stage"`
	ObjectiveAchieved bool          `json:"objective_achieved"`
	TrafficAware      bool          `json:"traffic_aware"`
	IsSimulated       bool          `json:"is_simulated"`
	ExcludedStops     []string      `json:"excluded_stops,omitempty"`
	ExcludedCount     int           `json:"excluded_count"`
	SolveMillis       int64         `json:"solve_ms"`
}

// RouteSet is the result of one optimization: exactly one Route per vehicle.
type RouteSet struct {
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Depot     Stop             `json:"depot"`
	Routes    []Route          `json:"routes"`
	Metadata  RouteMetadata    `json:"metadata"`
	Traffic   *TrafficSnapshot `json:"traffic,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func (rs RouteSet) TotalDistance() float64 {
	var sum float64
	for _, r := range rs.Routes {
		sum += r.TotalDistance
	}
	return sum
}

func (rs RouteSet) TotalFuel() float64 {
	var sum float64
	for _, r := range rs.Routes {
		sum += r.TotalFuel
	}
	return sum
}
