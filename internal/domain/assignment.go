package domain

import (
	"fmt"
	"time"
)

type DriverRouteStatus string

const (
	DriverRouteAssigned   DriverRouteStatus = "assigned"
	DriverRouteInProgress DriverRouteStatus = "in_progress"
	DriverRouteCompleted  DriverRouteStatus = "completed"
	DriverRouteCancelled  DriverRouteStatus = "cancelled"
)

// A route that was never started may still complete when its last stop does.
var driverRouteTransitions = map[DriverRouteStatus][]DriverRouteStatus{
	DriverRouteAssigned:   {DriverRouteInProgress, DriverRouteCompleted, DriverRouteCancelled},
	DriverRouteInProgress: {DriverRouteCompleted, DriverRouteCancelled},
	DriverRouteCompleted:  {},
	DriverRouteCancelled:  {},
}

func (s DriverRouteStatus) IsValid() bool {
	_, ok := driverRouteTransitions[s]
	return ok
}

func (s DriverRouteStatus) CanTransitionTo(target DriverRouteStatus) bool {
	for _, t := range driverRouteTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s DriverRouteStatus) IsTerminal() bool {
	return len(driverRouteTransitions[s]) == 0
}

// DriverRoute assigns a stored route (one vehicle's part of it) to a driver.
// Transfers create a new DriverRoute pointing at the same RouteID with
// ParentID set to the original assignment.
type DriverRoute struct {
	ID          string            `json:"id"`
	DriverID    string            `json:"driver_id"`
	RouteID     string            `json:"route_id"`
	VehicleID   string            `json:"vehicle_id,omitempty"`
	Status      DriverRouteStatus `json:"status"`
	IsTransfer  bool              `json:"is_transfer"`
	ParentID    *string           `json:"parent_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// TransitionTo moves the route to target, stamping StartedAt and CompletedAt once.
func (dr *DriverRoute) TransitionTo(target DriverRouteStatus, at time.Time) error {
	if !dr.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: driver route %s from %s to %s", ErrInvalidTransition, dr.ID, dr.Status, target)
	}
	dr.Status = target
	switch {
	case target == DriverRouteInProgress && dr.StartedAt == nil:
		dr.StartedAt = &at
	case target == DriverRouteCompleted && dr.CompletedAt == nil:
		dr.CompletedAt = &at
	}
	return nil
}

type DeliveryStopStatus string

const (
	StopPending     DeliveryStopStatus = "pending"
	StopArrived     DeliveryStopStatus = "arrived"
	StopCompleted   DeliveryStopStatus = "completed"
	StopFailed      DeliveryStopStatus = "failed"
	StopTransferred DeliveryStopStatus = "transferred"
)

var stopTransitions = map[DeliveryStopStatus][]DeliveryStopStatus{
	StopPending:     {StopArrived, StopCompleted, StopFailed, StopTransferred},
	StopArrived:     {StopCompleted, StopFailed, StopTransferred},
	StopCompleted:   {},
	StopFailed:      {},
	StopTransferred: {},
}

func (s DeliveryStopStatus) IsValid() bool {
	_, ok := stopTransitions[s]
	return ok
}

func (s DeliveryStopStatus) CanTransitionTo(target DeliveryStopStatus) bool {
	for _, t := range stopTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsUndelivered reports whether the stop still needs a visit.
func (s DeliveryStopStatus) IsUndelivered() bool {
	return s == StopPending || s == StopArrived
}

// DeliveryStop is one actionable stop on a driver's assignment.
type DeliveryStop struct {
	ID             string             `json:"id"`
	DriverRouteID  string             `json:"driver_route_id"`
	LocationID     string             `json:"location_id"`
	Name           string             `json:"name"`
	Coordinate     Coordinate         `json:"coordinate"`
	StopNumber     int                `json:"stop_number"`
	Status         DeliveryStopStatus `json:"status"`
	PlannedArrival *time.Time         `json:"planned_arrival,omitempty"`
	ActualArrival  *time.Time         `json:"actual_arrival,omitempty"`
}

// TransitionTo moves the stop to target. The first arrival or completion
// stamps ActualArrival.
func (s *DeliveryStop) TransitionTo(target DeliveryStopStatus, at time.Time) error {
	if !s.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: delivery stop %s from %s to %s", ErrInvalidTransition, s.ID, s.Status, target)
	}
	s.Status = target
	if (target == StopArrived || target == StopCompleted) && s.ActualArrival == nil {
		s.ActualArrival = &at
	}
	return nil
}

// RouteFinished reports whether none of the stops still needs a visit.
// Stops handed to another driver count as finished.
func RouteFinished(stops []DeliveryStop) bool {
	for _, s := range stops {
		if s.Status.IsUndelivered() {
			return false
		}
	}
	return true
}

type Driver struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	IsActive   bool        `json:"is_active"`
	LastSeenAt *time.Time  `json:"last_seen_at,omitempty"`
	Location   *Coordinate `json:"location,omitempty"`
	VehicleID  string      `json:"vehicle_id,omitempty"`
}

// Candidate is a potential substitute driver with its distance to an incident.
type Candidate struct {
	Driver      Driver      `json:"driver"`
	VehicleType VehicleType `json:"vehicle_type,omitempty"`
	DistanceKm  float64     `json:"distance_km"`
}
