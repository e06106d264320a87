package domain

import (
	"fmt"
	"time"
)

type IncidentStatus string

const (
	IncidentReported           IncidentStatus = "reported"
	IncidentAssistanceAssigned IncidentStatus = "assistance_assigned"
	IncidentResolved           IncidentStatus = "resolved"
	IncidentCancelled          IncidentStatus = "cancelled"
)

var incidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentReported:           {IncidentAssistanceAssigned, IncidentResolved, IncidentCancelled},
	IncidentAssistanceAssigned: {IncidentResolved},
	IncidentResolved:           {},
	IncidentCancelled:          {},
}

func (s IncidentStatus) IsValid() bool {
	_, ok := incidentTransitions[s]
	return ok
}

func (s IncidentStatus) CanTransitionTo(target IncidentStatus) bool {
	for _, t := range incidentTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible from this status.
func (s IncidentStatus) IsTerminal() bool {
	return len(incidentTransitions[s]) == 0
}

type Incident struct {
	ID            string         `json:"id"`
	DriverRouteID string         `json:"driver_route_id"`
	DriverID      string         `json:"driver_id"`
	Type          string         `json:"incident_type"`
	Description   string         `json:"description,omitempty"`
	Location      Coordinate     `json:"location"`
	Status        IncidentStatus `json:"status"`
	ReportedAt    time.Time      `json:"reported_at"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty"`
}

// TransitionTo moves the incident to target, stamping ResolvedAt on terminal states.
func (i *Incident) TransitionTo(target IncidentStatus, at time.Time) error {
	if !i.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: incident %s from %s to %s", ErrInvalidTransition, i.ID, i.Status, target)
	}
	i.Status = target
	if target.IsTerminal() {
		i.ResolvedAt = &at
	}
	return nil
}
