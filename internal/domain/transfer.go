package domain

import (
	"fmt"
	"time"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferAccepted  TransferStatus = "accepted"
	TransferCancelled TransferStatus = "cancelled"
)

var transferTransitions = map[TransferStatus][]TransferStatus{
	TransferPending:   {TransferAccepted, TransferCancelled},
	TransferAccepted:  {},
	TransferCancelled: {},
}

func (s TransferStatus) CanTransitionTo(target TransferStatus) bool {
	for _, t := range transferTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s TransferStatus) IsTerminal() bool {
	return len(transferTransitions[s]) == 0
}

// Transfer moves the undelivered stops of an incident's route to a substitute driver.
type Transfer struct {
	ID                  string         `json:"id"`
	IncidentID          string         `json:"incident_id"`
	OriginalDriverID    string         `json:"original_driver_id"`
	OriginalRouteID     string         `json:"original_route_id"`
	NewDriverID         *string        `json:"new_driver_id,omitempty"`
	NewRouteID          *string        `json:"new_route_id,omitempty"`
	StopIDs             []string       `json:"stop_ids"`
	Status              TransferStatus `json:"status"`
	RequiredVehicleType *VehicleType   `json:"required_vehicle_type,omitempty"`
	RequiredCapacity    float64        `json:"required_capacity"`
	CreatedAt           time.Time      `json:"created_at"`
	AcceptedAt          *time.Time     `json:"accepted_at,omitempty"`
}

// Acceptable reports whether the transfer can still be taken by a driver.
func (t Transfer) Acceptable() bool {
	return t.Status == TransferPending && t.NewDriverID == nil
}

// Accept applies the pending -> accepted check-and-set in memory.
func (t *Transfer) Accept(driverID, newRouteID string, at time.Time) error {
	if !t.Acceptable() {
		return fmt.Errorf("transfer %s: %w", t.ID, ErrOfferWithdrawn)
	}
	t.Status = TransferAccepted
	t.NewDriverID = &driverID
	t.NewRouteID = &newRouteID
	t.AcceptedAt = &at
	return nil
}

// RequiredCapacityFor estimates the capacity needed to carry stopCount stops.
func RequiredCapacityFor(stopCount int) float64 {
	return 0.1 * float64(stopCount)
}
