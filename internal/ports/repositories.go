package ports

import (
	"context"
	"time"

	"fleet-routing-service/internal/domain"
)

// Port: stored delivery locations.
type StopRepository interface {
	ListStops(ctx context.Context) ([]domain.Stop, error)
}

type VehicleRepository interface {
	// GetVehicle returns domain.ErrNotFound when id is unknown.
	GetVehicle(ctx context.Context, id string) (*domain.VehicleProfile, error)
}

type DriverRepository interface {
	GetDriver(ctx context.Context, id string) (*domain.Driver, error)
	// ListActiveDrivers returns active drivers seen at or after since.
	ListActiveDrivers(ctx context.Context, since time.Time) ([]domain.Driver, error)
	// TouchDriver refreshes the heartbeat; a nil location keeps the last known one.
	TouchDriver(ctx context.Context, id string, location *domain.Coordinate, seenAt time.Time) error
}

// Routes are stored as opaque JSON: route_data plus the traffic snapshot used.
type RouteRepository interface {
	SaveRoute(ctx context.Context, rs *domain.RouteSet) (string, error)
	GetRoute(ctx context.Context, id string) (*domain.RouteSet, error)
}

type AssignmentRepository interface {
	CreateDriverRoute(ctx context.Context, dr domain.DriverRoute, stops []domain.DeliveryStop) error
	GetDriverRoute(ctx context.Context, id string) (*domain.DriverRoute, error)
	ListDeliveryStops(ctx context.Context, driverRouteID string) ([]domain.DeliveryStop, error)
	// UpdateStopStatus applies the stop transition and completes the driver
	// route once none of its stops is pending or arrived. Both checks and
	// writes happen in one unit.
	UpdateStopStatus(ctx context.Context, c StopStatusChange) (*domain.DeliveryStop, *domain.DriverRoute, error)
	UpdateDriverRouteStatus(ctx context.Context, c RouteStatusChange) (*domain.DriverRoute, error)
}

// StopStatusChange is a driver's update of one of their stops. A DriverID
// other than the route's owner yields domain.ErrForbidden.
type StopStatusChange struct {
	StopID   string
	DriverID string
	Status   domain.DeliveryStopStatus
	At       time.Time
}

type RouteStatusChange struct {
	DriverRouteID string
	DriverID      string
	Status        domain.DriverRouteStatus
	At            time.Time
}

type IncidentRepository interface {
	// CreateIncident returns domain.ErrIncidentOpen while another reported or
	// assistance_assigned incident exists for the same driver route.
	CreateIncident(ctx context.Context, inc domain.Incident) error
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	UpdateIncident(ctx context.Context, inc domain.Incident) error
}

// HandOff is everything that changes when a substitute driver takes over.
// It must be applied atomically and only while the transfer is still
// pending with no driver.
type HandOff struct {
	TransferID      string
	IncidentID      string
	NewDriverID     string
	NewRoute        domain.DriverRoute
	ClonedStops     []domain.DeliveryStop
	OriginalStopIDs []string
	AcceptedAt      time.Time
}

type TransferRepository interface {
	CreateTransfer(ctx context.Context, tr domain.Transfer) error
	GetTransfer(ctx context.Context, id string) (*domain.Transfer, error)
	ListTransfersByIncident(ctx context.Context, incidentID string) ([]domain.Transfer, error)
	// ListTransfersByDriver returns transfers the driver handed off or took over.
	ListTransfersByDriver(ctx context.Context, driverID string) ([]domain.Transfer, error)
	// CompleteHandOff performs the pending -> accepted check-and-set, the
	// stop hand-off and the incident's move to assistance_assigned in one
	// unit. Losers get domain.ErrOfferWithdrawn.
	CompleteHandOff(ctx context.Context, h HandOff) (*domain.Transfer, error)
	// CancelPendingTransfers cancels every pending transfer of the incident
	// and returns how many changed.
	CancelPendingTransfers(ctx context.Context, incidentID string) (int, error)
}

type FuelRecordRepository interface {
	SaveFuelRecord(ctx context.Context, rec domain.FuelRecord) error
	ListFuelRecords(ctx context.Context) ([]domain.FuelRecord, error)
}
