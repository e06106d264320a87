package services

import (
	"context"
	"fmt"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/platform/obs"
	"fleet-routing-service/internal/ports"

	"go.uber.org/zap"
)

type DriverDeps struct {
	Drivers     ports.DriverRepository
	Assignments ports.AssignmentRepository
}

// DriverService handles what drivers report from the road: stop and route
// progress and heartbeats. Every driver action refreshes the heartbeat that
// substitute searches filter on.
type DriverService struct {
	deps DriverDeps
	log  *zap.Logger
	now  func() time.Time
}

func NewDriverService(deps DriverDeps, log *zap.Logger) *DriverService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DriverService{deps: deps, log: log, now: time.Now}
}

type StopUpdate struct {
	Stop        domain.DeliveryStop `json:"stop"`
	DriverRoute domain.DriverRoute  `json:"driver_route"`
}

// UpdateStopStatus moves one of the driver's stops forward. Transferred is
// reserved for hand-offs. The route completes with its last open stop.
func (d *DriverService) UpdateStopStatus(ctx context.Context, driverID, stopID string, status domain.DeliveryStopStatus, location *domain.Coordinate) (res *StopUpdate, err error) {
	defer obs.Time(ctx, d.log, "drivers.UpdateStopStatus")(&err)

	if driverID == "" {
		return nil, fmt.Errorf("update stop status: driver_id required: %w", domain.ErrInvalidInput)
	}
	if !status.IsValid() || status == domain.StopTransferred || status == domain.StopPending {
		return nil, fmt.Errorf("update stop status: unsupported status %q: %w", status, domain.ErrInvalidInput)
	}
	if err := validLocation(location); err != nil {
		return nil, fmt.Errorf("update stop status: %w", err)
	}

	now := d.now().UTC()
	stop, dr, err := d.deps.Assignments.UpdateStopStatus(ctx, ports.StopStatusChange{
		StopID:   stopID,
		DriverID: driverID,
		Status:   status,
		At:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("update stop status: %w", err)
	}
	if dr.Status == domain.DriverRouteCompleted {
		d.log.Info("driver route completed",
			zap.String("driver_route_id", dr.ID), zap.String("driver_id", driverID))
	}
	d.touch(ctx, driverID, location, now)
	return &StopUpdate{Stop: *stop, DriverRoute: *dr}, nil
}

func (d *DriverService) UpdateRouteStatus(ctx context.Context, driverID, driverRouteID string, status domain.DriverRouteStatus, location *domain.Coordinate) (dr *domain.DriverRoute, err error) {
	defer obs.Time(ctx, d.log, "drivers.UpdateRouteStatus")(&err)

	if driverID == "" {
		return nil, fmt.Errorf("update route status: driver_id required: %w", domain.ErrInvalidInput)
	}
	if !status.IsValid() || status == domain.DriverRouteAssigned {
		return nil, fmt.Errorf("update route status: unsupported status %q: %w", status, domain.ErrInvalidInput)
	}
	if err := validLocation(location); err != nil {
		return nil, fmt.Errorf("update route status: %w", err)
	}

	now := d.now().UTC()
	dr, err = d.deps.Assignments.UpdateDriverRouteStatus(ctx, ports.RouteStatusChange{
		DriverRouteID: driverRouteID,
		DriverID:      driverID,
		Status:        status,
		At:            now,
	})
	if err != nil {
		return nil, fmt.Errorf("update route status: %w", err)
	}
	d.touch(ctx, driverID, location, now)
	return dr, nil
}

// Heartbeat marks the driver as seen now, optionally at a new location.
func (d *DriverService) Heartbeat(ctx context.Context, driverID string, location *domain.Coordinate) (drv *domain.Driver, err error) {
	defer obs.Time(ctx, d.log, "drivers.Heartbeat")(&err)

	if err := validLocation(location); err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	if err := d.deps.Drivers.TouchDriver(ctx, driverID, location, d.now().UTC()); err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	drv, err = d.deps.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	return drv, nil
}

// GetDriverRoute returns an assignment with its stops in visiting order.
func (d *DriverService) GetDriverRoute(ctx context.Context, driverRouteID string) (*Assignment, error) {
	dr, err := d.deps.Assignments.GetDriverRoute(ctx, driverRouteID)
	if err != nil {
		return nil, fmt.Errorf("get driver route: %w", err)
	}
	stops, err := d.deps.Assignments.ListDeliveryStops(ctx, dr.ID)
	if err != nil {
		return nil, fmt.Errorf("get driver route: %w", err)
	}
	return &Assignment{DriverRoute: *dr, Stops: stops}, nil
}

// touch refreshes the heartbeat after a successful action; a failure is
// logged since the action itself already happened.
func (d *DriverService) touch(ctx context.Context, driverID string, location *domain.Coordinate, at time.Time) {
	touchDriver(ctx, d.deps.Drivers, d.log, driverID, location, at)
}

func touchDriver(ctx context.Context, drivers ports.DriverRepository, log *zap.Logger, driverID string, location *domain.Coordinate, at time.Time) {
	if drivers == nil {
		return
	}
	if err := drivers.TouchDriver(ctx, driverID, location, at); err != nil {
		log.Warn("driver heartbeat not refreshed", zap.String("driver_id", driverID), zap.Error(err))
	}
}

func validLocation(loc *domain.Coordinate) error {
	if loc == nil {
		return nil
	}
	if err := loc.Validate(); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	return nil
}
