package repositories

import (
	"context"
	"testing"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// handOffFixture is a driver route with two undelivered stops and one
// pending transfer covering them.
type handOffFixture struct {
	route    domain.DriverRoute
	stops    []domain.DeliveryStop
	incident domain.Incident
	transfer domain.Transfer
}

func newHandOffFixture(now time.Time) handOffFixture {
	route := domain.DriverRoute{
		ID: "dr-1", DriverID: "d-1", RouteID: "r-1", VehicleID: "v-1",
		Status: domain.DriverRouteInProgress, CreatedAt: now,
	}
	stops := []domain.DeliveryStop{
		{ID: "s-1", DriverRouteID: "dr-1", LocationID: "loc-1", Name: "A", StopNumber: 1, Status: domain.StopCompleted,
			Coordinate: domain.Coordinate{Lat: 40.71, Lng: -74.00}},
		{ID: "s-2", DriverRouteID: "dr-1", LocationID: "loc-2", Name: "B", StopNumber: 2, Status: domain.StopPending,
			Coordinate: domain.Coordinate{Lat: 40.72, Lng: -74.01}},
		{ID: "s-3", DriverRouteID: "dr-1", LocationID: "loc-3", Name: "C", StopNumber: 3, Status: domain.StopArrived,
			Coordinate: domain.Coordinate{Lat: 40.73, Lng: -74.02}},
	}
	inc := domain.Incident{
		ID: "inc-1", DriverRouteID: "dr-1", DriverID: "d-1", Type: "breakdown",
		Location: domain.Coordinate{Lat: 40.72, Lng: -74.01}, Status: domain.IncidentReported, ReportedAt: now,
	}
	tr := domain.Transfer{
		ID: "tr-1", IncidentID: "inc-1", OriginalDriverID: "d-1", OriginalRouteID: "dr-1",
		StopIDs: []string{"s-2", "s-3"}, Status: domain.TransferPending,
		RequiredCapacity: domain.RequiredCapacityFor(2), CreatedAt: now,
	}
	return handOffFixture{route: route, stops: stops, incident: inc, transfer: tr}
}

func (f handOffFixture) handOff(driverID, newRouteID string, at time.Time) ports.HandOff {
	parent := f.route.ID
	return ports.HandOff{
		TransferID:  f.transfer.ID,
		IncidentID:  f.incident.ID,
		NewDriverID: driverID,
		NewRoute: domain.DriverRoute{
			ID: newRouteID, DriverID: driverID, RouteID: f.route.RouteID,
			Status: domain.DriverRouteAssigned, IsTransfer: true, ParentID: &parent, CreatedAt: at,
		},
		ClonedStops: []domain.DeliveryStop{
			{ID: newRouteID + "-1", DriverRouteID: newRouteID, LocationID: "loc-2", StopNumber: 1, Status: domain.StopPending},
			{ID: newRouteID + "-2", DriverRouteID: newRouteID, LocationID: "loc-3", StopNumber: 2, Status: domain.StopPending},
		},
		OriginalStopIDs: []string{"s-2", "s-3"},
		AcceptedAt:      at,
	}
}

type workflowStore interface {
	ports.AssignmentRepository
	ports.IncidentRepository
	ports.TransferRepository
}

// checkStopStatusUpdates expects the seeded fixture: s-1 completed, s-2
// pending and s-3 arrived on an in-progress route.
func checkStopStatusUpdates(t *testing.T, s workflowStore, f handOffFixture, at time.Time) {
	t.Helper()
	ctx := context.Background()
	change := func(stopID, driverID string, status domain.DeliveryStopStatus) ports.StopStatusChange {
		return ports.StopStatusChange{StopID: stopID, DriverID: driverID, Status: status, At: at}
	}

	_, _, err := s.UpdateStopStatus(ctx, change("s-2", "d-2", domain.StopCompleted))
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, _, err = s.UpdateStopStatus(ctx, change("s-9", "d-1", domain.StopCompleted))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stop, dr, err := s.UpdateStopStatus(ctx, change("s-2", "d-1", domain.StopCompleted))
	require.NoError(t, err)
	assert.Equal(t, domain.StopCompleted, stop.Status)
	require.NotNil(t, stop.ActualArrival)
	assert.True(t, at.Equal(*stop.ActualArrival))
	assert.Equal(t, domain.DriverRouteInProgress, dr.Status)

	_, _, err = s.UpdateStopStatus(ctx, change("s-2", "d-1", domain.StopFailed))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, dr, err = s.UpdateStopStatus(ctx, change("s-3", "d-1", domain.StopFailed))
	require.NoError(t, err)
	assert.Equal(t, domain.DriverRouteCompleted, dr.Status)

	stored, err := s.GetDriverRoute(ctx, f.route.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DriverRouteCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, at.Equal(*stored.CompletedAt))

	_, err = s.UpdateDriverRouteStatus(ctx, ports.RouteStatusChange{
		DriverRouteID: f.route.ID, DriverID: "d-1", Status: domain.DriverRouteInProgress, At: at,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

// checkCompletedStopSurvivesHandOff delivers s-2 after the offer was made;
// accepting the offer must leave it completed.
func checkCompletedStopSurvivesHandOff(t *testing.T, s workflowStore, f handOffFixture, at time.Time) {
	t.Helper()
	ctx := context.Background()

	_, _, err := s.UpdateStopStatus(ctx, ports.StopStatusChange{StopID: "s-2", DriverID: "d-1", Status: domain.StopCompleted, At: at})
	require.NoError(t, err)
	_, err = s.CompleteHandOff(ctx, f.handOff("d-2", "dr-2", at))
	require.NoError(t, err)

	orig, err := s.ListDeliveryStops(ctx, f.route.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StopCompleted, orig[1].Status)
	assert.Equal(t, domain.StopTransferred, orig[2].Status)
}

func checkOneOpenIncidentPerRoute(t *testing.T, s workflowStore, f handOffFixture, at time.Time) {
	t.Helper()
	ctx := context.Background()
	second := f.incident
	second.ID = "inc-2"

	assert.ErrorIs(t, s.CreateIncident(ctx, second), domain.ErrIncidentOpen)

	first := f.incident
	require.NoError(t, first.TransitionTo(domain.IncidentResolved, at))
	require.NoError(t, s.UpdateIncident(ctx, first))
	require.NoError(t, s.CreateIncident(ctx, second))
}
