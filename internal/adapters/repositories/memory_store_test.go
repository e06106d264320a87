package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fleet-routing-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededMemoryStore(t *testing.T, now time.Time) (*MemoryStore, handOffFixture) {
	t.Helper()
	ctx := context.Background()
	f := newHandOffFixture(now)
	s := NewMemoryStore()
	require.NoError(t, s.CreateDriverRoute(ctx, f.route, f.stops))
	require.NoError(t, s.CreateIncident(ctx, f.incident))
	require.NoError(t, s.CreateTransfer(ctx, f.transfer))
	return s, f
}

func TestMemoryStoreHandOff(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s, f := seededMemoryStore(t, now)

	tr, err := s.CompleteHandOff(ctx, f.handOff("d-2", "dr-2", now))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferAccepted, tr.Status)
	require.NotNil(t, tr.NewDriverID)
	assert.Equal(t, "d-2", *tr.NewDriverID)

	orig, err := s.ListDeliveryStops(ctx, "dr-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StopCompleted, orig[0].Status)
	assert.Equal(t, domain.StopTransferred, orig[1].Status)
	assert.Equal(t, domain.StopTransferred, orig[2].Status)

	cloned, err := s.ListDeliveryStops(ctx, "dr-2")
	require.NoError(t, err)
	require.Len(t, cloned, 2)
	for _, c := range cloned {
		assert.Equal(t, domain.StopPending, c.Status)
	}

	inc, err := s.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentAssistanceAssigned, inc.Status)

	_, err = s.CompleteHandOff(ctx, f.handOff("d-3", "dr-3", now))
	assert.ErrorIs(t, err, domain.ErrOfferWithdrawn)
	_, err = s.GetDriverRoute(ctx, "dr-3")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStoreConcurrentHandOffHasOneWinner(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s, f := seededMemoryStore(t, now)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.CompleteHandOff(ctx, f.handOff(fmt.Sprintf("d-%d", i+10), fmt.Sprintf("new-%d", i), now))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrOfferWithdrawn):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)

	tr, err := s.GetTransfer(ctx, "tr-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferAccepted, tr.Status)
	require.NotNil(t, tr.NewDriverID)
}

func TestMemoryStoreCancelPendingTransfers(t *testing.T) {
	ctx := context.Background()
	s, _ := seededMemoryStore(t, time.Now())

	n, err := s.CancelPendingTransfers(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CancelPendingTransfers(ctx, "inc-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	byDriver, err := s.ListTransfersByDriver(ctx, "d-1")
	require.NoError(t, err)
	require.Len(t, byDriver, 1)
	assert.Equal(t, domain.TransferCancelled, byDriver[0].Status)
}

func TestMemoryStoreRoutesRoundTripAsJSON(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rs := &domain.RouteSet{
		Name:  "morning",
		Depot: domain.Stop{ID: "depot", Coordinate: domain.Coordinate{Lat: 40.7128, Lng: -74.0060}},
		Routes: []domain.Route{{
			VehicleID: "vehicle-1",
			Stops: []domain.RouteStop{
				{ID: "depot", IsDepot: true},
				{ID: "a", TimeWindow: &domain.TimeWindow{Start: 9 * 3600, End: 10 * 3600}},
				{ID: "depot", IsDepot: true},
			},
			TotalDistance: 12.5,
		}},
		Metadata: domain.RouteMetadata{Objective: domain.ObjectiveFuel, FallbackStage: domain.StageNone},
	}

	id, err := s.SaveRoute(ctx, rs)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetRoute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, rs.Routes, got.Routes)
	assert.Equal(t, domain.ObjectiveFuel, got.Metadata.Objective)

	_, err = s.GetRoute(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStoreActiveDrivers(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	recent, stale := now.Add(-5*time.Minute), now.Add(-2*time.Hour)
	s := NewMemoryStore()
	s.Seed(SeedData{Drivers: []domain.Driver{
		{ID: "a", IsActive: true, LastSeenAt: &recent},
		{ID: "b", IsActive: true, LastSeenAt: &stale},
		{ID: "c", IsActive: false, LastSeenAt: &recent},
		{ID: "d", IsActive: true},
	}})

	got, err := s.ListActiveDrivers(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestMemoryStoreStopStatusUpdates(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s, f := seededMemoryStore(t, now)
	checkStopStatusUpdates(t, s, f, now.Add(time.Hour))
}

func TestMemoryStoreCompletedStopSurvivesHandOff(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s, f := seededMemoryStore(t, now)
	checkCompletedStopSurvivesHandOff(t, s, f, now)
}

func TestMemoryStoreOneOpenIncidentPerRoute(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s, f := seededMemoryStore(t, now)
	checkOneOpenIncidentPerRoute(t, s, f, now)
}

func TestMemoryStoreTouchDriver(t *testing.T) {
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)
	loc := domain.Coordinate{Lat: 40.7, Lng: -74}
	s := NewMemoryStore()
	s.Seed(SeedData{Drivers: []domain.Driver{{ID: "a", IsActive: true, LastSeenAt: &old, Location: &loc}}})

	seen := time.Now()
	require.NoError(t, s.TouchDriver(ctx, "a", nil, seen))
	d, err := s.GetDriver(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, seen, *d.LastSeenAt)
	assert.Equal(t, loc, *d.Location)

	moved := domain.Coordinate{Lat: 40.8, Lng: -73.9}
	require.NoError(t, s.TouchDriver(ctx, "a", &moved, seen))
	d, err = s.GetDriver(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, moved, *d.Location)

	active, err := s.ListActiveDrivers(ctx, seen.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, active, 1)

	assert.ErrorIs(t, s.TouchDriver(ctx, "missing", nil, seen), domain.ErrNotFound)
}
