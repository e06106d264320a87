package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"fleet-routing-service/internal/adapters/repositories"
	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nycDepot = domain.Stop{ID: "depot", Name: "Depot", Coordinate: domain.Coordinate{Lat: 40.7128, Lng: -74.0060}}

func manhattanStops() []domain.Stop {
	return []domain.Stop{
		{ID: "times-square", Coordinate: domain.Coordinate{Lat: 40.7580, Lng: -73.9855}},
		{ID: "empire-state", Coordinate: domain.Coordinate{Lat: 40.7484, Lng: -73.9857}},
		{ID: "union-square", Coordinate: domain.Coordinate{Lat: 40.7359, Lng: -73.9911}},
	}
}

func gridStops(n int) []domain.Stop {
	stops := make([]domain.Stop, n)
	for i := range stops {
		stops[i] = domain.Stop{
			ID:         fmt.Sprintf("s-%02d", i),
			Coordinate: domain.Coordinate{Lat: 40.70 + float64(i%4)*0.02, Lng: -74.02 + float64(i/4)*0.02},
		}
	}
	return stops
}

func newTestOptimizer(store *repositories.MemoryStore) *Optimizer {
	return NewOptimizer(OptimizerDeps{
		Routes:      store,
		Vehicles:    store,
		Assignments: store,
	}, OptimizerConfig{TimeBudget: 2 * time.Second, StallIterations: 10}, nil)
}

func deliveredIDs(rs *domain.RouteSet) []string {
	var ids []string
	for _, r := range rs.Routes {
		for _, s := range r.DeliveryStops() {
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func stopIDs(stops []domain.Stop) []string {
	ids := make([]string, len(stops))
	for i, s := range stops {
		ids[i] = s.ID
	}
	sort.Strings(ids)
	return ids
}

func assertDepotBracketed(t *testing.T, rs *domain.RouteSet) {
	t.Helper()
	for _, r := range rs.Routes {
		require.GreaterOrEqual(t, len(r.Stops), 2)
		assert.True(t, r.Stops[0].IsDepot, "route %s must start at the depot", r.VehicleID)
		assert.True(t, r.Stops[len(r.Stops)-1].IsDepot, "route %s must end at the depot", r.VehicleID)
	}
}

func TestOptimizeSingleVehicleManhattan(t *testing.T) {
	o := newTestOptimizer(repositories.NewMemoryStore())

	rs, err := o.Optimize(context.Background(), OptimizeRequest{
		Depot:        nycDepot,
		Stops:        manhattanStops(),
		VehicleCount: 1,
	})
	require.NoError(t, err)

	require.Len(t, rs.Routes, 1)
	route := rs.Routes[0]
	require.Len(t, route.Stops, 5)
	assertDepotBracketed(t, rs)
	assert.Equal(t, stopIDs(manhattanStops()), deliveredIDs(rs))

	var legs float64
	for i := 1; i < len(route.Stops); i++ {
		legs += geo.Haversine(route.Stops[i-1].Coordinate, route.Stops[i].Coordinate)
	}
	assert.InDelta(t, legs, route.TotalDistance, 1e-3)

	assert.False(t, rs.Metadata.FallbackUsed)
	assert.Equal(t, domain.StageNone, rs.Metadata.FallbackStage)
	assert.True(t, rs.Metadata.ObjectiveAchieved)
	assert.Equal(t, domain.ObjectiveDistance, rs.Metadata.Objective)

	assert.Greater(t, route.TotalFuel, 0.0)
	assert.InDelta(t, route.TotalFuel*DefaultFuelSavedRatio, route.FuelSaved, 1e-3)
	assert.InDelta(t, route.TotalFuel*DefaultFuelPricePerLiter, route.FuelCost, 1e-2)
	assert.InDelta(t, route.FuelSaved*DefaultFuelPricePerLiter, route.CostSaved, 1e-2)
	assert.Greater(t, route.CO2Kg, 0.0)
}

func TestOptimizePartitionsStopsAcrossVehicles(t *testing.T) {
	stops := gridStops(12)
	for _, obj := range []domain.Objective{domain.ObjectiveDistance, domain.ObjectiveTime, domain.ObjectiveFuel, domain.ObjectiveBalanced} {
		t.Run(string(obj), func(t *testing.T) {
			o := newTestOptimizer(repositories.NewMemoryStore())
			rs, err := o.Optimize(context.Background(), OptimizeRequest{
				Depot:         nycDepot,
				Stops:         stops,
				VehicleCount:  3,
				Objective:     obj,
				UseClustering: true,
			})
			require.NoError(t, err)
			require.Len(t, rs.Routes, 3)
			assertDepotBracketed(t, rs)
			assert.Equal(t, stopIDs(stops), deliveredIDs(rs))
			assert.Equal(t, obj, rs.Metadata.Objective)
		})
	}
}

func TestOptimizeUnreachableWindowFallsBack(t *testing.T) {
	stops := gridStops(5)
	// Philadelphia: no vehicle can arrive between 09:00 and 09:15 after leaving at 08:00.
	stops = append(stops, domain.Stop{
		ID:         "philadelphia",
		Coordinate: domain.Coordinate{Lat: 39.9526, Lng: -75.1652},
		TimeWindow: &domain.TimeWindow{Start: 9 * 3600, End: 9*3600 + 15*60},
	})
	o := newTestOptimizer(repositories.NewMemoryStore())

	rs, err := o.Optimize(context.Background(), OptimizeRequest{
		Depot:          nycDepot,
		Stops:          stops,
		VehicleCount:   2,
		UseClustering:  true,
		UseTimeWindows: true,
	})
	require.NoError(t, err)

	require.Len(t, rs.Routes, 2)
	assertDepotBracketed(t, rs)
	assert.Equal(t, stopIDs(stops), deliveredIDs(rs))
	assert.True(t, rs.Metadata.FallbackUsed)
	assert.Equal(t, domain.StageNoTimeWindows, rs.Metadata.FallbackStage)
	assert.True(t, rs.Metadata.ObjectiveAchieved)
}

func TestOptimizeWindowClosedBeforeDepartureFallsBack(t *testing.T) {
	stops := manhattanStops()
	stops[1].TimeWindow = &domain.TimeWindow{Start: 6 * 3600, End: 7 * 3600}
	o := newTestOptimizer(repositories.NewMemoryStore())

	rs, err := o.Optimize(context.Background(), OptimizeRequest{
		Depot:          nycDepot,
		Stops:          stops,
		VehicleCount:   1,
		UseTimeWindows: true,
	})
	require.NoError(t, err)

	assertDepotBracketed(t, rs)
	assert.ElementsMatch(t, stopIDs(stops), deliveredIDs(rs))
	assert.True(t, rs.Metadata.FallbackUsed)
	assert.Equal(t, domain.StageNoTimeWindows, rs.Metadata.FallbackStage)
}

func TestOptimizerConfigDefaults(t *testing.T) {
	cfg := OptimizerConfig{}.withDefaults()
	assert.Equal(t, DefaultFuelSavedRatio, cfg.FuelSavedRatio)
	assert.Equal(t, DefaultFuelPricePerLiter, cfg.FuelPricePerLiter)
	assert.NotNil(t, cfg.TypeSpecs)

	cfg = OptimizerConfig{FuelSavedRatio: 0.25}.withDefaults()
	assert.Equal(t, 0.25, cfg.FuelSavedRatio)
}

func TestOptimizeCancelledContextUsesManualRoutes(t *testing.T) {
	stops := gridStops(7)
	o := newTestOptimizer(repositories.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rs, err := o.Optimize(ctx, OptimizeRequest{Depot: nycDepot, Stops: stops, VehicleCount: 3})
	require.NoError(t, err)

	require.Len(t, rs.Routes, 3)
	assertDepotBracketed(t, rs)
	assert.Equal(t, stopIDs(stops), deliveredIDs(rs))
	assert.Equal(t, domain.StageManual, rs.Metadata.FallbackStage)
	assert.True(t, rs.Metadata.FallbackUsed)
	assert.False(t, rs.Metadata.ObjectiveAchieved)
	// Without clusters the stop list is sliced by position: 2, 2, 3.
	assert.Len(t, rs.Routes[0].DeliveryStops(), 2)
	assert.Len(t, rs.Routes[2].DeliveryStops(), 3)
}

func TestOptimizeMoreVehiclesThanStops(t *testing.T) {
	o := newTestOptimizer(repositories.NewMemoryStore())

	rs, err := o.Optimize(context.Background(), OptimizeRequest{
		Depot:         nycDepot,
		Stops:         manhattanStops()[:2],
		VehicleCount:  4,
		UseClustering: true,
	})
	require.NoError(t, err)

	require.Len(t, rs.Routes, 4)
	assertDepotBracketed(t, rs)
	empty := 0
	for _, r := range rs.Routes {
		if len(r.DeliveryStops()) == 0 {
			empty++
			assert.Len(t, r.Stops, 2)
			assert.Zero(t, r.TotalDistance)
			assert.Zero(t, r.TotalFuel)
		}
	}
	assert.Equal(t, 2, empty)
}

func TestOptimizeExplicitClusters(t *testing.T) {
	stops := gridStops(4)
	o := newTestOptimizer(repositories.NewMemoryStore())

	rs, err := o.Optimize(context.Background(), OptimizeRequest{
		Depot:        nycDepot,
		Stops:        stops,
		VehicleCount: 2,
		Clusters:     [][]int{{0, 3}, {1, 2}},
	})
	require.NoError(t, err)

	got0 := []string{}
	for _, s := range rs.Routes[0].DeliveryStops() {
		got0 = append(got0, s.ID)
	}
	assert.ElementsMatch(t, []string{stops[0].ID, stops[3].ID}, got0)
}

func TestOptimizeRejectsInvalidInput(t *testing.T) {
	o := newTestOptimizer(repositories.NewMemoryStore())
	bad := domain.Stop{ID: "bad", Coordinate: domain.Coordinate{Lat: 91, Lng: 0}}

	tests := map[string]OptimizeRequest{
		"no vehicles":      {Depot: nycDepot, Stops: manhattanStops(), VehicleCount: 0},
		"no stops":         {Depot: nycDepot, VehicleCount: 1},
		"bad coordinate":   {Depot: nycDepot, Stops: []domain.Stop{bad}, VehicleCount: 1},
		"missing depot":    {Stops: manhattanStops(), VehicleCount: 1},
		"cluster mismatch": {Depot: nycDepot, Stops: manhattanStops(), VehicleCount: 2, Clusters: [][]int{{0, 1, 2}}},
		"cluster overlap":  {Depot: nycDepot, Stops: manhattanStops(), VehicleCount: 2, Clusters: [][]int{{0, 1}, {1, 2}}},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := o.Optimize(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

type stubGeocoder map[string]*domain.Coordinate

func (g stubGeocoder) Geocode(ctx context.Context, address string) (*domain.Coordinate, error) {
	c, ok := g[address]
	if !ok {
		return nil, errors.New("geocoder unavailable")
	}
	return c, nil
}

func TestOptimizeExcludesUngeocodedStops(t *testing.T) {
	store := repositories.NewMemoryStore()
	o := NewOptimizer(OptimizerDeps{
		Routes:   store,
		Geocoder: stubGeocoder{"350 5th Ave": {Lat: 40.7484, Lng: -73.9857}},
	}, OptimizerConfig{TimeBudget: time.Second}, nil)

	rs, err := o.Optimize(context.Background(), OptimizeRequest{
		Depot: nycDepot,
		Stops: []domain.Stop{
			{ID: "geocoded", Address: "350 5th Ave"},
			{ID: "unknown", Address: "nowhere"},
			{ID: "no-address"},
			manhattanStops()[0],
		},
		VehicleCount: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"geocoded", "times-square"}, deliveredIDs(rs))
	assert.Equal(t, 2, rs.Metadata.ExcludedCount)
	assert.ElementsMatch(t, []string{"unknown", "no-address"}, rs.Metadata.ExcludedStops)
}

type stubTraffic struct{ snap *domain.TrafficSnapshot }

func (s stubTraffic) Snapshot(ctx context.Context, coords []domain.Coordinate) *domain.TrafficSnapshot {
	return s.snap
}

func TestOptimizeTrafficAware(t *testing.T) {
	store := repositories.NewMemoryStore()
	stops := manhattanStops()
	snap := &domain.TrafficSnapshot{
		TrafficSignals: []domain.Coordinate{stops[0].Coordinate},
		CongestionAreas: []domain.CongestionArea{
			{ID: "way-1", Coords: []domain.Coordinate{stops[1].Coordinate}, Level: 0.8},
		},
		IsSimulated: true,
	}
	o := NewOptimizer(OptimizerDeps{Routes: store, Traffic: stubTraffic{snap}},
		OptimizerConfig{TimeBudget: time.Second}, nil)

	rs, err := o.Optimize(context.Background(), OptimizeRequest{
		Depot:        nycDepot,
		Stops:        stops,
		VehicleCount: 1,
		Objective:    domain.ObjectiveTime,
		TrafficAware: true,
		// Tuesday 08:00 is rush hour.
		DepartAt: time.Date(2026, 3, 3, 8, 0, 0, 0, time.Local),
	})
	require.NoError(t, err)

	assert.True(t, rs.Metadata.TrafficAware)
	assert.True(t, rs.Metadata.IsSimulated)
	require.NotNil(t, rs.Traffic)
	route := rs.Routes[0]
	assert.Greater(t, route.TrafficImpact, 0.0)
	for _, s := range route.Stops[1:] {
		assert.GreaterOrEqual(t, s.TrafficFactor, 1.0)
		assert.LessOrEqual(t, s.TrafficFactor, 3.0)
	}
}

func TestSaveLoadAndAssignRoute(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryStore()
	o := newTestOptimizer(store)

	rs, err := o.Optimize(ctx, OptimizeRequest{
		Name:         "morning",
		Depot:        nycDepot,
		Stops:        manhattanStops(),
		VehicleCount: 1,
		Vehicles:     []domain.VehicleProfile{{ID: "truck-7", Type: domain.VehicleTruck}},
		Save:         true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, rs.ID)

	loaded, err := o.LoadRoute(ctx, rs.ID)
	require.NoError(t, err)
	assert.Equal(t, "morning", loaded.Name)
	assert.Equal(t, domain.VehicleTruck, loaded.Routes[0].VehicleType)

	// Unknown vehicle ids fall back to the first route.
	a, err := o.AssignRoute(ctx, rs.ID, "no-such-vehicle", "driver-1")
	require.NoError(t, err)
	dr := a.DriverRoute
	assert.Equal(t, "truck-7", dr.VehicleID)
	assert.Len(t, a.Stops, 3)
	assert.Equal(t, domain.DriverRouteAssigned, dr.Status)

	stops, err := store.ListDeliveryStops(ctx, dr.ID)
	require.NoError(t, err)
	require.Len(t, stops, 3)
	for i, s := range stops {
		assert.Equal(t, i+1, s.StopNumber)
		assert.Equal(t, domain.StopPending, s.Status)
		require.NotNil(t, s.PlannedArrival)
	}

	_, err = o.AssignRoute(ctx, "missing", "", "driver-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOptimizeLoadsVehiclesFromRepository(t *testing.T) {
	store := repositories.NewMemoryStore()
	store.Seed(repositories.SeedData{Vehicles: []domain.VehicleProfile{
		{ID: "bike-1", Type: domain.VehicleMotorbike},
	}})
	o := newTestOptimizer(store)

	rs, err := o.Optimize(context.Background(), OptimizeRequest{
		Depot:        nycDepot,
		Stops:        manhattanStops(),
		VehicleCount: 2,
		VehicleIDs:   []string{"bike-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "bike-1", rs.Routes[0].VehicleID)
	assert.Equal(t, domain.VehicleMotorbike, rs.Routes[0].VehicleType)
	assert.Equal(t, "vehicle-2", rs.Routes[1].VehicleID)
	assert.Equal(t, domain.VehicleVan, rs.Routes[1].VehicleType)

	_, err = o.Optimize(context.Background(), OptimizeRequest{
		Depot:        nycDepot,
		Stops:        manhattanStops(),
		VehicleCount: 1,
		VehicleIDs:   []string{"ghost"},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
