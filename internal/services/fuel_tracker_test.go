package services

import (
	"context"
	"testing"
	"time"

	"fleet-routing-service/internal/adapters/repositories"
	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/fuel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackerRouteSet() *domain.RouteSet {
	depot := domain.RouteStop{ID: "depot", IsDepot: true}
	return &domain.RouteSet{
		ID: "rs-1",
		Routes: []domain.Route{
			{
				VehicleID: "van-1", VehicleType: domain.VehicleVan,
				Stops:         []domain.RouteStop{depot, {ID: "a", LegDistance: 4, TrafficFactor: 1.2}, depot},
				TotalDistance: 8, TotalTime: 0.4, TotalFuel: 1.1,
			},
			{
				VehicleID: "truck-2", VehicleType: domain.VehicleTruck,
				Stops: []domain.RouteStop{
					depot,
					{ID: "b", LegDistance: 10, TrafficFactor: 1.0},
					{ID: "c", LegDistance: 5, TrafficFactor: 1.4},
					{ID: "d", LegDistance: 5, TrafficFactor: 1.0},
					{ID: "depot", IsDepot: true, LegDistance: 20, TrafficFactor: 1.2},
				},
				TotalDistance: 40, TotalTime: 1.6, TotalFuel: 9.5,
			},
		},
	}
}

func newTestTracker(t *testing.T) (*FuelTracker, *repositories.MemoryStore, *fuel.LinearModel) {
	t.Helper()
	store := repositories.NewMemoryStore()
	_, err := store.SaveRoute(context.Background(), trackerRouteSet())
	require.NoError(t, err)
	model := fuel.NewLinearModel()
	tracker := NewFuelTracker(store, store, model, nil, nil)
	tracker.now = func() time.Time { return time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC) }
	return tracker, store, model
}

// variedRecords cycles vehicle and road types so the training matrix has full rank.
func variedRecords(n int) []domain.FuelRecord {
	types := []domain.VehicleType{domain.VehicleCar, domain.VehicleVan, domain.VehicleTruck}
	roads := []domain.RoadType{domain.RoadHighway, domain.RoadUrban, domain.RoadMixed}
	out := make([]domain.FuelRecord, n)
	for i := range out {
		r := domain.FuelRecord{
			ID:            string(rune('a' + i)),
			VehicleType:   types[i%3],
			RoadType:      roads[(i/3)%3],
			DistanceKm:    10 + float64(i*i)*3.7,
			LoadKg:        float64((i * 317) % 1900),
			TrafficFactor: 1 + float64(i%5)*0.3,
			StopFrequency: float64((i*7)%11) / 20,
		}
		r.PredictedFuel = fuel.Estimate(fuel.InputFromRecord(r))
		r.ActualFuel = 1.15 * r.PredictedFuel
		out[i] = r
	}
	return out
}

func TestRecordActualFuelSelectsVehicleRoute(t *testing.T) {
	tracker, store, _ := newTestTracker(t)

	rec, err := tracker.RecordActualFuel(context.Background(), FuelObservation{
		RouteID: "rs-1", VehicleID: "truck-2", DriverID: "d-1", ActualFuel: 10.2, LoadKg: 800,
	})
	require.NoError(t, err)

	assert.Equal(t, "truck-2", rec.VehicleID)
	assert.Equal(t, domain.VehicleTruck, rec.VehicleType)
	assert.Equal(t, 9.5, rec.PredictedFuel)
	assert.Equal(t, 40.0, rec.DistanceKm)
	assert.InDelta(t, 25.0, rec.AvgSpeedKmh, 1e-9)
	assert.InDelta(t, 3.0/40, rec.StopFrequency, 1e-9)
	assert.InDelta(t, 1.15, rec.TrafficFactor, 1e-9)
	assert.Equal(t, 7500.0, rec.VehicleWeightKg)
	assert.InDelta(t, 0.7, rec.PredictionError(), 1e-9)

	stored, err := store.ListFuelRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRecordActualFuelUnknownVehicleUsesFirstRoute(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	rec, err := tracker.RecordActualFuel(context.Background(), FuelObservation{RouteID: "rs-1", VehicleID: "bike-9", ActualFuel: 1})
	require.NoError(t, err)
	assert.Equal(t, "van-1", rec.VehicleID)
	assert.InDelta(t, 1.2, rec.TrafficFactor, 1e-9)
}

func TestRecordActualFuelRejectsBadInput(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.RecordActualFuel(ctx, FuelObservation{RouteID: "rs-1", ActualFuel: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = tracker.RecordActualFuel(ctx, FuelObservation{ActualFuel: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = tracker.RecordActualFuel(ctx, FuelObservation{RouteID: "missing", ActualFuel: 3})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTenthRecordTrainsModel(t *testing.T) {
	tracker, store, model := newTestTracker(t)
	ctx := context.Background()

	for _, r := range variedRecords(fuel.MinTrainingRecords - 1) {
		require.NoError(t, store.SaveFuelRecord(ctx, r))
	}
	require.NoError(t, tracker.Warm(ctx))
	assert.False(t, model.Trained())

	_, err := tracker.RecordActualFuel(ctx, FuelObservation{RouteID: "rs-1", VehicleID: "van-1", ActualFuel: 1.3})
	require.NoError(t, err)
	assert.True(t, model.Trained())
	assert.Equal(t, fuel.MinTrainingRecords, model.Samples())
}

func TestWarmTrainsFromStoredRecords(t *testing.T) {
	tracker, store, model := newTestTracker(t)
	ctx := context.Background()

	records := variedRecords(15)
	for _, r := range records {
		require.NoError(t, store.SaveFuelRecord(ctx, r))
	}
	require.NoError(t, tracker.Warm(ctx))
	require.True(t, model.Trained())

	in := fuel.InputFromRecord(records[4])
	got, err := model.Predict(in)
	require.NoError(t, err)
	assert.InDelta(t, records[4].ActualFuel, got, 1e-3)
}

func TestAnalyzeAccuracy(t *testing.T) {
	tracker, store, _ := newTestTracker(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, r := range []domain.FuelRecord{
		{ID: "r1", DriverID: "a", VehicleType: domain.VehicleVan, RoadType: domain.RoadUrban, PredictedFuel: 10, ActualFuel: 12},
		{ID: "r2", DriverID: "b", VehicleType: domain.VehicleVan, RoadType: domain.RoadHighway, PredictedFuel: 10, ActualFuel: 8},
		{ID: "r3", DriverID: "a", VehicleType: domain.VehicleTruck, RoadType: domain.RoadUrban, PredictedFuel: 20, ActualFuel: 20},
	} {
		r.RecordedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.SaveFuelRecord(ctx, r))
	}

	rep, err := tracker.AnalyzeAccuracy(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Records)
	assert.InDelta(t, 1.333, rep.MeanAbsoluteError, 1e-9)
	assert.InDelta(t, -2.78, rep.MeanErrorPercent, 1e-9)
	assert.InDelta(t, 86.11, rep.AccuracyPercent, 1e-9)
	assert.InDelta(t, 33.33, rep.OverestimationRate, 1e-9)
	assert.InDelta(t, 33.33, rep.UnderestimationRate, 1e-9)

	require.Contains(t, rep.ByVehicleType, "van")
	assert.Equal(t, 2, rep.ByVehicleType["van"].Records)
	assert.InDelta(t, 2.0, rep.ByVehicleType["van"].MeanAbsoluteError, 1e-9)
	assert.InDelta(t, -4.17, rep.ByVehicleType["van"].MeanErrorPercent, 1e-9)
	assert.Equal(t, 2, rep.ByRoadType["urban"].Records)

	require.Len(t, rep.RecentTrend, 3)
	assert.Equal(t, base.Add(2*time.Hour), rep.RecentTrend[0].RecordedAt)

	require.Len(t, rep.DriverEfficiency, 2)
	assert.Equal(t, "b", rep.DriverEfficiency[0].DriverID)
	assert.InDelta(t, 0.8, rep.DriverEfficiency[0].Efficiency, 1e-9)
	assert.InDelta(t, 1.1, rep.DriverEfficiency[1].Efficiency, 1e-9)
	assert.False(t, rep.ModelTrained)
}

func TestAnalyzeAccuracyEmpty(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	rep, err := tracker.AnalyzeAccuracy(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Records)
	assert.Empty(t, rep.RecentTrend)
	assert.NotNil(t, rep.ByVehicleType)
}
