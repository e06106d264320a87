package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/fuel"
	"fleet-routing-service/internal/platform/obs"
	"fleet-routing-service/internal/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const recentTrendSize = 10

// FuelTracker stores actual consumption against predictions and retrains
// the learned fuel model as records accumulate.
type FuelTracker struct {
	routes  ports.RouteRepository
	records ports.FuelRecordRepository
	model   *fuel.LinearModel
	specs   domain.TypeSpecs
	log     *zap.Logger
	now     func() time.Time
}

func NewFuelTracker(routes ports.RouteRepository, records ports.FuelRecordRepository, model *fuel.LinearModel, specs domain.TypeSpecs, log *zap.Logger) *FuelTracker {
	if log == nil {
		log = zap.NewNop()
	}
	if specs == nil {
		specs = domain.DefaultTypeSpecs()
	}
	return &FuelTracker{routes: routes, records: records, model: model, specs: specs, log: log, now: time.Now}
}

// Warm trains the model from stored records, if there are enough.
func (t *FuelTracker) Warm(ctx context.Context) error {
	recs, err := t.records.ListFuelRecords(ctx)
	if err != nil {
		return fmt.Errorf("warm fuel model: %w", err)
	}
	t.retrain(recs)
	return nil
}

type FuelObservation struct {
	RouteID    string
	VehicleID  string
	DriverID   string
	ActualFuel float64
	LoadKg     float64
}

// RecordActualFuel stores the actual litres burnt on a vehicle's route. The
// vehicle's route is chosen by exact id, else the first route.
func (t *FuelTracker) RecordActualFuel(ctx context.Context, ob FuelObservation) (rec *domain.FuelRecord, err error) {
	defer obs.Time(ctx, t.log, "fuel.RecordActualFuel")(&err)

	if ob.RouteID == "" || ob.ActualFuel <= 0 || math.IsNaN(ob.ActualFuel) {
		return nil, fmt.Errorf("record fuel: route_id and a positive actual_fuel are required: %w", domain.ErrInvalidInput)
	}
	rs, err := t.routes.GetRoute(ctx, ob.RouteID)
	if err != nil {
		return nil, fmt.Errorf("record fuel: %w", err)
	}
	route, ok := domain.SelectVehicleRoute(rs.Routes, ob.VehicleID)
	if !ok {
		return nil, fmt.Errorf("record fuel: route %s has no vehicles: %w", ob.RouteID, domain.ErrNotFound)
	}

	r := domain.FuelRecord{
		ID:              uuid.NewString(),
		RouteID:         ob.RouteID,
		VehicleID:       route.VehicleID,
		DriverID:        ob.DriverID,
		VehicleType:     route.VehicleType,
		PredictedFuel:   route.TotalFuel,
		ActualFuel:      ob.ActualFuel,
		DistanceKm:      route.TotalDistance,
		VehicleWeightKg: t.specs.Spec(route.VehicleType).WeightKg,
		LoadKg:          ob.LoadKg,
		TrafficFactor:   meanTrafficFactor(route),
		RoadType:        fuel.RoadTypeFor(route.TotalDistance, route.TotalDistance),
		RecordedAt:      t.now().UTC(),
	}
	if route.TotalTime > 0 {
		r.AvgSpeedKmh = route.TotalDistance / route.TotalTime
	}
	if route.TotalDistance > 0 {
		r.StopFrequency = float64(len(route.DeliveryStops())) / route.TotalDistance
	}

	if err := t.records.SaveFuelRecord(ctx, r); err != nil {
		return nil, fmt.Errorf("record fuel: %w", err)
	}

	recs, err := t.records.ListFuelRecords(ctx)
	if err != nil {
		t.log.Warn("fuel model not retrained", zap.Error(err))
		return &r, nil
	}
	t.retrain(recs)
	return &r, nil
}

func (t *FuelTracker) retrain(recs []domain.FuelRecord) {
	if t.model == nil {
		return
	}
	if err := t.model.Train(recs); err != nil {
		if errors.Is(err, fuel.ErrInsufficientData) {
			t.log.Debug("fuel model waiting for data", zap.Int("records", len(recs)))
			return
		}
		t.log.Warn("fuel model training failed", zap.Error(err))
		return
	}
	t.log.Info("fuel model retrained", zap.Int("records", len(recs)))
}

func meanTrafficFactor(r domain.Route) float64 {
	var sum float64
	var n int
	for _, s := range r.Stops {
		if s.TrafficFactor > 0 {
			sum += s.TrafficFactor
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}

type GroupAccuracy struct {
	Records           int     `json:"records"`
	MeanAbsoluteError float64 `json:"mean_absolute_error"`
	MeanErrorPercent  float64 `json:"mean_error_percent"`
}

type TrendPoint struct {
	RecordedAt   time.Time `json:"date"`
	ErrorPercent float64   `json:"error_percent"`
}

type DriverEfficiency struct {
	DriverID string `json:"driver_id"`
	Records  int    `json:"records"`
	// Efficiency is mean actual/predicted; below 1 beats the prediction.
	Efficiency float64 `json:"efficiency"`
}

type AccuracyReport struct {
	Records             int                      `json:"records"`
	MeanAbsoluteError   float64                  `json:"mean_absolute_error"`
	MeanErrorPercent    float64                  `json:"mean_error_percent"`
	AccuracyPercent     float64                  `json:"accuracy_percent"`
	OverestimationRate  float64                  `json:"overestimation_rate"`
	UnderestimationRate float64                  `json:"underestimation_rate"`
	ByVehicleType       map[string]GroupAccuracy `json:"by_vehicle_type"`
	ByRoadType          map[string]GroupAccuracy `json:"by_road_type"`
	RecentTrend         []TrendPoint             `json:"recent_trend"`
	DriverEfficiency    []DriverEfficiency       `json:"driver_efficiency"`
	ModelTrained        bool                     `json:"model_trained"`
	ModelSamples        int                      `json:"model_samples"`
}

// AnalyzeAccuracy summarises prediction quality over all stored records.
func (t *FuelTracker) AnalyzeAccuracy(ctx context.Context) (rep *AccuracyReport, err error) {
	defer obs.Time(ctx, t.log, "fuel.AnalyzeAccuracy")(&err)

	recs, err := t.records.ListFuelRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("analyze fuel accuracy: %w", err)
	}
	rep = &AccuracyReport{
		Records:       len(recs),
		ByVehicleType: map[string]GroupAccuracy{},
		ByRoadType:    map[string]GroupAccuracy{},
	}
	if t.model != nil {
		rep.ModelTrained = t.model.Trained()
		rep.ModelSamples = t.model.Samples()
	}
	if len(recs) == 0 {
		return rep, nil
	}

	var over, under int
	byVehicle := map[string][]domain.FuelRecord{}
	byRoad := map[string][]domain.FuelRecord{}
	for _, r := range recs {
		switch e := r.PredictionError(); {
		case e < 0:
			over++
		case e > 0:
			under++
		}
		byVehicle[string(r.VehicleType)] = append(byVehicle[string(r.VehicleType)], r)
		byRoad[string(r.RoadType)] = append(byRoad[string(r.RoadType)], r)
	}

	all := summarize(recs)
	rep.MeanAbsoluteError = all.MeanAbsoluteError
	rep.MeanErrorPercent = all.MeanErrorPercent
	rep.AccuracyPercent = round2(math.Max(0, 100-meanAbsPercent(recs)))
	rep.OverestimationRate = round2(float64(over) / float64(len(recs)) * 100)
	rep.UnderestimationRate = round2(float64(under) / float64(len(recs)) * 100)
	for k, g := range byVehicle {
		rep.ByVehicleType[k] = summarize(g)
	}
	for k, g := range byRoad {
		rep.ByRoadType[k] = summarize(g)
	}

	sorted := append([]domain.FuelRecord(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RecordedAt.After(sorted[j].RecordedAt) })
	for i := 0; i < len(sorted) && i < recentTrendSize; i++ {
		rep.RecentTrend = append(rep.RecentTrend, TrendPoint{
			RecordedAt:   sorted[i].RecordedAt,
			ErrorPercent: round2(sorted[i].ErrorPercent()),
		})
	}

	rep.DriverEfficiency = driverEfficiency(recs)
	return rep, nil
}

func summarize(recs []domain.FuelRecord) GroupAccuracy {
	var abs, pct float64
	for _, r := range recs {
		abs += math.Abs(r.PredictionError())
		pct += r.ErrorPercent()
	}
	n := float64(len(recs))
	return GroupAccuracy{
		Records:           len(recs),
		MeanAbsoluteError: round3(abs / n),
		MeanErrorPercent:  round2(pct / n),
	}
}

func meanAbsPercent(recs []domain.FuelRecord) float64 {
	var sum float64
	for _, r := range recs {
		sum += math.Abs(r.ErrorPercent())
	}
	return sum / float64(len(recs))
}

// driverEfficiency ranks drivers by actual/predicted fuel, best first.
func driverEfficiency(recs []domain.FuelRecord) []DriverEfficiency {
	type acc struct {
		sum float64
		n   int
	}
	byDriver := map[string]*acc{}
	for _, r := range recs {
		if r.DriverID == "" || r.PredictedFuel <= 0 {
			continue
		}
		a, ok := byDriver[r.DriverID]
		if !ok {
			a = &acc{}
			byDriver[r.DriverID] = a
		}
		a.sum += r.ActualFuel / r.PredictedFuel
		a.n++
	}

	out := make([]DriverEfficiency, 0, len(byDriver))
	for id, a := range byDriver {
		out = append(out, DriverEfficiency{DriverID: id, Records: a.n, Efficiency: round3(a.sum / float64(a.n))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Efficiency != out[j].Efficiency {
			return out[i].Efficiency < out[j].Efficiency
		}
		return out[i].DriverID < out[j].DriverID
	})
	return out
}
