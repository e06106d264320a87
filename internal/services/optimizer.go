package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"fleet-routing-service/internal/cluster"
	"fleet-routing-service/internal/cost"
	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/fallback"
	"fleet-routing-service/internal/fuel"
	"fleet-routing-service/internal/geo"
	"fleet-routing-service/internal/platform/obs"
	"fleet-routing-service/internal/ports"
	"fleet-routing-service/internal/solver"
	"fleet-routing-service/internal/traffic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultFuelPricePerLiter = 1.5
	// DefaultFuelSavedRatio is a placeholder share of total fuel reported as
	// saved; it is not measured against a baseline plan.
	DefaultFuelSavedRatio = 0.10

	// Road distance lookups in flight at once.
	roadLookupConcurrency = 5
)

// TrafficSource returns a snapshot for the given coordinates. It never fails.
type TrafficSource interface {
	Snapshot(ctx context.Context, coords []domain.Coordinate) *domain.TrafficSnapshot
}

type OptimizeRequest struct {
	Name         string
	Depot        domain.Stop
	Stops        []domain.Stop
	VehicleCount int
	// Vehicles override the default profile per position; VehicleIDs are
	// looked up in the vehicle repository for positions without a profile.
	Vehicles   []domain.VehicleProfile
	VehicleIDs []string
	Objective  domain.Objective
	// Clusters optionally pins stops (0-based positions in Stops) to vehicles.
	Clusters       [][]int
	UseClustering  bool
	UseTimeWindows bool
	TrafficAware   bool
	// DepartAt drives the time-of-day traffic factor; zero means now.
	DepartAt time.Time
	Save     bool
}

type OptimizerConfig struct {
	TimeBudget        time.Duration
	StallIterations   int
	FuelPricePerLiter float64
	FuelSavedRatio    float64
	TypeSpecs         domain.TypeSpecs
}

func (c OptimizerConfig) withDefaults() OptimizerConfig {
	if c.TimeBudget <= 0 {
		c.TimeBudget = solver.DefaultTimeBudget
	}
	if c.FuelPricePerLiter <= 0 {
		c.FuelPricePerLiter = DefaultFuelPricePerLiter
	}
	if c.FuelSavedRatio <= 0 {
		c.FuelSavedRatio = DefaultFuelSavedRatio
	}
	if c.TypeSpecs == nil {
		c.TypeSpecs = domain.DefaultTypeSpecs()
	}
	return c
}

// OptimizerDeps are the collaborators of Optimizer. Geocoder, Roads and
// Traffic are optional.
type OptimizerDeps struct {
	Routes      ports.RouteRepository
	Vehicles    ports.VehicleRepository
	Assignments ports.AssignmentRepository
	Geocoder    ports.Geocoder
	Roads       ports.DistanceMatrixProvider
	Traffic     TrafficSource
	Predictor   *fuel.Predictor
}

// Optimizer turns stops and a fleet into one route per vehicle. It always
// produces a route set for valid input by relaxing constraints step by step.
type Optimizer struct {
	deps OptimizerDeps
	cfg  OptimizerConfig
	log  *zap.Logger
	now  func() time.Time
}

func NewOptimizer(deps OptimizerDeps, cfg OptimizerConfig, log *zap.Logger) *Optimizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Optimizer{deps: deps, cfg: cfg.withDefaults(), log: log, now: time.Now}
}

// plan is the prepared, validated problem shared by every fallback stage.
type plan struct {
	depot    domain.Stop
	stops    []domain.Stop
	excluded []string
	coords   []domain.Coordinate
	dist     geo.Matrix
	vehicles []domain.VehicleProfile
	clusters []cluster.Cluster
	matrices []cost.Matrices
	snapshot *domain.TrafficSnapshot
}

func (o *Optimizer) Optimize(ctx context.Context, req OptimizeRequest) (rs *domain.RouteSet, err error) {
	defer obs.Time(ctx, o.log, "optimizer.Optimize")(&err)

	if req.Objective == "" {
		req.Objective = domain.ObjectiveDistance
	}
	p, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	start := o.now()
	routes, stage := o.solveWithFallback(ctx, p, req)
	solveTime := o.now().Sub(start)

	rs = &domain.RouteSet{
		Name:      req.Name,
		Depot:     p.depot,
		Routes:    o.buildRoutes(p, routes, req.TrafficAware),
		Traffic:   p.snapshot,
		CreatedAt: o.now().UTC(),
		Metadata: domain.RouteMetadata{
			Objective:         req.Objective,
			FallbackUsed:      stage != domain.StageNone,
			FallbackStage:     stage,
			ObjectiveAchieved: stage != domain.StageManual,
			TrafficAware:      req.TrafficAware,
			IsSimulated:       p.snapshot != nil && p.snapshot.IsSimulated,
			ExcludedStops:     p.excluded,
			ExcludedCount:     len(p.excluded),
			SolveMillis:       solveTime.Milliseconds(),
		},
	}
	obs.Optimizations.WithLabelValues(string(req.Objective), string(stage)).Inc()
	o.log.Info("routes optimized",
		zap.String("req_id", obs.RequestID(ctx)),
		zap.String("objective", string(req.Objective)),
		zap.String("stage", string(stage)),
		zap.Int("stops", len(p.stops)),
		zap.Int("vehicles", len(p.vehicles)),
		zap.Int("excluded", len(p.excluded)),
		zap.Float64("total_km", rs.TotalDistance()),
	)

	if req.Save {
		id, err := o.SaveRoute(ctx, rs)
		if err != nil {
			return nil, err
		}
		rs.ID = id
	}
	return rs, nil
}

func (o *Optimizer) prepare(ctx context.Context, req OptimizeRequest) (*plan, error) {
	if req.VehicleCount < 1 {
		return nil, fmt.Errorf("optimize: vehicle_count must be at least 1: %w", domain.ErrInvalidInput)
	}
	if len(req.Stops) == 0 {
		return nil, fmt.Errorf("optimize: no stops: %w", domain.ErrInvalidInput)
	}
	if req.Clusters != nil && len(req.Clusters) != req.VehicleCount {
		return nil, fmt.Errorf("optimize: %d clusters for %d vehicles: %w",
			len(req.Clusters), req.VehicleCount, domain.ErrInvalidInput)
	}

	depot, ok := o.resolve(ctx, req.Depot)
	if !ok {
		return nil, fmt.Errorf("optimize: depot has no usable location: %w", domain.ErrInvalidInput)
	}
	if err := depot.Coordinate.Validate(); err != nil {
		return nil, fmt.Errorf("optimize: depot: %w", err)
	}

	p := &plan{depot: depot}
	// position in req.Stops -> matrix node
	nodeOf := make(map[int]int, len(req.Stops))
	for i, s := range req.Stops {
		if err := s.Coordinate.Validate(); err != nil {
			return nil, fmt.Errorf("optimize: stop %q: %w", s.ID, err)
		}
		resolved, ok := o.resolve(ctx, s)
		if !ok {
			p.excluded = append(p.excluded, s.ID)
			continue
		}
		p.stops = append(p.stops, resolved)
		nodeOf[i] = len(p.stops)
	}
	if len(p.stops) == 0 {
		return nil, fmt.Errorf("optimize: no stop could be located: %w", domain.ErrInvalidInput)
	}

	p.coords = make([]domain.Coordinate, 0, len(p.stops)+1)
	p.coords = append(p.coords, depot.Coordinate)
	for _, s := range p.stops {
		p.coords = append(p.coords, s.Coordinate)
	}
	dist, err := geo.DistanceMatrix(p.coords)
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}
	p.dist = dist

	if p.vehicles, err = o.profiles(ctx, req); err != nil {
		return nil, err
	}

	switch {
	case req.Clusters != nil:
		p.clusters = make([]cluster.Cluster, len(req.Clusters))
		seen := make(map[int]bool)
		for v, c := range req.Clusters {
			for _, pos := range c {
				if pos < 0 || pos >= len(req.Stops) || seen[pos] {
					return nil, fmt.Errorf("optimize: cluster %d has invalid stop position %d: %w", v, pos, domain.ErrInvalidInput)
				}
				seen[pos] = true
				if node, ok := nodeOf[pos]; ok {
					p.clusters[v] = append(p.clusters[v], node)
				}
			}
		}
		if len(seen) != len(req.Stops) {
			return nil, fmt.Errorf("optimize: clusters must cover every stop: %w", domain.ErrInvalidInput)
		}
	case req.UseClustering && req.VehicleCount > 1:
		p.clusters = cluster.Balance(cluster.Stops(p.stops, req.VehicleCount), p.dist, 0)
	}

	departAt := req.DepartAt
	if departAt.IsZero() {
		departAt = o.now()
	}
	var factors [][]float64
	if req.TrafficAware && o.deps.Traffic != nil {
		p.snapshot = o.deps.Traffic.Snapshot(ctx, p.coords)
		factors = traffic.FactorMatrix(p.coords, p.snapshot, departAt)
	}

	roadKm := o.roadDistances(ctx, p.coords)
	p.matrices = make([]cost.Matrices, len(p.vehicles))
	for v, veh := range p.vehicles {
		p.matrices[v] = cost.Build(p.dist, cost.Options{
			Vehicle:   veh,
			Traffic:   factors,
			RoadKm:    roadKm,
			Predictor: o.deps.Predictor,
		})
	}
	return p, nil
}

// resolve geocodes a stop without coordinates. Stops that cannot be
// located are reported as not ok.
func (o *Optimizer) resolve(ctx context.Context, s domain.Stop) (domain.Stop, bool) {
	if !s.Coordinate.IsZero() {
		return s, true
	}
	if o.deps.Geocoder == nil || s.Address == "" {
		return s, false
	}
	c, err := o.deps.Geocoder.Geocode(ctx, s.Address)
	if err != nil || c == nil {
		o.log.Warn("stop excluded: geocoding failed",
			zap.String("stop_id", s.ID), zap.String("address", s.Address), zap.Error(err))
		return s, false
	}
	s.Coordinate = *c
	return s, true
}

func (o *Optimizer) profiles(ctx context.Context, req OptimizeRequest) ([]domain.VehicleProfile, error) {
	out := make([]domain.VehicleProfile, req.VehicleCount)
	for v := range out {
		var p domain.VehicleProfile
		switch {
		case v < len(req.Vehicles):
			p = req.Vehicles[v]
		case v < len(req.VehicleIDs) && o.deps.Vehicles != nil:
			got, err := o.deps.Vehicles.GetVehicle(ctx, req.VehicleIDs[v])
			if err != nil {
				return nil, fmt.Errorf("optimize: load vehicle %q: %w", req.VehicleIDs[v], err)
			}
			p = *got
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("vehicle-%d", v+1)
		}
		out[v] = p.WithDefaults(o.cfg.TypeSpecs)
	}
	return out, nil
}

// roadDistances asks the road network provider for every origin in parallel.
// Any failure degrades to straight-line road-type inference.
func (o *Optimizer) roadDistances(ctx context.Context, coords []domain.Coordinate) [][]float64 {
	if o.deps.Roads == nil {
		return nil
	}
	km := make([][]float64, len(coords))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(roadLookupConcurrency)
	for i := range coords {
		g.Go(func() error {
			res, err := o.deps.Roads.GetDistances(gctx, coords[i], coords)
			if err != nil {
				return fmt.Errorf("road distances from %s: %w", coords[i].Key(), err)
			}
			row := make([]float64, len(coords))
			for j, c := range coords {
				if r, ok := res[c.Key()]; ok {
					row[j] = float64(r.DistanceMeters) / 1000
				}
			}
			km[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.log.Warn("road distances unavailable, using straight-line distances", zap.Error(err))
		return nil
	}
	return km
}

// solveWithFallback relaxes the problem until a stage succeeds: full
// constraints, then without time windows, then without clusters, then the
// manual router. Stages identical to an earlier one are skipped.
func (o *Optimizer) solveWithFallback(ctx context.Context, p *plan, req OptimizeRequest) ([][]int, domain.FallbackStage) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.TimeBudget)
	defer cancel()

	windows := req.UseTimeWindows && hasWindows(p.stops)
	clustered := p.clusters != nil

	type stage struct {
		name      domain.FallbackStage
		windows   bool
		clustered bool
	}
	stages := []stage{{domain.StageNone, windows, clustered}}
	if windows {
		stages = append(stages, stage{domain.StageNoTimeWindows, false, clustered})
	}
	if clustered {
		stages = append(stages, stage{domain.StageNoClusters, false, false})
	}

	for _, st := range stages {
		routes, outcome := o.attempt(ctx, p, req.Objective, st.windows, st.clustered)
		if outcome == solver.Solved {
			return routes, st.name
		}
		o.log.Info("solver stage failed",
			zap.String("req_id", obs.RequestID(ctx)),
			zap.String("stage", string(st.name)),
			zap.String("outcome", outcome.String()))
	}

	nodes := make([]int, len(p.stops))
	for i := range nodes {
		nodes[i] = i + 1
	}
	var clusters [][]int
	if p.clusters != nil {
		clusters = make([][]int, len(p.clusters))
		for v, c := range p.clusters {
			clusters[v] = c
		}
	}
	return fallback.ManualRoutes(p.dist, nodes, clusters, len(p.vehicles)), domain.StageManual
}

// attempt runs one stage. With clusters each vehicle is an independent
// single-vehicle problem, solved in parallel.
func (o *Optimizer) attempt(ctx context.Context, p *plan, obj domain.Objective, windows, clustered bool) (routes [][]int, outcome solver.Outcome) {
	k := len(p.vehicles)
	var tw []*solver.Window
	if windows {
		tw = timeWindows(p.stops)
	}
	demand := make([]int, len(p.stops)+1)
	for i, s := range p.stops {
		demand[i+1] = s.DemandUnits()
	}
	vehicle := func(v int) solver.Vehicle {
		return solver.Vehicle{
			Capacity:      p.vehicles[v].StopCapacity(),
			MaxDistanceKm: p.vehicles[v].MaxDistanceKm,
			Time:          cost.Seconds(p.matrices[v]),
			Cost:          cost.ArcCosts(obj, p.dist, p.matrices[v]),
		}
	}
	opts := func() solver.Options {
		budget := o.cfg.TimeBudget
		if dl, ok := ctx.Deadline(); ok {
			budget = time.Until(dl)
		}
		return solver.Options{TimeBudget: budget, StallIterations: o.cfg.StallIterations}
	}

	start := time.Now()
	defer func() {
		obs.SolveDuration.WithLabelValues(outcome.String()).Observe(time.Since(start).Seconds())
	}()

	if !clustered {
		vs := make([]solver.Vehicle, k)
		for v := range vs {
			vs[v] = vehicle(v)
		}
		res := solver.Solve(ctx, solver.Problem{Dist: p.dist, Vehicles: vs, Demand: demand, Windows: tw}, opts())
		return res.Routes, res.Outcome
	}

	routes = make([][]int, k)
	outcomes := make([]solver.Outcome, k)
	var g errgroup.Group
	for v := 0; v < k; v++ {
		if v >= len(p.clusters) || len(p.clusters[v]) == 0 {
			continue
		}
		g.Go(func() error {
			res := solver.Solve(ctx, solver.Problem{
				Dist:     p.dist,
				Vehicles: []solver.Vehicle{vehicle(v)},
				Nodes:    p.clusters[v],
				Demand:   demand,
				Windows:  tw,
			}, opts())
			outcomes[v] = res.Outcome
			if res.Outcome == solver.Solved {
				routes[v] = res.Routes[0]
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range outcomes {
		if out != solver.Solved {
			return nil, out
		}
	}
	return routes, solver.Solved
}

func hasWindows(stops []domain.Stop) bool {
	for _, s := range stops {
		if s.TimeWindow != nil {
			return true
		}
	}
	return false
}

func timeWindows(stops []domain.Stop) []*solver.Window {
	out := make([]*solver.Window, len(stops)+1)
	for i, s := range stops {
		if s.TimeWindow == nil {
			continue
		}
		start, end := s.TimeWindow.Relative(domain.DepotDeparture)
		out[i+1] = &solver.Window{Start: start, End: end}
	}
	return out
}

// buildRoutes expands node sequences into depot-bracketed routes with leg
// metrics, totals and costs.
func (o *Optimizer) buildRoutes(p *plan, seqs [][]int, trafficAware bool) []domain.Route {
	depot := domain.RouteStop{
		ID:         p.depot.ID,
		Name:       p.depot.Name,
		Coordinate: p.depot.Coordinate,
		IsDepot:    true,
	}
	routes := make([]domain.Route, len(p.vehicles))
	for v, veh := range p.vehicles {
		var seq []int
		if v < len(seqs) {
			seq = seqs[v]
		}
		m := p.matrices[v]
		totals := fallback.Accumulate(seq, p.dist, m.Time, m.Fuel)

		stops := []domain.RouteStop{depot}
		prev := 0
		for _, n := range append(append([]int(nil), seq...), 0) {
			rs := depot
			if n != 0 {
				s := p.stops[n-1]
				rs = domain.RouteStop{ID: s.ID, Name: s.Name, Coordinate: s.Coordinate, TimeWindow: s.TimeWindow}
			}
			if len(seq) > 0 {
				rs.LegDistance = round3(p.dist[prev][n])
				rs.LegTime = round3(m.Time[prev][n])
				rs.LegFuel = round3(m.Fuel[prev][n])
				rs.TrafficFactor = round3(m.Traffic[prev][n])
			}
			stops = append(stops, rs)
			prev = n
		}

		r := domain.Route{
			VehicleID:     veh.ID,
			VehicleType:   veh.Type,
			Stops:         stops,
			TotalDistance: round3(totals.DistanceKm),
			TotalTime:     round3(totals.TimeHours),
			TotalFuel:     round3(totals.FuelLiters),
		}
		r.FuelSaved = round3(totals.FuelLiters * o.cfg.FuelSavedRatio)
		r.FuelCost = round2(totals.FuelLiters * o.cfg.FuelPricePerLiter)
		r.CostSaved = round2(r.FuelSaved * o.cfg.FuelPricePerLiter)
		r.CO2Kg = round3(domain.EmissionsKg(veh.FuelType, totals.FuelLiters))
		if trafficAware && veh.CruiseSpeed > 0 {
			freeFlow := totals.DistanceKm / veh.CruiseSpeed
			r.TrafficImpact = round2(math.Max(0, totals.TimeHours-freeFlow) * 60)
		}
		routes[v] = r
	}
	return routes
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
func round3(x float64) float64 { return math.Round(x*1000) / 1000 }

func (o *Optimizer) SaveRoute(ctx context.Context, rs *domain.RouteSet) (string, error) {
	if o.deps.Routes == nil {
		return "", fmt.Errorf("save route: no route repository configured")
	}
	id, err := o.deps.Routes.SaveRoute(ctx, rs)
	if err != nil {
		return "", fmt.Errorf("save route: %w", err)
	}
	return id, nil
}

func (o *Optimizer) LoadRoute(ctx context.Context, id string) (*domain.RouteSet, error) {
	if o.deps.Routes == nil {
		return nil, fmt.Errorf("load route: no route repository configured")
	}
	rs, err := o.deps.Routes.GetRoute(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load route %s: %w", id, err)
	}
	return rs, nil
}

type Assignment struct {
	DriverRoute domain.DriverRoute    `json:"driver_route"`
	Stops       []domain.DeliveryStop `json:"stops"`
}

// AssignRoute hands one vehicle's part of a stored route to a driver. The
// vehicle's route is chosen by exact id, else the first route.
func (o *Optimizer) AssignRoute(ctx context.Context, routeID, vehicleID, driverID string) (a *Assignment, err error) {
	defer obs.Time(ctx, o.log, "optimizer.AssignRoute")(&err)

	if driverID == "" {
		return nil, fmt.Errorf("assign route: driver_id required: %w", domain.ErrInvalidInput)
	}
	rs, err := o.LoadRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	route, ok := domain.SelectVehicleRoute(rs.Routes, vehicleID)
	if !ok {
		return nil, fmt.Errorf("assign route %s: route has no vehicles: %w", routeID, domain.ErrNotFound)
	}

	now := o.now().UTC()
	assignment := domain.DriverRoute{
		ID:        uuid.NewString(),
		DriverID:  driverID,
		RouteID:   routeID,
		VehicleID: route.VehicleID,
		Status:    domain.DriverRouteAssigned,
		CreatedAt: now,
	}

	departure := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		Add(time.Duration(domain.DepotDeparture) * time.Second)
	var elapsed float64
	var stops []domain.DeliveryStop
	for i, s := range route.DeliveryStops() {
		elapsed += s.LegTime
		planned := departure.Add(time.Duration(elapsed * float64(time.Hour)))
		stops = append(stops, domain.DeliveryStop{
			ID:             uuid.NewString(),
			DriverRouteID:  assignment.ID,
			LocationID:     s.ID,
			Name:           s.Name,
			Coordinate:     s.Coordinate,
			StopNumber:     i + 1,
			Status:         domain.StopPending,
			PlannedArrival: &planned,
		})
	}

	if err := o.deps.Assignments.CreateDriverRoute(ctx, assignment, stops); err != nil {
		return nil, fmt.Errorf("assign route %s: %w", routeID, err)
	}
	return &Assignment{DriverRoute: assignment, Stops: stops}, nil
}
