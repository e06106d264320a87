package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/platform/obs"
	"fleet-routing-service/internal/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	uniqueViolation     = "23505"
	openIncidentIndex   = "idx_incidents_open_route"
	driverRouteColumns  = `id, driver_id, route_id, vehicle_id, status, is_transfer, parent_id, created_at, started_at, completed_at`
	deliveryStopColumns = `id, driver_route_id, location_id, name, lat, lng, stop_number, status, planned_arrival, actual_arrival`
)

// PostgresStore implements the repository ports on database/sql with the
// pgx driver. Transfer acceptance is a conditional UPDATE inside a transaction.
type PostgresStore struct {
	DB  *sql.DB
	Log *zap.Logger
}

func NewPostgresStore(db *sql.DB, log *zap.Logger) *PostgresStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostgresStore{DB: db, Log: log}
}

var (
	_ ports.StopRepository       = (*PostgresStore)(nil)
	_ ports.VehicleRepository    = (*PostgresStore)(nil)
	_ ports.DriverRepository     = (*PostgresStore)(nil)
	_ ports.RouteRepository      = (*PostgresStore)(nil)
	_ ports.AssignmentRepository = (*PostgresStore)(nil)
	_ ports.IncidentRepository   = (*PostgresStore)(nil)
	_ ports.TransferRepository   = (*PostgresStore)(nil)
	_ ports.FuelRecordRepository = (*PostgresStore)(nil)
)

type scanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) ListStops(ctx context.Context) (stops []domain.Stop, err error) {
	defer obs.Time(ctx, s.Log, "pg.ListStops")(&err)

	rows, err := s.DB.QueryContext(ctx, `
	SELECT id, name, address, lat, lng, window_start, window_end, demand
	FROM stops
	ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list stops: query: %w", err)
	}
	defer rows.Close()

	stops = make([]domain.Stop, 0, 64)
	for rows.Next() {
		var st domain.Stop
		var ws, we sql.NullInt64
		if err := rows.Scan(&st.ID, &st.Name, &st.Address, &st.Coordinate.Lat, &st.Coordinate.Lng, &ws, &we, &st.Demand); err != nil {
			return nil, fmt.Errorf("list stops: scan row: %w", err)
		}
		if ws.Valid && we.Valid {
			st.TimeWindow = &domain.TimeWindow{Start: domain.TimeOfDay(ws.Int64), End: domain.TimeOfDay(we.Int64)}
		}
		stops = append(stops, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stops: row iteration: %w", err)
	}
	return stops, nil
}

func (s *PostgresStore) GetVehicle(ctx context.Context, id string) (v *domain.VehicleProfile, err error) {
	defer obs.Time(ctx, s.Log, "pg.GetVehicle")(&err)

	var p domain.VehicleProfile
	var typ string
	err = s.DB.QueryRowContext(ctx, `
	SELECT id, type, capacity, max_weight, base_fuel_consumption, cruise_speed,
		load_kg, weight_kg, fuel_type, max_distance_km
	FROM vehicles WHERE id = $1`, id).Scan(
		&p.ID, &typ, &p.Capacity, &p.MaxWeight, &p.BaseFuelConsumption, &p.CruiseSpeed,
		&p.LoadKg, &p.WeightKg, &p.FuelType, &p.MaxDistanceKm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vehicle %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get vehicle %s: %w", id, err)
	}
	p.Type = domain.VehicleType(typ)
	return &p, nil
}

const driverColumns = `id, name, is_active, last_seen_at, lat, lng, vehicle_id`

func scanDriver(row scanner) (domain.Driver, error) {
	var d domain.Driver
	var seen sql.NullTime
	var lat, lng sql.NullFloat64
	if err := row.Scan(&d.ID, &d.Name, &d.IsActive, &seen, &lat, &lng, &d.VehicleID); err != nil {
		return d, err
	}
	d.LastSeenAt = timePtr(seen)
	if lat.Valid && lng.Valid {
		d.Location = &domain.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
	}
	return d, nil
}

func (s *PostgresStore) GetDriver(ctx context.Context, id string) (d *domain.Driver, err error) {
	defer obs.Time(ctx, s.Log, "pg.GetDriver")(&err)

	drv, err := scanDriver(s.DB.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("driver %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get driver %s: %w", id, err)
	}
	return &drv, nil
}

func (s *PostgresStore) ListActiveDrivers(ctx context.Context, since time.Time) (drivers []domain.Driver, err error) {
	defer obs.Time(ctx, s.Log, "pg.ListActiveDrivers")(&err)

	rows, err := s.DB.QueryContext(ctx, `
	SELECT `+driverColumns+`
	FROM drivers
	WHERE is_active AND last_seen_at >= $1
	ORDER BY id`, since)
	if err != nil {
		return nil, fmt.Errorf("list active drivers: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("list active drivers: scan row: %w", err)
		}
		drivers = append(drivers, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active drivers: row iteration: %w", err)
	}
	return drivers, nil
}

func (s *PostgresStore) TouchDriver(ctx context.Context, id string, location *domain.Coordinate, seenAt time.Time) (err error) {
	defer obs.Time(ctx, s.Log, "pg.TouchDriver")(&err)

	var lat, lng sql.NullFloat64
	if location != nil {
		lat = sql.NullFloat64{Float64: location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: location.Lng, Valid: true}
	}
	res, err := s.DB.ExecContext(ctx, `
	UPDATE drivers
	SET last_seen_at = $2, lat = COALESCE($3, lat), lng = COALESCE($4, lng)
	WHERE id = $1`, id, seenAt, lat, lng)
	if err != nil {
		return fmt.Errorf("touch driver %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("driver %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SaveRoute stores the per-vehicle routes as route_data and the traffic
// snapshot as traffic_data ({} when traffic was not used).
func (s *PostgresStore) SaveRoute(ctx context.Context, rs *domain.RouteSet) (id string, err error) {
	defer obs.Time(ctx, s.Log, "pg.SaveRoute")(&err)

	id = rs.ID
	if id == "" {
		id = uuid.NewString()
	}
	depot, err := json.Marshal(rs.Depot)
	if err != nil {
		return "", fmt.Errorf("save route: encode depot: %w", err)
	}
	routes, err := json.Marshal(rs.Routes)
	if err != nil {
		return "", fmt.Errorf("save route: encode routes: %w", err)
	}
	meta, err := json.Marshal(rs.Metadata)
	if err != nil {
		return "", fmt.Errorf("save route: encode metadata: %w", err)
	}
	traffic := []byte("{}")
	if rs.Traffic != nil {
		if traffic, err = json.Marshal(rs.Traffic); err != nil {
			return "", fmt.Errorf("save route: encode traffic: %w", err)
		}
	}

	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO routes (id, name, depot, route_data, metadata, traffic_data, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, rs.Name, string(depot), string(routes), string(meta), string(traffic), rs.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("save route: insert: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetRoute(ctx context.Context, id string) (rs *domain.RouteSet, err error) {
	defer obs.Time(ctx, s.Log, "pg.GetRoute")(&err)

	var depot, routes, meta, traffic []byte
	out := domain.RouteSet{ID: id}
	err = s.DB.QueryRowContext(ctx, `
	SELECT name, depot, route_data, metadata, traffic_data, created_at
	FROM routes WHERE id = $1`, id).Scan(&out.Name, &depot, &routes, &meta, &traffic, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("route %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get route %s: %w", id, err)
	}

	if err := json.Unmarshal(depot, &out.Depot); err != nil {
		return nil, fmt.Errorf("get route %s: decode depot: %w", id, err)
	}
	if err := json.Unmarshal(routes, &out.Routes); err != nil {
		return nil, fmt.Errorf("get route %s: decode routes: %w", id, err)
	}
	if err := json.Unmarshal(meta, &out.Metadata); err != nil {
		return nil, fmt.Errorf("get route %s: decode metadata: %w", id, err)
	}
	var snap domain.TrafficSnapshot
	if err := json.Unmarshal(traffic, &snap); err != nil {
		return nil, fmt.Errorf("get route %s: decode traffic: %w", id, err)
	}
	if !snap.FetchedAt.IsZero() || len(snap.TrafficSignals) > 0 || len(snap.CongestionAreas) > 0 {
		out.Traffic = &snap
	}
	return &out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDriverRoute(ctx context.Context, ex execer, dr domain.DriverRoute, stops []domain.DeliveryStop) error {
	_, err := ex.ExecContext(ctx, `
	INSERT INTO driver_routes (`+driverRouteColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		dr.ID, dr.DriverID, dr.RouteID, dr.VehicleID, string(dr.Status), dr.IsTransfer, nullString(dr.ParentID),
		dr.CreatedAt, nullTime(dr.StartedAt), nullTime(dr.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert driver route %s: %w", dr.ID, err)
	}
	for _, st := range stops {
		_, err := ex.ExecContext(ctx, `
		INSERT INTO delivery_stops (`+deliveryStopColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			st.ID, dr.ID, st.LocationID, st.Name, st.Coordinate.Lat, st.Coordinate.Lng,
			st.StopNumber, string(st.Status), nullTime(st.PlannedArrival), nullTime(st.ActualArrival))
		if err != nil {
			return fmt.Errorf("insert delivery stop %s: %w", st.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateDriverRoute(ctx context.Context, dr domain.DriverRoute, stops []domain.DeliveryStop) (err error) {
	defer obs.Time(ctx, s.Log, "pg.CreateDriverRoute")(&err)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create driver route: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertDriverRoute(ctx, tx, dr, stops); err != nil {
		return fmt.Errorf("create driver route: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create driver route: commit tx: %w", err)
	}
	return nil
}

type querier interface {
	queryRower
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanDriverRoute(row scanner) (domain.DriverRoute, error) {
	var dr domain.DriverRoute
	var status string
	var parent sql.NullString
	var started, completed sql.NullTime
	if err := row.Scan(&dr.ID, &dr.DriverID, &dr.RouteID, &dr.VehicleID, &status, &dr.IsTransfer,
		&parent, &dr.CreatedAt, &started, &completed); err != nil {
		return dr, err
	}
	dr.Status = domain.DriverRouteStatus(status)
	dr.ParentID = strPtr(parent)
	dr.StartedAt = timePtr(started)
	dr.CompletedAt = timePtr(completed)
	return dr, nil
}

// getDriverRoute reads one driver route; forUpdate locks the row until the
// surrounding transaction ends.
func getDriverRoute(ctx context.Context, q queryRower, id string, forUpdate bool) (*domain.DriverRoute, error) {
	query := `SELECT ` + driverRouteColumns + ` FROM driver_routes WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	dr, err := scanDriverRoute(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("driver route %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get driver route %s: %w", id, err)
	}
	return &dr, nil
}

func (s *PostgresStore) GetDriverRoute(ctx context.Context, id string) (dr *domain.DriverRoute, err error) {
	defer obs.Time(ctx, s.Log, "pg.GetDriverRoute")(&err)
	return getDriverRoute(ctx, s.DB, id, false)
}

func (s *PostgresStore) ListDeliveryStops(ctx context.Context, driverRouteID string) (stops []domain.DeliveryStop, err error) {
	defer obs.Time(ctx, s.Log, "pg.ListDeliveryStops")(&err)

	if _, err := getDriverRoute(ctx, s.DB, driverRouteID, false); err != nil {
		return nil, err
	}
	return listDeliveryStops(ctx, s.DB, driverRouteID)
}

func listDeliveryStops(ctx context.Context, q querier, driverRouteID string) ([]domain.DeliveryStop, error) {
	rows, err := q.QueryContext(ctx, `
	SELECT `+deliveryStopColumns+`
	FROM delivery_stops
	WHERE driver_route_id = $1
	ORDER BY stop_number`, driverRouteID)
	if err != nil {
		return nil, fmt.Errorf("list delivery stops: query: %w", err)
	}
	defer rows.Close()

	var stops []domain.DeliveryStop
	for rows.Next() {
		var st domain.DeliveryStop
		var status string
		var planned, actual sql.NullTime
		if err := rows.Scan(&st.ID, &st.DriverRouteID, &st.LocationID, &st.Name,
			&st.Coordinate.Lat, &st.Coordinate.Lng, &st.StopNumber, &status, &planned, &actual); err != nil {
			return nil, fmt.Errorf("list delivery stops: scan row: %w", err)
		}
		st.Status = domain.DeliveryStopStatus(status)
		st.PlannedArrival = timePtr(planned)
		st.ActualArrival = timePtr(actual)
		stops = append(stops, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list delivery stops: row iteration: %w", err)
	}
	return stops, nil
}

// UpdateStopStatus locks the owning driver route so concurrent updates of
// its stops see each other before deciding on completion.
func (s *PostgresStore) UpdateStopStatus(ctx context.Context, c ports.StopStatusChange) (stop *domain.DeliveryStop, dr *domain.DriverRoute, err error) {
	defer obs.Time(ctx, s.Log, "pg.UpdateStopStatus")(&err)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("update stop status: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var routeID string
	err = tx.QueryRowContext(ctx, `SELECT driver_route_id FROM delivery_stops WHERE id = $1`, c.StopID).Scan(&routeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("delivery stop %s: %w", c.StopID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("update stop status: find route: %w", err)
	}
	dr, err = getDriverRoute(ctx, tx, routeID, true)
	if err != nil {
		return nil, nil, fmt.Errorf("update stop status: %w", err)
	}
	if dr.DriverID != c.DriverID {
		return nil, nil, fmt.Errorf("delivery stop %s belongs to another driver: %w", c.StopID, domain.ErrForbidden)
	}

	stops, err := listDeliveryStops(ctx, tx, routeID)
	if err != nil {
		return nil, nil, fmt.Errorf("update stop status: %w", err)
	}
	for i := range stops {
		if stops[i].ID == c.StopID {
			if err := stops[i].TransitionTo(c.Status, c.At); err != nil {
				return nil, nil, err
			}
			stop = &stops[i]
			break
		}
	}
	if stop == nil {
		return nil, nil, fmt.Errorf("delivery stop %s: %w", c.StopID, domain.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `
	UPDATE delivery_stops SET status = $2, actual_arrival = $3 WHERE id = $1`,
		stop.ID, string(stop.Status), nullTime(stop.ActualArrival)); err != nil {
		return nil, nil, fmt.Errorf("update stop status %s: %w", stop.ID, err)
	}

	if domain.RouteFinished(stops) && dr.Status.CanTransitionTo(domain.DriverRouteCompleted) {
		if err := dr.TransitionTo(domain.DriverRouteCompleted, c.At); err != nil {
			return nil, nil, err
		}
		if err := updateDriverRoute(ctx, tx, dr); err != nil {
			return nil, nil, fmt.Errorf("update stop status: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("update stop status: commit tx: %w", err)
	}
	return stop, dr, nil
}

func (s *PostgresStore) UpdateDriverRouteStatus(ctx context.Context, c ports.RouteStatusChange) (dr *domain.DriverRoute, err error) {
	defer obs.Time(ctx, s.Log, "pg.UpdateDriverRouteStatus")(&err)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update driver route status: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	dr, err = getDriverRoute(ctx, tx, c.DriverRouteID, true)
	if err != nil {
		return nil, err
	}
	if dr.DriverID != c.DriverID {
		return nil, fmt.Errorf("driver route %s belongs to another driver: %w", dr.ID, domain.ErrForbidden)
	}
	if err := dr.TransitionTo(c.Status, c.At); err != nil {
		return nil, err
	}
	if err := updateDriverRoute(ctx, tx, dr); err != nil {
		return nil, fmt.Errorf("update driver route status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update driver route status: commit tx: %w", err)
	}
	return dr, nil
}

func updateDriverRoute(ctx context.Context, ex execer, dr *domain.DriverRoute) error {
	_, err := ex.ExecContext(ctx, `
	UPDATE driver_routes SET status = $2, started_at = $3, completed_at = $4 WHERE id = $1`,
		dr.ID, string(dr.Status), nullTime(dr.StartedAt), nullTime(dr.CompletedAt))
	if err != nil {
		return fmt.Errorf("update driver route %s: %w", dr.ID, err)
	}
	return nil
}

func (s *PostgresStore) CreateIncident(ctx context.Context, inc domain.Incident) (err error) {
	defer obs.Time(ctx, s.Log, "pg.CreateIncident")(&err)

	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO incidents (id, driver_route_id, driver_id, incident_type, description,
		lat, lng, status, reported_at, resolved_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inc.ID, inc.DriverRouteID, inc.DriverID, inc.Type, inc.Description,
		inc.Location.Lat, inc.Location.Lng, string(inc.Status), inc.ReportedAt, nullTime(inc.ResolvedAt))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == openIncidentIndex {
		return fmt.Errorf("driver route %s: %w", inc.DriverRouteID, domain.ErrIncidentOpen)
	}
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIncident(ctx context.Context, id string) (inc *domain.Incident, err error) {
	defer obs.Time(ctx, s.Log, "pg.GetIncident")(&err)

	var out domain.Incident
	var status string
	var resolved sql.NullTime
	err = s.DB.QueryRowContext(ctx, `
	SELECT id, driver_route_id, driver_id, incident_type, description, lat, lng,
		status, reported_at, resolved_at
	FROM incidents WHERE id = $1`, id).Scan(
		&out.ID, &out.DriverRouteID, &out.DriverID, &out.Type, &out.Description,
		&out.Location.Lat, &out.Location.Lng, &status, &out.ReportedAt, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	out.Status = domain.IncidentStatus(status)
	out.ResolvedAt = timePtr(resolved)
	return &out, nil
}

func (s *PostgresStore) UpdateIncident(ctx context.Context, inc domain.Incident) (err error) {
	defer obs.Time(ctx, s.Log, "pg.UpdateIncident")(&err)

	res, err := s.DB.ExecContext(ctx, `
	UPDATE incidents SET status = $2, description = $3, resolved_at = $4
	WHERE id = $1`, inc.ID, string(inc.Status), inc.Description, nullTime(inc.ResolvedAt))
	if err != nil {
		return fmt.Errorf("update incident %s: %w", inc.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("incident %s: %w", inc.ID, domain.ErrNotFound)
	}
	return nil
}

const transferColumns = `id, incident_id, original_driver_id, original_route_id, new_driver_id,
	new_route_id, stop_ids, status, required_vehicle_type, required_capacity, created_at, accepted_at`

func scanTransfer(row scanner) (domain.Transfer, error) {
	var t domain.Transfer
	var newDriver, newRoute, vehicleType sql.NullString
	var stopIDs []byte
	var status string
	var accepted sql.NullTime
	if err := row.Scan(&t.ID, &t.IncidentID, &t.OriginalDriverID, &t.OriginalRouteID, &newDriver,
		&newRoute, &stopIDs, &status, &vehicleType, &t.RequiredCapacity, &t.CreatedAt, &accepted); err != nil {
		return t, err
	}
	if err := json.Unmarshal(stopIDs, &t.StopIDs); err != nil {
		return t, fmt.Errorf("decode stop_ids: %w", err)
	}
	t.NewDriverID = strPtr(newDriver)
	t.NewRouteID = strPtr(newRoute)
	t.Status = domain.TransferStatus(status)
	if vehicleType.Valid {
		vt := domain.VehicleType(vehicleType.String)
		t.RequiredVehicleType = &vt
	}
	t.AcceptedAt = timePtr(accepted)
	return t, nil
}

func (s *PostgresStore) CreateTransfer(ctx context.Context, tr domain.Transfer) (err error) {
	defer obs.Time(ctx, s.Log, "pg.CreateTransfer")(&err)

	stopIDs, err := json.Marshal(tr.StopIDs)
	if err != nil {
		return fmt.Errorf("create transfer: encode stop ids: %w", err)
	}
	var vehicleType sql.NullString
	if tr.RequiredVehicleType != nil {
		vehicleType = sql.NullString{String: string(*tr.RequiredVehicleType), Valid: true}
	}
	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO transfers (`+transferColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tr.ID, tr.IncidentID, tr.OriginalDriverID, tr.OriginalRouteID, nullString(tr.NewDriverID),
		nullString(tr.NewRouteID), string(stopIDs), string(tr.Status), vehicleType, tr.RequiredCapacity,
		tr.CreatedAt, nullTime(tr.AcceptedAt))
	if err != nil {
		return fmt.Errorf("create transfer: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTransfer(ctx context.Context, id string) (tr *domain.Transfer, err error) {
	defer obs.Time(ctx, s.Log, "pg.GetTransfer")(&err)
	return getTransfer(ctx, s.DB, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTransfer(ctx context.Context, q queryRower, id string) (*domain.Transfer, error) {
	t, err := scanTransfer(q.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transfer %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transfer %s: %w", id, err)
	}
	return &t, nil
}

func (s *PostgresStore) ListTransfersByIncident(ctx context.Context, incidentID string) (out []domain.Transfer, err error) {
	defer obs.Time(ctx, s.Log, "pg.ListTransfersByIncident")(&err)
	return s.listTransfers(ctx, `WHERE incident_id = $1`, incidentID)
}

func (s *PostgresStore) ListTransfersByDriver(ctx context.Context, driverID string) (out []domain.Transfer, err error) {
	defer obs.Time(ctx, s.Log, "pg.ListTransfersByDriver")(&err)
	return s.listTransfers(ctx, `WHERE original_driver_id = $1 OR new_driver_id = $1`, driverID)
}

func (s *PostgresStore) listTransfers(ctx context.Context, where string, arg string) ([]domain.Transfer, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+transferColumns+` FROM transfers `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, fmt.Errorf("list transfers: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("list transfers: scan row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transfers: row iteration: %w", err)
	}
	return out, nil
}

// CompleteHandOff relies on the row lock taken by the conditional UPDATE:
// a concurrent acceptor blocks, re-evaluates the predicate and matches nothing.
func (s *PostgresStore) CompleteHandOff(ctx context.Context, h ports.HandOff) (tr *domain.Transfer, err error) {
	defer obs.Time(ctx, s.Log, "pg.CompleteHandOff")(&err)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("hand off: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
	UPDATE transfers
	SET status = 'accepted', new_driver_id = $2, new_route_id = $3, accepted_at = $4
	WHERE id = $1 AND status = 'pending' AND new_driver_id IS NULL`,
		h.TransferID, h.NewDriverID, h.NewRoute.ID, h.AcceptedAt)
	if err != nil {
		return nil, fmt.Errorf("hand off: accept transfer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("hand off: rows affected: %w", err)
	}
	if n == 0 {
		if _, err := getTransfer(ctx, tx, h.TransferID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("transfer %s: %w", h.TransferID, domain.ErrOfferWithdrawn)
	}

	if err := insertDriverRoute(ctx, tx, h.NewRoute, h.ClonedStops); err != nil {
		return nil, fmt.Errorf("hand off: %w", err)
	}
	for _, id := range h.OriginalStopIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE delivery_stops SET status = 'transferred' WHERE id = $1 AND status IN ('pending', 'arrived')`, id); err != nil {
			return nil, fmt.Errorf("hand off: mark stop %s transferred: %w", id, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
	UPDATE incidents SET status = 'assistance_assigned'
	WHERE id = $1 AND status = 'reported'`, h.IncidentID); err != nil {
		return nil, fmt.Errorf("hand off: update incident: %w", err)
	}

	out, err := getTransfer(ctx, tx, h.TransferID)
	if err != nil {
		return nil, fmt.Errorf("hand off: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("hand off: commit tx: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CancelPendingTransfers(ctx context.Context, incidentID string) (n int, err error) {
	defer obs.Time(ctx, s.Log, "pg.CancelPendingTransfers")(&err)

	res, err := s.DB.ExecContext(ctx, `
	UPDATE transfers SET status = 'cancelled'
	WHERE incident_id = $1 AND status = 'pending'`, incidentID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending transfers: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel pending transfers: rows affected: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) SaveFuelRecord(ctx context.Context, r domain.FuelRecord) (err error) {
	defer obs.Time(ctx, s.Log, "pg.SaveFuelRecord")(&err)

	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO fuel_records (id, route_id, vehicle_id, driver_id, vehicle_type, predicted_fuel,
		actual_fuel, distance, vehicle_weight, load_weight, avg_speed, traffic_factor,
		stop_frequency, road_type, date_recorded)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.RouteID, r.VehicleID, r.DriverID, string(r.VehicleType), r.PredictedFuel,
		r.ActualFuel, r.DistanceKm, r.VehicleWeightKg, r.LoadKg, r.AvgSpeedKmh, r.TrafficFactor,
		r.StopFrequency, string(r.RoadType), r.RecordedAt)
	if err != nil {
		return fmt.Errorf("save fuel record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFuelRecords(ctx context.Context) (recs []domain.FuelRecord, err error) {
	defer obs.Time(ctx, s.Log, "pg.ListFuelRecords")(&err)

	rows, err := s.DB.QueryContext(ctx, `
	SELECT id, route_id, vehicle_id, driver_id, vehicle_type, predicted_fuel, actual_fuel,
		distance, vehicle_weight, load_weight, avg_speed, traffic_factor, stop_frequency,
		road_type, date_recorded
	FROM fuel_records
	ORDER BY date_recorded`)
	if err != nil {
		return nil, fmt.Errorf("list fuel records: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.FuelRecord
		var vt, road string
		if err := rows.Scan(&r.ID, &r.RouteID, &r.VehicleID, &r.DriverID, &vt, &r.PredictedFuel,
			&r.ActualFuel, &r.DistanceKm, &r.VehicleWeightKg, &r.LoadKg, &r.AvgSpeedKmh,
			&r.TrafficFactor, &r.StopFrequency, &road, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("list fuel records: scan row: %w", err)
		}
		r.VehicleType = domain.VehicleType(vt)
		r.RoadType = domain.RoadType(road)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list fuel records: row iteration: %w", err)
	}
	return recs, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
