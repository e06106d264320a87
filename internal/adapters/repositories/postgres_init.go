package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"fleet-routing-service/internal/domain"
)

// InitSchema creates every table used by the Postgres store and the SQL caches.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{`
	CREATE TABLE IF NOT EXISTS stops (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		window_start INTEGER,
		window_end INTEGER,
		demand INTEGER NOT NULL DEFAULT 1
	);`, `
	CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		capacity DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_weight DOUBLE PRECISION NOT NULL DEFAULT 0,
		base_fuel_consumption DOUBLE PRECISION NOT NULL DEFAULT 0,
		cruise_speed DOUBLE PRECISION NOT NULL DEFAULT 0,
		load_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
		weight_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
		fuel_type TEXT NOT NULL DEFAULT '',
		max_distance_km DOUBLE PRECISION NOT NULL DEFAULT 0
	);`, `
	CREATE TABLE IF NOT EXISTS drivers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_seen_at TIMESTAMPTZ,
		lat DOUBLE PRECISION,
		lng DOUBLE PRECISION,
		vehicle_id TEXT NOT NULL DEFAULT ''
	);`, `
	CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		depot JSONB NOT NULL,
		route_data JSONB NOT NULL,
		metadata JSONB NOT NULL,
		traffic_data JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	);`, `
	CREATE TABLE IF NOT EXISTS driver_routes (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL,
		route_id TEXT NOT NULL,
		vehicle_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		is_transfer BOOLEAN NOT NULL DEFAULT FALSE,
		parent_id TEXT REFERENCES driver_routes(id),
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	);`, `
	CREATE TABLE IF NOT EXISTS delivery_stops (
		id TEXT PRIMARY KEY,
		driver_route_id TEXT NOT NULL REFERENCES driver_routes(id),
		location_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		stop_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		planned_arrival TIMESTAMPTZ,
		actual_arrival TIMESTAMPTZ
	);`, `
	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		driver_route_id TEXT NOT NULL REFERENCES driver_routes(id),
		driver_id TEXT NOT NULL,
		incident_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		reported_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	);`, `
	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL REFERENCES incidents(id),
		original_driver_id TEXT NOT NULL,
		original_route_id TEXT NOT NULL,
		new_driver_id TEXT,
		new_route_id TEXT,
		stop_ids JSONB NOT NULL,
		status TEXT NOT NULL,
		required_vehicle_type TEXT,
		required_capacity DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		accepted_at TIMESTAMPTZ
	);`, `
	CREATE TABLE IF NOT EXISTS fuel_records (
		id TEXT PRIMARY KEY,
		route_id TEXT NOT NULL,
		vehicle_id TEXT NOT NULL,
		driver_id TEXT NOT NULL DEFAULT '',
		vehicle_type TEXT NOT NULL,
		predicted_fuel DOUBLE PRECISION NOT NULL,
		actual_fuel DOUBLE PRECISION NOT NULL,
		distance DOUBLE PRECISION NOT NULL,
		vehicle_weight DOUBLE PRECISION NOT NULL,
		load_weight DOUBLE PRECISION NOT NULL,
		avg_speed DOUBLE PRECISION NOT NULL,
		traffic_factor DOUBLE PRECISION NOT NULL,
		stop_frequency DOUBLE PRECISION NOT NULL,
		road_type TEXT NOT NULL,
		date_recorded TIMESTAMPTZ NOT NULL
	);`, `
	CREATE TABLE IF NOT EXISTS distance_cache (
		origin TEXT NOT NULL,
		destination TEXT NOT NULL,
		distance_meters INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (origin, destination)
	);`, `
	CREATE TABLE IF NOT EXISTS geocode_cache (
		address TEXT PRIMARY KEY,
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_stops_route ON delivery_stops(driver_route_id);`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_incident ON transfers(incident_id);`,
		`CREATE INDEX IF NOT EXISTS idx_drivers_active_seen ON drivers(is_active, last_seen_at);`,
		`ALTER TABLE driver_routes ADD COLUMN IF NOT EXISTS started_at TIMESTAMPTZ;`,
		`ALTER TABLE driver_routes ADD COLUMN IF NOT EXISTS completed_at TIMESTAMPTZ;`,
		// At most one unresolved incident per driver route.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_open_route ON incidents(driver_route_id)
		WHERE status IN ('reported', 'assistance_assigned');`,
	}

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}
	return nil
}

// SeedData is the JSON document accepted by LoadSeed.
type SeedData struct {
	Stops    []domain.Stop           `json:"stops"`
	Vehicles []domain.VehicleProfile `json:"vehicles"`
	Drivers  []domain.Driver         `json:"drivers"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (SeedData, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return SeedData{}, fmt.Errorf("load seed: read %q: %w", path, err)
	}

	var data SeedData
	if err := json.Unmarshal(bytes, &data); err != nil {
		return SeedData{}, fmt.Errorf("load seed: parse json: %w", err)
	}

	for i, s := range data.Stops {
		if strings.TrimSpace(s.ID) == "" {
			return SeedData{}, fmt.Errorf("load seed: stop at index %d: id cannot be empty", i+1)
		}
		if err := s.Coordinate.Validate(); err != nil {
			return SeedData{}, fmt.Errorf("load seed: stop %q: %w", s.ID, err)
		}
	}
	for i, v := range data.Vehicles {
		if strings.TrimSpace(v.ID) == "" {
			return SeedData{}, fmt.Errorf("load seed: vehicle at index %d: id cannot be empty", i+1)
		}
		if _, err := domain.ParseVehicleType(string(v.Type)); err != nil {
			return SeedData{}, fmt.Errorf("load seed: vehicle %q: %w", v.ID, err)
		}
	}
	for i, d := range data.Drivers {
		if strings.TrimSpace(d.ID) == "" {
			return SeedData{}, fmt.Errorf("load seed: driver at index %d: id cannot be empty", i+1)
		}
	}
	return data, nil
}

// SeedPostgres upserts the seed data in one transaction.
func SeedPostgres(ctx context.Context, db *sql.DB, data SeedData) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range data.Stops {
		var ws, we sql.NullInt64
		if s.TimeWindow != nil {
			ws = sql.NullInt64{Int64: int64(s.TimeWindow.Start), Valid: true}
			we = sql.NullInt64{Int64: int64(s.TimeWindow.End), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
		INSERT INTO stops (id, name, address, lat, lng, window_start, window_end, demand)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, address = EXCLUDED.address,
			lat = EXCLUDED.lat, lng = EXCLUDED.lng,
			window_start = EXCLUDED.window_start, window_end = EXCLUDED.window_end,
			demand = EXCLUDED.demand`,
			s.ID, s.Name, s.Address, s.Coordinate.Lat, s.Coordinate.Lng, ws, we, s.DemandUnits())
		if err != nil {
			return fmt.Errorf("seed: insert stop %q: %w", s.ID, err)
		}
	}

	for _, v := range data.Vehicles {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO vehicles (id, type, capacity, max_weight, base_fuel_consumption,
			cruise_speed, load_kg, weight_kg, fuel_type, max_distance_km)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, capacity = EXCLUDED.capacity,
			max_weight = EXCLUDED.max_weight,
			base_fuel_consumption = EXCLUDED.base_fuel_consumption,
			cruise_speed = EXCLUDED.cruise_speed, load_kg = EXCLUDED.load_kg,
			weight_kg = EXCLUDED.weight_kg, fuel_type = EXCLUDED.fuel_type,
			max_distance_km = EXCLUDED.max_distance_km`,
			v.ID, string(v.Type), v.Capacity, v.MaxWeight, v.BaseFuelConsumption,
			v.CruiseSpeed, v.LoadKg, v.WeightKg, v.FuelType, v.MaxDistanceKm)
		if err != nil {
			return fmt.Errorf("seed: insert vehicle %q: %w", v.ID, err)
		}
	}

	for _, d := range data.Drivers {
		var lat, lng sql.NullFloat64
		if d.Location != nil {
			lat = sql.NullFloat64{Float64: d.Location.Lat, Valid: true}
			lng = sql.NullFloat64{Float64: d.Location.Lng, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
		INSERT INTO drivers (id, name, is_active, last_seen_at, lat, lng, vehicle_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, is_active = EXCLUDED.is_active,
			last_seen_at = EXCLUDED.last_seen_at, lat = EXCLUDED.lat,
			lng = EXCLUDED.lng, vehicle_id = EXCLUDED.vehicle_id`,
			d.ID, d.Name, d.IsActive, nullTime(d.LastSeenAt), lat, lng, d.VehicleID)
		if err != nil {
			return fmt.Errorf("seed: insert driver %q: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed: commit tx: %w", err)
	}
	return nil
}
