package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/platform/obs"
	"fleet-routing-service/internal/ports"

	"go.uber.org/zap"
)

// DefaultDistanceMaxAge bounds how long a road distance is trusted. Road
// networks change slowly, so entries are kept for weeks.
const DefaultDistanceMaxAge = 30 * 24 * time.Hour

// SQLDistanceCache persists road distances between coordinate pairs so the
// road-network provider is asked for each pair only once per MaxAge.
type SQLDistanceCache struct {
	DB     *sql.DB
	Log    *zap.Logger
	MaxAge time.Duration
}

func NewSQLDistanceCache(db *sql.DB, log *zap.Logger) *SQLDistanceCache {
	return &SQLDistanceCache{DB: db, Log: log, MaxAge: DefaultDistanceMaxAge}
}

// GetMany returns the fresh cached distances from origin, keyed by
// destination Coordinate.Key(). Missing or stale pairs are simply absent.
func (s *SQLDistanceCache) GetMany(
	ctx context.Context,
	origin domain.Coordinate,
	destinations []domain.Coordinate,
) (_ map[string]ports.DistanceResult, err error) {
	defer obs.Time(ctx, s.Log, "distance.cache.GetMany")(&err)

	if s.DB == nil {
		return nil, errors.New("distance cache: db is nil")
	}
	if len(destinations) == 0 {
		return map[string]ports.DistanceResult{}, nil
	}

	keys := uniqueKeys(destinations)
	maxAge := s.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultDistanceMaxAge
	}

	rows, err := s.DB.QueryContext(ctx, `
	SELECT destination, distance_meters, duration_seconds
	FROM distance_cache
	WHERE origin = $1
		AND destination = ANY($2::text[])
		AND fetched_at > $3`,
		origin.Key(), keys, time.Now().Add(-maxAge))
	if err != nil {
		return nil, fmt.Errorf("distance cache get: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ports.DistanceResult, len(keys))
	for rows.Next() {
		var dest string
		var r ports.DistanceResult
		if err := rows.Scan(&dest, &r.DistanceMeters, &r.DurationSeconds); err != nil {
			return nil, fmt.Errorf("distance cache get: scan: %w", err)
		}
		out[dest] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distance cache get: rows: %w", err)
	}
	return out, nil
}

// PutMany upserts every result for origin in a single statement and
// refreshes fetched_at on the rows it touches.
func (s *SQLDistanceCache) PutMany(
	ctx context.Context,
	origin domain.Coordinate,
	results map[string]ports.DistanceResult,
) (err error) {
	defer obs.Time(ctx, s.Log, "distance.cache.PutMany")(&err)

	if s.DB == nil {
		return errors.New("distance cache: db is nil")
	}
	if len(results) == 0 {
		return nil
	}

	dests := make([]string, 0, len(results))
	meters := make([]int64, 0, len(results))
	seconds := make([]int64, 0, len(results))
	for dest, r := range results {
		if dest == "" {
			return errors.New("distance cache put: empty destination key")
		}
		dests = append(dests, dest)
		meters = append(meters, int64(r.DistanceMeters))
		seconds = append(seconds, int64(r.DurationSeconds))
	}

	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO distance_cache (origin, destination, distance_meters, duration_seconds, fetched_at)
	SELECT $1, d.dest, d.meters, d.seconds, now()
	FROM unnest($2::text[], $3::int[], $4::int[]) AS d(dest, meters, seconds)
	ON CONFLICT (origin, destination) DO UPDATE
	SET distance_meters = EXCLUDED.distance_meters,
		duration_seconds = EXCLUDED.duration_seconds,
		fetched_at = EXCLUDED.fetched_at`,
		origin.Key(), dests, meters, seconds)
	if err != nil {
		return fmt.Errorf("distance cache put origin=%q: %w", origin.Key(), err)
	}
	return nil
}

func uniqueKeys(coords []domain.Coordinate) []string {
	seen := make(map[string]struct{}, len(coords))
	keys := make([]string, 0, len(coords))
	for _, c := range coords {
		k := c.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
