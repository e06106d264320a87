package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/platform/obs"

	"go.uber.org/zap"
)

// SQLGeocodeCache maps normalized addresses to coordinates.
type SQLGeocodeCache struct {
	DB  *sql.DB
	Log *zap.Logger
}

func NewSQLGeocodeCache(db *sql.DB, log *zap.Logger) *SQLGeocodeCache {
	return &SQLGeocodeCache{DB: db, Log: log}
}

// Get returns the cached coordinate for address, or nil when absent.
func (s *SQLGeocodeCache) Get(ctx context.Context, address string) (_ *domain.Coordinate, err error) {
	defer obs.Time(ctx, s.Log, "geocode.cache.Get")(&err)

	if s.DB == nil {
		return nil, errors.New("geocode cache: db is nil")
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}

	var c domain.Coordinate
	err = s.DB.QueryRowContext(ctx,
		`SELECT lat, lng FROM geocode_cache WHERE address = $1`, address,
	).Scan(&c.Lat, &c.Lng)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get geocode cache: query geocode_cache table: %w", err)
	}
	return &c, nil
}

// Put stores address -> coordinate, replacing any previous value.
func (s *SQLGeocodeCache) Put(ctx context.Context, address string, c domain.Coordinate) (err error) {
	defer obs.Time(ctx, s.Log, "geocode.cache.Put")(&err)

	if s.DB == nil {
		return errors.New("geocode cache: db is nil")
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return errors.New("insert geocode cache: empty address key")
	}

	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO geocode_cache (address, lat, lng, fetched_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (address) DO UPDATE
	SET lat = EXCLUDED.lat,
		lng = EXCLUDED.lng,
		fetched_at = EXCLUDED.fetched_at`, address, c.Lat, c.Lng)
	if err != nil {
		return fmt.Errorf("insert geocode cache address=%q: %w", address, err)
	}
	return nil
}
