package distance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/platform/obs"
	"fleet-routing-service/internal/ports"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.openrouteservice.org"
	DefaultProfile = "driving-car"
	// ORS free tier allows roughly one geocode call per second.
	DefaultGeocodeRate = rate.Limit(1)
)

// DistanceStore persists road distances per origin, keyed by destination Coordinate.Key().
type DistanceStore interface {
	GetMany(ctx context.Context, origin domain.Coordinate, destinations []domain.Coordinate) (map[string]ports.DistanceResult, error)
	PutMany(ctx context.Context, origin domain.Coordinate, results map[string]ports.DistanceResult) error
}

// GeocodeStore persists address lookups. Get returns nil for unknown addresses.
type GeocodeStore interface {
	Get(ctx context.Context, address string) (*domain.Coordinate, error)
	Put(ctx context.Context, address string, c domain.Coordinate) error
}

type ORSConfig struct {
	APIKey      string
	BaseURL     string
	Profile     string
	Timeout     time.Duration
	GeocodeRate rate.Limit
	// Country restricts geocoding results; empty searches worldwide.
	Country string
}

// ORSClient talks to OpenRouteService for road distances and geocoding.
//
// It coordinates:
//   - Persistent distance and geocode caching
//   - Rate limiting of geocode calls
//   - External API calls with retry/backoff
//
// The client is safe for concurrent use.
type ORSClient struct {
	session   *http.Client
	apiKey    string
	baseURL   string
	profile   string
	country   string
	distances DistanceStore
	geocodes  GeocodeStore
	limiter   *rate.Limiter
	backoff   time.Duration
	log       *zap.Logger
}

// NewORSClient builds a client. Either store may be nil to disable persistence.
func NewORSClient(cfg ORSConfig, distances DistanceStore, geocodes GeocodeStore, log *zap.Logger) (*ORSClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ORS api key is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.GeocodeRate <= 0 {
		cfg.GeocodeRate = DefaultGeocodeRate
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &ORSClient{
		session:   &http.Client{Timeout: cfg.Timeout},
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		profile:   cfg.Profile,
		country:   cfg.Country,
		distances: distances,
		geocodes:  geocodes,
		limiter:   rate.NewLimiter(cfg.GeocodeRate, 1),
		backoff:   200 * time.Millisecond,
		log:       log,
	}, nil
}

// GetDistance delegates to the batched path to reuse caching and matrix logic.
func (o *ORSClient) GetDistance(ctx context.Context, origin, destination domain.Coordinate) (ports.DistanceResult, error) {
	if origin.Key() == destination.Key() {
		return ports.DistanceResult{}, nil
	}
	results, err := o.GetDistances(ctx, origin, []domain.Coordinate{destination})
	if err != nil {
		return ports.DistanceResult{}, fmt.Errorf("get distance %s -> %s: %w", origin.Key(), destination.Key(), err)
	}
	result, ok := results[destination.Key()]
	if !ok {
		return ports.DistanceResult{}, fmt.Errorf("no distance result for %s -> %s", origin.Key(), destination.Key())
	}
	return result, nil
}

// GetDistances computes road distances from one origin to many
// destinations. The origin itself is never queried.
func (o *ORSClient) GetDistances(ctx context.Context, origin domain.Coordinate, destinations []domain.Coordinate) (_ map[string]ports.DistanceResult, err error) {
	defer obs.Time(ctx, o.log, "ors.GetDistances")(&err)

	if err := origin.Validate(); err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}

	seen := map[string]struct{}{origin.Key(): {}}
	dests := make([]domain.Coordinate, 0, len(destinations))
	for _, d := range destinations {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("destination: %w", err)
		}
		if _, ok := seen[d.Key()]; ok {
			continue
		}
		seen[d.Key()] = struct{}{}
		dests = append(dests, d)
	}
	if len(dests) == 0 {
		return map[string]ports.DistanceResult{}, nil
	}

	hits := map[string]ports.DistanceResult{}
	// Check the persistent cache before issuing external calls.
	if o.distances != nil {
		hits, err = o.distances.GetMany(ctx, origin, dests)
		if err != nil {
			return nil, fmt.Errorf("ORS get distance cache: %w", err)
		}
	}

	misses := make([]domain.Coordinate, 0, len(dests))
	for _, d := range dests {
		if _, ok := hits[d.Key()]; !ok {
			misses = append(misses, d)
		}
	}
	if len(misses) == 0 {
		return hits, nil
	}

	fetched, err := o.fetchMatrixRow(ctx, origin, misses)
	if err != nil {
		return nil, fmt.Errorf("fetching matrix row: %w", err)
	}

	if o.distances != nil {
		if err := o.distances.PutMany(ctx, origin, fetched); err != nil {
			o.log.Warn("distance cache write failed", zap.Error(err))
		}
	}

	out := make(map[string]ports.DistanceResult, len(hits)+len(fetched))
	for k, v := range hits {
		out[k] = v
	}
	for k, v := range fetched {
		out[k] = v
	}
	return out, nil
}
