package ports

import (
	"context"

	"fleet-routing-service/internal/domain"
)

// Road distance and travel duration between two locations.
type DistanceResult struct {
	DistanceMeters  int
	DurationSeconds int
}

// Contract for retrieving road-network distances between coordinates.
type DistanceProvider interface {
	// Return road distance and estimated duration between two locations.
	GetDistance(ctx context.Context, origin, destination domain.Coordinate) (DistanceResult, error)
}

// Optional extension of DistanceProvider that supports batched lookups.
type DistanceMatrixProvider interface {
	DistanceProvider
	// Return distances from one origin to many destinations, keyed by Coordinate.Key().
	GetDistances(ctx context.Context, origin domain.Coordinate, destinations []domain.Coordinate) (map[string]DistanceResult, error)
}

// Resolves free-text addresses to coordinates. Returns nil when nothing matched.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*domain.Coordinate, error)
}
