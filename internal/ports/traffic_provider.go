package ports

import (
	"context"

	"fleet-routing-service/internal/domain"
)

// Source of live traffic features (signals, congested roads) for a bounding box.
type TrafficProvider interface {
	Snapshot(ctx context.Context, bounds domain.Bounds) (*domain.TrafficSnapshot, error)
}
