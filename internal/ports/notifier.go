package ports

import (
	"context"

	"fleet-routing-service/internal/domain"
)

// Notifier delivers driver and admin notifications. Callers treat delivery
// as fire-and-forget: errors are logged, never propagated to the user.
type Notifier interface {
	NotifyDriver(ctx context.Context, driverID string, kind domain.NotificationType, payload map[string]any) error
	NotifyAdmin(ctx context.Context, kind domain.NotificationType, payload map[string]any) error
}
