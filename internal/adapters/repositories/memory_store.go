package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/ports"

	"github.com/google/uuid"
)

// MemoryStore implements every repository port in process memory. A single
// mutex makes transfer acceptance an atomic check-and-set.
type MemoryStore struct {
	mu sync.RWMutex

	stops         []domain.Stop
	vehicles      map[string]domain.VehicleProfile
	drivers       map[string]domain.Driver
	routes        map[string][]byte
	driverRoutes  map[string]domain.DriverRoute
	deliveryStops map[string][]domain.DeliveryStop
	incidents     map[string]domain.Incident
	transfers     map[string]domain.Transfer
	fuelRecords   []domain.FuelRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vehicles:      make(map[string]domain.VehicleProfile),
		drivers:       make(map[string]domain.Driver),
		routes:        make(map[string][]byte),
		driverRoutes:  make(map[string]domain.DriverRoute),
		deliveryStops: make(map[string][]domain.DeliveryStop),
		incidents:     make(map[string]domain.Incident),
		transfers:     make(map[string]domain.Transfer),
	}
}

var (
	_ ports.StopRepository       = (*MemoryStore)(nil)
	_ ports.VehicleRepository    = (*MemoryStore)(nil)
	_ ports.DriverRepository     = (*MemoryStore)(nil)
	_ ports.RouteRepository      = (*MemoryStore)(nil)
	_ ports.AssignmentRepository = (*MemoryStore)(nil)
	_ ports.IncidentRepository   = (*MemoryStore)(nil)
	_ ports.TransferRepository   = (*MemoryStore)(nil)
	_ ports.FuelRecordRepository = (*MemoryStore)(nil)
)

// Seed loads stops, vehicles and drivers, replacing entries with the same id.
func (m *MemoryStore) Seed(data SeedData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops = append(m.stops, data.Stops...)
	for _, v := range data.Vehicles {
		m.vehicles[v.ID] = v
	}
	for _, d := range data.Drivers {
		m.drivers[d.ID] = d
	}
}

func (m *MemoryStore) ListStops(ctx context.Context) ([]domain.Stop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.stops), nil
}

func (m *MemoryStore) GetVehicle(ctx context.Context, id string) (*domain.VehicleProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("vehicle %s: %w", id, domain.ErrNotFound)
	}
	return &v, nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, fmt.Errorf("driver %s: %w", id, domain.ErrNotFound)
	}
	return &d, nil
}

func (m *MemoryStore) ListActiveDrivers(ctx context.Context, since time.Time) ([]domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Driver
	for _, d := range m.drivers {
		if d.IsActive && d.LastSeenAt != nil && !d.LastSeenAt.Before(since) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) TouchDriver(ctx context.Context, id string, location *domain.Coordinate, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return fmt.Errorf("driver %s: %w", id, domain.ErrNotFound)
	}
	d.LastSeenAt = &seenAt
	if location != nil {
		loc := *location
		d.Location = &loc
	}
	m.drivers[id] = d
	return nil
}

// SaveRoute stores the route set as an opaque JSON blob.
func (m *MemoryStore) SaveRoute(ctx context.Context, rs *domain.RouteSet) (string, error) {
	id := rs.ID
	if id == "" {
		id = uuid.NewString()
	}
	cp := *rs
	cp.ID = id
	blob, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("save route: encode: %w", err)
	}
	m.mu.Lock()
	m.routes[id] = blob
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryStore) GetRoute(ctx context.Context, id string) (*domain.RouteSet, error) {
	m.mu.RLock()
	blob, ok := m.routes[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("route %s: %w", id, domain.ErrNotFound)
	}
	var rs domain.RouteSet
	if err := json.Unmarshal(blob, &rs); err != nil {
		return nil, fmt.Errorf("route %s: decode: %w", id, err)
	}
	return &rs, nil
}

func (m *MemoryStore) CreateDriverRoute(ctx context.Context, dr domain.DriverRoute, stops []domain.DeliveryStop) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.driverRoutes[dr.ID]; ok {
		return fmt.Errorf("driver route %s already exists", dr.ID)
	}
	m.driverRoutes[dr.ID] = dr
	m.deliveryStops[dr.ID] = slices.Clone(stops)
	return nil
}

func (m *MemoryStore) GetDriverRoute(ctx context.Context, id string) (*domain.DriverRoute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dr, ok := m.driverRoutes[id]
	if !ok {
		return nil, fmt.Errorf("driver route %s: %w", id, domain.ErrNotFound)
	}
	return &dr, nil
}

func (m *MemoryStore) ListDeliveryStops(ctx context.Context, driverRouteID string) ([]domain.DeliveryStop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.driverRoutes[driverRouteID]; !ok {
		return nil, fmt.Errorf("driver route %s: %w", driverRouteID, domain.ErrNotFound)
	}
	return slices.Clone(m.deliveryStops[driverRouteID]), nil
}

func (m *MemoryStore) UpdateStopStatus(ctx context.Context, c ports.StopStatusChange) (*domain.DeliveryStop, *domain.DriverRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	routeID, idx := "", -1
	for id, stops := range m.deliveryStops {
		if i := slices.IndexFunc(stops, func(s domain.DeliveryStop) bool { return s.ID == c.StopID }); i >= 0 {
			routeID, idx = id, i
			break
		}
	}
	if idx < 0 {
		return nil, nil, fmt.Errorf("delivery stop %s: %w", c.StopID, domain.ErrNotFound)
	}
	dr := m.driverRoutes[routeID]
	if dr.DriverID != c.DriverID {
		return nil, nil, fmt.Errorf("delivery stop %s belongs to another driver: %w", c.StopID, domain.ErrForbidden)
	}

	stops := slices.Clone(m.deliveryStops[routeID])
	if err := stops[idx].TransitionTo(c.Status, c.At); err != nil {
		return nil, nil, err
	}
	if domain.RouteFinished(stops) && dr.Status.CanTransitionTo(domain.DriverRouteCompleted) {
		if err := dr.TransitionTo(domain.DriverRouteCompleted, c.At); err != nil {
			return nil, nil, err
		}
	}
	m.deliveryStops[routeID] = stops
	m.driverRoutes[routeID] = dr
	stop := stops[idx]
	return &stop, &dr, nil
}

func (m *MemoryStore) UpdateDriverRouteStatus(ctx context.Context, c ports.RouteStatusChange) (*domain.DriverRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dr, ok := m.driverRoutes[c.DriverRouteID]
	if !ok {
		return nil, fmt.Errorf("driver route %s: %w", c.DriverRouteID, domain.ErrNotFound)
	}
	if dr.DriverID != c.DriverID {
		return nil, fmt.Errorf("driver route %s belongs to another driver: %w", dr.ID, domain.ErrForbidden)
	}
	if err := dr.TransitionTo(c.Status, c.At); err != nil {
		return nil, err
	}
	m.driverRoutes[dr.ID] = dr
	return &dr, nil
}

func (m *MemoryStore) CreateIncident(ctx context.Context, inc domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.incidents {
		if other.DriverRouteID == inc.DriverRouteID && !other.Status.IsTerminal() {
			return fmt.Errorf("incident %s on driver route %s: %w", other.ID, inc.DriverRouteID, domain.ErrIncidentOpen)
		}
	}
	m.incidents[inc.ID] = inc
	return nil
}

func (m *MemoryStore) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, domain.ErrNotFound)
	}
	return &inc, nil
}

func (m *MemoryStore) UpdateIncident(ctx context.Context, inc domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[inc.ID]; !ok {
		return fmt.Errorf("incident %s: %w", inc.ID, domain.ErrNotFound)
	}
	m.incidents[inc.ID] = inc
	return nil
}

func (m *MemoryStore) CreateTransfer(ctx context.Context, tr domain.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr.StopIDs = slices.Clone(tr.StopIDs)
	m.transfers[tr.ID] = tr
	return nil
}

func (m *MemoryStore) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tr, ok := m.transfers[id]
	if !ok {
		return nil, fmt.Errorf("transfer %s: %w", id, domain.ErrNotFound)
	}
	return &tr, nil
}

func (m *MemoryStore) ListTransfersByIncident(ctx context.Context, incidentID string) ([]domain.Transfer, error) {
	return m.listTransfers(func(t domain.Transfer) bool { return t.IncidentID == incidentID }), nil
}

func (m *MemoryStore) ListTransfersByDriver(ctx context.Context, driverID string) ([]domain.Transfer, error) {
	return m.listTransfers(func(t domain.Transfer) bool {
		return t.OriginalDriverID == driverID || (t.NewDriverID != nil && *t.NewDriverID == driverID)
	}), nil
}

func (m *MemoryStore) listTransfers(match func(domain.Transfer) bool) []domain.Transfer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Transfer
	for _, t := range m.transfers {
		if match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) CompleteHandOff(ctx context.Context, h ports.HandOff) (*domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.transfers[h.TransferID]
	if !ok {
		return nil, fmt.Errorf("transfer %s: %w", h.TransferID, domain.ErrNotFound)
	}
	if err := tr.Accept(h.NewDriverID, h.NewRoute.ID, h.AcceptedAt); err != nil {
		return nil, err
	}

	m.transfers[tr.ID] = tr
	m.driverRoutes[h.NewRoute.ID] = h.NewRoute
	m.deliveryStops[h.NewRoute.ID] = slices.Clone(h.ClonedStops)

	moved := make(map[string]bool, len(h.OriginalStopIDs))
	for _, id := range h.OriginalStopIDs {
		moved[id] = true
	}
	for routeID, stops := range m.deliveryStops {
		for i := range stops {
			if moved[stops[i].ID] && stops[i].Status.IsUndelivered() {
				stops[i].Status = domain.StopTransferred
			}
		}
		m.deliveryStops[routeID] = stops
	}

	if inc, ok := m.incidents[h.IncidentID]; ok && inc.Status.CanTransitionTo(domain.IncidentAssistanceAssigned) {
		inc.Status = domain.IncidentAssistanceAssigned
		m.incidents[inc.ID] = inc
	}
	return &tr, nil
}

func (m *MemoryStore) CancelPendingTransfers(ctx context.Context, incidentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.transfers {
		if t.IncidentID == incidentID && t.Status == domain.TransferPending {
			t.Status = domain.TransferCancelled
			m.transfers[id] = t
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SaveFuelRecord(ctx context.Context, rec domain.FuelRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fuelRecords = append(m.fuelRecords, rec)
	return nil
}

func (m *MemoryStore) ListFuelRecords(ctx context.Context) ([]domain.FuelRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.fuelRecords), nil
}
