package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/geo"
	"fleet-routing-service/internal/platform/obs"
	"fleet-routing-service/internal/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultSearchRadiusKm      = 20.0
	DefaultAdminSearchRadiusKm = 50.0
	DefaultHeartbeatWindow     = 30 * time.Minute
)

type IncidentConfig struct {
	SearchRadiusKm      float64
	AdminSearchRadiusKm float64
	// Drivers not seen within this window are not offered transfers.
	HeartbeatWindow time.Duration
}

func (c IncidentConfig) withDefaults() IncidentConfig {
	if c.SearchRadiusKm <= 0 {
		c.SearchRadiusKm = DefaultSearchRadiusKm
	}
	if c.AdminSearchRadiusKm <= 0 {
		c.AdminSearchRadiusKm = DefaultAdminSearchRadiusKm
	}
	if c.HeartbeatWindow <= 0 {
		c.HeartbeatWindow = DefaultHeartbeatWindow
	}
	return c
}

type IncidentDeps struct {
	Drivers     ports.DriverRepository
	Vehicles    ports.VehicleRepository
	Assignments ports.AssignmentRepository
	Incidents   ports.IncidentRepository
	Transfers   ports.TransferRepository
	Notifier    ports.Notifier
}

// IncidentManager runs the incident and transfer workflow.
type IncidentManager struct {
	deps IncidentDeps
	cfg  IncidentConfig
	log  *zap.Logger
	now  func() time.Time
}

func NewIncidentManager(deps IncidentDeps, cfg IncidentConfig, log *zap.Logger) *IncidentManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &IncidentManager{deps: deps, cfg: cfg.withDefaults(), log: log, now: time.Now}
}

type ReportIncidentRequest struct {
	DriverID      string
	DriverRouteID string
	Type          string
	Description   string
	Location      domain.Coordinate
	// RequiredVehicleType restricts substitutes to one vehicle type.
	RequiredVehicleType *domain.VehicleType
}

type IncidentReport struct {
	Incident         domain.Incident    `json:"incident"`
	UndeliveredStops int                `json:"undelivered_stops"`
	Candidates       []domain.Candidate `json:"candidates"`
	Transfer         *domain.Transfer   `json:"transfer,omitempty"`
}

// ReportIncident records the incident and, when stops remain undelivered,
// offers them to nearby drivers through a single pending transfer.
func (m *IncidentManager) ReportIncident(ctx context.Context, req ReportIncidentRequest) (rep *IncidentReport, err error) {
	defer obs.Time(ctx, m.log, "incidents.ReportIncident")(&err)

	if req.DriverID == "" || req.DriverRouteID == "" || req.Type == "" {
		return nil, fmt.Errorf("report incident: driver_id, driver_route_id and incident_type are required: %w", domain.ErrInvalidInput)
	}
	if err := req.Location.Validate(); err != nil {
		return nil, fmt.Errorf("report incident: location: %w", err)
	}

	dr, err := m.deps.Assignments.GetDriverRoute(ctx, req.DriverRouteID)
	if err != nil {
		return nil, fmt.Errorf("report incident: %w", err)
	}
	if dr.DriverID != req.DriverID {
		return nil, fmt.Errorf("report incident: route %s belongs to another driver: %w", dr.ID, domain.ErrForbidden)
	}

	now := m.now().UTC()
	inc := domain.Incident{
		ID:            uuid.NewString(),
		DriverRouteID: dr.ID,
		DriverID:      req.DriverID,
		Type:          req.Type,
		Description:   req.Description,
		Location:      req.Location,
		Status:        domain.IncidentReported,
		ReportedAt:    now,
	}
	// A second report on the same route is refused until the first is
	// resolved, so its stops are never offered twice.
	if err := m.deps.Incidents.CreateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("report incident: %w", err)
	}
	touchDriver(ctx, m.deps.Drivers, m.log, req.DriverID, &req.Location, now)

	undelivered, err := m.undeliveredStops(ctx, dr.ID)
	if err != nil {
		return nil, fmt.Errorf("report incident: %w", err)
	}
	rep = &IncidentReport{Incident: inc, UndeliveredStops: len(undelivered)}

	m.notifyAdmin(ctx, domain.NotifyIncidentReported, map[string]any{
		"incident_id":       inc.ID,
		"driver_id":         inc.DriverID,
		"incident_type":     inc.Type,
		"undelivered_stops": len(undelivered),
	})
	if len(undelivered) == 0 {
		return rep, nil
	}

	rep.Candidates, err = m.candidates(ctx, req.Location, m.cfg.SearchRadiusKm, req.RequiredVehicleType, req.DriverID)
	if err != nil {
		return nil, fmt.Errorf("report incident: %w", err)
	}
	if len(rep.Candidates) == 0 {
		m.log.Info("no substitute drivers in range",
			zap.String("incident_id", inc.ID), zap.Float64("radius_km", m.cfg.SearchRadiusKm))
		return rep, nil
	}

	rep.Transfer, err = m.offer(ctx, inc, dr, undelivered, req.RequiredVehicleType, rep.Candidates)
	if err != nil {
		return nil, fmt.Errorf("report incident: %w", err)
	}
	return rep, nil
}

// FindSubstitutes searches again for substitute drivers, with the wider
// radius for admins. When the incident has no open offer yet, one is
// created for the candidates found.
func (m *IncidentManager) FindSubstitutes(ctx context.Context, incidentID string, admin bool, vehicleType *domain.VehicleType) (cands []domain.Candidate, err error) {
	defer obs.Time(ctx, m.log, "incidents.FindSubstitutes")(&err)

	inc, err := m.deps.Incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("find substitutes: %w", err)
	}
	radius := m.cfg.SearchRadiusKm
	if admin {
		radius = m.cfg.AdminSearchRadiusKm
	}
	cands, err = m.candidates(ctx, inc.Location, radius, vehicleType, inc.DriverID)
	if err != nil {
		return nil, fmt.Errorf("find substitutes: %w", err)
	}
	if len(cands) == 0 {
		if admin {
			return nil, fmt.Errorf("find substitutes for incident %s within %.0f km: %w", inc.ID, radius, domain.ErrNoSubstitute)
		}
		return cands, nil
	}
	if inc.Status != domain.IncidentReported {
		return cands, nil
	}

	transfers, err := m.deps.Transfers.ListTransfersByIncident(ctx, inc.ID)
	if err != nil {
		return nil, fmt.Errorf("find substitutes: %w", err)
	}
	for _, t := range transfers {
		if t.Status == domain.TransferPending {
			m.notifyCandidates(ctx, t, cands)
			return cands, nil
		}
	}

	dr, err := m.deps.Assignments.GetDriverRoute(ctx, inc.DriverRouteID)
	if err != nil {
		return nil, fmt.Errorf("find substitutes: %w", err)
	}
	undelivered, err := m.undeliveredStops(ctx, dr.ID)
	if err != nil {
		return nil, fmt.Errorf("find substitutes: %w", err)
	}
	if len(undelivered) > 0 {
		if _, err := m.offer(ctx, *inc, dr, undelivered, vehicleType, cands); err != nil {
			return nil, fmt.Errorf("find substitutes: %w", err)
		}
	}
	return cands, nil
}

func (m *IncidentManager) undeliveredStops(ctx context.Context, driverRouteID string) ([]domain.DeliveryStop, error) {
	stops, err := m.deps.Assignments.ListDeliveryStops(ctx, driverRouteID)
	if err != nil {
		return nil, err
	}
	var out []domain.DeliveryStop
	for _, s := range stops {
		if s.Status.IsUndelivered() {
			out = append(out, s)
		}
	}
	return out, nil
}

// candidates returns active, recently seen drivers within radiusKm of at,
// nearest first. Drivers without a known location are skipped.
func (m *IncidentManager) candidates(ctx context.Context, at domain.Coordinate, radiusKm float64, vehicleType *domain.VehicleType, exclude string) ([]domain.Candidate, error) {
	drivers, err := m.deps.Drivers.ListActiveDrivers(ctx, m.now().Add(-m.cfg.HeartbeatWindow))
	if err != nil {
		return nil, fmt.Errorf("list active drivers: %w", err)
	}

	var out []domain.Candidate
	for _, d := range drivers {
		if d.ID == exclude || !d.IsActive || d.Location == nil {
			continue
		}
		km := geo.Haversine(at, *d.Location)
		if km > radiusKm {
			continue
		}
		c := domain.Candidate{Driver: d, DistanceKm: km}
		if d.VehicleID != "" && m.deps.Vehicles != nil {
			v, err := m.deps.Vehicles.GetVehicle(ctx, d.VehicleID)
			switch {
			case err == nil:
				c.VehicleType = v.Type
			case !errors.Is(err, domain.ErrNotFound):
				return nil, fmt.Errorf("vehicle of driver %s: %w", d.ID, err)
			}
		}
		if vehicleType != nil && c.VehicleType != *vehicleType {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Driver.ID < out[j].Driver.ID
	})
	return out, nil
}

// offer creates the incident's single pending transfer and notifies every candidate.
func (m *IncidentManager) offer(ctx context.Context, inc domain.Incident, dr *domain.DriverRoute, stops []domain.DeliveryStop, vehicleType *domain.VehicleType, cands []domain.Candidate) (*domain.Transfer, error) {
	ids := make([]string, len(stops))
	for i, s := range stops {
		ids[i] = s.ID
	}
	tr := domain.Transfer{
		ID:                  uuid.NewString(),
		IncidentID:          inc.ID,
		OriginalDriverID:    inc.DriverID,
		OriginalRouteID:     dr.ID,
		StopIDs:             ids,
		Status:              domain.TransferPending,
		RequiredVehicleType: vehicleType,
		RequiredCapacity:    domain.RequiredCapacityFor(len(ids)),
		CreatedAt:           m.now().UTC(),
	}
	if err := m.deps.Transfers.CreateTransfer(ctx, tr); err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}
	m.notifyCandidates(ctx, tr, cands)
	return &tr, nil
}

func (m *IncidentManager) notifyCandidates(ctx context.Context, tr domain.Transfer, cands []domain.Candidate) {
	for _, c := range cands {
		m.notifyDriver(ctx, c.Driver.ID, domain.NotifyAssistanceNeeded, map[string]any{
			"transfer_id": tr.ID,
			"incident_id": tr.IncidentID,
			"stop_count":  len(tr.StopIDs),
			"distance_km": c.DistanceKm,
		})
	}
}

type AcceptResult struct {
	Transfer    domain.Transfer       `json:"transfer"`
	DriverRoute domain.DriverRoute    `json:"driver_route"`
	Stops       []domain.DeliveryStop `json:"stops"`
}

// AcceptTransfer lets a substitute driver take over the transfer's stops.
// Exactly one concurrent caller wins; the others get domain.ErrOfferWithdrawn.
func (m *IncidentManager) AcceptTransfer(ctx context.Context, transferID, driverID string) (res *AcceptResult, err error) {
	defer obs.Time(ctx, m.log, "incidents.AcceptTransfer")(&err)
	return m.handOff(ctx, transferID, driverID)
}

// AssignTransfer is the admin path: the transfer is handed to driverID
// without the driver asking for it.
func (m *IncidentManager) AssignTransfer(ctx context.Context, transferID, driverID string) (res *AcceptResult, err error) {
	defer obs.Time(ctx, m.log, "incidents.AssignTransfer")(&err)
	return m.handOff(ctx, transferID, driverID)
}

func (m *IncidentManager) handOff(ctx context.Context, transferID, driverID string) (*AcceptResult, error) {
	result := "error"
	defer func() { obs.TransferAcceptances.WithLabelValues(result).Inc() }()

	if driverID == "" {
		result = "invalid"
		return nil, fmt.Errorf("accept transfer: driver_id required: %w", domain.ErrInvalidInput)
	}
	tr, err := m.deps.Transfers.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("accept transfer: %w", err)
	}
	if !tr.Acceptable() {
		result = "withdrawn"
		return nil, fmt.Errorf("accept transfer %s: %w", tr.ID, domain.ErrOfferWithdrawn)
	}
	if driverID == tr.OriginalDriverID {
		result = "invalid"
		return nil, fmt.Errorf("accept transfer %s: driver reported the incident: %w", tr.ID, domain.ErrInvalidInput)
	}
	driver, err := m.deps.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("accept transfer %s: %w", tr.ID, err)
	}

	orig, err := m.deps.Assignments.GetDriverRoute(ctx, tr.OriginalRouteID)
	if err != nil {
		return nil, fmt.Errorf("accept transfer %s: %w", tr.ID, err)
	}
	stops, err := m.deps.Assignments.ListDeliveryStops(ctx, orig.ID)
	if err != nil {
		return nil, fmt.Errorf("accept transfer %s: %w", tr.ID, err)
	}

	now := m.now().UTC()
	parent := orig.ID
	newRoute := domain.DriverRoute{
		ID:         uuid.NewString(),
		DriverID:   driver.ID,
		RouteID:    orig.RouteID,
		VehicleID:  driver.VehicleID,
		Status:     domain.DriverRouteAssigned,
		IsTransfer: true,
		ParentID:   &parent,
		CreatedAt:  now,
	}

	wanted := make(map[string]bool, len(tr.StopIDs))
	for _, id := range tr.StopIDs {
		wanted[id] = true
	}
	var clones []domain.DeliveryStop
	var originals []string
	for _, s := range stops {
		if !wanted[s.ID] || !s.Status.IsUndelivered() {
			continue
		}
		c := s
		c.ID = uuid.NewString()
		c.DriverRouteID = newRoute.ID
		c.StopNumber = len(clones) + 1
		c.Status = domain.StopPending
		c.ActualArrival = nil
		clones = append(clones, c)
		originals = append(originals, s.ID)
	}

	accepted, err := m.deps.Transfers.CompleteHandOff(ctx, ports.HandOff{
		TransferID:      tr.ID,
		IncidentID:      tr.IncidentID,
		NewDriverID:     driver.ID,
		NewRoute:        newRoute,
		ClonedStops:     clones,
		OriginalStopIDs: originals,
		AcceptedAt:      now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrOfferWithdrawn) {
			result = "withdrawn"
		}
		return nil, fmt.Errorf("accept transfer %s: %w", tr.ID, err)
	}
	result = "accepted"
	touchDriver(ctx, m.deps.Drivers, m.log, driver.ID, nil, now)

	m.notifyDriver(ctx, tr.OriginalDriverID, domain.NotifyAssistanceAssigned, map[string]any{
		"transfer_id":   tr.ID,
		"incident_id":   tr.IncidentID,
		"new_driver_id": driver.ID,
		"stop_count":    len(clones),
	})
	m.notifyAdmin(ctx, domain.NotifyTransferCompleted, map[string]any{
		"transfer_id":   tr.ID,
		"new_driver_id": driver.ID,
		"new_route_id":  newRoute.ID,
	})
	return &AcceptResult{Transfer: *accepted, DriverRoute: newRoute, Stops: clones}, nil
}

// ResolveIncident closes the incident and withdraws any open offer.
func (m *IncidentManager) ResolveIncident(ctx context.Context, incidentID string) (inc *domain.Incident, err error) {
	defer obs.Time(ctx, m.log, "incidents.ResolveIncident")(&err)
	inc, _, err = m.close(ctx, incidentID, "")
	return inc, err
}

// CancelIncident is only allowed for the driver who reported it. Pending
// transfers are cancelled and the incident is marked resolved.
func (m *IncidentManager) CancelIncident(ctx context.Context, incidentID, driverID string) (inc *domain.Incident, err error) {
	defer obs.Time(ctx, m.log, "incidents.CancelIncident")(&err)
	if driverID == "" {
		return nil, fmt.Errorf("cancel incident: driver_id required: %w", domain.ErrInvalidInput)
	}
	inc, n, err := m.close(ctx, incidentID, driverID)
	if err != nil {
		return nil, err
	}
	m.notifyAdmin(ctx, domain.NotifyIncidentCancelled, map[string]any{
		"incident_id":         inc.ID,
		"driver_id":           inc.DriverID,
		"cancelled_transfers": n,
	})
	return inc, nil
}

// close resolves the incident, cancelling its pending transfers. A non-empty
// owner must match the reporting driver.
func (m *IncidentManager) close(ctx context.Context, incidentID, owner string) (*domain.Incident, int, error) {
	inc, err := m.deps.Incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, 0, fmt.Errorf("close incident: %w", err)
	}
	if owner != "" && inc.DriverID != owner {
		return nil, 0, fmt.Errorf("close incident %s: %w", inc.ID, domain.ErrForbidden)
	}
	if err := inc.TransitionTo(domain.IncidentResolved, m.now().UTC()); err != nil {
		return nil, 0, fmt.Errorf("close incident: %w", err)
	}

	n, err := m.deps.Transfers.CancelPendingTransfers(ctx, inc.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("close incident %s: %w", inc.ID, err)
	}
	if err := m.deps.Incidents.UpdateIncident(ctx, *inc); err != nil {
		return nil, 0, fmt.Errorf("close incident %s: %w", inc.ID, err)
	}
	return inc, n, nil
}

type IncidentDetails struct {
	Incident  domain.Incident   `json:"incident"`
	Transfers []domain.Transfer `json:"transfers"`
}

func (m *IncidentManager) GetIncident(ctx context.Context, id string) (*IncidentDetails, error) {
	inc, err := m.deps.Incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	transfers, err := m.deps.Transfers.ListTransfersByIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return &IncidentDetails{Incident: *inc, Transfers: transfers}, nil
}

func (m *IncidentManager) ListTransfersForDriver(ctx context.Context, driverID string) ([]domain.Transfer, error) {
	out, err := m.deps.Transfers.ListTransfersByDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("list transfers for driver %s: %w", driverID, err)
	}
	return out, nil
}

func (m *IncidentManager) notifyDriver(ctx context.Context, driverID string, kind domain.NotificationType, payload map[string]any) {
	if m.deps.Notifier == nil {
		return
	}
	if err := m.deps.Notifier.NotifyDriver(ctx, driverID, kind, payload); err != nil {
		m.log.Warn("driver notification failed",
			zap.String("driver_id", driverID), zap.String("type", string(kind)), zap.Error(err))
	}
}

func (m *IncidentManager) notifyAdmin(ctx context.Context, kind domain.NotificationType, payload map[string]any) {
	if m.deps.Notifier == nil {
		return
	}
	if err := m.deps.Notifier.NotifyAdmin(ctx, kind, payload); err != nil {
		m.log.Warn("admin notification failed", zap.String("type", string(kind)), zap.Error(err))
	}
}
