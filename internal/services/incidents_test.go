package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fleet-routing-service/internal/adapters/repositories"
	"fleet-routing-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentNotification struct {
	driverID string
	kind     domain.NotificationType
	payload  map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) NotifyDriver(ctx context.Context, driverID string, kind domain.NotificationType, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{driverID: driverID, kind: kind, payload: payload})
	return nil
}

func (n *recordingNotifier) NotifyAdmin(ctx context.Context, kind domain.NotificationType, payload map[string]any) error {
	return n.NotifyDriver(ctx, "", kind, payload)
}

func (n *recordingNotifier) to(driverID string, kind domain.NotificationType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.sent {
		if s.driverID == driverID && s.kind == kind {
			count++
		}
	}
	return count
}

var incidentSite = domain.Coordinate{Lat: 40.7300, Lng: -73.9950}

type incidentFixture struct {
	store    *repositories.MemoryStore
	notifier *recordingNotifier
	mgr      *IncidentManager
	now      time.Time
}

// newIncidentFixture seeds driver d-1 on route dr-1 with one completed and
// two pending stops, plus substitutes at roughly 1 km (van), 10 km (truck)
// and 35 km (van), a stale driver and an inactive one.
func newIncidentFixture(t *testing.T) *incidentFixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 3, 11, 0, 0, 0, time.UTC)
	recent, stale := now.Add(-5*time.Minute), now.Add(-3*time.Hour)
	at := func(lat, lng float64) *domain.Coordinate { return &domain.Coordinate{Lat: lat, Lng: lng} }

	store := repositories.NewMemoryStore()
	store.Seed(repositories.SeedData{
		Vehicles: []domain.VehicleProfile{
			{ID: "van-1", Type: domain.VehicleVan},
			{ID: "truck-1", Type: domain.VehicleTruck},
			{ID: "van-2", Type: domain.VehicleVan},
		},
		Drivers: []domain.Driver{
			{ID: "d-1", IsActive: true, LastSeenAt: &recent, Location: &incidentSite},
			{ID: "near", IsActive: true, LastSeenAt: &recent, Location: at(40.7390, -73.9950), VehicleID: "van-1"},
			{ID: "mid", IsActive: true, LastSeenAt: &recent, Location: at(40.8200, -73.9950), VehicleID: "truck-1"},
			{ID: "far", IsActive: true, LastSeenAt: &recent, Location: at(41.0450, -73.9950), VehicleID: "van-2"},
			{ID: "stale", IsActive: true, LastSeenAt: &stale, Location: at(40.7310, -73.9950)},
			{ID: "off", IsActive: false, LastSeenAt: &recent, Location: at(40.7310, -73.9950)},
		},
	})
	require.NoError(t, store.CreateDriverRoute(ctx, domain.DriverRoute{
		ID: "dr-1", DriverID: "d-1", RouteID: "route-1", Status: domain.DriverRouteInProgress, CreatedAt: now,
	}, []domain.DeliveryStop{
		{ID: "ds-1", DriverRouteID: "dr-1", LocationID: "a", StopNumber: 1, Status: domain.StopCompleted},
		{ID: "ds-2", DriverRouteID: "dr-1", LocationID: "b", StopNumber: 2, Status: domain.StopPending},
		{ID: "ds-3", DriverRouteID: "dr-1", LocationID: "c", StopNumber: 3, Status: domain.StopArrived},
	}))

	notifier := &recordingNotifier{}
	mgr := NewIncidentManager(IncidentDeps{
		Drivers:     store,
		Vehicles:    store,
		Assignments: store,
		Incidents:   store,
		Transfers:   store,
		Notifier:    notifier,
	}, IncidentConfig{}, nil)
	mgr.now = func() time.Time { return now }
	return &incidentFixture{store: store, notifier: notifier, mgr: mgr, now: now}
}

func (f *incidentFixture) report(t *testing.T, vt *domain.VehicleType) *IncidentReport {
	t.Helper()
	rep, err := f.mgr.ReportIncident(context.Background(), ReportIncidentRequest{
		DriverID:            "d-1",
		DriverRouteID:       "dr-1",
		Type:                "vehicle_breakdown",
		Location:            incidentSite,
		RequiredVehicleType: vt,
	})
	require.NoError(t, err)
	return rep
}

func candidateIDs(cands []domain.Candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.Driver.ID
	}
	return ids
}

func TestReportIncidentCreatesSinglePendingTransfer(t *testing.T) {
	f := newIncidentFixture(t)

	rep := f.report(t, nil)

	assert.Equal(t, domain.IncidentReported, rep.Incident.Status)
	assert.Equal(t, 2, rep.UndeliveredStops)
	assert.Equal(t, []string{"near", "mid"}, candidateIDs(rep.Candidates))
	assert.Less(t, rep.Candidates[0].DistanceKm, rep.Candidates[1].DistanceKm)

	require.NotNil(t, rep.Transfer)
	assert.Equal(t, domain.TransferPending, rep.Transfer.Status)
	assert.Equal(t, []string{"ds-2", "ds-3"}, rep.Transfer.StopIDs)
	assert.InDelta(t, 0.2, rep.Transfer.RequiredCapacity, 1e-9)

	transfers, err := f.store.ListTransfersByIncident(context.Background(), rep.Incident.ID)
	require.NoError(t, err)
	assert.Len(t, transfers, 1)

	assert.Equal(t, 1, f.notifier.to("near", domain.NotifyAssistanceNeeded))
	assert.Equal(t, 1, f.notifier.to("mid", domain.NotifyAssistanceNeeded))
	assert.Equal(t, 0, f.notifier.to("far", domain.NotifyAssistanceNeeded))
	assert.Equal(t, 1, f.notifier.to("", domain.NotifyIncidentReported))
}

func TestReportIncidentFiltersByVehicleType(t *testing.T) {
	f := newIncidentFixture(t)
	truck := domain.VehicleTruck

	rep := f.report(t, &truck)

	assert.Equal(t, []string{"mid"}, candidateIDs(rep.Candidates))
	require.NotNil(t, rep.Transfer)
	require.NotNil(t, rep.Transfer.RequiredVehicleType)
	assert.Equal(t, domain.VehicleTruck, *rep.Transfer.RequiredVehicleType)
}

func TestReportIncidentRejectsOtherDriversRoute(t *testing.T) {
	f := newIncidentFixture(t)

	_, err := f.mgr.ReportIncident(context.Background(), ReportIncidentRequest{
		DriverID: "near", DriverRouteID: "dr-1", Type: "flat_tire", Location: incidentSite,
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.mgr.ReportIncident(context.Background(), ReportIncidentRequest{
		DriverID: "d-1", DriverRouteID: "dr-1", Location: incidentSite,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAcceptTransferHandsOffStops(t *testing.T) {
	ctx := context.Background()
	f := newIncidentFixture(t)
	rep := f.report(t, nil)

	res, err := f.mgr.AcceptTransfer(ctx, rep.Transfer.ID, "near")
	require.NoError(t, err)

	assert.Equal(t, domain.TransferAccepted, res.Transfer.Status)
	require.NotNil(t, res.Transfer.NewDriverID)
	assert.Equal(t, "near", *res.Transfer.NewDriverID)

	assert.True(t, res.DriverRoute.IsTransfer)
	require.NotNil(t, res.DriverRoute.ParentID)
	assert.Equal(t, "dr-1", *res.DriverRoute.ParentID)
	assert.Equal(t, "route-1", res.DriverRoute.RouteID)
	assert.Equal(t, "van-1", res.DriverRoute.VehicleID)

	cloned, err := f.store.ListDeliveryStops(ctx, res.DriverRoute.ID)
	require.NoError(t, err)
	require.Len(t, cloned, 2)
	for _, s := range cloned {
		assert.Equal(t, domain.StopPending, s.Status)
	}
	assert.Equal(t, []string{"b", "c"}, []string{cloned[0].LocationID, cloned[1].LocationID})

	orig, err := f.store.ListDeliveryStops(ctx, "dr-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StopCompleted, orig[0].Status)
	assert.Equal(t, domain.StopTransferred, orig[1].Status)
	assert.Equal(t, domain.StopTransferred, orig[2].Status)

	details, err := f.mgr.GetIncident(ctx, rep.Incident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentAssistanceAssigned, details.Incident.Status)
	assert.Len(t, details.Transfers, 1)

	assert.Equal(t, 1, f.notifier.to("d-1", domain.NotifyAssistanceAssigned))

	_, err = f.mgr.AcceptTransfer(ctx, rep.Transfer.ID, "mid")
	assert.ErrorIs(t, err, domain.ErrOfferWithdrawn)

	mine, err := f.mgr.ListTransfersForDriver(ctx, "near")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestConcurrentAcceptHasExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newIncidentFixture(t)
	rep := f.report(t, nil)

	drivers := []string{"near", "mid"}
	errs := make([]error, len(drivers))
	var wg sync.WaitGroup
	for i, d := range drivers {
		wg.Add(1)
		go func(i int, d string) {
			defer wg.Done()
			_, errs[i] = f.mgr.AcceptTransfer(ctx, rep.Transfer.ID, d)
		}(i, d)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrOfferWithdrawn), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	tr, err := f.store.GetTransfer(ctx, rep.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferAccepted, tr.Status)
	require.NotNil(t, tr.NewDriverID)
	assert.Contains(t, drivers, *tr.NewDriverID)
}

func TestAcceptTransferRejectsReporter(t *testing.T) {
	f := newIncidentFixture(t)
	rep := f.report(t, nil)

	_, err := f.mgr.AcceptTransfer(context.Background(), rep.Transfer.ID, "d-1")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.mgr.AcceptTransfer(context.Background(), "missing", "near")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAssignTransferByAdmin(t *testing.T) {
	f := newIncidentFixture(t)
	rep := f.report(t, nil)

	res, err := f.mgr.AssignTransfer(context.Background(), rep.Transfer.ID, "far")
	require.NoError(t, err)
	assert.Equal(t, "far", res.DriverRoute.DriverID)
	assert.Len(t, res.Stops, 2)
}

func TestCancelIncidentOwnerOnly(t *testing.T) {
	ctx := context.Background()
	f := newIncidentFixture(t)
	rep := f.report(t, nil)

	_, err := f.mgr.CancelIncident(ctx, rep.Incident.ID, "near")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	inc, err := f.mgr.CancelIncident(ctx, rep.Incident.ID, "d-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentResolved, inc.Status)
	require.NotNil(t, inc.ResolvedAt)

	tr, err := f.store.GetTransfer(ctx, rep.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferCancelled, tr.Status)

	_, err = f.mgr.AcceptTransfer(ctx, rep.Transfer.ID, "near")
	assert.ErrorIs(t, err, domain.ErrOfferWithdrawn)

	_, err = f.mgr.CancelIncident(ctx, rep.Incident.ID, "d-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, f.notifier.to("", domain.NotifyIncidentCancelled))
}

func TestResolveIncidentAfterAssistance(t *testing.T) {
	ctx := context.Background()
	f := newIncidentFixture(t)
	rep := f.report(t, nil)
	_, err := f.mgr.AcceptTransfer(ctx, rep.Transfer.ID, "near")
	require.NoError(t, err)

	inc, err := f.mgr.ResolveIncident(ctx, rep.Incident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentResolved, inc.Status)

	tr, err := f.store.GetTransfer(ctx, rep.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferAccepted, tr.Status)
}

func TestFindSubstitutesAdminRadius(t *testing.T) {
	ctx := context.Background()
	f := newIncidentFixture(t)
	van := domain.VehicleVan

	rep := f.report(t, &van)
	require.NotNil(t, rep.Transfer)
	_, err := f.mgr.AcceptTransfer(ctx, rep.Transfer.ID, "near")
	require.NoError(t, err)

	cands, err := f.mgr.FindSubstitutes(ctx, rep.Incident.ID, false, &van)
	require.NoError(t, err)
	assert.Equal(t, []string{"near"}, candidateIDs(cands))

	cands, err = f.mgr.FindSubstitutes(ctx, rep.Incident.ID, true, &van)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "far"}, candidateIDs(cands))

	motorbike := domain.VehicleMotorbike
	_, err = f.mgr.FindSubstitutes(ctx, rep.Incident.ID, true, &motorbike)
	assert.ErrorIs(t, err, domain.ErrNoSubstitute)
}

func TestFindSubstitutesCreatesMissingOffer(t *testing.T) {
	ctx := context.Background()
	f := newIncidentFixture(t)
	motorbike := domain.VehicleMotorbike

	rep := f.report(t, &motorbike)
	assert.Empty(t, rep.Candidates)
	assert.Nil(t, rep.Transfer)

	cands, err := f.mgr.FindSubstitutes(ctx, rep.Incident.ID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "mid", "far"}, candidateIDs(cands))

	transfers, err := f.store.ListTransfersByIncident(ctx, rep.Incident.ID)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, domain.TransferPending, transfers[0].Status)
	assert.Equal(t, 1, f.notifier.to("far", domain.NotifyAssistanceNeeded))
}

func TestReportIncidentRejectsSecondOpenIncident(t *testing.T) {
	ctx := context.Background()
	f := newIncidentFixture(t)
	rep := f.report(t, nil)

	_, err := f.mgr.ReportIncident(ctx, ReportIncidentRequest{
		DriverID: "d-1", DriverRouteID: "dr-1", Type: "flat_tire", Location: incidentSite,
	})
	assert.ErrorIs(t, err, domain.ErrIncidentOpen)

	pending, err := f.mgr.ListTransfersForDriver(ctx, "d-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rep.Transfer.ID, pending[0].ID)

	_, err = f.mgr.ResolveIncident(ctx, rep.Incident.ID)
	require.NoError(t, err)
	again := f.report(t, nil)
	require.NotNil(t, again.Transfer)
	assert.Equal(t, []string{"ds-2", "ds-3"}, again.Transfer.StopIDs)
}

func TestCompletedStopIsLeftOutOfLaterTransfer(t *testing.T) {
	ctx := context.Background()
	f := newIncidentFixture(t)
	drivers := NewDriverService(DriverDeps{Drivers: f.store, Assignments: f.store}, nil)
	drivers.now = func() time.Time { return f.now }

	_, err := drivers.UpdateStopStatus(ctx, "d-1", "ds-2", domain.StopCompleted, nil)
	require.NoError(t, err)

	rep := f.report(t, nil)
	assert.Equal(t, 1, rep.UndeliveredStops)
	require.NotNil(t, rep.Transfer)
	assert.Equal(t, []string{"ds-3"}, rep.Transfer.StopIDs)

	res, err := f.mgr.AcceptTransfer(ctx, rep.Transfer.ID, "near")
	require.NoError(t, err)
	require.Len(t, res.Stops, 1)
	assert.Equal(t, "c", res.Stops[0].LocationID)

	orig, err := f.store.ListDeliveryStops(ctx, "dr-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StopCompleted, orig[1].Status)
	assert.Equal(t, domain.StopTransferred, orig[2].Status)
}
