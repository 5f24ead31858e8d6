package simulation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-simulator/internal/geofence"
	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/store"
)

var errUnavailable = errors.New("unavailable")

type defectReport struct {
	ID        int64
	HasDefect bool
}

type fakeDirectory struct {
	mu       sync.Mutex
	vehicles []models.Vehicle
	reports  []defectReport
	listErr  error
	plateErr error
}

func newFakeDirectory(vehicles ...models.Vehicle) *fakeDirectory {
	return &fakeDirectory{vehicles: vehicles}
}

func (d *fakeDirectory) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	return append([]models.Vehicle(nil), d.vehicles...), nil
}

func (d *fakeDirectory) VehicleByPlate(ctx context.Context, plate string) (*models.Vehicle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.plateErr != nil {
		return nil, d.plateErr
	}
	for _, v := range d.vehicles {
		if v.PlateNumber == plate {
			v := v
			return &v, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) ReportDefect(ctx context.Context, id int64, hasDefect bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports = append(d.reports, defectReport{ID: id, HasDefect: hasDefect})
	for i := range d.vehicles {
		if d.vehicles[i].ID == id {
			d.vehicles[i].HasDefect = hasDefect
		}
	}
	return nil
}

func (d *fakeDirectory) setDefect(plate string, hasDefect bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.vehicles {
		if d.vehicles[i].PlateNumber == plate {
			d.vehicles[i].HasDefect = hasDefect
		}
	}
}

func (d *fakeDirectory) defectReports() []defectReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]defectReport(nil), d.reports...)
}

type fakeTelemetry struct {
	mu        sync.Mutex
	positions []models.VehicleCoordinates
	statuses  []models.VehicleStatus
	mileages  []models.MileageReport
	failIMEI  string
	panicIMEI string
}

func (t *fakeTelemetry) check(imei string) error {
	if imei == t.panicIMEI {
		panic("telemetry exploded")
	}
	if imei == t.failIMEI {
		return errUnavailable
	}
	return nil
}

func (t *fakeTelemetry) ReportPosition(ctx context.Context, c models.VehicleCoordinates) error {
	if err := t.check(c.IMEI); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = append(t.positions, c)
	return nil
}

func (t *fakeTelemetry) ReportStatus(ctx context.Context, s models.VehicleStatus) error {
	if err := t.check(s.IMEI); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses = append(t.statuses, s)
	return nil
}

func (t *fakeTelemetry) ReportMileage(ctx context.Context, m models.MileageReport) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mileages = append(t.mileages, m)
	return nil
}

func (t *fakeTelemetry) positionsFor(imei string) []models.VehicleCoordinates {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.VehicleCoordinates
	for _, p := range t.positions {
		if p.IMEI == imei {
			out = append(out, p)
		}
	}
	return out
}

func (t *fakeTelemetry) statusesFor(imei string) []models.VehicleStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.VehicleStatus
	for _, s := range t.statuses {
		if s.IMEI == imei {
			out = append(out, s)
		}
	}
	return out
}

type memStore struct {
	mu      sync.Mutex
	states  map[string]models.VehicleState
	saves   int
	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]models.VehicleState)}
}

func (s *memStore) Load(ctx context.Context, imei string) (models.VehicleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return models.VehicleState{}, s.loadErr
	}
	st, ok := s.states[imei]
	if !ok {
		return models.VehicleState{}, store.ErrNotFound
	}
	return st, nil
}

func (s *memStore) Save(ctx context.Context, imei string, st models.VehicleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.states[imei] = st
	s.saves++
	return nil
}

func (s *memStore) get(imei string) (models.VehicleState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[imei]
	return st, ok
}

type fakeProber struct{ err error }

func (p fakeProber) Ping(ctx context.Context) error { return p.err }

// MockNotifier is a mock implementation of NotificationSink.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, plate, message string) error {
	args := m.Called(ctx, plate, message)
	return args.Error(0)
}

// testFence is the box 0..1 x 0..1.
func testFence(t *testing.T) *geofence.Index {
	t.Helper()
	r, err := geofence.BoxRegion(geofence.Box{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1})
	require.NoError(t, err)
	ix, err := geofence.New([]geofence.Region{r})
	require.NoError(t, err)
	return ix
}

// quietPolicy never pauses, breaks down or varies speed on its own.
func quietPolicy() Policy {
	p := DefaultPolicy()
	p.PauseProbability = 0
	p.DefectOnPauseProbability = 0
	p.SpeedVariationChance = 0
	return p
}
