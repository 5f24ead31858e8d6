package simulation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/movement"
	"github.com/ukydev/fleet-simulator/internal/random"
)

const testPlate = "ABC1D23"

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	dir      *fakeDirectory
	tel      *fakeTelemetry
	states   *memStore
	notifier *MockNotifier
	machine  *StateMachine
	vehicle  models.Vehicle
	start    models.VehicleState
}

func newHarness(t *testing.T, policy Policy, directoryDefect bool) *harness {
	t.Helper()
	v := models.Vehicle{ID: 7, PlateNumber: testPlate, IMEI: "356000000000001"}
	listed := v
	listed.HasDefect = directoryDefect

	h := &harness{
		dir:      newFakeDirectory(listed),
		tel:      &fakeTelemetry{},
		states:   newMemStore(),
		notifier: &MockNotifier{},
		vehicle:  v,
		start:    models.VehicleState{Latitude: 0.5, Longitude: 0.5, Mileage: 100},
	}
	h.states.states[v.IMEI] = h.start
	deps := Dependencies{
		Directory: h.dir,
		Telemetry: h.tel,
		States:    h.states,
		Notifier:  h.notifier,
	}
	h.machine = NewStateMachine(deps, movement.New(testFence(t), 0), policy)
	return h
}

func (h *harness) tick(sc *Context, now time.Time, rng random.Source) Outcome {
	return h.machine.Tick(context.Background(), h.vehicle, sc, TickInput{Now: now, Reachable: true, Rand: rng})
}

func (h *harness) context(hasDefect bool, rng random.Source) *Context {
	v := h.vehicle
	v.HasDefect = hasDefect
	return NewContext(context.Background(), v, t0, h.machine.Policy(), rng)
}

func TestTick_UnreachableReportsStoppedWithoutMutation(t *testing.T) {
	h := newHarness(t, quietPolicy(), false)
	rng := random.New(1)
	sc := h.context(false, rng)
	speed := sc.Speed

	out := h.machine.Tick(context.Background(), h.vehicle, sc, TickInput{Now: t0.Add(5 * time.Second), Reachable: false, Rand: rng})

	assert.Equal(t, OutcomeUnreachable, out)
	statuses := h.tel.statusesFor(h.vehicle.IMEI)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].IsStopped)
	assert.Zero(t, statuses[0].Speed)
	assert.Empty(t, h.tel.positions)
	assert.Zero(t, h.states.saves)
	assert.Equal(t, t0, sc.LastTickAt)
	assert.Equal(t, speed, sc.Speed)
	assert.Equal(t, ModeMoving, sc.Mode())
}

func TestTick_MovesAndPersists(t *testing.T) {
	h := newHarness(t, quietPolicy(), false)
	rng := random.New(2)
	sc := h.context(false, rng)
	now := t0.Add(5 * time.Second)

	out := h.tick(sc, now, rng)

	assert.Equal(t, OutcomeMoved, out)
	st, ok := h.states.get(h.vehicle.IMEI)
	require.True(t, ok)
	assert.Greater(t, st.Mileage, h.start.Mileage)
	assert.True(t, testFence(t).Contains(st.Latitude, st.Longitude))

	positions := h.tel.positionsFor(h.vehicle.IMEI)
	require.Len(t, positions, 1)
	assert.False(t, positions[0].IsStopped)
	assert.Equal(t, sc.Speed, positions[0].Speed)
	assert.Equal(t, st.Latitude, positions[0].Latitude)
	require.Len(t, h.tel.mileages, 1)
	assert.Equal(t, h.vehicle.ID, h.tel.mileages[0].VehicleID)
	assert.Equal(t, st.Mileage, h.tel.mileages[0].Mileage)
	assert.Equal(t, now, sc.LastTickAt)
}

func TestTick_PausedVehicleResumesAfterPauseUntil(t *testing.T) {
	h := newHarness(t, quietPolicy(), false)
	rng := random.New(3)
	sc := h.context(false, rng)
	sc.enterPause(context.Background(), t0.Add(20*time.Second))
	require.Equal(t, ModePaused, sc.Mode())

	out := h.tick(sc, t0.Add(5*time.Second), rng)
	assert.Equal(t, OutcomePaused, out)
	st, _ := h.states.get(h.vehicle.IMEI)
	assert.Equal(t, h.start, st)
	assert.Zero(t, h.states.saves)
	statuses := h.tel.statusesFor(h.vehicle.IMEI)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].IsStopped)

	out = h.tick(sc, t0.Add(25*time.Second), rng)
	assert.Equal(t, OutcomeMoved, out)
	assert.Equal(t, ModeMoving, sc.Mode())
	assert.False(t, sc.IsPaused)
	assert.True(t, sc.PauseUntil.IsZero())
	st, _ = h.states.get(h.vehicle.IMEI)
	assert.Greater(t, st.Mileage, h.start.Mileage)
	assert.GreaterOrEqual(t, sc.Speed, h.machine.Policy().MinSpeed)
	assert.LessOrEqual(t, sc.Speed, h.machine.Policy().MaxSpeed)
}

func TestTick_PausedVehicleNeverAdvancesMileage(t *testing.T) {
	h := newHarness(t, quietPolicy(), false)
	rng := random.New(4)
	sc := h.context(false, rng)
	sc.enterPause(context.Background(), t0.Add(time.Hour))

	for i := 1; i <= 50; i++ {
		out := h.tick(sc, t0.Add(time.Duration(i)*5*time.Second), rng)
		require.Equal(t, OutcomePaused, out)
	}
	st, _ := h.states.get(h.vehicle.IMEI)
	assert.Equal(t, h.start, st)
	assert.Empty(t, h.tel.mileages)
}

func TestTick_PauseRoll(t *testing.T) {
	p := quietPolicy()
	p.PauseProbability = 1
	h := newHarness(t, p, false)
	rng := random.New(5)
	sc := h.context(false, rng)
	now := t0.Add(5 * time.Second)

	out := h.tick(sc, now, rng)

	assert.Equal(t, OutcomePaused, out)
	assert.Equal(t, ModePaused, sc.Mode())
	assert.True(t, sc.IsPaused)
	assert.False(t, sc.PauseUntil.Before(now.Add(p.PauseMin)))
	assert.True(t, sc.PauseUntil.Before(now.Add(p.PauseMax)))
	assert.Empty(t, h.tel.positions)
	assert.Equal(t, now, sc.LastTickAt)
	h.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestTick_PauseRollBecomesDefect(t *testing.T) {
	p := quietPolicy()
	p.PauseProbability = 1
	p.DefectOnPauseProbability = 1
	h := newHarness(t, p, false)
	h.notifier.On("Notify", mock.Anything, testPlate, fmt.Sprintf(firstDefectMessage, testPlate)).Return(nil).Once()
	rng := random.New(6)
	sc := h.context(false, rng)
	now := t0.Add(5 * time.Second)

	out := h.tick(sc, now, rng)

	assert.Equal(t, OutcomeDefective, out)
	assert.Equal(t, ModeDefective, sc.Mode())
	assert.True(t, sc.HasDefect)
	assert.False(t, sc.IsPaused)
	assert.Equal(t, now, sc.DefectStartedAt)
	assert.GreaterOrEqual(t, sc.DefectDwell, p.DefectDwellMin)
	assert.Less(t, sc.DefectDwell, p.DefectDwellMax)
	assert.Equal(t, []defectReport{{ID: 7, HasDefect: true}}, h.dir.defectReports())
	assert.Equal(t, 1, sc.DefectNotificationCount)
	h.notifier.AssertExpectations(t)
}

func TestTick_ReconciliationAdoptsExternalDefect(t *testing.T) {
	h := newHarness(t, quietPolicy(), true)
	h.notifier.On("Notify", mock.Anything, testPlate, fmt.Sprintf(firstDefectMessage, testPlate)).Return(nil).Once()
	rng := random.New(7)
	sc := h.context(false, rng)
	require.Equal(t, ModeMoving, sc.Mode())

	at := t0.Add(30 * time.Second)
	out := h.tick(sc, at, rng)

	assert.Equal(t, OutcomeDefective, out)
	assert.Equal(t, ModeDefective, sc.Mode())
	assert.Equal(t, at, sc.DefectStartedAt)
	assert.Equal(t, at, sc.LastDefectCheck)
	assert.Positive(t, sc.DefectDwell)

	out = h.tick(sc, at.Add(5*time.Second), rng)
	assert.Equal(t, OutcomeDefective, out)

	h.notifier.AssertNumberOfCalls(t, "Notify", 1)
	assert.Empty(t, h.dir.defectReports())
}

func TestTick_ReconciliationWaitsForInterval(t *testing.T) {
	h := newHarness(t, quietPolicy(), true)
	rng := random.New(8)
	sc := h.context(false, rng)

	out := h.tick(sc, t0.Add(10*time.Second), rng)

	assert.Equal(t, OutcomeMoved, out)
	assert.False(t, sc.HasDefect)
	assert.Equal(t, t0, sc.LastDefectCheck)
}

func TestTick_DefectiveVehicleIsImmobileAndNotifiesTwice(t *testing.T) {
	p := quietPolicy()
	p.DefectDwellMin = time.Hour
	p.DefectDwellMax = time.Hour
	h := newHarness(t, p, true)
	h.notifier.On("Notify", mock.Anything, testPlate, mock.Anything).Return(nil)
	rng := random.New(9)
	sc := h.context(true, rng)
	require.Equal(t, ModeDefective, sc.Mode())

	for i := 1; i <= 120; i++ {
		out := h.tick(sc, t0.Add(time.Duration(i)*5*time.Second), rng)
		require.Equal(t, OutcomeDefective, out)
	}

	st, _ := h.states.get(h.vehicle.IMEI)
	assert.Equal(t, h.start, st)
	assert.Empty(t, h.tel.positions)
	statuses := h.tel.statusesFor(h.vehicle.IMEI)
	require.Len(t, statuses, 120)
	for _, s := range statuses {
		assert.True(t, s.IsStopped)
		assert.Zero(t, s.Speed)
	}

	h.notifier.AssertNumberOfCalls(t, "Notify", 2)
	assert.Equal(t, fmt.Sprintf(firstDefectMessage, testPlate), h.notifier.Calls[0].Arguments.String(2))
	assert.Equal(t, fmt.Sprintf(repeatDefectMessage, testPlate), h.notifier.Calls[1].Arguments.String(2))
	assert.Equal(t, 2, sc.DefectNotificationCount)
}

func TestTick_DefectNotificationsAreSpaced(t *testing.T) {
	p := quietPolicy()
	p.DefectDwellMin = time.Hour
	p.DefectDwellMax = time.Hour
	h := newHarness(t, p, true)
	h.notifier.On("Notify", mock.Anything, testPlate, mock.Anything).Return(nil)
	rng := random.New(10)
	sc := h.context(true, rng)

	h.tick(sc, t0.Add(5*time.Second), rng)
	h.tick(sc, t0.Add(10*time.Second), rng)
	h.tick(sc, t0.Add(30*time.Second), rng)
	h.notifier.AssertNumberOfCalls(t, "Notify", 1)

	h.tick(sc, t0.Add(35*time.Second), rng)
	h.notifier.AssertNumberOfCalls(t, "Notify", 2)
}

func TestTick_DwellElapsedSelfClears(t *testing.T) {
	p := quietPolicy()
	p.DefectDwellMin = 2 * time.Minute
	p.DefectDwellMax = 2 * time.Minute
	h := newHarness(t, p, true)
	rng := random.New(11)
	sc := h.context(true, rng)

	out := h.tick(sc, t0.Add(3*time.Minute), rng)

	assert.Equal(t, OutcomeMoved, out)
	assert.Equal(t, ModeMoving, sc.Mode())
	assert.False(t, sc.HasDefect)
	assert.True(t, sc.DefectStartedAt.IsZero())
	assert.Equal(t, []defectReport{{ID: 7, HasDefect: false}}, h.dir.defectReports())
	h.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestTick_DirectoryClearsDefect(t *testing.T) {
	p := quietPolicy()
	p.DefectDwellMin = time.Hour
	p.DefectDwellMax = time.Hour
	h := newHarness(t, p, false)
	h.notifier.On("Notify", mock.Anything, testPlate, fmt.Sprintf(returnedMessage, testPlate)).Return(nil).Once()
	rng := random.New(12)
	sc := h.context(true, rng)

	out := h.tick(sc, t0.Add(30*time.Second), rng)

	assert.Equal(t, OutcomeMoved, out)
	assert.Equal(t, ModeMoving, sc.Mode())
	assert.False(t, sc.HasDefect)
	assert.True(t, sc.DefectStartedAt.IsZero())
	assert.Equal(t, 1, sc.ReturnNotificationCount)
	statuses := h.tel.statusesFor(h.vehicle.IMEI)
	require.NotEmpty(t, statuses)
	assert.False(t, statuses[len(statuses)-1].IsStopped)
	assert.Len(t, h.tel.positionsFor(h.vehicle.IMEI), 1)
	h.notifier.AssertExpectations(t)
}

func TestTick_ReturnNotificationsAreCapped(t *testing.T) {
	p := quietPolicy()
	p.DefectDwellMin = time.Hour
	p.DefectDwellMax = time.Hour
	h := newHarness(t, p, false)
	rng := random.New(13)
	sc := h.context(true, rng)
	sc.ReturnNotificationCount = p.MaxReturnNotifications

	out := h.tick(sc, t0.Add(30*time.Second), rng)

	assert.Equal(t, OutcomeMoved, out)
	h.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestTick_ReconciliationFailureIsNoChange(t *testing.T) {
	p := quietPolicy()
	p.DefectDwellMin = time.Hour
	p.DefectDwellMax = time.Hour
	h := newHarness(t, p, false)
	h.dir.plateErr = errUnavailable
	h.notifier.On("Notify", mock.Anything, testPlate, mock.Anything).Return(nil)
	rng := random.New(14)
	sc := h.context(true, rng)
	at := t0.Add(30 * time.Second)

	out := h.tick(sc, at, rng)

	assert.Equal(t, OutcomeDefective, out)
	assert.True(t, sc.HasDefect)
	assert.Equal(t, at, sc.LastDefectCheck)
}

func TestTick_NotificationFailureDoesNotAbort(t *testing.T) {
	p := quietPolicy()
	p.PauseProbability = 1
	p.DefectOnPauseProbability = 1
	h := newHarness(t, p, false)
	h.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(errUnavailable)
	rng := random.New(15)
	sc := h.context(false, rng)

	out := h.tick(sc, t0.Add(5*time.Second), rng)

	assert.Equal(t, OutcomeDefective, out)
	assert.Equal(t, 1, sc.DefectNotificationCount)
}

func TestTick_TelemetryFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t, quietPolicy(), false)
	h.tel.failIMEI = h.vehicle.IMEI
	rng := random.New(16)
	sc := h.context(false, rng)

	out := h.tick(sc, t0.Add(5*time.Second), rng)

	assert.Equal(t, OutcomeMoved, out)
	st, _ := h.states.get(h.vehicle.IMEI)
	assert.Greater(t, st.Mileage, h.start.Mileage)
}

func TestTick_SaveFailureKeepsLastTick(t *testing.T) {
	h := newHarness(t, quietPolicy(), false)
	h.states.saveErr = errUnavailable
	rng := random.New(17)
	sc := h.context(false, rng)

	out := h.tick(sc, t0.Add(5*time.Second), rng)

	assert.Equal(t, OutcomeMoved, out)
	assert.Equal(t, t0, sc.LastTickAt)
}

func TestTick_LoadFailureSkipsMovement(t *testing.T) {
	p := quietPolicy()
	p.SpeedVariationChance = 1
	h := newHarness(t, p, false)
	h.states.loadErr = errUnavailable
	rng := random.New(18)
	sc := h.context(false, rng)
	speed, lastTick := sc.Speed, sc.LastTickAt

	out := h.tick(sc, t0.Add(5*time.Second), rng)

	assert.Equal(t, OutcomeSkipped, out)
	assert.Empty(t, h.tel.positions)
	assert.Equal(t, speed, sc.Speed)
	assert.Equal(t, lastTick, sc.LastTickAt)
}

func TestTick_MileageNeverDecreases(t *testing.T) {
	p := DefaultPolicy()
	p.DefectDwellMin = 10 * time.Second
	p.DefectDwellMax = 20 * time.Second
	h := newHarness(t, p, false)
	h.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	rng := random.New(19)
	sc := h.context(false, rng)

	last := h.start.Mileage
	for i := 1; i <= 500; i++ {
		h.tick(sc, t0.Add(time.Duration(i)*5*time.Second), rng)
		st, _ := h.states.get(h.vehicle.IMEI)
		require.GreaterOrEqual(t, st.Mileage, last)
		require.True(t, testFence(t).Contains(st.Latitude, st.Longitude))
		last = st.Mileage
	}
}
