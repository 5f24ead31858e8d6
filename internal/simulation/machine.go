package simulation

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/metrics"
	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/movement"
	"github.com/ukydev/fleet-simulator/internal/random"
)

// Outcome summarises what a single tick did to a vehicle.
type Outcome string

const (
	OutcomeMoved       Outcome = metrics.OutcomeMoved
	OutcomePaused      Outcome = metrics.OutcomePaused
	OutcomeDefective   Outcome = metrics.OutcomeDefective
	OutcomeUnreachable Outcome = metrics.OutcomeUnreachable
	OutcomeSkipped     Outcome = metrics.OutcomeSkipped
	OutcomeFailed      Outcome = metrics.OutcomeFailed
)

const (
	firstDefectMessage  = "Vehicle %s stopped due to a technical defect. Assistance required."
	repeatDefectMessage = "Vehicle %s is still stopped due to a technical defect. Please request support."
	returnedMessage     = "Vehicle %s is returning to service after support."
)

// TickInput carries the per-tick environment.
type TickInput struct {
	Now time.Time
	// Reachable is false when the backend or the state store could not be
	// reached for this tick.
	Reachable bool
	Rand      random.Source
}

// StateMachine advances one vehicle by one tick.
type StateMachine struct {
	deps   Dependencies
	model  *movement.Model
	policy Policy
}

// NewStateMachine creates a state machine over the given collaborators.
func NewStateMachine(deps Dependencies, model *movement.Model, policy Policy) *StateMachine {
	return &StateMachine{deps: deps, model: model, policy: policy}
}

// Policy returns the tuning the machine runs with.
func (m *StateMachine) Policy() Policy {
	return m.policy
}

// Tick runs one step for v. Collaborator failures are logged and never
// abort the tick early except where noted on the returned Outcome.
func (m *StateMachine) Tick(ctx context.Context, v models.Vehicle, sc *Context, in TickInput) Outcome {
	logger := log.WithFields(log.Fields{"imei": v.IMEI, "plate": v.PlateNumber})
	now := in.Now

	if !in.Reachable {
		m.reportStopped(ctx, v, now, logger)
		logger.Warn("Backend unreachable, vehicle reported stopped")
		return OutcomeUnreachable
	}

	if now.Sub(sc.LastDefectCheck) >= m.policy.ReconcileInterval {
		m.reconcile(ctx, v, sc, now, in.Rand, logger)
		sc.LastDefectCheck = now
	}

	if !sc.HasDefect && !sc.DefectStartedAt.IsZero() {
		m.returnToService(ctx, v, sc, now, in.Rand, logger)
	}

	if sc.HasDefect {
		if now.Sub(sc.DefectStartedAt) < sc.DefectDwell {
			m.reportStopped(ctx, v, now, logger)
			m.notifyDefect(ctx, v, sc, now, logger)
			sc.LastTickAt = now
			return OutcomeDefective
		}
		logger.WithField("dwell", sc.DefectDwell.String()).Info("Defect cleared after dwell")
		sc.clearDefect(ctx)
		if err := m.deps.Directory.ReportDefect(ctx, v.ID, false); err != nil {
			logger.WithError(err).Warn("Failed to report defect cleared")
			metrics.CountFailure("report_defect")
		}
	}

	if sc.IsPaused {
		if now.Before(sc.PauseUntil) {
			m.reportStopped(ctx, v, now, logger)
			sc.LastTickAt = now
			return OutcomePaused
		}
		sc.leavePause(ctx)
		variation := random.Between(in.Rand, -m.policy.ResumeSpeedVariation, m.policy.ResumeSpeedVariation)
		sc.Speed = m.policy.clampSpeed(sc.Speed + variation)
		logger.WithField("speed", sc.Speed).Debug("Vehicle resumed")
	}

	if random.Chance(in.Rand, m.policy.PauseProbability) {
		return m.stop(ctx, v, sc, now, in.Rand, logger)
	}

	return m.move(ctx, v, sc, now, in.Rand, logger)
}

// reconcile adopts the directory's defect flag. A read failure is treated
// as no change.
func (m *StateMachine) reconcile(ctx context.Context, v models.Vehicle, sc *Context, now time.Time, rng random.Source, logger *log.Entry) {
	remote, err := m.deps.Directory.VehicleByPlate(ctx, v.PlateNumber)
	if err != nil {
		logger.WithError(err).Warn("Defect reconciliation failed")
		metrics.CountFailure("vehicle_by_plate")
		return
	}
	if remote == nil || remote.HasDefect == sc.HasDefect {
		return
	}
	if remote.HasDefect {
		sc.armDefect(ctx, now, random.DurationBetween(rng, m.policy.DefectDwellMin, m.policy.DefectDwellMax))
		logger.WithField("dwell", sc.DefectDwell.String()).Info("Defect reported by directory")
		m.notifyDefect(ctx, v, sc, now, logger)
		return
	}
	// DefectStartedAt stays set so the return to service runs next.
	sc.HasDefect = false
	logger.Info("Defect cleared by directory")
}

func (m *StateMachine) returnToService(ctx context.Context, v models.Vehicle, sc *Context, now time.Time, rng random.Source, logger *log.Entry) {
	if sc.ReturnNotificationCount < m.policy.MaxReturnNotifications {
		m.notify(ctx, v, fmt.Sprintf(returnedMessage, v.PlateNumber), "returned", logger)
		sc.ReturnNotificationCount++
	}
	sc.clearDefect(ctx)
	sc.Speed = random.Between(rng, m.policy.MinSpeed, m.policy.MaxSpeed)
	status := models.VehicleStatus{IMEI: v.IMEI, Speed: sc.Speed, IsStopped: false, Timestamp: now}
	if err := m.deps.Telemetry.ReportStatus(ctx, status); err != nil {
		logger.WithError(err).Warn("Failed to report status")
		metrics.CountFailure("report_status")
	}
	logger.WithField("speed", sc.Speed).Info("Vehicle returned to service")
}

// stop handles a successful pause roll: a plain pause, or a breakdown.
func (m *StateMachine) stop(ctx context.Context, v models.Vehicle, sc *Context, now time.Time, rng random.Source, logger *log.Entry) Outcome {
	defer func() { sc.LastTickAt = now }()

	if random.Chance(rng, m.policy.DefectOnPauseProbability) {
		sc.armDefect(ctx, now, random.DurationBetween(rng, m.policy.DefectDwellMin, m.policy.DefectDwellMax))
		logger.WithField("dwell", sc.DefectDwell.String()).Info("Vehicle broke down")
		if err := m.deps.Directory.ReportDefect(ctx, v.ID, true); err != nil {
			logger.WithError(err).Warn("Failed to report defect")
			metrics.CountFailure("report_defect")
		}
		m.reportStopped(ctx, v, now, logger)
		m.notifyDefect(ctx, v, sc, now, logger)
		return OutcomeDefective
	}

	until := now.Add(random.DurationBetween(rng, m.policy.PauseMin, m.policy.PauseMax))
	sc.enterPause(ctx, until)
	logger.WithField("until", until).Debug("Vehicle paused")
	m.reportStopped(ctx, v, now, logger)
	return OutcomePaused
}

func (m *StateMachine) move(ctx context.Context, v models.Vehicle, sc *Context, now time.Time, rng random.Source, logger *log.Entry) Outcome {
	hours := now.Sub(sc.LastTickAt).Hours()
	if hours < 0 {
		hours = 0
	}
	prev, err := m.deps.States.Load(ctx, v.IMEI)
	if err != nil {
		logger.WithError(err).Warn("Failed to load vehicle state")
		metrics.CountFailure("state_load")
		return OutcomeSkipped
	}
	if random.Chance(rng, m.policy.SpeedVariationChance) {
		delta := random.Between(rng, -m.policy.SpeedVariationDelta, m.policy.SpeedVariationDelta)
		sc.Speed = m.policy.clampSpeed(sc.Speed + delta)
	}
	next := m.model.Advance(prev, sc.Speed, hours, rng)

	coords := models.VehicleCoordinates{
		IMEI:      v.IMEI,
		Latitude:  next.Latitude,
		Longitude: next.Longitude,
		Speed:     sc.Speed,
		IsStopped: false,
		Timestamp: now,
	}
	if err := m.deps.Telemetry.ReportPosition(ctx, coords); err != nil {
		logger.WithError(err).Warn("Failed to report position")
		metrics.CountFailure("report_position")
	}
	mileage := models.MileageReport{VehicleID: v.ID, Mileage: next.Mileage, Timestamp: now}
	if err := m.deps.Telemetry.ReportMileage(ctx, mileage); err != nil {
		logger.WithError(err).Warn("Failed to report mileage")
		metrics.CountFailure("report_mileage")
	}
	if err := m.deps.States.Save(ctx, v.IMEI, next); err != nil {
		// LastTickAt is kept so the next tick covers this interval again.
		logger.WithError(err).Warn("Failed to save vehicle state")
		metrics.CountFailure("state_save")
		return OutcomeMoved
	}
	sc.LastTickAt = now
	return OutcomeMoved
}

func (m *StateMachine) reportStopped(ctx context.Context, v models.Vehicle, now time.Time, logger *log.Entry) {
	status := models.VehicleStatus{IMEI: v.IMEI, Speed: 0, IsStopped: true, Timestamp: now}
	if err := m.deps.Telemetry.ReportStatus(ctx, status); err != nil {
		logger.WithError(err).Warn("Failed to report stopped status")
		metrics.CountFailure("report_status")
	}
}

// notifyDefect sends at most MaxDefectNotifications per episode, spaced by
// NotificationInterval.
func (m *StateMachine) notifyDefect(ctx context.Context, v models.Vehicle, sc *Context, now time.Time, logger *log.Entry) {
	if sc.DefectNotificationCount >= m.policy.MaxDefectNotifications {
		return
	}
	if !sc.LastNotificationAt.IsZero() && now.Sub(sc.LastNotificationAt) < m.policy.NotificationInterval {
		return
	}
	format := firstDefectMessage
	if sc.DefectNotificationCount > 0 {
		format = repeatDefectMessage
	}
	m.notify(ctx, v, fmt.Sprintf(format, v.PlateNumber), "defect", logger)
	sc.DefectNotificationCount++
	sc.LastNotificationAt = now
}

func (m *StateMachine) notify(ctx context.Context, v models.Vehicle, message, kind string, logger *log.Entry) {
	metrics.NotificationsTotal.WithLabelValues(kind).Inc()
	if m.deps.Notifier == nil {
		return
	}
	if err := m.deps.Notifier.Notify(ctx, v.PlateNumber, message); err != nil {
		logger.WithError(err).WithField("kind", kind).Warn("Failed to send notification")
		metrics.CountFailure("notify")
	}
}
