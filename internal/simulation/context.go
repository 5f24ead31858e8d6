package simulation

import (
	"context"
	"time"

	"github.com/looplab/fsm"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/metrics"
	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/random"
)

// Operating modes of a simulated vehicle.
const (
	ModeMoving    = "moving"
	ModePaused    = "paused"
	ModeDefective = "defective"
)

const (
	eventPause     = "pause"
	eventResume    = "resume"
	eventBreakDown = "break_down"
	eventRepair    = "repair"
)

// Context is the transient, in-memory simulation state of one vehicle.
// It is owned by a single goroutine at a time.
type Context struct {
	IMEI string

	Speed      float64
	IsPaused   bool
	PauseUntil time.Time

	HasDefect       bool
	DefectStartedAt time.Time
	DefectDwell     time.Duration
	LastDefectCheck time.Time

	DefectNotificationCount int
	ReturnNotificationCount int
	LastNotificationAt      time.Time

	LastTickAt time.Time

	mode *fsm.FSM
}

// NewContext creates the context for a vehicle first seen at now. A vehicle
// the directory already flags as defective starts in the defective mode with
// its dwell armed.
func NewContext(ctx context.Context, v models.Vehicle, now time.Time, policy Policy, rng random.Source) *Context {
	c := &Context{
		IMEI:            v.IMEI,
		Speed:           random.Between(rng, policy.MinSpeed, policy.MaxSpeed),
		LastDefectCheck: now,
		LastTickAt:      now,
	}
	c.mode = fsm.NewFSM(
		ModeMoving,
		fsm.Events{
			{Name: eventPause, Src: []string{ModeMoving}, Dst: ModePaused},
			{Name: eventResume, Src: []string{ModePaused}, Dst: ModeMoving},
			{Name: eventBreakDown, Src: []string{ModeMoving, ModePaused}, Dst: ModeDefective},
			{Name: eventRepair, Src: []string{ModeDefective}, Dst: ModeMoving},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				metrics.ModeTransitions.WithLabelValues(e.Event).Inc()
				log.WithFields(log.Fields{
					"imei":  c.IMEI,
					"event": e.Event,
					"from":  e.Src,
					"to":    e.Dst,
				}).Debug("Vehicle mode changed")
			},
		},
	)
	if v.HasDefect {
		c.armDefect(ctx, now, random.DurationBetween(rng, policy.DefectDwellMin, policy.DefectDwellMax))
	}
	return c
}

// Mode returns the current operating mode.
func (c *Context) Mode() string {
	return c.mode.Current()
}

func (c *Context) fire(ctx context.Context, event string) {
	if !c.mode.Can(event) {
		return
	}
	if err := c.mode.Event(ctx, event); err != nil {
		log.WithError(err).WithFields(log.Fields{"imei": c.IMEI, "event": event}).Warn("Mode transition failed")
	}
}

func (c *Context) enterPause(ctx context.Context, until time.Time) {
	c.IsPaused = true
	c.PauseUntil = until
	c.fire(ctx, eventPause)
}

func (c *Context) leavePause(ctx context.Context) {
	c.IsPaused = false
	c.PauseUntil = time.Time{}
	c.fire(ctx, eventResume)
}

// armDefect starts a new defect episode. Entering a defect ends any pause.
func (c *Context) armDefect(ctx context.Context, now time.Time, dwell time.Duration) {
	c.HasDefect = true
	c.DefectStartedAt = now
	c.DefectDwell = dwell
	c.IsPaused = false
	c.PauseUntil = time.Time{}
	c.DefectNotificationCount = 0
	c.ReturnNotificationCount = 0
	c.LastNotificationAt = time.Time{}
	c.fire(ctx, eventBreakDown)
}

// clearDefect ends the current episode. ReturnNotificationCount survives
// until the next episode is armed.
func (c *Context) clearDefect(ctx context.Context) {
	c.HasDefect = false
	c.DefectStartedAt = time.Time{}
	c.DefectDwell = 0
	c.DefectNotificationCount = 0
	c.LastNotificationAt = time.Time{}
	c.fire(ctx, eventRepair)
}

// VehicleSnapshot is a read-only view of a vehicle's simulation state.
type VehicleSnapshot struct {
	IMEI                    string     `json:"imei"`
	PlateNumber             string     `json:"plate_number"`
	Mode                    string     `json:"mode"`
	Speed                   float64    `json:"speed"`
	PauseUntil              *time.Time `json:"pause_until,omitempty"`
	DefectStartedAt         *time.Time `json:"defect_started_at,omitempty"`
	DefectDwell             string     `json:"defect_dwell,omitempty"`
	DefectNotificationCount int        `json:"defect_notifications"`
	ReturnNotificationCount int        `json:"return_notifications"`
	LastTickAt              time.Time  `json:"last_tick_at"`
}

func (c *Context) snapshot(plate string) VehicleSnapshot {
	s := VehicleSnapshot{
		IMEI:                    c.IMEI,
		PlateNumber:             plate,
		Mode:                    c.Mode(),
		Speed:                   c.Speed,
		DefectNotificationCount: c.DefectNotificationCount,
		ReturnNotificationCount: c.ReturnNotificationCount,
		LastTickAt:              c.LastTickAt,
	}
	if c.IsPaused {
		until := c.PauseUntil
		s.PauseUntil = &until
		s.Speed = 0
	}
	if !c.DefectStartedAt.IsZero() {
		started := c.DefectStartedAt
		s.DefectStartedAt = &started
		s.DefectDwell = c.DefectDwell.String()
		s.Speed = 0
	}
	return s
}
