package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ukydev/fleet-simulator/internal/metrics"
	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/random"
	"github.com/ukydev/fleet-simulator/internal/store"
)

// DefaultInitialMileageMax bounds the random mileage of a newly seeded vehicle.
const DefaultInitialMileageMax = 10000.0

// SeedArea supplies starting positions for vehicles seen for the first time.
type SeedArea interface {
	RandomPoint(rng random.Source) (float64, float64)
}

// SchedulerConfig tunes the periodic driver.
type SchedulerConfig struct {
	Interval time.Duration
	// Concurrency bounds parallel vehicle ticks; zero or less means unbounded.
	Concurrency int
	// Seed drives every per-vehicle random source; zero seeds from the clock.
	Seed              int64
	InitialMileageMax float64
}

type vehicleEntry struct {
	mu      sync.Mutex
	vehicle models.Vehicle
	sim     *Context
	rng     *rand.Rand
}

// Scheduler drives one tick per vehicle per interval.
type Scheduler struct {
	deps    Dependencies
	machine *StateMachine
	area    SeedArea
	cfg     SchedulerConfig
	now     func() time.Time

	mu       sync.Mutex
	seeds    *rand.Rand
	vehicles map[string]*vehicleEntry
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler that ticks machine over the directory's fleet.
func NewScheduler(deps Dependencies, machine *StateMachine, area SeedArea, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.InitialMileageMax <= 0 {
		cfg.InitialMileageMax = DefaultInitialMileageMax
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Scheduler{
		deps:     deps,
		machine:  machine,
		area:     area,
		cfg:      cfg,
		now:      time.Now,
		seeds:    random.New(seed),
		vehicles: make(map[string]*vehicleEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes a pass immediately and then once per interval until ctx is
// done. A pass in flight when ctx is cancelled runs to completion.
func (s *Scheduler) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"interval":    s.cfg.Interval.String(),
		"concurrency": s.cfg.Concurrency,
	}).Info("Simulation started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.SimulateAllVehicles(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Simulation pass failed")
		}
		select {
		case <-ctx.Done():
			log.Info("Simulation stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SimulateAllVehicles runs one tick for every vehicle the directory lists.
// It only fails when the fleet cannot be listed.
func (s *Scheduler) SimulateAllVehicles(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.PassDuration.Observe(time.Since(start).Seconds()) }()

	vehicles, err := s.deps.Directory.ListVehicles(ctx)
	if err != nil {
		metrics.CountFailure("list_vehicles")
		return fmt.Errorf("list vehicles: %w", err)
	}
	metrics.Vehicles.Set(float64(len(vehicles)))

	reachable := s.probe(ctx)

	var g errgroup.Group
	if s.cfg.Concurrency > 0 {
		g.SetLimit(s.cfg.Concurrency)
	}
	for _, v := range vehicles {
		if v.IMEI == "" {
			log.WithField("plate", v.PlateNumber).Warn("Vehicle without IMEI skipped")
			continue
		}
		g.Go(func() error {
			s.tickVehicle(ctx, v, reachable)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) probe(ctx context.Context) bool {
	if s.deps.Prober == nil {
		return true
	}
	if err := s.deps.Prober.Ping(ctx); err != nil {
		log.WithError(err).Warn("Backend ping failed")
		metrics.CountFailure("ping")
		return false
	}
	return true
}

func (s *Scheduler) tickVehicle(ctx context.Context, v models.Vehicle, reachable bool) {
	logger := log.WithFields(log.Fields{"imei": v.IMEI, "plate": v.PlateNumber})
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Vehicle tick panicked")
			metrics.TicksTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		}
	}()

	e := s.entry(v)
	if !e.mu.TryLock() {
		logger.Debug("Previous tick still running, skipped")
		metrics.TicksTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return
	}
	defer e.mu.Unlock()
	e.vehicle = v

	now := s.now()
	if e.sim == nil {
		e.sim = NewContext(ctx, v, now, s.machine.Policy(), e.rng)
	}
	if reachable {
		if err := s.ensureState(ctx, v, e.rng); err != nil {
			logger.WithError(err).Warn("State store unavailable")
			reachable = false
		}
	}

	outcome := s.machine.Tick(ctx, v, e.sim, TickInput{Now: now, Reachable: reachable, Rand: e.rng})
	metrics.TicksTotal.WithLabelValues(string(outcome)).Inc()
}

func (s *Scheduler) entry(v models.Vehicle) *vehicleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.vehicles[v.IMEI]
	if !ok {
		e = &vehicleEntry{vehicle: v, rng: random.New(s.seeds.Int63())}
		s.vehicles[v.IMEI] = e
	}
	return e
}

// ensureState seeds a random position and mileage for a vehicle with no
// durable state.
func (s *Scheduler) ensureState(ctx context.Context, v models.Vehicle, rng random.Source) error {
	_, err := s.deps.States.Load(ctx, v.IMEI)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		metrics.CountFailure("state_load")
		return err
	}
	lat, lon := s.area.RandomPoint(rng)
	state := models.VehicleState{
		Latitude:  lat,
		Longitude: lon,
		Mileage:   random.Between(rng, 0, s.cfg.InitialMileageMax),
	}
	if err := s.deps.States.Save(ctx, v.IMEI, state); err != nil {
		metrics.CountFailure("state_save")
		return fmt.Errorf("seed state: %w", err)
	}
	log.WithFields(log.Fields{
		"imei":    v.IMEI,
		"lat":     lat,
		"lon":     lon,
		"mileage": state.Mileage,
	}).Info("Seeded new vehicle")
	return nil
}

// ResetDefects clears the defect flag of every vehicle the directory reports
// as defective.
func (s *Scheduler) ResetDefects(ctx context.Context) error {
	vehicles, err := s.deps.Directory.ListVehicles(ctx)
	if err != nil {
		metrics.CountFailure("list_vehicles")
		return fmt.Errorf("list vehicles: %w", err)
	}
	var errs []error
	reset := 0
	for _, v := range vehicles {
		if !v.HasDefect {
			continue
		}
		if err := s.deps.Directory.ReportDefect(ctx, v.ID, false); err != nil {
			metrics.CountFailure("report_defect")
			errs = append(errs, fmt.Errorf("vehicle %s: %w", v.PlateNumber, err))
			continue
		}
		reset++
	}
	log.WithFields(log.Fields{"reset": reset, "failed": len(errs)}).Info("Defects reset")
	return errors.Join(errs...)
}

// StopAll reports every vehicle stopped with zero speed. It lists the fleet
// from the directory and falls back to the vehicles seen so far.
func (s *Scheduler) StopAll(ctx context.Context) error {
	vehicles, err := s.deps.Directory.ListVehicles(ctx)
	if err != nil {
		log.WithError(err).Warn("Listing vehicles for stop sweep failed, using known vehicles")
		vehicles = s.knownVehicles()
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if s.cfg.Concurrency > 0 {
		g.SetLimit(s.cfg.Concurrency)
	}
	now := s.now()
	for _, v := range vehicles {
		if v.IMEI == "" {
			continue
		}
		g.Go(func() error {
			status := models.VehicleStatus{IMEI: v.IMEI, Speed: 0, IsStopped: true, Timestamp: now}
			if err := s.deps.Telemetry.ReportStatus(ctx, status); err != nil {
				metrics.CountFailure("report_status")
				mu.Lock()
				errs = append(errs, fmt.Errorf("vehicle %s: %w", v.IMEI, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	log.WithFields(log.Fields{"vehicles": len(vehicles), "failed": len(errs)}).Info("All vehicles reported stopped")
	return errors.Join(errs...)
}

func (s *Scheduler) knownVehicles() []models.Vehicle {
	s.mu.Lock()
	entries := make([]*vehicleEntry, 0, len(s.vehicles))
	for _, e := range s.vehicles {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	vehicles := make([]models.Vehicle, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		vehicles = append(vehicles, e.vehicle)
		e.mu.Unlock()
	}
	return vehicles
}

// Snapshot returns the simulation state of every vehicle seen so far,
// ordered by IMEI.
func (s *Scheduler) Snapshot() []VehicleSnapshot {
	s.mu.Lock()
	entries := make([]*vehicleEntry, 0, len(s.vehicles))
	for _, e := range s.vehicles {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]VehicleSnapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.sim != nil {
			out = append(out, e.sim.snapshot(e.vehicle.PlateNumber))
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IMEI < out[j].IMEI })
	return out
}
