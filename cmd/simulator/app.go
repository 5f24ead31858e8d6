package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ukydev/fleet-simulator/internal/auth"
	"github.com/ukydev/fleet-simulator/internal/backend"
	"github.com/ukydev/fleet-simulator/internal/config"
	"github.com/ukydev/fleet-simulator/internal/db"
	"github.com/ukydev/fleet-simulator/internal/geofence"
	"github.com/ukydev/fleet-simulator/internal/handlers"
	"github.com/ukydev/fleet-simulator/internal/movement"
	"github.com/ukydev/fleet-simulator/internal/mqttsink"
	"github.com/ukydev/fleet-simulator/internal/notifier"
	"github.com/ukydev/fleet-simulator/internal/simulation"
	"github.com/ukydev/fleet-simulator/internal/store"
	"github.com/ukydev/fleet-simulator/internal/telemetry"
)

const tokenIssuer = "fleet-simulator"

// application holds the wired simulator and everything that must be closed
// on shutdown.
type application struct {
	scheduler *simulation.Scheduler
	prober    simulation.Prober
	ops       http.Handler
	closers   []func() error
}

func (a *application) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of creation.
func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func build(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	fence, err := geofence.Build(cfg.Geofence.Boxes, cfg.Geofence.Polygons, cfg.Geofence.Corridors, geofence.WithMaxAttempts(cfg.Geofence.MaxAttempts))
	if err != nil {
		return nil, fmt.Errorf("geofence: %w", err)
	}
	model := movement.New(fence, cfg.Simulation.MaxDistancePerTick)

	var cols db.Collections
	if cfg.NeedsMongo() {
		client, err := db.ConnectMongo(ctx, cfg.MongoURI())
		if err != nil {
			return nil, err
		}
		app.onClose(func() error { return client.Disconnect(context.Background()) })
		cols = db.OpenCollections(client, cfg.Mongo.Database)
		log.WithField("database", cfg.Mongo.Database).Info("Connected to MongoDB")
	}
	mongoMirror := cfg.Simulation.Directory == config.DirectoryMongo || cfg.Mongo.Mirror

	var deps simulation.Dependencies
	sinks := []telemetry.Sink{}
	notifiers := []notifier.Sink{notifier.LogSink{}}

	switch cfg.Simulation.Directory {
	case config.DirectoryMongo:
		deps.Directory = cols.Vehicles
		deps.Prober = cols.Vehicles
	default:
		client, err := newBackendClient(cfg.Backend)
		if err != nil {
			return nil, err
		}
		deps.Directory = client
		deps.Prober = client
		sinks = append(sinks, client)
		notifiers = append(notifiers, client)
	}

	if mongoMirror {
		sinks = append(sinks, cols.Telemetry)
		notifiers = append(notifiers, cols.Notifications)
	}

	if cfg.MQTT.Broker != "" {
		client, err := mqttsink.Connect(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return nil, err
		}
		app.onClose(func() error {
			client.Disconnect(250)
			return nil
		})
		sinks = append(sinks, mqttsink.New(client, mqttsink.Config{
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Timeout:     cfg.MQTT.Timeout,
		}))
		log.WithField("broker", cfg.MQTT.Broker).Info("Publishing telemetry over MQTT")
	}

	if cfg.AMQP.URL != "" {
		conn, err := notifier.Dial(cfg.AMQP.URL)
		if err != nil {
			return nil, err
		}
		app.onClose(conn.Close)
		publisher, err := notifier.NewAMQPPublisher(conn, cfg.AMQP.Exchange)
		if err != nil {
			return nil, err
		}
		app.onClose(publisher.Close)
		notifiers = append(notifiers, publisher)
		log.WithField("exchange", cfg.AMQP.Exchange).Info("Publishing notifications over AMQP")
	}

	deps.Telemetry = telemetry.NewFanout(sinks...)
	deps.Notifier = notifier.NewFanout(notifiers...)

	switch cfg.State.Driver {
	case config.StateSQLite:
		s, err := store.OpenSQLite(cfg.State.Path)
		if err != nil {
			return nil, err
		}
		app.onClose(s.Close)
		deps.States = s
	case config.StateMongo:
		deps.States = cols.States
	default:
		deps.States = store.NewFileStore(cfg.State.Path)
	}

	machine := simulation.NewStateMachine(deps, model, cfg.Policy)
	app.scheduler = simulation.NewScheduler(deps, machine, fence, simulation.SchedulerConfig{
		Interval:          cfg.Simulation.TickInterval,
		Concurrency:       cfg.Simulation.Concurrency,
		Seed:              cfg.Simulation.Seed,
		InitialMileageMax: cfg.Simulation.InitialMileageMax,
	})
	app.prober = deps.Prober

	routerCfg := handlers.RouterConfig{RateLimit: cfg.Ops.RateLimit, RateWindow: cfg.Ops.RateWindow}
	if cfg.Ops.JWTSecret != "" {
		svc, err := auth.NewService(cfg.Ops.JWTSecret, 0, tokenIssuer)
		if err != nil {
			return nil, err
		}
		routerCfg.Auth = svc
	}
	app.ops = handlers.NewRouter(handlers.NewOpsHandler(app.scheduler, app.prober), routerCfg)

	log.WithFields(log.Fields{
		"directory": cfg.Simulation.Directory,
		"state":     cfg.State.Driver,
		"regions":   len(fence.Regions()),
		"sinks":     len(sinks),
		"notifiers": len(notifiers),
		"interval":  cfg.Simulation.TickInterval,
	}).Info("Simulator configured")
	return app, nil
}

func newBackendClient(cfg config.BackendConfig) (*backend.Client, error) {
	bc := backend.Config{
		BaseURL:   cfg.URL,
		APIKey:    cfg.APIKey,
		AuthToken: cfg.AuthToken,
		Timeout:   cfg.Timeout,
	}
	if cfg.JWTSecret != "" {
		svc, err := auth.NewService(cfg.JWTSecret, 0, tokenIssuer)
		if err != nil {
			return nil, err
		}
		bc.Tokens = svc
	}
	return backend.NewClient(bc)
}

// run drives the simulation until ctx is cancelled, then stops every vehicle
// within the configured timeout.
func run(ctx context.Context, cfg *config.Config) error {
	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.WithError(err).Warn("Failed to close connections")
		}
	}()

	if cfg.Simulation.ResetDefects {
		if err := app.scheduler.ResetDefects(ctx); err != nil {
			log.WithError(err).Warn("Failed to reset defects")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.scheduler.Run(gctx)
	})
	if cfg.Ops.Addr != "" {
		srv := &http.Server{Addr: cfg.Ops.Addr, Handler: app.ops, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.WithField("addr", cfg.Ops.Addr).Info("Ops server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	log.Info("Simulation started")
	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Simulation.StopTimeout)
	defer cancel()
	if err := app.scheduler.StopAll(stopCtx); err != nil {
		log.WithError(err).Warn("Stop sweep incomplete")
	}
	log.Info("Simulation stopped")
	return runErr
}
