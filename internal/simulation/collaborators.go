package simulation

import (
	"context"

	"github.com/ukydev/fleet-simulator/internal/models"
)

// VehicleDirectory lists the fleet and holds the authoritative defect flag.
type VehicleDirectory interface {
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	// VehicleByPlate returns nil without error when no vehicle matches.
	VehicleByPlate(ctx context.Context, plate string) (*models.Vehicle, error)
	ReportDefect(ctx context.Context, vehicleID int64, hasDefect bool) error
}

// TelemetrySink receives position, status and mileage reports. All
// operations are upserts.
type TelemetrySink interface {
	ReportPosition(ctx context.Context, coords models.VehicleCoordinates) error
	ReportStatus(ctx context.Context, status models.VehicleStatus) error
	ReportMileage(ctx context.Context, report models.MileageReport) error
}

// StateStore keeps the durable VehicleState per IMEI. Load returns
// store.ErrNotFound for unknown keys.
type StateStore interface {
	Load(ctx context.Context, imei string) (models.VehicleState, error)
	Save(ctx context.Context, imei string, state models.VehicleState) error
}

// NotificationSink delivers operator alerts. Delivery is best effort.
type NotificationSink interface {
	Notify(ctx context.Context, plate, message string) error
}

// Prober reports whether the backend is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// Dependencies groups the collaborators of the simulation.
type Dependencies struct {
	Directory VehicleDirectory
	Telemetry TelemetrySink
	States    StateStore
	Notifier  NotificationSink
	// Prober is optional; without it the backend is assumed reachable.
	Prober Prober
}
