// Package telemetry fans vehicle telemetry out to several sinks.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/ukydev/fleet-simulator/internal/models"
)

// Sink receives position, status and mileage reports.
type Sink interface {
	ReportPosition(ctx context.Context, coords models.VehicleCoordinates) error
	ReportStatus(ctx context.Context, status models.VehicleStatus) error
	ReportMileage(ctx context.Context, report models.MileageReport) error
}

// Fanout reports to every sink in order. A failing sink does not stop
// delivery to the others; the errors are joined.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a Fanout over sinks, skipping nil entries.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) ReportPosition(ctx context.Context, coords models.VehicleCoordinates) error {
	return f.each(func(s Sink) error { return s.ReportPosition(ctx, coords) })
}

func (f *Fanout) ReportStatus(ctx context.Context, status models.VehicleStatus) error {
	return f.each(func(s Sink) error { return s.ReportStatus(ctx, status) })
}

func (f *Fanout) ReportMileage(ctx context.Context, report models.MileageReport) error {
	return f.each(func(s Sink) error { return s.ReportMileage(ctx, report) })
}

func (f *Fanout) each(fn func(Sink) error) error {
	var errs []error
	for i, s := range f.sinks {
		if err := fn(s); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
