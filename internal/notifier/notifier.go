// Package notifier delivers operator notifications to one or more sinks.
package notifier

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Sink receives operator notifications.
type Sink interface {
	Notify(ctx context.Context, plate, message string) error
}

// Fanout delivers every notification to all sinks. A failing sink does not
// stop delivery to the others.
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

func (f *Fanout) Notify(ctx context.Context, plate, message string) error {
	var errs []error
	for i, s := range f.sinks {
		if err := s.Notify(ctx, plate, message); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// LogSink writes notifications to the log.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, plate, message string) error {
	log.WithField("plate", plate).Info(message)
	return nil
}
