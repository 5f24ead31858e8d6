// Package mqttsink publishes vehicle telemetry as retained JSON messages
// on per-vehicle MQTT topics.
package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ukydev/fleet-simulator/internal/models"
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Publisher is the part of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Config configures a Sink.
type Config struct {
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// Sink is a TelemetrySink over MQTT.
type Sink struct {
	client  Publisher
	prefix  string
	qos     byte
	timeout time.Duration
}

// Connect dials broker and waits for the connection.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}

// New creates a sink publishing through client.
func New(client Publisher, cfg Config) *Sink {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "fleet"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Sink{client: client, prefix: cfg.TopicPrefix, qos: cfg.QoS, timeout: cfg.Timeout}
}

// ReportPosition publishes to <prefix>/<imei>/location.
func (s *Sink) ReportPosition(ctx context.Context, coords models.VehicleCoordinates) error {
	return s.publish(ctx, fmt.Sprintf("%s/%s/location", s.prefix, coords.IMEI), coords)
}

// ReportStatus publishes to <prefix>/<imei>/status.
func (s *Sink) ReportStatus(ctx context.Context, status models.VehicleStatus) error {
	return s.publish(ctx, fmt.Sprintf("%s/%s/status", s.prefix, status.IMEI), status)
}

// ReportMileage publishes to <prefix>/<vehicle id>/mileage.
func (s *Sink) ReportMileage(ctx context.Context, report models.MileageReport) error {
	return s.publish(ctx, fmt.Sprintf("%s/%d/mileage", s.prefix, report.VehicleID), report)
}

func (s *Sink) publish(ctx context.Context, topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := s.client.Publish(topic, s.qos, true, payload)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
