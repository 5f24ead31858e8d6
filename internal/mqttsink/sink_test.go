package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-simulator/internal/models"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	token    func() mqtt.Token
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message{Topic: topic, QoS: qos, Retained: retained, Payload: payload.([]byte)})
	if p.token != nil {
		return p.token()
	}
	return completedToken(nil)
}

func TestSink_Topics(t *testing.T) {
	pub := &fakePublisher{}
	sink := New(pub, Config{TopicPrefix: "sim", QoS: 1})
	ctx := context.Background()

	require.NoError(t, sink.ReportPosition(ctx, models.VehicleCoordinates{IMEI: "111", Latitude: -3.7, Longitude: -38.5, Speed: 80}))
	require.NoError(t, sink.ReportStatus(ctx, models.VehicleStatus{IMEI: "111", IsStopped: true}))
	require.NoError(t, sink.ReportMileage(ctx, models.MileageReport{VehicleID: 7, Mileage: 12.5}))

	require.Len(t, pub.messages, 3)
	assert.Equal(t, "sim/111/location", pub.messages[0].Topic)
	assert.Equal(t, "sim/111/status", pub.messages[1].Topic)
	assert.Equal(t, "sim/7/mileage", pub.messages[2].Topic)
	for _, m := range pub.messages {
		assert.True(t, m.Retained)
		assert.Equal(t, byte(1), m.QoS)
	}

	var coords models.VehicleCoordinates
	require.NoError(t, json.Unmarshal(pub.messages[0].Payload, &coords))
	assert.Equal(t, 80.0, coords.Speed)
}

func TestSink_DefaultPrefix(t *testing.T) {
	pub := &fakePublisher{}
	sink := New(pub, Config{})

	require.NoError(t, sink.ReportStatus(context.Background(), models.VehicleStatus{IMEI: "111"}))

	assert.Equal(t, "fleet/111/status", pub.messages[0].Topic)
}

func TestSink_PublishError(t *testing.T) {
	broker := errors.New("not connected")
	pub := &fakePublisher{token: func() mqtt.Token { return completedToken(broker) }}
	sink := New(pub, Config{})

	err := sink.ReportStatus(context.Background(), models.VehicleStatus{IMEI: "111"})

	assert.ErrorIs(t, err, broker)
}

func TestSink_PublishTimeout(t *testing.T) {
	pub := &fakePublisher{token: func() mqtt.Token { return &fakeToken{done: make(chan struct{})} }}
	sink := New(pub, Config{Timeout: 10 * time.Millisecond})

	err := sink.ReportStatus(context.Background(), models.VehicleStatus{IMEI: "111"})

	assert.ErrorIs(t, err, ErrPublishTimeout)
}

func TestSink_ContextCancelled(t *testing.T) {
	pub := &fakePublisher{token: func() mqtt.Token { return &fakeToken{done: make(chan struct{})} }}
	sink := New(pub, Config{Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.ReportStatus(ctx, models.VehicleStatus{IMEI: "111"})

	assert.ErrorIs(t, err, context.Canceled)
}
