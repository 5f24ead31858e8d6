package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/store"
)

func TestConnectMongo_BadURI(t *testing.T) {
	client, err := ConnectMongo(context.Background(), "mongodb://bad:uri")
	if err == nil {
		t.Error("expected error for bad URI, got nil")
	}
	if client != nil {
		t.Error("expected nil client on error")
	}
}

func TestNilCollections(t *testing.T) {
	ctx := context.Background()

	_, err := (&MongoStateStore{}).Load(ctx, "1")
	assert.ErrorIs(t, err, ErrNilCollection)
	assert.ErrorIs(t, (&MongoStateStore{}).Save(ctx, "1", models.VehicleState{}), ErrNilCollection)

	sink := &MongoTelemetrySink{}
	assert.ErrorIs(t, sink.ReportPosition(ctx, models.VehicleCoordinates{}), ErrNilCollection)
	assert.ErrorIs(t, sink.ReportStatus(ctx, models.VehicleStatus{}), ErrNilCollection)
	assert.ErrorIs(t, sink.ReportMileage(ctx, models.MileageReport{}), ErrNilCollection)

	assert.ErrorIs(t, (&MongoNotificationLog{}).Notify(ctx, "ABC1D23", "hello"), ErrNilCollection)

	dir := &MongoVehicleDirectory{}
	_, err = dir.ListVehicles(ctx)
	assert.ErrorIs(t, err, ErrNilCollection)
	_, err = dir.VehicleByPlate(ctx, "ABC1D23")
	assert.ErrorIs(t, err, ErrNilCollection)
	assert.ErrorIs(t, dir.ReportDefect(ctx, 1, true), ErrNilCollection)
	assert.ErrorIs(t, dir.Ping(ctx), ErrNilCollection)
}

// integrationCollections connects to MONGO_URI (requires running MongoDB)
// and returns collections in a throwaway database.
func integrationCollections(t *testing.T) Collections {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" || uri == "uri" {
		t.Skip("MONGO_URI not set or invalid, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := ConnectMongo(ctx, uri)
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
	}
	dbName := "fleetsim_test"
	t.Cleanup(func() {
		_ = client.Database(dbName).Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	_ = client.Database(dbName).Drop(context.Background())
	return OpenCollections(client, dbName)
}

func TestMongoStateStore_Integration(t *testing.T) {
	c := integrationCollections(t)
	ctx := context.Background()

	_, err := c.States.Load(ctx, "356000000000001")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, c.States.Save(ctx, "356000000000001", models.VehicleState{Latitude: -3.7, Longitude: -38.5, Mileage: 10}))
	require.NoError(t, c.States.Save(ctx, "356000000000001", models.VehicleState{Latitude: -3.8, Longitude: -38.6, Mileage: 11}))

	got, err := c.States.Load(ctx, "356000000000001")
	require.NoError(t, err)
	assert.Equal(t, models.VehicleState{Latitude: -3.8, Longitude: -38.6, Mileage: 11}, got)
}

func TestMongoTelemetrySink_Integration(t *testing.T) {
	c := integrationCollections(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, c.Telemetry.ReportPosition(ctx, models.VehicleCoordinates{IMEI: "1", Latitude: -3.7, Longitude: -38.5, Speed: 80, Timestamp: now}))
	require.NoError(t, c.Telemetry.ReportStatus(ctx, models.VehicleStatus{IMEI: "1", Speed: 0, IsStopped: true, Timestamp: now}))

	var coords models.VehicleCoordinates
	require.NoError(t, c.Telemetry.Coordinates.FindOne(ctx, bson.M{"_id": "1"}).Decode(&coords))
	assert.Equal(t, -3.7, coords.Latitude)
	assert.True(t, coords.IsStopped)
	assert.Zero(t, coords.Speed)

	require.NoError(t, c.Telemetry.ReportMileage(ctx, models.MileageReport{VehicleID: 7, Mileage: 100, Timestamp: now}))
	require.NoError(t, c.Telemetry.ReportMileage(ctx, models.MileageReport{VehicleID: 7, Mileage: 101, Timestamp: now}))
	count, err := c.Telemetry.Mileage.CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMongoVehicleDirectory_Integration(t *testing.T) {
	c := integrationCollections(t)
	ctx := context.Background()
	_, err := c.Vehicles.Collection.InsertMany(ctx, []interface{}{
		models.Vehicle{ID: 2, PlateNumber: "XYZ9K88", IMEI: "2"},
		models.Vehicle{ID: 1, PlateNumber: "ABC1D23", IMEI: "1"},
	})
	require.NoError(t, err)

	vehicles, err := c.Vehicles.ListVehicles(ctx)
	require.NoError(t, err)
	require.Len(t, vehicles, 2)
	assert.Equal(t, int64(1), vehicles[0].ID)

	require.NoError(t, c.Vehicles.ReportDefect(ctx, 1, true))
	v, err := c.Vehicles.VehicleByPlate(ctx, "ABC1D23")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, v.HasDefect)

	missing, err := c.Vehicles.VehicleByPlate(ctx, "NOPE000")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Error(t, c.Vehicles.ReportDefect(ctx, 99, true))

	require.NoError(t, c.Notifications.Notify(ctx, "ABC1D23", "Vehicle ABC1D23 stopped"))
}
