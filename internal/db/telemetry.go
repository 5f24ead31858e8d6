package db

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/fleet-simulator/internal/models"
)

// MongoTelemetrySink mirrors the latest telemetry of every vehicle into
// MongoDB. All writes are upserts.
type MongoTelemetrySink struct {
	Coordinates *mongo.Collection
	Mileage     *mongo.Collection
}

// ReportPosition upserts the coordinates document keyed by IMEI.
func (s *MongoTelemetrySink) ReportPosition(ctx context.Context, coords models.VehicleCoordinates) error {
	if s.Coordinates == nil {
		return ErrNilCollection
	}
	_, err := s.Coordinates.UpdateOne(ctx,
		bson.M{"_id": coords.IMEI},
		bson.M{"$set": coords},
		options.Update().SetUpsert(true),
	)
	return err
}

// ReportStatus updates speed and stopped flag without touching the position.
func (s *MongoTelemetrySink) ReportStatus(ctx context.Context, status models.VehicleStatus) error {
	if s.Coordinates == nil {
		return ErrNilCollection
	}
	_, err := s.Coordinates.UpdateOne(ctx,
		bson.M{"_id": status.IMEI},
		bson.M{"$set": status},
		options.Update().SetUpsert(true),
	)
	return err
}

// ReportMileage upserts the odometer document keyed by vehicle id.
func (s *MongoTelemetrySink) ReportMileage(ctx context.Context, report models.MileageReport) error {
	if s.Mileage == nil {
		return ErrNilCollection
	}
	_, err := s.Mileage.UpdateOne(ctx,
		bson.M{"_id": report.VehicleID},
		bson.M{"$set": report},
		options.Update().SetUpsert(true),
	)
	return err
}

// MongoNotificationLog appends operator notifications to a collection.
type MongoNotificationLog struct {
	Collection *mongo.Collection
}

// Notify inserts one notification document.
func (l *MongoNotificationLog) Notify(ctx context.Context, plate, message string) error {
	if l.Collection == nil {
		return ErrNilCollection
	}
	_, err := l.Collection.InsertOne(ctx, models.Notification{
		PlateNumber: plate,
		Message:     message,
		CreatedAt:   nowUTC(),
	})
	return err
}
