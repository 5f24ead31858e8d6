package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/fleet-simulator/internal/models"
)

var nowUTC = func() time.Time { return time.Now().UTC() }

// MongoVehicleDirectory serves the fleet from a vehicles collection, for
// running the simulator without the HTTP backend.
type MongoVehicleDirectory struct {
	Collection *mongo.Collection
}

// ListVehicles returns every vehicle ordered by id.
func (d *MongoVehicleDirectory) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	if d.Collection == nil {
		return nil, ErrNilCollection
	}
	cursor, err := d.Collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var vehicles []models.Vehicle
	if err := cursor.All(ctx, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// VehicleByPlate returns nil when no vehicle has the plate.
func (d *MongoVehicleDirectory) VehicleByPlate(ctx context.Context, plate string) (*models.Vehicle, error) {
	if d.Collection == nil {
		return nil, ErrNilCollection
	}
	var vehicle models.Vehicle
	err := d.Collection.FindOne(ctx, bson.M{"plate_number": plate}).Decode(&vehicle)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vehicle, nil
}

// ReportDefect sets the defect flag of the vehicle with the given id.
func (d *MongoVehicleDirectory) ReportDefect(ctx context.Context, vehicleID int64, hasDefect bool) error {
	if d.Collection == nil {
		return ErrNilCollection
	}
	result, err := d.Collection.UpdateOne(ctx, bson.M{"_id": vehicleID}, bson.M{"$set": bson.M{"has_defect": hasDefect}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("vehicle %d not found", vehicleID)
	}
	return nil
}

// Ping checks that the server answers.
func (d *MongoVehicleDirectory) Ping(ctx context.Context) error {
	if d.Collection == nil {
		return ErrNilCollection
	}
	return d.Collection.Database().Client().Ping(ctx, nil)
}
