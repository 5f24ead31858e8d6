package db

import (
	"go.mongodb.org/mongo-driver/mongo"
)

// Collection names used by the simulator.
const (
	VehiclesCollection      = "vehicles"
	StatesCollection        = "vehicle_states"
	CoordinatesCollection   = "vehicle_coordinates"
	MileageCollection       = "vehicle_mileage"
	NotificationsCollection = "notifications"
)

// Collections groups the Mongo-backed collaborators of one database.
type Collections struct {
	Vehicles      *MongoVehicleDirectory
	States        *MongoStateStore
	Telemetry     *MongoTelemetrySink
	Notifications *MongoNotificationLog
}

// OpenCollections binds every collaborator to database dbName.
func OpenCollections(client *mongo.Client, dbName string) Collections {
	db := client.Database(dbName)
	return Collections{
		Vehicles: &MongoVehicleDirectory{Collection: db.Collection(VehiclesCollection)},
		States:   &MongoStateStore{Collection: db.Collection(StatesCollection)},
		Telemetry: &MongoTelemetrySink{
			Coordinates: db.Collection(CoordinatesCollection),
			Mileage:     db.Collection(MileageCollection),
		},
		Notifications: &MongoNotificationLog{Collection: db.Collection(NotificationsCollection)},
	}
}
