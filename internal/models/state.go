package models

// VehicleState is the durable position and mileage snapshot of one vehicle.
type VehicleState struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
	Mileage   float64 `bson:"mileage" json:"mileage"`
}

// Location returns the position part of the snapshot.
func (s VehicleState) Location() Location {
	return Location{Lat: s.Latitude, Lon: s.Longitude}
}
