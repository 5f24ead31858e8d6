package models

import (
	"time"
)

// VehicleCoordinates is the position report sent for a vehicle on every tick.
type VehicleCoordinates struct {
	IMEI      string    `bson:"imei" json:"imei"`
	Latitude  float64   `bson:"latitude" json:"latitude"`
	Longitude float64   `bson:"longitude" json:"longitude"`
	Speed     float64   `bson:"speed" json:"speed"`
	IsStopped bool      `bson:"is_stopped" json:"isStopped"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// VehicleStatus is a status-only report, used while a vehicle is stationary.
type VehicleStatus struct {
	IMEI      string    `bson:"imei" json:"imei"`
	Speed     float64   `bson:"speed" json:"speed"`
	IsStopped bool      `bson:"is_stopped" json:"isStopped"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// MileageReport carries the odometer value of a vehicle in kilometers.
type MileageReport struct {
	VehicleID int64     `bson:"vehicle_id" json:"vehicle_id"`
	Mileage   float64   `bson:"mileage" json:"mileage"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}
