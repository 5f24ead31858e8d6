package models

import (
	"time"
)

// Notification is an operator alert about a vehicle.
type Notification struct {
	PlateNumber string    `bson:"plate_number" json:"plate_number"`
	Message     string    `bson:"message" json:"message"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at,omitempty"`
}
