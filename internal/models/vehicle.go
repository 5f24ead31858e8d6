package models

// Vehicle represents a fleet vehicle as listed by the backend directory.
// HasDefect is owned by the backend and may change between ticks.
type Vehicle struct {
	ID          int64   `bson:"_id" json:"id"`
	PlateNumber string  `bson:"plate_number" json:"plate_number"`
	Brand       string  `bson:"brand" json:"brand"`
	Model       string  `bson:"model" json:"model"`
	Mileage     float64 `bson:"mileage" json:"mileage"`
	IMEI        string  `bson:"imei" json:"imei"`
	HasDefect   bool    `bson:"has_defect" json:"has_defect"`
}
