package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ukydev/fleet-simulator/internal/models"
)

type vehicleStateRecord struct {
	IMEI      string  `gorm:"primaryKey;column:imei"`
	Latitude  float64 `gorm:"not null"`
	Longitude float64 `gorm:"not null"`
	Mileage   float64 `gorm:"not null"`
	UpdatedAt time.Time
}

func (vehicleStateRecord) TableName() string {
	return "vehicle_states"
}

// SQLiteStore keeps vehicle states in an embedded SQLite database.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&vehicleStateRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, imei string) (models.VehicleState, error) {
	var rec vehicleStateRecord
	err := s.db.WithContext(ctx).Where("imei = ?", imei).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.VehicleState{}, ErrNotFound
	}
	if err != nil {
		return models.VehicleState{}, fmt.Errorf("load state %s: %w", imei, err)
	}
	return models.VehicleState{Latitude: rec.Latitude, Longitude: rec.Longitude, Mileage: rec.Mileage}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, imei string, state models.VehicleState) error {
	rec := vehicleStateRecord{
		IMEI:      imei,
		Latitude:  state.Latitude,
		Longitude: state.Longitude,
		Mileage:   state.Mileage,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "imei"}},
		DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "mileage", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save state %s: %w", imei, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
