package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/models"
)

// FileSchemaVersion is the version written by FileStore.
const FileSchemaVersion = 2

type fileDocument struct {
	Version  int                            `json:"version"`
	Vehicles map[string]models.VehicleState `json:"vehicles"`
}

// FileStore keeps vehicle states in a single JSON file. The file is read
// once and then served from memory; every Save rewrites it atomically.
type FileStore struct {
	path string

	mu       sync.Mutex
	vehicles map[string]models.VehicleState
}

// NewFileStore returns a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the state for imei or ErrNotFound.
func (s *FileStore) Load(ctx context.Context, imei string) (models.VehicleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return models.VehicleState{}, err
	}
	st, ok := s.vehicles[imei]
	if !ok {
		return models.VehicleState{}, ErrNotFound
	}
	return st, nil
}

// Save stores state for imei and flushes the file. When the flush fails the
// previous state stays in effect.
func (s *FileStore) Save(ctx context.Context, imei string, state models.VehicleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	prev, existed := s.vehicles[imei]
	s.vehicles[imei] = state
	if err := s.flush(); err != nil {
		if existed {
			s.vehicles[imei] = prev
		} else {
			delete(s.vehicles, imei)
		}
		return err
	}
	return nil
}

// Len returns the number of stored vehicles.
func (s *FileStore) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return 0, err
	}
	return len(s.vehicles), nil
}

func (s *FileStore) ensureLoaded() error {
	if s.vehicles != nil {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.vehicles = make(map[string]models.VehicleState)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	vehicles, migrated, err := decodeStateFile(data)
	switch {
	case errors.Is(err, ErrCorruptState):
		log.WithError(err).WithField("path", s.path).Warn("Discarding unreadable state file")
		s.vehicles = make(map[string]models.VehicleState)
		return s.flush()
	case err != nil:
		return err
	}
	s.vehicles = vehicles
	if migrated {
		log.WithFields(log.Fields{"path": s.path, "vehicles": len(vehicles)}).Info("Upgraded legacy state file")
		return s.flush()
	}
	return nil
}

// decodeStateFile accepts the current schema, then the legacy
// {"imei": [[lat, lon], mileage]} map. Anything else is ErrCorruptState.
func decodeStateFile(data []byte) (map[string]models.VehicleState, bool, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return make(map[string]models.VehicleState), false, nil
	}

	var doc fileDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err == nil && doc.Version == FileSchemaVersion {
		if doc.Vehicles == nil {
			doc.Vehicles = make(map[string]models.VehicleState)
		}
		return doc.Vehicles, false, nil
	}

	vehicles, err := decodeLegacy(data)
	if err != nil {
		return nil, false, err
	}
	return vehicles, true, nil
}

func decodeLegacy(data []byte) (map[string]models.VehicleState, error) {
	var legacy map[string][]json.RawMessage
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	vehicles := make(map[string]models.VehicleState, len(legacy))
	for imei, entry := range legacy {
		if len(entry) != 2 {
			return nil, fmt.Errorf("%w: entry %q has %d elements", ErrCorruptState, imei, len(entry))
		}
		var position []float64
		if err := json.Unmarshal(entry[0], &position); err != nil || len(position) != 2 {
			return nil, fmt.Errorf("%w: entry %q has no [lat, lon] pair", ErrCorruptState, imei)
		}
		var mileage float64
		if err := json.Unmarshal(entry[1], &mileage); err != nil {
			return nil, fmt.Errorf("%w: entry %q has no mileage", ErrCorruptState, imei)
		}
		vehicles[imei] = models.VehicleState{Latitude: position[0], Longitude: position[1], Mileage: mileage}
	}
	return vehicles, nil
}

func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(fileDocument{Version: FileSchemaVersion, Vehicles: s.vehicles}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
