// Package movement advances a vehicle's position and odometer for one tick.
package movement

import (
	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/random"
)

// DefaultDisplacementFactor scales the per-axis jitter, in degrees per km.
const DefaultDisplacementFactor = 0.05

// Fence is the geofence contract the model clamps against.
type Fence interface {
	Contains(lat, lon float64) bool
	NearestValidPoint(lat, lon float64, rng random.Source) (float64, float64)
}

// Model is a plausibility model, not a navigation engine: each axis is
// perturbed by a bounded random fraction of the distance travelled.
type Model struct {
	Fence              Fence
	DisplacementFactor float64
	// MaxDistancePerTick caps the km travelled in one call; 0 disables it.
	MaxDistancePerTick float64
}

// New returns a model with the default displacement factor.
func New(fence Fence, maxDistancePerTick float64) *Model {
	return &Model{
		Fence:              fence,
		DisplacementFactor: DefaultDisplacementFactor,
		MaxDistancePerTick: maxDistancePerTick,
	}
}

// Distance returns the km covered at speedKmH over elapsedHours, after
// clamping negatives to zero and applying the per-tick ceiling.
func (m *Model) Distance(speedKmH, elapsedHours float64) float64 {
	if speedKmH < 0 {
		speedKmH = 0
	}
	if elapsedHours < 0 {
		elapsedHours = 0
	}
	distance := speedKmH * elapsedHours
	if m.MaxDistancePerTick > 0 && distance > m.MaxDistancePerTick {
		distance = m.MaxDistancePerTick
	}
	return distance
}

// Advance computes the next state. Given the same inputs and the same
// sequence of draws it always returns the same state.
func (m *Model) Advance(prev models.VehicleState, speedKmH, elapsedHours float64, rng random.Source) models.VehicleState {
	distance := m.Distance(speedKmH, elapsedHours)

	f := m.DisplacementFactor
	lat := prev.Latitude + random.Between(rng, -f, f)*distance
	lon := prev.Longitude + random.Between(rng, -f, f)*distance

	if m.Fence != nil && !m.Fence.Contains(lat, lon) {
		lat, lon = m.Fence.NearestValidPoint(lat, lon, rng)
	}

	return models.VehicleState{
		Latitude:  lat,
		Longitude: lon,
		Mileage:   prev.Mileage + distance,
	}
}
