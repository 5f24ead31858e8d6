// Package geofence decides whether a coordinate lies inside the fleet's
// allowed operating regions and clamps stray coordinates back into them.
package geofence

import (
	"fmt"
	"math"

	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/random"
)

// DefaultMaxAttempts bounds resampling before falling back to a region anchor.
const DefaultMaxAttempts = 100

// anchorGrid is the resolution of the scan for a corridor-clipped anchor.
const anchorGrid = 32

// Index is the union of a set of regions, optionally intersected with a set
// of corridors. It is immutable after New and safe for concurrent use.
type Index struct {
	regions     []Region
	anchors     []models.Location
	corridors   []Region
	maxAttempts int
}

// Option configures an Index.
type Option func(*Index)

// WithMaxAttempts sets how many random resamples are tried before the
// region anchor is used.
func WithMaxAttempts(n int) Option {
	return func(ix *Index) {
		if n >= 0 {
			ix.maxAttempts = n
		}
	}
}

// WithCorridors restricts the index to points that also lie on one of the
// corridors. Regions sharing no point with any corridor are dropped.
func WithCorridors(corridors ...Region) Option {
	return func(ix *Index) {
		ix.corridors = append(ix.corridors, corridors...)
	}
}

// New builds an index over regions. Every kept region gets an anchor that
// satisfies Contains.
func New(regions []Region, opts ...Option) (*Index, error) {
	if len(regions) == 0 {
		return nil, ErrEmptyIndex
	}
	ix := &Index{maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(ix)
	}

	for i, r := range regions {
		anchor, ok := ix.anchorFor(r)
		if !ok {
			if len(ix.corridors) == 0 {
				lat, lon := r.Anchor()
				return nil, fmt.Errorf("%w: region %d anchor (%f, %f)", ErrDegenerateRegion, i, lat, lon)
			}
			continue
		}
		ix.regions = append(ix.regions, r)
		ix.anchors = append(ix.anchors, anchor)
	}
	if len(ix.regions) == 0 {
		return nil, fmt.Errorf("%w: no region intersects the corridors", ErrDegenerateRegion)
	}
	return ix, nil
}

// anchorFor returns the region's own anchor when it is valid, otherwise the
// first valid point of a regular grid over the region's bounds.
func (ix *Index) anchorFor(r Region) (models.Location, bool) {
	lat, lon := r.Anchor()
	if ix.validIn(r, lat, lon) {
		return models.Location{Lat: lat, Lon: lon}, true
	}
	if len(ix.corridors) == 0 {
		return models.Location{}, false
	}
	b := r.Bounds()
	for i := 0; i <= anchorGrid; i++ {
		lat := b.MinLat + (b.MaxLat-b.MinLat)*float64(i)/anchorGrid
		for j := 0; j <= anchorGrid; j++ {
			lon := b.MinLon + (b.MaxLon-b.MinLon)*float64(j)/anchorGrid
			if ix.validIn(r, lat, lon) {
				return models.Location{Lat: lat, Lon: lon}, true
			}
		}
	}
	return models.Location{}, false
}

// Regions returns the indexed regions.
func (ix *Index) Regions() []Region {
	return append([]Region(nil), ix.regions...)
}

// Contains reports whether the point lies in any region and, when corridors
// are set, on a corridor.
func (ix *Index) Contains(lat, lon float64) bool {
	if !ix.onCorridor(lat, lon) {
		return false
	}
	for _, r := range ix.regions {
		if r.Contains(lat, lon) {
			return true
		}
	}
	return false
}

func (ix *Index) onCorridor(lat, lon float64) bool {
	if len(ix.corridors) == 0 {
		return true
	}
	for _, c := range ix.corridors {
		if c.Contains(lat, lon) {
			return true
		}
	}
	return false
}

func (ix *Index) validIn(r Region, lat, lon float64) bool {
	return r.Contains(lat, lon) && ix.onCorridor(lat, lon)
}

// NearestValidPoint returns a point that satisfies Contains. Points already
// inside are returned unchanged; otherwise the region with the nearest
// centre is resampled and, failing that, its anchor is returned.
func (ix *Index) NearestValidPoint(lat, lon float64, rng random.Source) (float64, float64) {
	if ix.Contains(lat, lon) {
		return lat, lon
	}

	nearest := 0
	best := math.Inf(1)
	for i, r := range ix.regions {
		cLat, cLon := r.Bounds().Center()
		d := math.Hypot(lat-cLat, lon-cLon)
		if d < best {
			best = d
			nearest = i
		}
	}
	return ix.sample(nearest, rng)
}

// RandomPoint returns a random point inside a random region.
func (ix *Index) RandomPoint(rng random.Source) (float64, float64) {
	i := int(rng.Float64() * float64(len(ix.regions)))
	if i >= len(ix.regions) {
		i = len(ix.regions) - 1
	}
	return ix.sample(i, rng)
}

func (ix *Index) sample(i int, rng random.Source) (float64, float64) {
	r := ix.regions[i]
	b := r.Bounds()
	for attempt := 0; attempt < ix.maxAttempts; attempt++ {
		lat := random.Between(rng, b.MinLat, b.MaxLat)
		lon := random.Between(rng, b.MinLon, b.MaxLon)
		if ix.validIn(r, lat, lon) {
			return lat, lon
		}
	}
	a := ix.anchors[i]
	return a.Lat, a.Lon
}
