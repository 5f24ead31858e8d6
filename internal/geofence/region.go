package geofence

import (
	"errors"
	"fmt"
	"math"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/ukydev/fleet-simulator/internal/models"
)

var (
	// ErrEmptyIndex is returned when an index is built without regions.
	ErrEmptyIndex = errors.New("geofence has no regions")
	// ErrInvalidRegion is returned for unparseable or unsupported region definitions.
	ErrInvalidRegion = errors.New("invalid geofence region")
	// ErrDegenerateRegion is returned when no interior point of a region can be found.
	ErrDegenerateRegion = errors.New("degenerate geofence region")
)

// Box is an axis-aligned bounding box in degrees. Bounds are inclusive.
type Box struct {
	MinLat float64 `mapstructure:"min_lat" json:"min_lat"`
	MaxLat float64 `mapstructure:"max_lat" json:"max_lat"`
	MinLon float64 `mapstructure:"min_lon" json:"min_lon"`
	MaxLon float64 `mapstructure:"max_lon" json:"max_lon"`
}

// Contains reports whether the point lies inside the box.
func (b Box) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Center returns the midpoint of the box.
func (b Box) Center() (float64, float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

func (b Box) valid() bool {
	for _, v := range []float64{b.MinLat, b.MaxLat, b.MinLon, b.MaxLon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon
}

// Region is one allowed operating area: either a plain box or a polygon
// (with optional holes) together with its bounding box.
type Region struct {
	bounds Box
	// rings holds the polygon rings as X=lon, Y=lat; nil for box regions.
	rings  [][]geom.XY
	anchor models.Location
}

// BoxRegion builds a region from a bounding box.
func BoxRegion(b Box) (Region, error) {
	if !b.valid() {
		return Region{}, fmt.Errorf("%w: box %+v", ErrInvalidRegion, b)
	}
	lat, lon := b.Center()
	return Region{bounds: b, anchor: models.Location{Lat: lat, Lon: lon}}, nil
}

// PolygonRegions parses a WKT POLYGON or MULTIPOLYGON (x=lon, y=lat) into
// one region per polygon.
func PolygonRegions(wkt string) ([]Region, error) {
	g, err := geom.UnmarshalWKT(wkt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegion, err)
	}

	switch g.Type() {
	case geom.TypePolygon:
		p, ok := g.AsPolygon()
		if !ok {
			return nil, fmt.Errorf("%w: not a polygon", ErrInvalidRegion)
		}
		r, err := polygonRegion(p)
		if err != nil {
			return nil, err
		}
		return []Region{r}, nil
	case geom.TypeMultiPolygon:
		mp, ok := g.AsMultiPolygon()
		if !ok {
			return nil, fmt.Errorf("%w: not a multipolygon", ErrInvalidRegion)
		}
		regions := make([]Region, 0, mp.NumPolygons())
		for i := 0; i < mp.NumPolygons(); i++ {
			r, err := polygonRegion(mp.PolygonN(i))
			if err != nil {
				return nil, err
			}
			regions = append(regions, r)
		}
		return regions, nil
	default:
		return nil, fmt.Errorf("%w: unsupported geometry %s", ErrInvalidRegion, g.Type())
	}
}

// PolygonFromVertices builds a polygon region from an ordered vertex list.
// The ring is closed implicitly when the last vertex differs from the first.
func PolygonFromVertices(vertices []models.Location) (Region, error) {
	if len(vertices) < 3 {
		return Region{}, fmt.Errorf("%w: polygon needs at least 3 vertices", ErrInvalidRegion)
	}
	for i, v := range vertices {
		if !v.Valid() {
			return Region{}, fmt.Errorf("%w: vertex %d (%v, %v) is out of range", ErrInvalidRegion, i, v.Lat, v.Lon)
		}
	}
	ring := vertices
	if first, last := vertices[0], vertices[len(vertices)-1]; first != last {
		ring = append(append([]models.Location{}, vertices...), first)
	}

	var sb strings.Builder
	sb.WriteString("POLYGON((")
	for i, v := range ring {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "%g %g", v.Lon, v.Lat)
	}
	sb.WriteString("))")

	regions, err := PolygonRegions(sb.String())
	if err != nil {
		return Region{}, err
	}
	return regions[0], nil
}

func polygonRegion(p geom.Polygon) (Region, error) {
	if p.IsEmpty() {
		return Region{}, fmt.Errorf("%w: empty polygon", ErrInvalidRegion)
	}

	rings := [][]geom.XY{ringXYs(p.ExteriorRing())}
	for i := 0; i < p.NumInteriorRings(); i++ {
		rings = append(rings, ringXYs(p.InteriorRingN(i)))
	}

	bounds := Box{MinLat: math.Inf(1), MaxLat: math.Inf(-1), MinLon: math.Inf(1), MaxLon: math.Inf(-1)}
	for _, xy := range rings[0] {
		bounds.MinLat = math.Min(bounds.MinLat, xy.Y)
		bounds.MaxLat = math.Max(bounds.MaxLat, xy.Y)
		bounds.MinLon = math.Min(bounds.MinLon, xy.X)
		bounds.MaxLon = math.Max(bounds.MaxLon, xy.X)
	}

	r := Region{bounds: bounds, rings: rings}
	for _, candidate := range []geom.Point{p.PointOnSurface(), p.Centroid()} {
		xy, ok := candidate.XY()
		if ok && r.Contains(xy.Y, xy.X) {
			r.anchor = models.Location{Lat: xy.Y, Lon: xy.X}
			return r, nil
		}
	}
	return Region{}, fmt.Errorf("%w: no interior point in %s", ErrDegenerateRegion, p.AsText())
}

func ringXYs(ring geom.LineString) []geom.XY {
	seq := ring.Coordinates()
	xys := make([]geom.XY, seq.Length())
	for i := range xys {
		xys[i] = seq.GetXY(i)
	}
	return xys
}

// Contains reports whether the point lies inside the region. Polygons use the
// even-odd ray casting rule over all rings, so holes are excluded.
func (r Region) Contains(lat, lon float64) bool {
	if !r.bounds.Contains(lat, lon) {
		return false
	}
	if r.rings == nil {
		return true
	}

	inside := false
	for _, ring := range r.rings {
		j := len(ring) - 1
		for i := range ring {
			vi, vj := ring[i], ring[j]
			if (vi.Y > lat) != (vj.Y > lat) &&
				lon < (vj.X-vi.X)*(lat-vi.Y)/(vj.Y-vi.Y)+vi.X {
				inside = !inside
			}
			j = i
		}
	}
	return inside
}

// Bounds returns the bounding box of the region.
func (r Region) Bounds() Box {
	return r.bounds
}

// Anchor returns a point known to lie inside the region.
func (r Region) Anchor() (float64, float64) {
	return r.anchor.Lat, r.anchor.Lon
}

// IsPolygon reports whether the region is polygon-backed.
func (r Region) IsPolygon() bool {
	return r.rings != nil
}
