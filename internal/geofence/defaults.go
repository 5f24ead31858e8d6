package geofence

import "fmt"

// DefaultBoxes is the fleet's operating territory: fifteen boxes around the
// towns served in the state of Ceará.
var DefaultBoxes = []Box{
	{MinLat: -3.90, MaxLat: -3.60, MinLon: -38.70, MaxLon: -38.30},
	{MinLat: -4.90, MaxLat: -4.70, MinLon: -39.20, MaxLon: -38.90},
	{MinLat: -7.30, MaxLat: -7.10, MinLon: -39.50, MaxLon: -39.20},
	{MinLat: -3.80, MaxLat: -3.60, MinLon: -40.40, MaxLon: -40.10},
	{MinLat: -6.40, MaxLat: -6.20, MinLon: -39.40, MaxLon: -39.10},
	{MinLat: -5.30, MaxLat: -5.10, MinLon: -40.80, MaxLon: -40.50},
	{MinLat: -5.20, MaxLat: -5.00, MinLon: -38.10, MaxLon: -37.80},
	{MinLat: -6.00, MaxLat: -5.80, MinLon: -40.30, MaxLon: -40.00},
	{MinLat: -4.95, MaxLat: -4.75, MinLon: -37.95, MaxLon: -37.65},
	{MinLat: -2.95, MaxLat: -2.75, MinLon: -40.90, MaxLon: -40.60},
	{MinLat: -3.55, MaxLat: -3.35, MinLon: -39.65, MaxLon: -39.35},
	{MinLat: -4.40, MaxLat: -4.20, MinLon: -39.35, MaxLon: -39.05},
	{MinLat: -4.60, MaxLat: -4.40, MinLon: -37.80, MaxLon: -37.50},
	{MinLat: -4.20, MaxLat: -4.00, MinLon: -38.50, MaxLon: -38.20},
	{MinLat: -3.90, MaxLat: -3.70, MinLon: -38.60, MaxLon: -38.30},
}

// RouteCorridors are the highway corridors between the main towns, as WKT
// (x=lon, y=lat).
var RouteCorridors = []string{
	"POLYGON((-41.50 -2.90, -41.00 -3.30, -38.50 -4.40, -38.00 -5.20, -38.50 -7.50, -39.50 -7.20, -41.00 -4.00, -41.50 -2.90))",
	"POLYGON((-38.70 -3.60, -38.40 -3.90, -38.30 -4.00, -38.20 -3.70, -38.50 -3.50, -38.70 -3.60))",
	"POLYGON((-39.40 -7.10, -39.20 -7.30, -39.30 -7.40, -39.50 -7.20, -39.40 -7.10))",
}

// DefaultRegions returns the DefaultBoxes as regions.
func DefaultRegions() []Region {
	regions := make([]Region, 0, len(DefaultBoxes))
	for _, b := range DefaultBoxes {
		r, err := BoxRegion(b)
		if err != nil {
			panic(err)
		}
		regions = append(regions, r)
	}
	return regions
}

// Build assembles an index from configured boxes and WKT polygons, limited
// to the WKT corridors when any are given. With no boxes or polygons, the
// default territory is used, and with it the RouteCorridors unless other
// corridors are given.
func Build(boxes []Box, polygons, corridors []string, opts ...Option) (*Index, error) {
	var regions []Region
	for _, b := range boxes {
		r, err := BoxRegion(b)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	for _, wkt := range polygons {
		rs, err := PolygonRegions(wkt)
		if err != nil {
			return nil, err
		}
		regions = append(regions, rs...)
	}
	if len(regions) == 0 {
		regions = DefaultRegions()
		if len(corridors) == 0 {
			corridors = RouteCorridors
		}
	}

	var lanes []Region
	for _, wkt := range corridors {
		rs, err := PolygonRegions(wkt)
		if err != nil {
			return nil, fmt.Errorf("corridor: %w", err)
		}
		lanes = append(lanes, rs...)
	}
	if len(lanes) > 0 {
		opts = append(opts[:len(opts):len(opts)], WithCorridors(lanes...))
	}
	return New(regions, opts...)
}
