// Package region resolves coordinates to administrative regions for service
// area enforcement. Reports are only accepted for locations inside the
// configured regency boundaries.
package region

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Region is the resolved administrative location of a coordinate pair.
type Region struct {
	Village  string `json:"village"`
	District string `json:"district"`
	Regency  string `json:"regency"`
}

// Resolver maps a coordinate pair to an administrative region. A nil Region
// with a nil error means the point is outside every known boundary.
type Resolver interface {
	Resolve(latitude, longitude float64) (*Region, error)
}

// geoJSONFeature is the subset of a GeoJSON feature the resolver reads.
type geoJSONFeature struct {
	Properties struct {
		Village  string `json:"village"`
		District string `json:"district"`
		Regency  string `json:"regency"`
	} `json:"properties"`
	Geometry struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
}

type geoJSONCollection struct {
	Features []geoJSONFeature `json:"features"`
}

// polygon is a ring list: the first ring is the outer boundary, the rest are
// holes. Points are [longitude, latitude] per the GeoJSON convention.
type polygon [][][2]float64

type boundary struct {
	region   Region
	polygons []polygon
}

// GeoJSONResolver answers point-in-region queries against village boundaries
// loaded from a GeoJSON feature collection.
type GeoJSONResolver struct {
	boundaries []boundary
}

// NewGeoJSONResolver loads village boundaries from the given GeoJSON file.
func NewGeoJSONResolver(path string) (*GeoJSONResolver, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read region file %s: %w", path, err)
	}
	var collection geoJSONCollection
	if err := json.Unmarshal(raw, &collection); err != nil {
		return nil, fmt.Errorf("failed to parse region file %s: %w", path, err)
	}

	r := &GeoJSONResolver{}
	for _, feat := range collection.Features {
		b := boundary{region: Region{
			Village:  feat.Properties.Village,
			District: feat.Properties.District,
			Regency:  feat.Properties.Regency,
		}}
		switch feat.Geometry.Type {
		case "Polygon":
			var p polygon
			if err := json.Unmarshal(feat.Geometry.Coordinates, &p); err != nil {
				return nil, fmt.Errorf("failed to parse polygon for %s: %w", b.region.Village, err)
			}
			b.polygons = append(b.polygons, p)
		case "MultiPolygon":
			var ps []polygon
			if err := json.Unmarshal(feat.Geometry.Coordinates, &ps); err != nil {
				return nil, fmt.Errorf("failed to parse multipolygon for %s: %w", b.region.Village, err)
			}
			b.polygons = append(b.polygons, ps...)
		default:
			slog.Warn("GeoJSONResolver skipping unsupported geometry", "type", feat.Geometry.Type, "village", b.region.Village)
			continue
		}
		r.boundaries = append(r.boundaries, b)
	}
	slog.Info("GeoJSONResolver loaded boundaries", "count", len(r.boundaries), "path", path)
	return r, nil
}

// Resolve returns the region containing the point, or nil when it falls
// outside every loaded boundary.
func (r *GeoJSONResolver) Resolve(latitude, longitude float64) (*Region, error) {
	for _, b := range r.boundaries {
		for _, p := range b.polygons {
			if polygonContains(p, longitude, latitude) {
				region := b.region
				return &region, nil
			}
		}
	}
	return nil, nil
}

// polygonContains tests the point against the outer ring and subtracts holes,
// using the even-odd ray casting rule.
func polygonContains(p polygon, x, y float64) bool {
	if len(p) == 0 || !ringContains(p[0], x, y) {
		return false
	}
	for _, hole := range p[1:] {
		if ringContains(hole, x, y) {
			return false
		}
	}
	return true
}

func ringContains(ring [][2]float64, x, y float64) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// StaticResolver resolves every point inside a bounding box to one fixed
// region. Used in tests and in deployments without boundary data.
type StaticResolver struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	Region         Region
}

// Resolve implements Resolver.
func (s *StaticResolver) Resolve(latitude, longitude float64) (*Region, error) {
	if latitude < s.MinLat || latitude > s.MaxLat || longitude < s.MinLon || longitude > s.MaxLon {
		return nil, nil
	}
	region := s.Region
	return &region, nil
}
