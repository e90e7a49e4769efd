package region

import (
	"os"
	"path/filepath"
	"testing"
)

// Unit square around the origin with a centered square hole, plus a second
// feature as a MultiPolygon east of it.
const testGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"village": "Sukun", "district": "Sukun", "regency": "Kota Malang"},
      "geometry": {
        "type": "Polygon",
        "coordinates": [
          [[0, 0], [10, 0], [10, 10], [0, 10], [0, 0]],
          [[4, 4], [6, 4], [6, 6], [4, 6], [4, 4]]
        ]
      }
    },
    {
      "type": "Feature",
      "properties": {"village": "Blimbing", "district": "Blimbing", "regency": "Kota Malang"},
      "geometry": {
        "type": "MultiPolygon",
        "coordinates": [
          [[[20, 0], [30, 0], [30, 10], [20, 10], [20, 0]]]
        ]
      }
    },
    {
      "type": "Feature",
      "properties": {"village": "Ignored", "district": "Ignored", "regency": "Ignored"},
      "geometry": {"type": "Point", "coordinates": [1, 1]}
    }
  ]
}`

func writeTestGeoJSON(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boundaries.geojson")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestGeoJSONResolver(t *testing.T) {
	resolver, err := NewGeoJSONResolver(writeTestGeoJSON(t, testGeoJSON))
	if err != nil {
		t.Fatalf("NewGeoJSONResolver failed: %v", err)
	}

	// GeoJSON coordinates are [longitude, latitude]; Resolve takes (lat, lon).
	tests := []struct {
		name     string
		lat, lon float64
		village  string // empty means outside
	}{
		{"inside first polygon", 2, 2, "Sukun"},
		{"inside polygon hole", 5, 5, ""},
		{"just past hole edge", 7, 7, "Sukun"},
		{"inside multipolygon", 5, 25, "Blimbing"},
		{"outside everything", 5, 15, ""},
		{"far away", -50, 100, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			region, err := resolver.Resolve(tt.lat, tt.lon)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if tt.village == "" {
				if region != nil {
					t.Errorf("expected outside, resolved to %+v", region)
				}
				return
			}
			if region == nil {
				t.Fatalf("expected %s, got outside", tt.village)
			}
			if region.Village != tt.village {
				t.Errorf("village = %s, want %s", region.Village, tt.village)
			}
			if region.Regency != "Kota Malang" {
				t.Errorf("regency = %s, want Kota Malang", region.Regency)
			}
		})
	}
}

func TestGeoJSONResolverBadInput(t *testing.T) {
	if _, err := NewGeoJSONResolver("/nonexistent/boundaries.geojson"); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := NewGeoJSONResolver(writeTestGeoJSON(t, "{not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestStaticResolver(t *testing.T) {
	resolver := &StaticResolver{
		MinLat: -9, MaxLat: -7,
		MinLon: 111, MaxLon: 113,
		Region: Region{Village: "Sukun", District: "Sukun", Regency: "Kota Malang"},
	}

	region, err := resolver.Resolve(-8, 112)
	if err != nil || region == nil {
		t.Fatalf("expected inside, got %v, %v", region, err)
	}
	if region.Village != "Sukun" {
		t.Errorf("village = %s, want Sukun", region.Village)
	}

	outside, err := resolver.Resolve(-6, 112)
	if err != nil || outside != nil {
		t.Errorf("expected outside, got %v, %v", outside, err)
	}
}
