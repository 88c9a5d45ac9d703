package domain

import (
	"math"
	"strconv"
)

// metersPerDegree approximates one degree of latitude in meters (WGS-84).
const metersPerDegree = 111_000.0

// Point is a WGS-84 latitude/longitude coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox is an axis-aligned region in degrees.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// DeriveRegionID maps coordinates to the stable storage key
// "{lat:.3f}_{lon:.3f}". Formatting uses strconv's round-half-to-even, so
// values on a 0.0005 boundary bucket deterministically.
func DeriveRegionID(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 3, 64) + "_" + strconv.FormatFloat(lon, 'f', 3, 64)
}

// FormatCoordinates renders a point as a human-readable fallback display name
// for regions where no geocoded place name is available.
func FormatCoordinates(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 4, 64) + ", " + strconv.FormatFloat(lon, 'f', 4, 64)
}

// BufferBounds returns the bounding box of a square buffer around p.
// Longitude degrees shrink with latitude, so the east-west extent is scaled
// by cos(lat); near the poles the scale is clamped to avoid a degenerate box.
func BufferBounds(p Point, meters float64) BoundingBox {
	latDelta := meters / metersPerDegree

	cosLat := math.Cos(p.Lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lonDelta := meters / (metersPerDegree * cosLat)

	return BoundingBox{
		MinLat: p.Lat - latDelta,
		MinLon: p.Lon - lonDelta,
		MaxLat: p.Lat + latDelta,
		MaxLon: p.Lon + lonDelta,
	}
}
