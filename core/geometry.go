package core

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used for all ground
// positions (kilometres).
const EarthRadiusKm = 6371.0

// Vec3 is an ECEF-style vector. Whether the components are kilometres
// or simulation units depends on the caller; the routing core only
// ever sees simulation units.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Scale returns v multiplied by k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Units converts a kilometre vector into simulation units.
func (v Vec3) Units(scaleKmPerUnit float64) Vec3 {
	return v.Scale(1 / scaleKmPerUnit)
}

// ToUnits converts a kilometre distance into simulation units.
func ToUnits(km, scaleKmPerUnit float64) float64 {
	return km / scaleKmPerUnit
}

// ToKm converts a simulation-unit distance into kilometres.
func ToKm(units, scaleKmPerUnit float64) float64 {
	return units * scaleKmPerUnit
}

// GroundPosition returns the ECEF position (kilometres) of a point on
// the Earth's surface.
func GroundPosition(latDeg, lonDeg float64) Vec3 {
	p := s2.PointFromLatLng(s2.LatLngFromDegrees(latDeg, lonDeg))
	return Vec3{X: p.X, Y: p.Y, Z: p.Z}.Scale(EarthRadiusKm)
}

// SubPoint returns the latitude and longitude (degrees) directly below
// the given position. The zero vector maps to 0,0.
func SubPoint(v Vec3) (latDeg, lonDeg float64) {
	if v.Norm() == 0 {
		return 0, 0
	}
	ll := s2.LatLngFromPoint(s2.PointFromCoords(v.X, v.Y, v.Z))
	return ll.Lat.Degrees(), ll.Lng.Degrees()
}
