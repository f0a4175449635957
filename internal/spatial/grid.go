// Package spatial buckets ground relays into fixed latitude/longitude
// cells so the set of relays near a satellite can be found without a
// satellites × relays scan.
package spatial

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"

	"github.com/signalsfoundry/constellation-router/core"
)

// City is one ground relay. ID is its relay index, which is also its
// offset in the route graph's relay node range.
type City struct {
	ID   int
	Name string
	Lat  float64
	Lon  float64

	// Pos is in simulation units.
	Pos core.Vec3
}

// GroundRegion is one grid cell.
type GroundRegion struct {
	LatMin, LatMax float64
	LonMin, LonMax float64

	// Centroid is the cell centre on the Earth's surface, in simulation
	// units. It is fixed at construction.
	Centroid core.Vec3
	Cities   []City
}

// GroundGrid tiles the sphere into cellDeg × cellDeg regions. Cities are
// added during start-up; after Freeze the grid is read-only and safe for
// concurrent FindInRange calls.
type GroundGrid struct {
	cellDeg    float64
	rows, cols int
	regions    []GroundRegion

	scaleKmPerUnit float64
	maxRangeKm     float64
	rangeMarginKm  float64
	cellMarginKm   float64
	threshold      float64

	cities []City
	frozen bool
}

// NewGroundGrid builds an empty grid. maxRangeKm and rangeMarginKm are
// the radio limits the route graph applies; FindInRange never misses a
// city within maxRangeKm of the satellite.
func NewGroundGrid(cellDeg, scaleKmPerUnit, maxRangeKm, rangeMarginKm float64) *GroundGrid {
	if cellDeg <= 0 || cellDeg > 90 {
		panic(fmt.Sprintf("spatial: invalid cell size %v", cellDeg))
	}
	if scaleKmPerUnit <= 0 {
		panic(fmt.Sprintf("spatial: invalid scale %v", scaleKmPerUnit))
	}

	g := &GroundGrid{
		cellDeg:        cellDeg,
		rows:           int(math.Ceil(180 / cellDeg)),
		cols:           int(math.Ceil(360 / cellDeg)),
		scaleKmPerUnit: scaleKmPerUnit,
		maxRangeKm:     maxRangeKm,
		rangeMarginKm:  rangeMarginKm,
	}
	g.regions = make([]GroundRegion, g.rows*g.cols)
	for r := 0; r < g.rows; r++ {
		latMin := -90 + float64(r)*cellDeg
		latMax := math.Min(90, latMin+cellDeg)
		for c := 0; c < g.cols; c++ {
			lonMin := -180 + float64(c)*cellDeg
			lonMax := math.Min(180, lonMin+cellDeg)
			reg := &g.regions[r*g.cols+c]
			reg.LatMin, reg.LatMax = latMin, latMax
			reg.LonMin, reg.LonMax = lonMin, lonMax

			latC, lonC := (latMin+latMax)/2, (lonMin+lonMax)/2
			reg.Centroid = core.GroundPosition(latC, lonC).Units(scaleKmPerUnit)
			if m := cornerChordKm(latC, lonC, latMin, latMax, lonMin, lonMax); m > g.cellMarginKm {
				g.cellMarginKm = m
			}
		}
	}
	g.threshold = (maxRangeKm + rangeMarginKm + g.cellMarginKm) / scaleKmPerUnit
	return g
}

// cornerChordKm is the straight-line distance from the cell centre to its
// farthest corner. Along either edge family the distance to the centre
// peaks at an endpoint, so the corners bound every point in the cell.
func cornerChordKm(latC, lonC, latMin, latMax, lonMin, lonMax float64) float64 {
	centre := s2.LatLngFromDegrees(latC, lonC)
	var maxAngle float64
	for _, lat := range []float64{latMin, latMax} {
		for _, lon := range []float64{lonMin, lonMax} {
			if a := centre.Distance(s2.LatLngFromDegrees(lat, lon)).Radians(); a > maxAngle {
				maxAngle = a
			}
		}
	}
	// Round up slightly so floating point never turns the bound into a
	// false negative.
	return 2*core.EarthRadiusKm*math.Sin(maxAngle/2) + 1e-6
}

func (g *GroundGrid) cellIndex(lat, lon float64) int {
	r := int(math.Floor((lat + 90) / g.cellDeg))
	if r >= g.rows {
		r = g.rows - 1
	}
	if r < 0 {
		r = 0
	}
	c := int(math.Floor((lon + 180) / g.cellDeg))
	c = ((c % g.cols) + g.cols) % g.cols
	return r*g.cols + c
}

// AddCity registers a relay and returns it. IDs are assigned in call
// order starting at zero.
func (g *GroundGrid) AddCity(name string, lat, lon float64) City {
	if g.frozen {
		panic("spatial: AddCity after Freeze")
	}
	city := City{
		ID:   len(g.cities),
		Name: name,
		Lat:  lat,
		Lon:  lon,
		Pos:  core.GroundPosition(lat, lon).Units(g.scaleKmPerUnit),
	}
	g.cities = append(g.cities, city)
	reg := &g.regions[g.cellIndex(lat, lon)]
	reg.Cities = append(reg.Cities, city)
	return city
}

// Freeze ends the initialisation phase.
func (g *GroundGrid) Freeze() { g.frozen = true }

// Cities returns every relay in ID order.
func (g *GroundGrid) Cities() []City { return g.cities }

// Len returns the number of relays.
func (g *GroundGrid) Len() int { return len(g.cities) }

// Regions exposes the cells, row-major from the south-west corner.
func (g *GroundGrid) Regions() []GroundRegion { return g.regions }

// CellMarginKm is the worst-case centroid-to-corner distance of any cell.
func (g *GroundGrid) CellMarginKm() float64 { return g.cellMarginKm }

// FindInRange returns every city in every cell whose centroid lies
// within the radio range plus both margins of sat (simulation units).
// The result may contain cities that are slightly out of range; callers
// filter by exact distance when adding edges.
func (g *GroundGrid) FindInRange(sat core.Vec3) []City {
	var out []City
	for i := range g.regions {
		reg := &g.regions[i]
		if len(reg.Cities) == 0 {
			continue
		}
		if sat.DistanceTo(reg.Centroid) <= g.threshold {
			out = append(out, reg.Cities...)
		}
	}
	return out
}
