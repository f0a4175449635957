package spatial

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/constellation-router/core"
)

func randomLatLon(rng *rand.Rand) (float64, float64) {
	// Uniform on the sphere.
	lat := math.Asin(2*rng.Float64()-1) * 180 / math.Pi
	lon := rng.Float64()*360 - 180
	return lat, lon
}

func TestGridDimensions(t *testing.T) {
	g := NewGroundGrid(10, 1, 1000, 50)
	assert.Len(t, g.Regions(), 18*36)

	// A 10 degree cell at the equator spans about 1112 km per side, so
	// the half diagonal is a bit under 800 km.
	assert.InDelta(t, 786, g.CellMarginKm(), 10)
}

func TestAddCityAssignsSequentialIDs(t *testing.T) {
	g := NewGroundGrid(10, 1, 1000, 50)
	a := g.AddCity("London", 51.5, -0.12)
	b := g.AddCity("Tokyo", 35.7, 139.7)
	pole := g.AddCity("Pole", 90, 180)

	assert.Equal(t, 0, a.ID)
	assert.Equal(t, 1, b.ID)
	assert.Equal(t, 2, pole.ID)
	assert.Equal(t, 3, g.Len())
	assert.InDelta(t, core.EarthRadiusKm, a.Pos.Norm(), 1e-6)

	g.Freeze()
	assert.Panics(t, func() { g.AddCity("Late", 0, 0) })
}

func TestFindInRangeUsesScale(t *testing.T) {
	const scale = 100.0
	g := NewGroundGrid(10, scale, 1000, 0)
	g.AddCity("Quito", 0, -78.5)
	g.AddCity("Antipode", 0, 101.5)
	g.Freeze()

	over := core.GroundPosition(0, -78.5).Scale((core.EarthRadiusKm + 550) / core.EarthRadiusKm).Units(scale)
	got := g.FindInRange(over)
	require.Len(t, got, 1)
	assert.Equal(t, "Quito", got[0].Name)
}

func TestFindInRangeHasNoFalseNegatives(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, tc := range []struct {
		cellDeg, scale, rangeKm, marginKm float64
	}{
		{10, 1, 1500, 0},
		{10, 25, 1200, 100},
		{5, 6.371, 900, 50},
		{30, 1, 2500, 0},
		{7, 3, 600, 10},
	} {
		t.Run(fmt.Sprintf("cell=%v/range=%v", tc.cellDeg, tc.rangeKm), func(t *testing.T) {
			g := NewGroundGrid(tc.cellDeg, tc.scale, tc.rangeKm, tc.marginKm)
			for i := 0; i < 2000; i++ {
				lat, lon := randomLatLon(rng)
				g.AddCity(fmt.Sprintf("c%d", i), lat, lon)
			}
			g.Freeze()

			maxUnits := tc.rangeKm / tc.scale
			for trial := 0; trial < 200; trial++ {
				lat, lon := randomLatLon(rng)
				alt := 300 + rng.Float64()*900
				sat := core.GroundPosition(lat, lon).
					Scale((core.EarthRadiusKm + alt) / core.EarthRadiusKm).
					Units(tc.scale)

				found := map[int]bool{}
				for _, c := range g.FindInRange(sat) {
					found[c.ID] = true
				}
				for _, c := range g.Cities() {
					if sat.DistanceTo(c.Pos) <= maxUnits {
						require.Truef(t, found[c.ID], "city %d (%.2f,%.2f) in range of satellite over (%.2f,%.2f) but missing",
							c.ID, c.Lat, c.Lon, lat, lon)
					}
				}
			}
		})
	}
}

func TestFindInRangeSkipsDistantCells(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	g := NewGroundGrid(10, 1, 1000, 0)
	for i := 0; i < 500; i++ {
		lat, lon := randomLatLon(rng)
		g.AddCity(fmt.Sprintf("c%d", i), lat, lon)
	}
	g.Freeze()

	sat := core.GroundPosition(45, 10).Scale(1.1)
	got := g.FindInRange(sat)
	assert.Less(t, len(got), g.Len()/4, "coarse filter should discard most of the globe")
	for _, c := range got {
		// Every returned city is within range plus the cell margin.
		assert.LessOrEqual(t, sat.DistanceTo(c.Pos), 1000+2*g.CellMarginKm())
	}
}
