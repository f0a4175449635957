package isl

import (
	"github.com/dhconnelly/rtreego"

	"github.com/signalsfoundry/constellation-router/core"
)

const pointTol = 1e-9

type satPoint struct {
	id  int
	loc rtreego.Point
}

func (s *satPoint) Bounds() rtreego.Rect {
	return s.loc.ToRect(pointTol)
}

// nearestSatellites returns, for every satellite, the IDs of its k
// nearest neighbours ordered by distance. k <= 0 or k >= len(positions)-1
// selects every other satellite.
func nearestSatellites(positions []core.Vec3, k int) [][]int {
	n := len(positions)
	out := make([][]int, n)
	if k <= 0 || k >= n-1 {
		for i := range out {
			peers := make([]int, 0, n-1)
			for j := 0; j < n; j++ {
				if j != i {
					peers = append(peers, j)
				}
			}
			out[i] = peers
		}
		return out
	}

	tree := rtreego.NewTree(3, 25, 50)
	points := make([]*satPoint, n)
	for i, p := range positions {
		points[i] = &satPoint{id: i, loc: rtreego.Point{p.X, p.Y, p.Z}}
		tree.Insert(points[i])
	}

	for i, sp := range points {
		peers := make([]int, 0, k)
		// One extra result because the satellite finds itself.
		for _, obj := range tree.NearestNeighbors(k+1, sp.loc) {
			if obj == nil {
				continue
			}
			other := obj.(*satPoint)
			if other.id == i || len(peers) == k {
				continue
			}
			peers = append(peers, other.id)
		}
		out[i] = peers
	}
	return out
}
