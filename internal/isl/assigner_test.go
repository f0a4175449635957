package isl

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/constellation-router/core"
	"github.com/signalsfoundry/constellation-router/internal/logging"
	"github.com/signalsfoundry/constellation-router/model"
)

func walker24() model.ConstellationConfig {
	return model.ConstellationConfig{
		Satellites:    24,
		Planes:        4,
		PhaseStagger:  0.25,
		ISLPlaneShift: 1,
		ISLPlaneStep:  0,
	}
}

// fullPool makes every satellite a candidate of every other one.
func fullPool(a *Assigner) {
	a.BuildCandidates(make([]core.Vec3, a.Len()), 0)
}

func checkSymmetricAndBounded(t *testing.T, a *Assigner) {
	t.Helper()
	for id := 0; id < a.Len(); id++ {
		s := a.State(id)
		assert.LessOrEqual(t, s.Assigned.Len(), MaxLinks)
		for _, peer := range s.Assigned.Peers() {
			assert.NotEqual(t, id, peer)
			assert.Truef(t, a.State(peer).IsAssigned(id), "link %d-%d is one-sided", id, peer)
		}
	}
}

func TestNewAssignerRejectsUnevenPlanes(t *testing.T) {
	cfg := walker24()
	cfg.Satellites = 25
	assert.Panics(t, func() { NewAssigner(cfg, nil) })
}

func TestIntraPlaneTargetWrapsWithinPlane(t *testing.T) {
	a := NewAssigner(walker24(), nil)
	assert.Equal(t, 1, a.IntraPlaneTarget(0))
	assert.Equal(t, 0, a.IntraPlaneTarget(5))
	assert.Equal(t, 18, a.IntraPlaneTarget(23))
}

func TestInterPlaneTarget(t *testing.T) {
	a := NewAssigner(walker24(), nil)
	assert.Equal(t, 6, a.InterPlaneTarget(0))
	assert.Equal(t, 17, a.InterPlaneTarget(11))

	// Past the last plane the target wraps to plane 0, shifted by the
	// stagger accumulated over all planes (one slot here).
	assert.Equal(t, 3, a.InterPlaneTarget(20))
	assert.Equal(t, 0, a.InterPlaneTarget(23))
}

func TestInterPlaneTargetStepStaysInTargetPlane(t *testing.T) {
	cfg := walker24()
	cfg.ISLPlaneStep = 5
	a := NewAssigner(cfg, nil)

	// 1 + 6 + 5 overshoots plane 1 and is pulled back one plane.
	assert.Equal(t, 6, a.InterPlaneTarget(1))
	assert.Equal(t, 1, a.cfg.Plane(a.InterPlaneTarget(1)))

	cfg.ISLPlaneStep = -2
	a = NewAssigner(cfg, nil)
	// 0 + 6 - 2 falls short of plane 1 and is pushed forward one plane.
	assert.Equal(t, 10, a.InterPlaneTarget(0))
}

func TestStepFormsFullGrid(t *testing.T) {
	a := NewAssigner(walker24(), nil)
	fullPool(a)

	d := a.Step(context.Background())
	assert.Empty(t, d.Kept)
	assert.Empty(t, d.Dropped)
	assert.Len(t, d.Formed, 24*MaxLinks/2)
	assert.True(t, d.Changed())

	checkSymmetricAndBounded(t, a)
	for id := 0; id < a.Len(); id++ {
		assert.Equalf(t, MaxLinks, a.State(id).Assigned.Len(), "satellite %d", id)
	}
	assert.True(t, a.State(20).IsAssigned(3))
	assert.True(t, a.State(0).IsAssigned(1))
	assert.True(t, a.State(0).IsAssigned(6))
}

func TestSecondStepKeepsEverything(t *testing.T) {
	a := NewAssigner(walker24(), nil)
	fullPool(a)
	first := a.Step(context.Background())

	second := a.Step(context.Background())
	assert.False(t, second.Changed())
	assert.ElementsMatch(t, first.Formed, second.Kept)
	assert.ElementsMatch(t, first.Formed, a.ActiveLinks())
	assert.ElementsMatch(t, second.Kept, second.Active())
	assert.True(t, a.State(0).WasAssigned(1))
}

func TestProposalRequiresCandidate(t *testing.T) {
	a := NewAssigner(walker24(), nil)
	fullPool(a)
	a.SetCandidates(0, nil)

	a.PreAssign(context.Background())
	s := a.State(0)
	assert.False(t, s.IsPreAssigned(1))
	assert.False(t, s.IsPreAssigned(6))
	// Peers that do hold 0 in their pool still propose to it.
	assert.True(t, s.IsPreAssigned(5))
	assert.True(t, s.IsPreAssigned(23))

	assert.ErrorIs(t, a.propose(0, 1), ErrNotCandidate)
}

func TestPreAssignLogsRejectedProposals(t *testing.T) {
	var buf bytes.Buffer
	a := NewAssigner(walker24(), logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf}))
	fullPool(a)
	a.SetCandidates(0, nil)

	a.PreAssign(context.Background())

	var peers []int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		require.Equal(t, "isl proposal rejected", m["msg"])
		assert.Equal(t, float64(0), m["sat"])
		assert.Equal(t, ErrNotCandidate.Error(), m["error"])
		peers = append(peers, int(m["peer"].(float64)))
	}
	assert.Equal(t, []int{1, 6}, peers)
}

func TestShrinkingPoolDropsLinks(t *testing.T) {
	a := NewAssigner(walker24(), nil)
	fullPool(a)
	a.Step(context.Background())

	a.SetCandidates(0, nil)
	d := a.Step(context.Background())
	assert.ElementsMatch(t, []Pair{{A: 0, B: 1}, {A: 0, B: 6}}, d.Dropped)
	assert.Empty(t, d.Formed)
	assert.Len(t, d.Kept, 24*MaxLinks/2-2)
	assert.True(t, a.State(1).WasAssigned(0))
	assert.False(t, a.State(1).IsAssigned(0))
	checkSymmetricAndBounded(t, a)
}

func TestRandomPoolsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	cfg := model.ConstellationConfig{
		Satellites:    60,
		Planes:        6,
		PhaseStagger:  0.5,
		ISLPlaneShift: 2,
		ISLPlaneStep:  3,
	}
	a := NewAssigner(cfg, nil)

	for round := 0; round < 20; round++ {
		for id := 0; id < a.Len(); id++ {
			var pool []int
			for peer := 0; peer < a.Len(); peer++ {
				if peer != id && rng.Float64() < 0.6 {
					pool = append(pool, peer)
				}
			}
			a.SetCandidates(id, pool)
		}
		a.Step(context.Background())
		checkSymmetricAndBounded(t, a)

		for _, p := range a.ActiveLinks() {
			sa, sb := a.State(p.A), a.State(p.B)
			assert.True(t, sa.isCandidate(p.B) || sb.isCandidate(p.A))
		}
	}
}

func TestAssignRejectsInvalidLinks(t *testing.T) {
	a := NewAssigner(walker24(), nil)

	assert.ErrorIs(t, a.Assign(3, 3), ErrSelfLink)
	require.NoError(t, a.Assign(0, 1))
	assert.ErrorIs(t, a.Assign(1, 0), ErrDuplicateLink)

	for _, peer := range []int{2, 3, 4} {
		require.NoError(t, a.Assign(0, peer))
	}
	assert.ErrorIs(t, a.Assign(0, 5), ErrLinkCapacity)
	assert.ErrorIs(t, a.Assign(5, 0), ErrLinkCapacity)
	assert.False(t, a.State(5).IsAssigned(0))
	checkSymmetricAndBounded(t, a)
}

func TestNearestSatellitesOnALine(t *testing.T) {
	positions := make([]core.Vec3, 10)
	for i := range positions {
		positions[i] = core.Vec3{X: float64(i) * 10}
	}
	got := nearestSatellites(positions, 2)
	assert.ElementsMatch(t, []int{1, 2}, got[0])
	assert.ElementsMatch(t, []int{4, 6}, got[5])
	assert.ElementsMatch(t, []int{7, 8}, got[9])

	all := nearestSatellites(positions, 0)
	assert.Len(t, all[3], 9)
	assert.NotContains(t, all[3], 3)
}

func TestNearestSatellitesMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	positions := make([]core.Vec3, 80)
	for i := range positions {
		positions[i] = core.Vec3{X: rng.Float64() * 1000, Y: rng.Float64() * 1000, Z: rng.Float64() * 1000}
	}
	const k = 6
	got := nearestSatellites(positions, k)

	for i, p := range positions {
		others := make([]int, 0, len(positions)-1)
		for j := range positions {
			if j != i {
				others = append(others, j)
			}
		}
		sort.Slice(others, func(x, y int) bool {
			return p.DistanceTo(positions[others[x]]) < p.DistanceTo(positions[others[y]])
		})
		assert.ElementsMatchf(t, others[:k], got[i], "satellite %d", i)
	}
}
