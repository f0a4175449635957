// Package isl decides which satellite pairs hold inter-satellite laser
// links. Peers are chosen by index arithmetic over planes and slots, then
// confirmed in a two-pass, symmetric protocol that never gives a
// satellite more than MaxLinks links.
package isl

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/constellation-router/core"
	"github.com/signalsfoundry/constellation-router/internal/logging"
	"github.com/signalsfoundry/constellation-router/model"
)

// SatelliteLinkState is the per-satellite link bookkeeping.
type SatelliteLinkState struct {
	ID int

	Assigned    LinkSet
	Previous    LinkSet
	PreAssigned LinkSet

	// Candidates is the nearest-neighbour pool, fixed at topology build.
	Candidates []int
}

// IsAssigned reports whether peer holds a link with s this frame.
func (s *SatelliteLinkState) IsAssigned(peer int) bool { return s.Assigned.Contains(peer) }

// WasAssigned reports whether peer held a link with s last frame.
func (s *SatelliteLinkState) WasAssigned(peer int) bool { return s.Previous.Contains(peer) }

// IsPreAssigned reports whether peer is proposed for this frame.
func (s *SatelliteLinkState) IsPreAssigned(peer int) bool { return s.PreAssigned.Contains(peer) }

func (s *SatelliteLinkState) isCandidate(peer int) bool {
	for _, c := range s.Candidates {
		if c == peer {
			return true
		}
	}
	return false
}

// Pair is an undirected satellite pair with A < B.
type Pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

func pairOf(x, y int) Pair {
	if x > y {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

// Delta compares this frame's links with the previous frame's.
type Delta struct {
	Kept    []Pair `json:"kept"`
	Formed  []Pair `json:"formed"`
	Dropped []Pair `json:"dropped"`
}

// Changed reports whether any link was formed or dropped.
func (d Delta) Changed() bool { return len(d.Formed) > 0 || len(d.Dropped) > 0 }

// Active returns every link held this frame.
func (d Delta) Active() []Pair {
	out := make([]Pair, 0, len(d.Kept)+len(d.Formed))
	out = append(out, d.Kept...)
	return append(out, d.Formed...)
}

// Assigner owns the link state of every satellite, indexed by ID.
type Assigner struct {
	cfg  model.ConstellationConfig
	sats []SatelliteLinkState
	log  logging.Logger
}

// NewAssigner creates empty link state for cfg.Satellites satellites.
func NewAssigner(cfg model.ConstellationConfig, log logging.Logger) *Assigner {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.SatsPerPlane() == 0 || cfg.Satellites%cfg.Planes != 0 {
		panic(fmt.Sprintf("isl: %d satellites cannot be split into %d planes", cfg.Satellites, cfg.Planes))
	}
	sats := make([]SatelliteLinkState, cfg.Satellites)
	for i := range sats {
		sats[i].ID = i
	}
	return &Assigner{cfg: cfg, sats: sats, log: log}
}

// Len returns the number of satellites.
func (a *Assigner) Len() int { return len(a.sats) }

// State returns the link state of satellite id.
func (a *Assigner) State(id int) *SatelliteLinkState { return &a.sats[id] }

// BuildCandidates caches the k nearest satellites of each satellite
// (positions in any consistent unit).
func (a *Assigner) BuildCandidates(positions []core.Vec3, k int) {
	if len(positions) != len(a.sats) {
		panic(fmt.Sprintf("isl: %d positions for %d satellites", len(positions), len(a.sats)))
	}
	for i, peers := range nearestSatellites(positions, k) {
		a.sats[i].Candidates = peers
	}
}

// SetCandidates replaces one satellite's candidate pool.
func (a *Assigner) SetCandidates(id int, peers []int) {
	a.sats[id].Candidates = append([]int(nil), peers...)
}

// IntraPlaneTarget is the next satellite in id's own plane.
func (a *Assigner) IntraPlaneTarget(id int) int {
	spp := a.cfg.SatsPerPlane()
	start := a.cfg.Plane(id) * spp
	return start + (a.cfg.Slot(id)+1)%spp
}

// InterPlaneTarget is the satellite ISLPlaneShift planes over and
// ISLPlaneStep slots along. Offsets that drift out of the target plane
// are pulled back by whole planes; targets past the last plane wrap to
// the first planes with the stagger correction applied to the slot.
func (a *Assigner) InterPlaneTarget(id int) int {
	spp := a.cfg.SatsPerPlane()
	total := a.cfg.Satellites
	targetPlane := a.cfg.Plane(id) + a.cfg.ISLPlaneShift

	t := id + a.cfg.ISLPlaneShift*spp + a.cfg.ISLPlaneStep
	for t >= (targetPlane+1)*spp {
		t -= spp
	}
	for t < targetPlane*spp {
		t += spp
	}

	for t >= total {
		t -= total
		planeStart := (t / spp) * spp
		t = planeStart + (t-planeStart+a.cfg.WrapSlots())%spp
	}
	return t
}

// propose records x and y as mutual pre-assigned peers.
func (a *Assigner) propose(x, y int) error {
	if x == y {
		return ErrSelfLink
	}
	sx, sy := &a.sats[x], &a.sats[y]
	if !sx.isCandidate(y) {
		return ErrNotCandidate
	}
	if sx.IsPreAssigned(y) {
		return ErrDuplicateLink
	}
	if sx.PreAssigned.Full() || sy.PreAssigned.Full() {
		return ErrLinkCapacity
	}
	if err := sx.PreAssigned.Add(y); err != nil {
		return err
	}
	if err := sy.PreAssigned.Add(x); err != nil {
		panic(fmt.Sprintf("isl: asymmetric pre-assignment %d-%d: %v", x, y, err))
	}
	return nil
}

// Assign links x and y in the authoritative set. Self, duplicate and
// over-capacity requests are rejected with an error.
func (a *Assigner) Assign(x, y int) error {
	if x == y {
		return ErrSelfLink
	}
	sx, sy := &a.sats[x], &a.sats[y]
	if sx.IsAssigned(y) {
		return ErrDuplicateLink
	}
	if sx.Assigned.Full() || sy.Assigned.Full() {
		return ErrLinkCapacity
	}
	if err := sx.Assigned.Add(y); err != nil {
		return err
	}
	if err := sy.Assigned.Add(x); err != nil {
		panic(fmt.Sprintf("isl: asymmetric assignment %d-%d: %v", x, y, err))
	}
	return nil
}

// PreAssign recomputes every satellite's proposals from the plane rules.
// Satellites whose pool lacks a rule's target simply leave that slot
// empty; those rejections are logged at debug level.
func (a *Assigner) PreAssign(ctx context.Context) {
	for i := range a.sats {
		a.sats[i].PreAssigned.Clear()
	}
	for id := range a.sats {
		for _, peer := range [2]int{a.IntraPlaneTarget(id), a.InterPlaneTarget(id)} {
			err := a.propose(id, peer)
			if errors.Is(err, ErrNotCandidate) || errors.Is(err, ErrLinkCapacity) {
				a.log.Debug(ctx, "isl proposal rejected",
					logging.Int("sat", id),
					logging.Int("peer", peer),
					logging.Err(err),
				)
			}
		}
	}
}

// Finalize snapshots last frame's links, confirms this frame's proposals
// and reports what changed.
func (a *Assigner) Finalize() Delta {
	for i := range a.sats {
		s := &a.sats[i]
		s.Previous = s.Assigned
		s.Assigned.Clear()
	}

	for id := range a.sats {
		for _, peer := range a.sats[id].PreAssigned.Peers() {
			if peer < id {
				continue
			}
			if err := a.Assign(id, peer); err != nil {
				if errors.Is(err, ErrLinkCapacity) {
					panic(fmt.Sprintf("isl: confirming %d-%d: %v", id, peer, err))
				}
			}
		}
	}

	var d Delta
	for id := range a.sats {
		s := &a.sats[id]
		for _, peer := range s.Assigned.Peers() {
			if peer < id {
				continue
			}
			if s.WasAssigned(peer) {
				d.Kept = append(d.Kept, pairOf(id, peer))
			} else {
				d.Formed = append(d.Formed, pairOf(id, peer))
			}
		}
		for _, peer := range s.Previous.Peers() {
			if peer > id && !s.IsAssigned(peer) {
				d.Dropped = append(d.Dropped, pairOf(id, peer))
			}
		}
	}
	return d
}

// Step runs both passes for one frame.
func (a *Assigner) Step(ctx context.Context) Delta {
	a.PreAssign(ctx)
	d := a.Finalize()
	if d.Changed() {
		a.log.Debug(ctx, "isl topology changed",
			logging.Int("kept", len(d.Kept)),
			logging.Int("formed", len(d.Formed)),
			logging.Int("dropped", len(d.Dropped)),
		)
	}
	return d
}

// ActiveLinks lists every assigned pair once.
func (a *Assigner) ActiveLinks() []Pair {
	var out []Pair
	for id := range a.sats {
		for _, peer := range a.sats[id].Assigned.Peers() {
			if peer > id {
				out = append(out, pairOf(id, peer))
			}
		}
	}
	return out
}
