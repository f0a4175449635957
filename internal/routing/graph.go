// Package routing holds the per-frame route graph: satellites, two
// virtual ground terminals and relay stations, connected by laser and
// radio links, plus the shortest-path machinery that runs over it.
//
// Node IDs follow a fixed convention that path decoding relies on:
// satellites are 0..N-1, the start terminal is N, the end terminal is
// N+1 and relay r is N+2+r.
package routing

import (
	"fmt"

	"github.com/signalsfoundry/constellation-router/core"
)

const (
	// Infinity marks an unreachable node or a disqualified link. It is a
	// large finite value so sums of distances stay ordered.
	Infinity = 1e12

	// SpeedOfLightKmPerMs converts path length into propagation delay.
	SpeedOfLightKmPerMs = 299.792

	// DefaultMaxLinksPerNode bounds each node's adjacency list.
	DefaultMaxLinksPerNode = 2000

	noParent = -1
)

// Link is an undirected edge between nodes A and B.
type Link struct {
	A, B int
	Dist float64

	// DistanceLimited marks radio links. Their distance is re-checked
	// against the maximum range on every positional refresh.
	DistanceLimited bool
}

// Other returns the endpoint of l that is not id.
func (l *Link) Other(id int) int {
	if l.A == id {
		return l.B
	}
	return l.A
}

// Node is a graph vertex. Links holds indices into the graph's link
// arena; Parent and ParentLink describe the best known way in from the
// start terminal.
type Node struct {
	ID    int
	Pos   core.Vec3
	Links []int

	Dist       float64
	Parent     int
	ParentLink int

	queueIndex int
}

// Options sizes a RouteGraph. Distances are simulation units.
type Options struct {
	MaxSatellites   int
	MaxRelays       int
	MaxLinksPerNode int

	// MaxDist is the radio range; links up to MaxDist+Margin are kept
	// with an infinite weight so the graph shape survives small motion.
	MaxDist float64
	Margin  float64
}

// RouteGraph owns every node and link for one constellation topology.
// It is not safe for concurrent use.
type RouteGraph struct {
	opts Options

	nodes []Node
	links []Link

	satellites int
	relays     int
	endNodes   bool

	heap *BinaryHeap
}

// NewRouteGraph allocates MaxSatellites+2+MaxRelays nodes up front.
func NewRouteGraph(opts Options) *RouteGraph {
	if opts.MaxLinksPerNode <= 0 {
		opts.MaxLinksPerNode = DefaultMaxLinksPerNode
	}
	capacity := opts.MaxSatellites + 2 + opts.MaxRelays
	return &RouteGraph{
		opts:  opts,
		nodes: make([]Node, 0, capacity),
		heap:  NewBinaryHeap(capacity),
	}
}

// Options returns the sizing the graph was built with.
func (g *RouteGraph) Options() Options { return g.opts }

// NodeCount returns the number of nodes created so far.
func (g *RouteGraph) NodeCount() int { return len(g.nodes) }

// LinkCount returns the number of links currently in the graph.
func (g *RouteGraph) LinkCount() int { return len(g.links) }

// Satellites returns the number of satellite nodes.
func (g *RouteGraph) Satellites() int { return g.satellites }

// Relays returns the number of relay nodes.
func (g *RouteGraph) Relays() int { return g.relays }

func (g *RouteGraph) newNode(pos core.Vec3) int {
	if len(g.nodes) == cap(g.nodes) {
		panic(fmt.Sprintf("routing: node arena full (%d nodes)", cap(g.nodes)))
	}
	id := len(g.nodes)
	g.nodes = append(g.nodes, Node{
		ID:         id,
		Pos:        pos,
		Links:      make([]int, 0, 8),
		Dist:       Infinity,
		Parent:     noParent,
		ParentLink: noParent,
		queueIndex: -1,
	})
	return id
}

// AddSatellite creates the next satellite node and returns its ID.
// Satellites must all be added before AddEndNodes.
func (g *RouteGraph) AddSatellite(pos core.Vec3) int {
	if g.endNodes {
		panic("routing: AddSatellite called after AddEndNodes")
	}
	if g.satellites >= g.opts.MaxSatellites {
		panic(fmt.Sprintf("routing: more than %d satellites", g.opts.MaxSatellites))
	}
	id := g.newNode(pos)
	g.satellites++
	return id
}

// AddEndNodes creates the start and end terminal nodes. Their IDs are
// derived from the satellite count, so it runs exactly once, after the
// last satellite.
func (g *RouteGraph) AddEndNodes(start, end core.Vec3) {
	if g.endNodes {
		panic("routing: AddEndNodes called twice")
	}
	g.newNode(start)
	g.newNode(end)
	g.endNodes = true
	g.nodes[g.StartID()].Dist = 0
}

// AddRelay creates relay node r and returns its node ID.
func (g *RouteGraph) AddRelay(pos core.Vec3) int {
	if !g.endNodes {
		panic("routing: AddRelay called before AddEndNodes")
	}
	if g.relays >= g.opts.MaxRelays {
		panic(fmt.Sprintf("routing: more than %d relays", g.opts.MaxRelays))
	}
	id := g.newNode(pos)
	g.relays++
	return id
}

func (g *RouteGraph) mustHaveEndNodes() {
	if !g.endNodes {
		panic("routing: terminal nodes requested before AddEndNodes")
	}
}

// StartID is the start terminal's node ID.
func (g *RouteGraph) StartID() int {
	g.mustHaveEndNodes()
	return g.satellites
}

// EndID is the end terminal's node ID.
func (g *RouteGraph) EndID() int {
	g.mustHaveEndNodes()
	return g.satellites + 1
}

// RelayID maps relay index r to its node ID.
func (g *RouteGraph) RelayID(r int) int {
	g.mustHaveEndNodes()
	return g.satellites + 2 + r
}

// IsSatellite reports whether id is a satellite node.
func (g *RouteGraph) IsSatellite(id int) bool { return id >= 0 && id < g.satellites }

// Node returns the node with the given ID.
func (g *RouteGraph) Node(id int) *Node { return &g.nodes[id] }

// Link returns the link with the given index.
func (g *RouteGraph) Link(idx int) *Link { return &g.links[idx] }

// SetPosition moves node id. Link distances are not touched until the
// next Reset rebuild or ResetPos.
func (g *RouteGraph) SetPosition(id int, pos core.Vec3) {
	g.nodes[id].Pos = pos
}

// Reset drops every link and clears search state. The caller then
// rebuilds all edges for the new frame.
func (g *RouteGraph) Reset() {
	for i := range g.nodes {
		g.nodes[i].Links = g.nodes[i].Links[:0]
	}
	g.links = g.links[:0]
	g.resetSearch()
}

// ResetPos keeps the existing edges and recomputes every link distance
// from the current node positions. Radio links beyond the maximum range
// become Infinity.
func (g *RouteGraph) ResetPos() {
	for i := range g.links {
		l := &g.links[i]
		d := g.nodes[l.A].Pos.DistanceTo(g.nodes[l.B].Pos)
		if l.DistanceLimited && d > g.opts.MaxDist {
			d = Infinity
		}
		l.Dist = d
	}
	g.resetSearch()
}

func (g *RouteGraph) resetSearch() {
	for i := range g.nodes {
		n := &g.nodes[i]
		n.Dist = Infinity
		n.Parent = noParent
		n.ParentLink = noParent
		n.queueIndex = -1
	}
	if g.endNodes {
		g.nodes[g.StartID()].Dist = 0
	}
}

// linked reports whether a and b already share a link.
func (g *RouteGraph) linked(a, b int) bool {
	for _, idx := range g.nodes[a].Links {
		if g.links[idx].Other(a) == b {
			return true
		}
	}
	return false
}

func (g *RouteGraph) addLink(a, b int, dist float64, limited bool) {
	na, nb := &g.nodes[a], &g.nodes[b]
	if len(na.Links) >= g.opts.MaxLinksPerNode || len(nb.Links) >= g.opts.MaxLinksPerNode {
		panic(fmt.Sprintf("routing: adjacency overflow linking %d-%d (limit %d)", a, b, g.opts.MaxLinksPerNode))
	}
	idx := len(g.links)
	g.links = append(g.links, Link{A: a, B: b, Dist: dist, DistanceLimited: limited})
	na.Links = append(na.Links, idx)
	nb.Links = append(nb.Links, idx)
}

// AddNeighbour links a and b with their Euclidean distance and no range
// limit. It returns false when the nodes are already linked.
func (g *RouteGraph) AddNeighbour(a, b int) bool {
	if a == b || g.linked(a, b) {
		return false
	}
	g.addLink(a, b, g.nodes[a].Pos.DistanceTo(g.nodes[b].Pos), false)
	return true
}

// AddNeighbourDist adds a range-limited radio link of length dist.
// Links within MaxDist get their real distance, links within the margin
// beyond it are kept at Infinity, anything further is not added. It
// returns true when a link was created.
func (g *RouteGraph) AddNeighbourDist(a, b int, dist float64) bool {
	if a == b || dist > g.opts.MaxDist+g.opts.Margin || g.linked(a, b) {
		return false
	}
	if dist > g.opts.MaxDist {
		dist = Infinity
	}
	g.addLink(a, b, dist, true)
	return true
}
