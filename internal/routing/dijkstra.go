package routing

// HopKind tells laser hops apart from radio hops. It is derived from the
// node ID ranges only.
type HopKind int

const (
	HopISL HopKind = iota
	HopRadio
)

func (k HopKind) String() string {
	if k == HopISL {
		return "isl"
	}
	return "radio"
}

// Path is one extracted route, ordered from the start terminal to the
// end terminal. Links[i] joins Nodes[i] and Nodes[i+1]. A failed
// extraction has Dist == Infinity and no nodes.
type Path struct {
	Nodes []int
	Links []int
	Dist  float64
}

// Found reports whether the path reaches the end terminal.
func (p Path) Found() bool { return p.Dist < Infinity }

// ComputeRoutes runs single-source Dijkstra from the start terminal and
// leaves final distances and parents on every node.
func (g *RouteGraph) ComputeRoutes() {
	g.resetSearch()
	g.heap.Clear()
	for i := range g.nodes {
		g.heap.Push(&g.nodes[i])
	}

	for g.heap.Len() > 0 {
		u := g.heap.PopMin()
		if u.Dist >= Infinity {
			// Everything left is unreachable.
			continue
		}
		for _, idx := range u.Links {
			l := &g.links[idx]
			n := &g.nodes[l.Other(u.ID)]
			if alt := u.Dist + l.Dist; alt < n.Dist {
				n.Parent = u.ID
				n.ParentLink = idx
				g.heap.DecreaseKey(n, alt)
			}
		}
	}
}

// ExtractPath walks parent pointers back from the end terminal. When the
// chain breaks before the start terminal the returned path has
// Dist == Infinity and ok is false.
func (g *RouteGraph) ExtractPath() (Path, bool) {
	start, end := g.StartID(), g.EndID()
	if g.nodes[end].Dist >= Infinity {
		return Path{Dist: Infinity}, false
	}

	var nodes, links []int
	cur := end
	for cur != start {
		n := &g.nodes[cur]
		if n.Parent == noParent {
			return Path{Dist: Infinity}, false
		}
		nodes = append(nodes, cur)
		links = append(links, n.ParentLink)
		cur = n.Parent
	}
	nodes = append(nodes, start)

	reverse(nodes)
	reverse(links)
	return Path{Nodes: nodes, Links: links, Dist: g.nodes[end].Dist}, true
}

// LockPath sets every link used by p to Infinity so that the next
// ComputeRoutes avoids it. Locks last until the next Reset or ResetPos.
func (g *RouteGraph) LockPath(p Path) {
	for _, idx := range p.Links {
		g.links[idx].Dist = Infinity
	}
}

// ComputeMultiPath finds up to k routes, locking the links of each
// route before searching for the next. It always returns k entries;
// once the end terminal is cut off the remaining entries are failures.
func (g *RouteGraph) ComputeMultiPath(k int) []Path {
	paths, _ := g.ComputeMultiPathReachable(k)
	return paths
}

// ComputeMultiPathReachable is ComputeMultiPath that also returns the
// nodes reachable from the start terminal before any link was locked,
// taken from the first search.
func (g *RouteGraph) ComputeMultiPathReachable(k int) ([]Path, []int) {
	paths := make([]Path, 0, k)
	var reachable []int
	if k < 1 {
		g.ComputeRoutes()
		return paths, g.Reachable()
	}
	for i := 0; i < k; i++ {
		g.ComputeRoutes()
		if i == 0 {
			reachable = g.Reachable()
		}
		p, ok := g.ExtractPath()
		if !ok {
			for ; i < k; i++ {
				paths = append(paths, Path{Dist: Infinity})
			}
			break
		}
		paths = append(paths, p)
		g.LockPath(p)
	}
	return paths, reachable
}

// Reachable returns the IDs of every node with a finite distance after
// the last ComputeRoutes.
func (g *RouteGraph) Reachable() []int {
	var ids []int
	for i := range g.nodes {
		if g.nodes[i].Dist < Infinity {
			ids = append(ids, i)
		}
	}
	return ids
}

// HopKind classifies the hop between two adjacent path nodes.
func (g *RouteGraph) HopKind(a, b int) HopKind {
	if g.IsSatellite(a) && g.IsSatellite(b) {
		return HopISL
	}
	return HopRadio
}

// RTTMs converts a path distance into a round-trip time in
// milliseconds. Unreachable distances map to Infinity.
func RTTMs(dist, scaleKmPerUnit float64) float64 {
	if dist >= Infinity {
		return Infinity
	}
	return 2 * dist * scaleKmPerUnit / SpeedOfLightKmPerMs
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
