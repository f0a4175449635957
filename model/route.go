package model

import "time"

// Hop is one edge of a computed path.
type Hop struct {
	From       int     `json:"from"`
	To         int     `json:"to"`
	Kind       string  `json:"kind"` // "isl" or "radio"
	DistanceKm float64 `json:"distance_km"`
}

// Path is one route between the terminals of a request. Unreachable paths
// carry the unreachable sentinel in DistanceKm and RTTMs and no nodes.
type Path struct {
	Reachable  bool    `json:"reachable"`
	Nodes      []int   `json:"nodes,omitempty"`
	Hops       []Hop   `json:"hops,omitempty"`
	DistanceKm float64 `json:"distance_km"`
	RTTMs      float64 `json:"rtt_ms"`

	// Track is the ground sub-point of every node on the path, start to end.
	Track []GroundPoint `json:"track,omitempty"`
}

// RouteResult answers one RouteRequest at one frame.
type RouteResult struct {
	Frame int         `json:"frame"`
	Time  time.Time   `json:"time"`
	Src   GroundPoint `json:"src"`
	Dst   GroundPoint `json:"dst"`
	Paths []Path      `json:"paths"`
}

// Best returns the first path, which is the shortest one found.
func (r RouteResult) Best() (Path, bool) {
	if len(r.Paths) == 0 || !r.Paths[0].Reachable {
		return Path{}, false
	}
	return r.Paths[0], true
}

// FrameSummary is the persisted record of one processed frame.
type FrameSummary struct {
	Frame   int       `json:"frame"`
	Time    time.Time `json:"time"`
	Refresh string    `json:"refresh"` // "full" or "positional"

	Nodes int `json:"nodes"`
	Links int `json:"links"`

	ActiveISLs int `json:"active_isls"`
	Formed     int `json:"isl_formed"`
	Dropped    int `json:"isl_dropped"`

	// Reachable is the number of satellites reachable from the source
	// terminal.
	Reachable int `json:"reachable_satellites"`

	Route      *RouteResult `json:"route,omitempty"`
	DurationMs float64      `json:"duration_ms"`
}
