package observability

import "time"

// Refresh tiers used as the "refresh" label of router_frames_total.
const (
	RefreshFull       = "full"
	RefreshPositional = "positional"
)

// ObserveFrame counts one processed frame and its duration.
func (c *FrameCollector) ObserveFrame(refresh string, d time.Duration) {
	if c == nil {
		return
	}
	if c.Frames != nil {
		c.Frames.WithLabelValues(refresh).Inc()
	}
	if c.FrameDuration != nil {
		c.FrameDuration.Observe(d.Seconds())
	}
}

// ObserveRoute counts one path extraction.
func (c *FrameCollector) ObserveRoute(reachable bool) {
	if c == nil || c.RouteQueries == nil {
		return
	}
	outcome := "unreachable"
	if reachable {
		outcome = "reachable"
	}
	c.RouteQueries.WithLabelValues(outcome).Inc()
}

// SetLockedLinks updates the locked link gauge.
func (c *FrameCollector) SetLockedLinks(n int) {
	if c == nil || c.LockedLinks == nil {
		return
	}
	c.LockedLinks.Set(float64(n))
}

// ObserveISLs records the active link count and the links formed and
// dropped this frame.
func (c *FrameCollector) ObserveISLs(active, formed, dropped int) {
	if c == nil {
		return
	}
	if c.ActiveISLs != nil {
		c.ActiveISLs.Set(float64(active))
	}
	if c.ISLFormed != nil && formed > 0 {
		c.ISLFormed.Add(float64(formed))
	}
	if c.ISLDropped != nil && dropped > 0 {
		c.ISLDropped.Add(float64(dropped))
	}
}

// SetGraphSize updates the node and link gauges.
func (c *FrameCollector) SetGraphSize(nodes, links int) {
	if c == nil {
		return
	}
	if c.GraphNodes != nil {
		c.GraphNodes.Set(float64(nodes))
	}
	if c.GraphLinks != nil {
		c.GraphLinks.Set(float64(links))
	}
}
