// Package sim runs the per-frame routing pipeline: positions in, ground
// contacts, laser link assignment, topology refresh and multi-path
// queries out.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/constellation-router/core"
	"github.com/signalsfoundry/constellation-router/internal/isl"
	"github.com/signalsfoundry/constellation-router/internal/logging"
	"github.com/signalsfoundry/constellation-router/internal/observability"
	"github.com/signalsfoundry/constellation-router/internal/routing"
	"github.com/signalsfoundry/constellation-router/internal/spatial"
	"github.com/signalsfoundry/constellation-router/model"
)

var (
	// ErrPositionCount is returned when a frame does not carry exactly one
	// position per satellite.
	ErrPositionCount = errors.New("sim: position count does not match constellation")
	// ErrBadRequest is returned for route requests that cannot be served.
	ErrBadRequest = errors.New("sim: invalid route request")
	// ErrNoFrame is returned by Route before the first frame.
	ErrNoFrame = errors.New("sim: no frame processed yet")
)

// Options configures an Engine.
type Options struct {
	Constellation model.ConstellationConfig
	// Cities become ground relays, in order.
	Cities []model.GroundPoint
	// Route is the terminal pair queried every frame.
	Route model.RouteRequest

	Log     logging.Logger
	Metrics *observability.FrameCollector
	// Tracer defaults to the global router tracer.
	Tracer trace.Tracer
}

// FrameResult is everything one Step produced.
type FrameResult struct {
	Frame int
	Time  time.Time

	// Rebuild is true when the topology was rebuilt from scratch and
	// false when only link distances were refreshed.
	Rebuild bool

	Route model.RouteResult
	Delta isl.Delta

	// Reachable lists every node reachable from the start terminal
	// before any path was locked.
	Reachable []int

	Nodes    int
	Links    int
	Duration time.Duration
}

// Refresh names the refresh tier used for the frame.
func (r FrameResult) Refresh() string {
	if r.Rebuild {
		return observability.RefreshFull
	}
	return observability.RefreshPositional
}

// Summary flattens r into its persisted form. satellites bounds the ID
// range counted as reachable satellites.
func (r FrameResult) Summary(satellites int) model.FrameSummary {
	reachable := 0
	for _, id := range r.Reachable {
		if id < satellites {
			reachable++
		}
	}
	route := r.Route
	return model.FrameSummary{
		Frame:      r.Frame,
		Time:       r.Time,
		Refresh:    r.Refresh(),
		Nodes:      r.Nodes,
		Links:      r.Links,
		ActiveISLs: len(r.Delta.Kept) + len(r.Delta.Formed),
		Formed:     len(r.Delta.Formed),
		Dropped:    len(r.Delta.Dropped),
		Reachable:  reachable,
		Route:      &route,
		DurationMs: float64(r.Duration) / float64(time.Millisecond),
	}
}

// Engine owns one route graph, one ground grid and one link assigner. It
// is not safe for concurrent use; see Service.
type Engine struct {
	cfg    model.ConstellationConfig
	scale  float64
	graph  *routing.RouteGraph
	grid   *spatial.GroundGrid
	links  *isl.Assigner
	log    logging.Logger
	met    *observability.FrameCollector
	tracer trace.Tracer

	req   model.RouteRequest
	frame int
	now   time.Time

	positions []core.Vec3 // km
	builtAt   []core.Vec3 // km, at the last full rebuild
	contacts  [][]spatial.City

	built          bool
	terminalsDirty bool
	candidates     bool
	lastReachable  []int
}

// NewEngine validates the constellation and allocates the graph.
func NewEngine(opts Options) (*Engine, error) {
	cfg := opts.Constellation
	if cfg.Satellites <= 0 || cfg.Planes <= 0 || cfg.Satellites%cfg.Planes != 0 {
		return nil, fmt.Errorf("sim: %d satellites cannot be split into %d planes", cfg.Satellites, cfg.Planes)
	}
	if cfg.RebuildMarginKm > cfg.RangeMarginKm {
		return nil, fmt.Errorf("sim: rebuild margin %.1f km exceeds range margin %.1f km", cfg.RebuildMarginKm, cfg.RangeMarginKm)
	}
	if cfg.MaxRelays > 0 && len(opts.Cities) > cfg.MaxRelays {
		return nil, fmt.Errorf("sim: %d cities exceed max relays %d", len(opts.Cities), cfg.MaxRelays)
	}
	if err := checkRequest(opts.Route); err != nil {
		return nil, err
	}
	scale := cfg.ScaleKmPerUnit
	if scale <= 0 {
		scale = 1
	}
	cellDeg := cfg.GridCellDeg
	if cellDeg <= 0 {
		cellDeg = 10
	}
	log := opts.Log
	if log == nil {
		log = logging.Noop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = observability.Tracer()
	}

	graph := routing.NewRouteGraph(routing.Options{
		MaxSatellites:   cfg.Satellites,
		MaxRelays:       len(opts.Cities),
		MaxLinksPerNode: cfg.MaxLinksPerNode,
		MaxDist:         core.ToUnits(cfg.MaxRadioRangeKm, scale),
		Margin:          core.ToUnits(cfg.RangeMarginKm, scale),
	})
	grid := spatial.NewGroundGrid(cellDeg, scale, cfg.MaxRadioRangeKm, cfg.RangeMarginKm)

	for i := 0; i < cfg.Satellites; i++ {
		graph.AddSatellite(core.Vec3{})
	}
	graph.AddEndNodes(
		core.GroundPosition(opts.Route.Src.Lat, opts.Route.Src.Lon).Units(scale),
		core.GroundPosition(opts.Route.Dst.Lat, opts.Route.Dst.Lon).Units(scale),
	)
	for _, c := range opts.Cities {
		city := grid.AddCity(c.Name, c.Lat, c.Lon)
		graph.AddRelay(city.Pos.Units(scale))
	}
	grid.Freeze()

	return &Engine{
		cfg:            cfg,
		scale:          scale,
		graph:          graph,
		grid:           grid,
		links:          isl.NewAssigner(cfg, log),
		log:            log,
		met:            opts.Metrics,
		tracer:         tracer,
		req:            opts.Route,
		frame:          -1,
		terminalsDirty: true,
	}, nil
}

func checkRequest(req model.RouteRequest) error {
	if req.Paths < 1 {
		return fmt.Errorf("%w: paths must be at least 1, got %d", ErrBadRequest, req.Paths)
	}
	for _, p := range []model.GroundPoint{req.Src, req.Dst} {
		if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
			return fmt.Errorf("%w: %q at (%.4f, %.4f) is not a valid location", ErrBadRequest, p.Name, p.Lat, p.Lon)
		}
	}
	return nil
}

// Config returns the constellation the engine was built for.
func (e *Engine) Config() model.ConstellationConfig { return e.cfg }

// Request returns the active terminal pair.
func (e *Engine) Request() model.RouteRequest { return e.req }

// Frame returns the index of the last processed frame, or -1.
func (e *Engine) Frame() int { return e.frame }

// ActiveLinks lists the laser links of the last frame.
func (e *Engine) ActiveLinks() []isl.Pair { return e.links.ActiveLinks() }

// Reachable lists the nodes reachable from the start terminal in the last
// frame.
func (e *Engine) Reachable() []int { return e.lastReachable }

// Position returns the last known position of node id in kilometres.
func (e *Engine) Position(id int) core.Vec3 {
	return e.graph.Node(id).Pos.Scale(e.scale)
}

// NodeName labels node id for display.
func (e *Engine) NodeName(id int) string { return e.nodeName(id, e.req) }

func (e *Engine) nodeName(id int, req model.RouteRequest) string {
	switch {
	case e.graph.IsSatellite(id):
		return "sat-" + strconv.Itoa(id)
	case id == e.graph.StartID():
		return req.Src.Name
	case id == e.graph.EndID():
		return req.Dst.Name
	default:
		return e.grid.Cities()[id-e.graph.RelayID(0)].Name
	}
}

// SetTerminals changes the active terminal pair. The next frame is a full
// rebuild.
func (e *Engine) SetTerminals(req model.RouteRequest) error {
	if err := checkRequest(req); err != nil {
		return err
	}
	e.req = req
	e.placeTerminals(req)
	e.terminalsDirty = true
	return nil
}

func (e *Engine) placeTerminals(req model.RouteRequest) {
	e.graph.SetPosition(e.graph.StartID(), core.GroundPosition(req.Src.Lat, req.Src.Lon).Units(e.scale))
	e.graph.SetPosition(e.graph.EndID(), core.GroundPosition(req.Dst.Lat, req.Dst.Lon).Units(e.scale))
}

// Step processes one frame at simulation time t with satellite positions
// in kilometres.
func (e *Engine) Step(ctx context.Context, t time.Time, positions []core.Vec3) (FrameResult, error) {
	if len(positions) != e.cfg.Satellites {
		return FrameResult{}, fmt.Errorf("%w: got %d, want %d", ErrPositionCount, len(positions), e.cfg.Satellites)
	}
	start := time.Now()
	e.frame++
	e.now = t

	ctx, span := e.tracer.Start(ctx, observability.SpanFrame, trace.WithAttributes(
		attribute.Int("frame", e.frame),
		attribute.Int("satellites", e.cfg.Satellites),
	))
	defer span.End()

	e.acceptPositions(ctx, positions)
	e.findContacts(ctx)
	delta := e.assignLinks(ctx)
	rebuild, reason := e.refresh(ctx, delta)

	_, qspan := e.tracer.Start(ctx, observability.SpanMultiPath, trace.WithAttributes(attribute.Int("paths", e.req.Paths)))
	route, reachable := e.query(e.req)
	e.lastReachable = reachable
	qspan.End()

	res := FrameResult{
		Frame:     e.frame,
		Time:      t,
		Rebuild:   rebuild,
		Route:     route,
		Delta:     delta,
		Reachable: e.lastReachable,
		Nodes:     e.graph.NodeCount(),
		Links:     e.graph.LinkCount(),
		Duration:  time.Since(start),
	}
	span.SetAttributes(attribute.String("refresh", res.Refresh()), attribute.Int("links", res.Links))

	e.met.ObserveFrame(res.Refresh(), res.Duration)
	e.met.ObserveISLs(len(delta.Kept)+len(delta.Formed), len(delta.Formed), len(delta.Dropped))
	e.met.SetGraphSize(res.Nodes, res.Links)

	fields := []logging.Field{
		logging.Int("frame", e.frame),
		logging.String("refresh", res.Refresh()),
		logging.Int("links", res.Links),
		logging.Float64("duration_ms", float64(res.Duration)/float64(time.Millisecond)),
	}
	if rebuild {
		fields = append(fields, logging.String("reason", reason))
	}
	if best, ok := route.Best(); ok {
		fields = append(fields, logging.Float64("rtt_ms", best.RTTMs))
	} else {
		fields = append(fields, logging.Bool("reachable", false))
	}
	e.log.Debug(ctx, "frame processed", fields...)
	return res, nil
}

func (e *Engine) acceptPositions(ctx context.Context, positions []core.Vec3) {
	_, span := e.tracer.Start(ctx, observability.SpanPositions)
	defer span.End()

	if e.positions == nil {
		e.positions = make([]core.Vec3, len(positions))
	}
	copy(e.positions, positions)
	for id, p := range positions {
		e.graph.SetPosition(id, p.Units(e.scale))
	}
}

func (e *Engine) findContacts(ctx context.Context) {
	_, span := e.tracer.Start(ctx, observability.SpanContacts)
	defer span.End()

	if e.contacts == nil {
		e.contacts = make([][]spatial.City, len(e.positions))
	}
	total := 0
	for id := range e.positions {
		e.contacts[id] = e.grid.FindInRange(e.graph.Node(id).Pos)
		total += len(e.contacts[id])
	}
	span.SetAttributes(attribute.Int("candidates", total))
}

func (e *Engine) assignLinks(ctx context.Context) isl.Delta {
	ctx, span := e.tracer.Start(ctx, observability.SpanISL)
	defer span.End()

	if !e.candidates {
		e.links.BuildCandidates(e.positions, e.cfg.CandidatePool)
		e.candidates = true
	}
	d := e.links.Step(ctx)
	span.SetAttributes(
		attribute.Int("formed", len(d.Formed)),
		attribute.Int("dropped", len(d.Dropped)),
	)
	return d
}

// refresh picks the cheapest topology refresh that stays exact: a full
// rebuild whenever the edge set may have changed, otherwise a distance
// refresh of the existing edges.
func (e *Engine) refresh(ctx context.Context, delta isl.Delta) (bool, string) {
	_, span := e.tracer.Start(ctx, observability.SpanRefresh)
	defer span.End()

	reason := ""
	switch {
	case !e.built:
		reason = "first frame"
	case e.terminalsDirty:
		reason = "terminals changed"
	case delta.Changed():
		reason = "isl topology changed"
	default:
		if moved := e.maxDisplacementKm(); moved > e.cfg.RebuildMarginKm {
			reason = fmt.Sprintf("satellites moved %.1f km", moved)
		}
	}

	if reason == "" {
		e.graph.ResetPos()
		span.SetAttributes(attribute.Bool("rebuild", false))
		return false, ""
	}
	e.rebuild()
	span.SetAttributes(attribute.Bool("rebuild", true), attribute.String("reason", reason))
	return true, reason
}

func (e *Engine) maxDisplacementKm() float64 {
	var worst float64
	for i, p := range e.positions {
		if d := p.DistanceTo(e.builtAt[i]); d > worst {
			worst = d
		}
	}
	return worst
}

// rebuild drops every edge and re-adds laser links, relay contacts and
// terminal contacts from the current positions.
func (e *Engine) rebuild() {
	g := e.graph
	g.Reset()

	for _, p := range e.links.ActiveLinks() {
		g.AddNeighbour(p.A, p.B)
	}
	for sat, cities := range e.contacts {
		pos := g.Node(sat).Pos
		for _, c := range cities {
			relay := g.RelayID(c.ID)
			g.AddNeighbourDist(sat, relay, pos.DistanceTo(g.Node(relay).Pos))
		}
	}
	e.linkTerminals()

	if e.builtAt == nil {
		e.builtAt = make([]core.Vec3, len(e.positions))
	}
	copy(e.builtAt, e.positions)
	e.built = true
	e.terminalsDirty = false
}

// linkTerminals scans every satellite for radio contact with the two
// terminals.
func (e *Engine) linkTerminals() {
	g := e.graph
	for _, term := range []int{g.StartID(), g.EndID()} {
		tp := g.Node(term).Pos
		for sat := 0; sat < g.Satellites(); sat++ {
			g.AddNeighbourDist(sat, term, tp.DistanceTo(g.Node(sat).Pos))
		}
	}
}

// query runs the multi-path search for req against the current graph and
// also returns the nodes the first search reached. Paths are locked in the
// graph until the next refresh.
func (e *Engine) query(req model.RouteRequest) (model.RouteResult, []int) {
	g := e.graph
	res := model.RouteResult{
		Frame: e.frame,
		Time:  e.now,
		Src:   req.Src,
		Dst:   req.Dst,
	}
	locked := 0
	paths, reachable := g.ComputeMultiPathReachable(req.Paths)
	for _, p := range paths {
		e.met.ObserveRoute(p.Found())
		if !p.Found() {
			res.Paths = append(res.Paths, model.Path{
				DistanceKm: routing.Infinity,
				RTTMs:      routing.Infinity,
			})
			continue
		}
		locked += len(p.Links)
		res.Paths = append(res.Paths, e.describe(p, req))
	}
	e.met.SetLockedLinks(locked)
	return res, reachable
}

func (e *Engine) describe(p routing.Path, req model.RouteRequest) model.Path {
	g := e.graph
	out := model.Path{
		Reachable:  true,
		Nodes:      append([]int(nil), p.Nodes...),
		DistanceKm: core.ToKm(p.Dist, e.scale),
		RTTMs:      routing.RTTMs(p.Dist, e.scale),
	}
	for i := 0; i+1 < len(p.Nodes); i++ {
		a, b := p.Nodes[i], p.Nodes[i+1]
		out.Hops = append(out.Hops, model.Hop{
			From:       a,
			To:         b,
			Kind:       g.HopKind(a, b).String(),
			DistanceKm: core.ToKm(g.Node(a).Pos.DistanceTo(g.Node(b).Pos), e.scale),
		})
	}
	for _, id := range p.Nodes {
		lat, lon := core.SubPoint(g.Node(id).Pos)
		out.Track = append(out.Track, model.GroundPoint{Name: e.nodeName(id, req), Lat: lat, Lon: lon})
	}
	return out
}

// Route answers req against the positions of the last frame without
// changing the active terminal pair. The next frame is a full rebuild.
func (e *Engine) Route(ctx context.Context, req model.RouteRequest) (model.RouteResult, error) {
	if err := checkRequest(req); err != nil {
		return model.RouteResult{}, err
	}
	if !e.built {
		return model.RouteResult{}, ErrNoFrame
	}
	_, span := e.tracer.Start(ctx, observability.SpanRouteQuery, trace.WithAttributes(
		attribute.Int("frame", e.frame),
		attribute.Int("paths", req.Paths),
	))
	defer span.End()

	e.placeTerminals(req)
	e.rebuild()
	res, _ := e.query(req)

	e.placeTerminals(e.req)
	e.terminalsDirty = true
	return res, nil
}
