package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/constellation-router/core"
	"github.com/signalsfoundry/constellation-router/internal/logging"
	"github.com/signalsfoundry/constellation-router/model"
)

// FrameSink persists processed frames. *store.FrameStore satisfies it.
type FrameSink interface {
	PutFrame(model.FrameSummary) error
	PutRoute(model.RouteResult) error
}

// NodeInfo places one graph node on the globe.
type NodeInfo struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	AltitudeKm float64 `json:"altitude_km"`
}

// LinkInfo is one active laser link.
type LinkInfo struct {
	A          NodeInfo `json:"a"`
	B          NodeInfo `json:"b"`
	DistanceKm float64  `json:"distance_km"`
}

// Service serialises access to an Engine so the frame loop and API
// handlers can share it.
type Service struct {
	mu     sync.Mutex
	engine *Engine
	source core.PositionSource
	sink   FrameSink
	log    logging.Logger

	last *FrameResult
}

// NewService wraps engine. sink may be nil.
func NewService(engine *Engine, source core.PositionSource, sink FrameSink, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{engine: engine, source: source, sink: sink, log: log}
}

// Advance propagates positions to t, processes the frame and persists it.
// A persistence failure is returned alongside the valid frame result.
func (s *Service) Advance(ctx context.Context, t time.Time) (FrameResult, error) {
	positions := s.source.Positions(t)

	s.mu.Lock()
	res, err := s.engine.Step(ctx, t, positions)
	if err != nil {
		s.mu.Unlock()
		return FrameResult{}, err
	}
	s.last = &res
	sats := s.engine.Config().Satellites
	s.mu.Unlock()

	if s.sink == nil {
		return res, nil
	}
	if err := s.sink.PutFrame(res.Summary(sats)); err != nil {
		return res, fmt.Errorf("persist frame %d: %w", res.Frame, err)
	}
	if err := s.sink.PutRoute(res.Route); err != nil {
		return res, fmt.Errorf("persist route for frame %d: %w", res.Frame, err)
	}
	return res, nil
}

// Listener adapts Advance to a frame clock callback. Errors are logged.
func (s *Service) Listener(ctx context.Context) func(frame int, t time.Time) {
	return func(frame int, t time.Time) {
		if _, err := s.Advance(ctx, t); err != nil {
			s.log.Warn(ctx, "frame failed", logging.Int("frame", frame), logging.Err(err))
		}
	}
}

// Route answers an ad-hoc request against the latest frame.
func (s *Service) Route(ctx context.Context, req model.RouteRequest) (model.RouteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Route(ctx, req)
}

// SetTerminals replaces the terminal pair queried every frame.
func (s *Service) SetTerminals(req model.RouteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.SetTerminals(req)
}

// Request returns the terminal pair queried every frame.
func (s *Service) Request() model.RouteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Request()
}

// Latest returns the most recent frame result.
func (s *Service) Latest() (FrameResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return FrameResult{}, false
	}
	return *s.last, true
}

// Links describes every active laser link of the latest frame.
func (s *Service) Links() []LinkInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	pairs := s.engine.ActiveLinks()
	out := make([]LinkInfo, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, LinkInfo{
			A:          s.nodeInfo(p.A),
			B:          s.nodeInfo(p.B),
			DistanceKm: s.engine.Position(p.A).DistanceTo(s.engine.Position(p.B)),
		})
	}
	return out
}

// Reachable describes every satellite reachable from the start terminal
// in the latest frame.
func (s *Service) Reachable() []NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []NodeInfo
	for _, id := range s.engine.Reachable() {
		if id < s.engine.Config().Satellites {
			out = append(out, s.nodeInfo(id))
		}
	}
	return out
}

func (s *Service) nodeInfo(id int) NodeInfo {
	pos := s.engine.Position(id)
	lat, lon := core.SubPoint(pos)
	alt := pos.Norm() - core.EarthRadiusKm
	if alt < 0 {
		alt = 0
	}
	return NodeInfo{ID: id, Name: s.engine.NodeName(id), Lat: lat, Lon: lon, AltitudeKm: alt}
}
