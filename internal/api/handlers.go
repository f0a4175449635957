// Package api serves route queries and frame history over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/twpayne/go-polyline"

	"github.com/signalsfoundry/constellation-router/internal/config"
	"github.com/signalsfoundry/constellation-router/internal/logging"
	"github.com/signalsfoundry/constellation-router/internal/observability"
	"github.com/signalsfoundry/constellation-router/internal/sim"
	"github.com/signalsfoundry/constellation-router/model"
)

// Backend is the live frame loop. *sim.Service satisfies it.
//
// Route answers an ad hoc terminal pair by rebuilding the graph around it,
// which also forces the next frame into a full rebuild. Steady query load
// therefore keeps the loop off the positional refresh tier; clients that
// only need the configured pair should read GET /api/routes/latest.
type Backend interface {
	Route(ctx context.Context, req model.RouteRequest) (model.RouteResult, error)
	Links() []sim.LinkInfo
	Reachable() []sim.NodeInfo
	Latest() (sim.FrameResult, bool)
}

// History is the persisted frame log. *store.FrameStore satisfies it.
type History interface {
	GetFrame(frame int) (model.FrameSummary, error)
	LatestFrame() (model.FrameSummary, error)
	LatestRoute(src, dst model.GroundPoint) (model.RouteResult, error)
}

type handler struct {
	backend  Backend
	history  History
	validate *validator.Validate
	trans    ut.Translator
	log      logging.Logger
}

// NewRouter wires every endpoint. history and metrics may be nil.
func NewRouter(backend Backend, history History, metrics *observability.FrameCollector, log logging.Logger) *chi.Mux {
	if log == nil {
		log = logging.Noop()
	}
	validate, trans := config.NewValidator()
	h := &handler{backend: backend, history: history, validate: validate, trans: trans, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(requestLogger(log))

	r.Get("/healthz", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/routes", h.route)
		r.Get("/routes/latest", h.latestRoute)
		r.Get("/links", h.links)
		r.Get("/reachable", h.reachable)
		r.Get("/frames/latest", h.latestFrame)
		r.Get("/frames/{frame}", h.frame)
	})
	return r
}

func requestLogger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := log.With(logging.String("request_id", middleware.GetReqID(r.Context())))
			r = r.WithContext(logging.ContextWithLogger(r.Context(), reqLog))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			reqLog.Debug(r.Context(), "http request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", ww.Status()),
				logging.Float64("duration_ms", float64(time.Since(start))/float64(time.Millisecond)),
			)
		})
	}
}

func (h *handler) logger(r *http.Request) logging.Logger {
	if l := logging.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return h.log
}

// RouteRequest is the body of POST /api/routes. Paths defaults to 1.
type RouteRequest struct {
	model.RouteRequest
}

func (rr *RouteRequest) Bind(r *http.Request) error {
	if rr.Paths == 0 {
		rr.Paths = 1
	}
	return nil
}

// PathResponse is one route. Polyline encodes the track's ground
// sub-points with Google's polyline algorithm.
type PathResponse struct {
	Reachable  bool                `json:"reachable"`
	Nodes      []int               `json:"nodes,omitempty"`
	Hops       []model.Hop         `json:"hops,omitempty"`
	DistanceKm float64             `json:"distance_km"`
	RTTMs      float64             `json:"rtt_ms"`
	Track      []model.GroundPoint `json:"track,omitempty"`
	Polyline   string              `json:"polyline,omitempty"`
}

type RouteResponse struct {
	Frame     int               `json:"frame"`
	Time      time.Time         `json:"time"`
	Src       model.GroundPoint `json:"src"`
	Dst       model.GroundPoint `json:"dst"`
	Reachable bool              `json:"reachable"`
	Paths     []PathResponse    `json:"paths"`
}

func NewRouteResponse(res model.RouteResult) *RouteResponse {
	out := &RouteResponse{
		Frame: res.Frame,
		Time:  res.Time,
		Src:   res.Src,
		Dst:   res.Dst,
		Paths: make([]PathResponse, 0, len(res.Paths)),
	}
	_, out.Reachable = res.Best()
	for _, p := range res.Paths {
		pr := PathResponse{
			Reachable:  p.Reachable,
			Nodes:      p.Nodes,
			Hops:       p.Hops,
			DistanceKm: p.DistanceKm,
			RTTMs:      p.RTTMs,
			Track:      p.Track,
		}
		if len(p.Track) > 0 {
			coords := make([][]float64, 0, len(p.Track))
			for _, g := range p.Track {
				coords = append(coords, []float64{g.Lat, g.Lon})
			}
			pr.Polyline = string(polyline.EncodeCoords(coords))
		}
		out.Paths = append(out.Paths, pr)
	}
	return out
}

func (h *handler) route(w http.ResponseWriter, r *http.Request) {
	data := &RouteRequest{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	if err := h.validate.Struct(data.RouteRequest); err != nil {
		render.Render(w, r, ErrValidation(err, translateError(err, h.trans)))
		return
	}

	res, err := h.backend.Route(r.Context(), data.RouteRequest)
	if err != nil {
		h.logger(r).Warn(r.Context(), "route query failed", logging.Err(err))
		render.Render(w, r, ErrFrom(err))
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, NewRouteResponse(res))
}

// LatestRouteQuery holds the query parameters of GET /api/routes/latest.
type LatestRouteQuery struct {
	SrcLat float64 `validate:"gte=-90,lte=90"`
	SrcLon float64 `validate:"gte=-180,lte=180"`
	DstLat float64 `validate:"gte=-90,lte=90"`
	DstLon float64 `validate:"gte=-180,lte=180"`
}

func parseLatestRouteQuery(r *http.Request) (LatestRouteQuery, error) {
	var q LatestRouteQuery
	params := []struct {
		name string
		dst  *float64
	}{
		{"src_lat", &q.SrcLat},
		{"src_lon", &q.SrcLon},
		{"dst_lat", &q.DstLat},
		{"dst_lon", &q.DstLon},
	}
	for _, p := range params {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			return q, fmt.Errorf("missing query parameter %s", p.name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, fmt.Errorf("query parameter %s: %q is not a number", p.name, raw)
		}
		*p.dst = v
	}
	return q, nil
}

// latestRoute serves the last persisted route between the H3 cells of the
// given terminals, falling back to neighbouring cells.
func (h *handler) latestRoute(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		render.Render(w, r, ErrFrom(errHistoryDisabled))
		return
	}
	q, err := parseLatestRouteQuery(r)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	if err := h.validate.Struct(q); err != nil {
		render.Render(w, r, ErrValidation(err, translateError(err, h.trans)))
		return
	}

	res, err := h.history.LatestRoute(
		model.GroundPoint{Lat: q.SrcLat, Lon: q.SrcLon},
		model.GroundPoint{Lat: q.DstLat, Lon: q.DstLon},
	)
	if err != nil {
		render.Render(w, r, ErrFrom(err))
		return
	}
	render.JSON(w, r, NewRouteResponse(res))
}

type LinksResponse struct {
	Frame int            `json:"frame"`
	Count int            `json:"count"`
	Links []sim.LinkInfo `json:"links"`
}

func (h *handler) links(w http.ResponseWriter, r *http.Request) {
	latest, ok := h.backend.Latest()
	if !ok {
		render.Render(w, r, ErrFrom(sim.ErrNoFrame))
		return
	}
	links := h.backend.Links()
	render.JSON(w, r, &LinksResponse{Frame: latest.Frame, Count: len(links), Links: links})
}

type ReachableResponse struct {
	Frame      int            `json:"frame"`
	Count      int            `json:"count"`
	Satellites []sim.NodeInfo `json:"satellites"`
}

func (h *handler) reachable(w http.ResponseWriter, r *http.Request) {
	latest, ok := h.backend.Latest()
	if !ok {
		render.Render(w, r, ErrFrom(sim.ErrNoFrame))
		return
	}
	sats := h.backend.Reachable()
	render.JSON(w, r, &ReachableResponse{Frame: latest.Frame, Count: len(sats), Satellites: sats})
}

func (h *handler) frame(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		render.Render(w, r, ErrFrom(errHistoryDisabled))
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "frame"))
	if err != nil || n < 0 {
		render.Render(w, r, ErrInvalidRequest(fmt.Errorf("frame must be a non-negative integer, got %q", chi.URLParam(r, "frame"))))
		return
	}
	f, err := h.history.GetFrame(n)
	if err != nil {
		render.Render(w, r, ErrFrom(err))
		return
	}
	render.JSON(w, r, f)
}

func (h *handler) latestFrame(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		render.Render(w, r, ErrFrom(errHistoryDisabled))
		return
	}
	f, err := h.history.LatestFrame()
	if err != nil {
		render.Render(w, r, ErrFrom(err))
		return
	}
	render.JSON(w, r, f)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if latest, ok := h.backend.Latest(); ok {
		body["frame"] = latest.Frame
		body["refresh"] = latest.Refresh()
	}
	render.JSON(w, r, body)
}
