package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber/h3-go/v4"

	"github.com/signalsfoundry/constellation-router/core"
	"github.com/signalsfoundry/constellation-router/internal/observability"
	"github.com/signalsfoundry/constellation-router/internal/routing"
	"github.com/signalsfoundry/constellation-router/internal/sim"
	"github.com/signalsfoundry/constellation-router/internal/store"
	"github.com/signalsfoundry/constellation-router/model"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type staticSource []core.Vec3

func (s staticSource) Positions(time.Time) []core.Vec3 { return s }

func above(lat, lon float64) core.Vec3 {
	return core.GroundPosition(lat, lon).Scale((core.EarthRadiusKm + 550) / core.EarthRadiusKm)
}

var (
	west = model.GroundPoint{Name: "west", Lat: 0, Lon: 0}
	east = model.GroundPoint{Name: "east", Lat: 0, Lon: 20}
)

type fixture struct {
	svc   *sim.Service
	store *store.FrameStore
	srv   *httptest.Server
}

// newFixture serves three equatorial satellites at 0, 10 and 20 degrees
// east with terminals under the outer two.
func newFixture(t *testing.T, withHistory bool) *fixture {
	t.Helper()
	engine, err := sim.NewEngine(sim.Options{
		Constellation: model.ConstellationConfig{
			Satellites:      3,
			Planes:          1,
			MaxRadioRangeKm: 1000,
			RangeMarginKm:   100,
			RebuildMarginKm: 50,
			ScaleKmPerUnit:  1,
			GridCellDeg:     10,
		},
		Route: model.RouteRequest{Src: west, Dst: east, Paths: 1},
	})
	require.NoError(t, err)

	f := &fixture{}
	var sink sim.FrameSink
	var history History
	if withHistory {
		f.store, err = store.Open("frames", store.Options{InMemory: true}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = f.store.Close() })
		sink, history = f.store, f.store
	}
	f.svc = sim.NewService(engine, staticSource{above(0, 0), above(0, 10), above(0, 20)}, sink, nil)

	collector, err := observability.NewFrameCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	f.srv = httptest.NewServer(NewRouter(f.svc, history, collector, nil))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) advance(t *testing.T, frames int) {
	t.Helper()
	for i := 0; i < frames; i++ {
		_, err := f.svc.Advance(context.Background(), epoch.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestPostRoute(t *testing.T) {
	f := newFixture(t, false)
	f.advance(t, 1)

	var got RouteResponse
	code := f.post(t, "/api/routes", `{"src":{"name":"west","lat":0,"lon":0},"dst":{"name":"east","lat":0,"lon":20}}`, &got)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, got.Reachable)
	require.Len(t, got.Paths, 1)
	p := got.Paths[0]
	assert.Equal(t, []int{3, 0, 2, 4}, p.Nodes)
	assert.InDelta(t, 2*p.DistanceKm/routing.SpeedOfLightKmPerMs, p.RTTMs, 1e-9)
	assert.NotEmpty(t, p.Polyline)
	require.Len(t, p.Track, 4)
	assert.Equal(t, "west", p.Track[0].Name)
}

func TestPostRouteUnreachableIsOK(t *testing.T) {
	f := newFixture(t, false)
	f.advance(t, 1)

	var got RouteResponse
	code := f.post(t, "/api/routes", `{"src":{"lat":0,"lon":0},"dst":{"lat":0,"lon":180},"paths":2}`, &got)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, got.Reachable)
	require.Len(t, got.Paths, 2)
	for _, p := range got.Paths {
		assert.False(t, p.Reachable)
		assert.Equal(t, routing.Infinity, p.RTTMs)
		assert.Empty(t, p.Polyline)
	}
}

func TestPostRouteRejectsBadInput(t *testing.T) {
	f := newFixture(t, false)
	f.advance(t, 1)

	var errResp ErrResponse
	code := f.post(t, "/api/routes", `{"src":`, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid request.", errResp.StatusText)

	errResp = ErrResponse{}
	code = f.post(t, "/api/routes", `{"src":{"lat":95,"lon":0},"dst":{"lat":0,"lon":20},"paths":40}`, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Len(t, errResp.ErrValidation, 2)
}

func TestEndpointsBeforeFirstFrame(t *testing.T) {
	f := newFixture(t, true)

	code := f.post(t, "/api/routes", `{"src":{"lat":0,"lon":0},"dst":{"lat":0,"lon":20}}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/api/links", nil))
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/api/reachable", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/frames/latest", nil))

	var health map[string]any
	assert.Equal(t, http.StatusOK, f.get(t, "/healthz", &health))
	assert.Equal(t, "ok", health["status"])
	assert.NotContains(t, health, "frame")
}

func TestLinksAndReachable(t *testing.T) {
	f := newFixture(t, false)
	f.advance(t, 2)

	var links LinksResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/links", &links))
	assert.Equal(t, 1, links.Frame)
	assert.Equal(t, 3, links.Count)
	require.Len(t, links.Links, 3)
	assert.InDelta(t, 550, links.Links[0].A.AltitudeKm, 1e-6)

	var reach ReachableResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/reachable", &reach))
	assert.Equal(t, 3, reach.Count)
	assert.Equal(t, "sat-2", reach.Satellites[2].Name)
}

func TestFrameHistory(t *testing.T) {
	f := newFixture(t, true)
	f.advance(t, 3)

	var first model.FrameSummary
	require.Equal(t, http.StatusOK, f.get(t, "/api/frames/0", &first))
	assert.Equal(t, 0, first.Frame)
	assert.Equal(t, "full", first.Refresh)
	require.NotNil(t, first.Route)
	assert.Equal(t, "west", first.Route.Src.Name)

	var latest model.FrameSummary
	require.Equal(t, http.StatusOK, f.get(t, "/api/frames/latest", &latest))
	assert.Equal(t, 2, latest.Frame)
	assert.Equal(t, "positional", latest.Refresh)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/frames/42", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/frames/abc", nil))
}

func latestRoutePath(src, dst model.GroundPoint) string {
	q := url.Values{}
	q.Set("src_lat", strconv.FormatFloat(src.Lat, 'f', -1, 64))
	q.Set("src_lon", strconv.FormatFloat(src.Lon, 'f', -1, 64))
	q.Set("dst_lat", strconv.FormatFloat(dst.Lat, 'f', -1, 64))
	q.Set("dst_lon", strconv.FormatFloat(dst.Lon, 'f', -1, 64))
	return "/api/routes/latest?" + q.Encode()
}

func TestLatestRouteServedFromHistory(t *testing.T) {
	f := newFixture(t, true)
	f.advance(t, 3)

	var got RouteResponse
	require.Equal(t, http.StatusOK, f.get(t, latestRoutePath(west, east), &got))
	assert.Equal(t, 2, got.Frame)
	assert.True(t, got.Reachable)
	require.Len(t, got.Paths, 1)
	assert.Equal(t, []int{3, 0, 2, 4}, got.Paths[0].Nodes)
	assert.NotEmpty(t, got.Paths[0].Polyline)

	// A terminal at the centre of a neighbouring cell is answered from the
	// stored pair.
	home := h3.LatLngToCell(h3.NewLatLng(west.Lat, west.Lon), store.RouteCellResolution)
	var next h3.Cell
	for _, c := range h3.GridDisk(home, 1) {
		if c != home {
			next = c
			break
		}
	}
	require.NotZero(t, next)
	centre := h3.CellToLatLng(next)
	nearWest := model.GroundPoint{Lat: centre.Lat, Lon: centre.Lng}
	require.NotEqual(t, home, h3.LatLngToCell(h3.NewLatLng(nearWest.Lat, nearWest.Lon), store.RouteCellResolution))

	got = RouteResponse{}
	require.Equal(t, http.StatusOK, f.get(t, latestRoutePath(nearWest, east), &got))
	assert.Equal(t, 2, got.Frame)
	assert.Equal(t, "west", got.Src.Name)

	far := model.GroundPoint{Lat: 45, Lon: 90}
	assert.Equal(t, http.StatusNotFound, f.get(t, latestRoutePath(far, east), nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, latestRoutePath(east, west), nil))
}

func TestLatestRouteRejectsBadQuery(t *testing.T) {
	f := newFixture(t, true)
	f.advance(t, 1)

	var errResp ErrResponse
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/routes/latest?src_lat=0&src_lon=0&dst_lat=0", &errResp))
	assert.Contains(t, errResp.ErrorText, "dst_lon")

	errResp = ErrResponse{}
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/routes/latest?src_lat=north&src_lon=0&dst_lat=0&dst_lon=20", &errResp))
	assert.Contains(t, errResp.ErrorText, "src_lat")

	errResp = ErrResponse{}
	bad := model.GroundPoint{Lat: 95, Lon: 0}
	assert.Equal(t, http.StatusBadRequest, f.get(t, latestRoutePath(bad, east), &errResp))
	assert.Len(t, errResp.ErrValidation, 1)
}

func TestFrameHistoryDisabled(t *testing.T) {
	f := newFixture(t, false)
	f.advance(t, 1)

	var errResp ErrResponse
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/api/frames/latest", &errResp))
	assert.Equal(t, errHistoryDisabled.Error(), errResp.ErrorText)
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/api/frames/0", nil))
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, latestRoutePath(west, east), nil))
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	f := newFixture(t, false)
	f.advance(t, 1)
	f.get(t, "/api/links", nil)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `router_http_requests_total{code="200",method="GET",route="/api/links"} 1`)
}

func TestNewRouteResponsePolyline(t *testing.T) {
	res := model.RouteResult{
		Paths: []model.Path{{
			Reachable: true,
			Track:     []model.GroundPoint{{Lat: 38.5, Lon: -120.2}, {Lat: 40.7, Lon: -120.95}, {Lat: 43.252, Lon: -126.453}},
		}},
	}
	got := NewRouteResponse(res)
	assert.True(t, got.Reachable)
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", got.Paths[0].Polyline)
}
