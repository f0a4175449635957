package core

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/constellation-router/model"
)

const (
	earthMuKm3PerS2    = 398600.4418
	earthRotationRadPS = 7.2921159e-5
)

// PositionSource produces ECEF satellite positions (kilometres) for a
// simulation time. The slice index is the satellite ID.
type PositionSource interface {
	Positions(simTime time.Time) []Vec3
}

// WalkerModel places satellites on circular orbits of a Walker-delta
// shell. Satellite i lives in plane i/spp at slot i%spp.
type WalkerModel struct {
	cfg   model.ConstellationConfig
	epoch time.Time
}

// NewWalkerModel returns a Walker shell anchored at epoch.
func NewWalkerModel(cfg model.ConstellationConfig, epoch time.Time) *WalkerModel {
	return &WalkerModel{cfg: cfg, epoch: epoch}
}

// Positions implements PositionSource.
func (m *WalkerModel) Positions(simTime time.Time) []Vec3 {
	spp := m.cfg.SatsPerPlane()
	out := make([]Vec3, m.cfg.Satellites)
	if spp == 0 {
		return out
	}

	r := EarthRadiusKm + m.cfg.AltitudeKm
	meanMotion := math.Sqrt(earthMuKm3PerS2 / (r * r * r))
	dt := simTime.Sub(m.epoch).Seconds()
	inc := m.cfg.InclinationDeg * math.Pi / 180
	slotAngle := 2 * math.Pi / float64(spp)

	for id := range out {
		plane := m.cfg.Plane(id)
		slot := m.cfg.Slot(id)

		// RAAN is expressed in the rotating Earth frame so ground points
		// can stay fixed.
		raan := 2*math.Pi*float64(plane)/float64(m.cfg.Planes) - earthRotationRadPS*dt
		u := (float64(slot)+float64(plane)*m.cfg.PhaseStagger)*slotAngle + meanMotion*dt

		cu, su := math.Cos(u), math.Sin(u)
		co, so := math.Cos(raan), math.Sin(raan)
		ci, si := math.Cos(inc), math.Sin(inc)
		out[id] = Vec3{
			X: r * (cu*co - su*ci*so),
			Y: r * (cu*so + su*ci*co),
			Z: r * (su * si),
		}
	}
	return out
}

// SGP4Model propagates a catalogue of TLEs with SGP4.
type SGP4Model struct {
	sats []satellite.Satellite
}

// NewSGP4Model builds a model from line pairs. Lines are validated
// before they reach go-satellite, which exits the process on malformed
// input.
func NewSGP4Model(tles [][2]string) (*SGP4Model, error) {
	m := &SGP4Model{sats: make([]satellite.Satellite, 0, len(tles))}
	for i, tle := range tles {
		if err := validateTLELines(tle[0], tle[1]); err != nil {
			return nil, fmt.Errorf("tle %d: %w", i, err)
		}
		sat := satellite.TLEToSat(tle[0], tle[1], satellite.GravityWGS72)
		if sat.Error != 0 {
			return nil, fmt.Errorf("tle %d: sgp4 init failed: code=%d %s", i, sat.Error, sat.ErrorStr)
		}
		m.sats = append(m.sats, sat)
	}
	return m, nil
}

// Len returns the number of satellites in the catalogue.
func (m *SGP4Model) Len() int { return len(m.sats) }

// Positions implements PositionSource. A satellite whose propagation
// fails keeps the zero vector; the routing layer then simply finds no
// usable links for it.
func (m *SGP4Model) Positions(simTime time.Time) []Vec3 {
	t := simTime.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)

	out := make([]Vec3, len(m.sats))
	for i, sat := range m.sats {
		posECI, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
		if math.IsNaN(posECI.X) || math.IsNaN(posECI.Y) || math.IsNaN(posECI.Z) {
			continue
		}
		ecef := satellite.ECIToECEF(posECI, gmst)
		out[i] = Vec3{X: ecef.X, Y: ecef.Y, Z: ecef.Z}
	}
	return out
}

// ParseTLEs reads two-line element sets, skipping optional name lines.
func ParseTLEs(r io.Reader) ([][2]string, error) {
	var (
		out   [][2]string
		line1 string
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r ")
		switch {
		case strings.HasPrefix(line, "1 "):
			line1 = line
		case strings.HasPrefix(line, "2 ") && line1 != "":
			out = append(out, [2]string{line1, line})
			line1 = ""
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read tle: %w", err)
	}
	return out, nil
}

func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}
