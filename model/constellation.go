package model

import "math"

// MotionSource indicates how satellite positions are produced each frame.
type MotionSource string

const (
	// MotionSourceWalker uses an analytic circular Walker-delta shell.
	MotionSourceWalker MotionSource = "walker"
	// MotionSourceTLE propagates a TLE catalogue with SGP4.
	MotionSourceTLE MotionSource = "tle"
)

// ConstellationConfig describes one constellation shell and the routing
// limits applied to it. Distances are kilometres unless the field name
// says otherwise.
type ConstellationConfig struct {
	Satellites     int     `yaml:"satellites" json:"satellites" validate:"required,gt=0"`
	Planes         int     `yaml:"planes" json:"planes" validate:"required,gt=0,ltefield=Satellites"`
	InclinationDeg float64 `yaml:"inclination_deg" json:"inclination_deg" validate:"gte=0,lte=180"`
	AltitudeKm     float64 `yaml:"altitude_km" json:"altitude_km" validate:"gt=0"`

	// PhaseStagger is the phase offset between adjacent planes as a
	// fraction of one slot per plane (Walker F/P).
	PhaseStagger float64 `yaml:"phase_stagger" json:"phase_stagger" validate:"gte=0,lt=1"`

	ISLPlaneShift int `yaml:"isl_plane_shift" json:"isl_plane_shift" validate:"gte=0"`
	ISLPlaneStep  int `yaml:"isl_plane_step" json:"isl_plane_step"`
	CandidatePool int `yaml:"candidate_pool" json:"candidate_pool" validate:"gte=0"`

	MaxRadioRangeKm float64 `yaml:"max_radio_range_km" json:"max_radio_range_km" validate:"gt=0"`
	RangeMarginKm   float64 `yaml:"range_margin_km" json:"range_margin_km" validate:"gte=0"`
	RebuildMarginKm float64 `yaml:"rebuild_margin_km" json:"rebuild_margin_km" validate:"gte=0,ltefield=RangeMarginKm"`

	ScaleKmPerUnit  float64 `yaml:"scale_km_per_unit" json:"scale_km_per_unit" validate:"gt=0"`
	GridCellDeg     float64 `yaml:"grid_cell_deg" json:"grid_cell_deg" validate:"gt=0,lte=90"`
	MaxRelays       int     `yaml:"max_relays" json:"max_relays" validate:"gte=0"`
	MaxLinksPerNode int     `yaml:"max_links_per_node" json:"max_links_per_node" validate:"gte=0"`

	MotionSource MotionSource `yaml:"motion_source" json:"motion_source" validate:"omitempty,oneof=walker tle"`
	TLEFile      string       `yaml:"tle_file" json:"tle_file"`
}

// SatsPerPlane returns the number of satellites in each orbital plane.
func (c ConstellationConfig) SatsPerPlane() int {
	if c.Planes <= 0 {
		return 0
	}
	return c.Satellites / c.Planes
}

// Plane returns the orbital plane index of satellite id.
func (c ConstellationConfig) Plane(id int) int {
	return id / c.SatsPerPlane()
}

// Slot returns the position of satellite id within its plane.
func (c ConstellationConfig) Slot(id int) int {
	return id % c.SatsPerPlane()
}

// WrapSlots is the slot offset accumulated by the phase stagger after a
// full revolution through every plane. Inter-plane links that wrap past
// the last plane are corrected by this amount.
func (c ConstellationConfig) WrapSlots() int {
	return int(math.Round(c.PhaseStagger * float64(c.Planes)))
}
