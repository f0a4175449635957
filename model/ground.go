package model

// GroundPoint is a named location on the Earth's surface.
type GroundPoint struct {
	Name string  `yaml:"name" json:"name"`
	Lat  float64 `yaml:"lat" json:"lat" validate:"gte=-90,lte=90"`
	Lon  float64 `yaml:"lon" json:"lon" validate:"gte=-180,lte=180"`
}

// RouteRequest asks for up to Paths routes between two ground terminals.
type RouteRequest struct {
	Src   GroundPoint `yaml:"src" json:"src"`
	Dst   GroundPoint `yaml:"dst" json:"dst"`
	Paths int         `yaml:"paths" json:"paths" validate:"gte=1,lte=16"`
}
