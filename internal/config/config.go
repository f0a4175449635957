// Package config loads the router's YAML configuration, applies defaults
// and environment overrides, and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/constellation-router/internal/observability"
	"github.com/signalsfoundry/constellation-router/model"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the top-level YAML structure.
type Config struct {
	Constellation model.ConstellationConfig   `yaml:"constellation"`
	Cities        []model.GroundPoint         `yaml:"cities" validate:"dive"`
	Route         model.RouteRequest          `yaml:"route"`
	Clock         ClockConf                   `yaml:"clock"`
	Server        ServerConf                  `yaml:"server"`
	Store         StoreConf                   `yaml:"store"`
	Log           LogConf                     `yaml:"log"`
	Tracing       observability.TracingConfig `yaml:"tracing"`
}

// ClockConf controls frame pacing.
type ClockConf struct {
	Start       string  `yaml:"start"` // RFC3339, empty means now
	StepSeconds float64 `yaml:"step_seconds" validate:"gt=0"`
	Mode        string  `yaml:"mode" validate:"omitempty,oneof=realtime accelerated"`
}

// StartTime parses Start, falling back to now.
func (c ClockConf) StartTime(now time.Time) (time.Time, error) {
	if c.Start == "" {
		return now.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("clock start %q: %w", c.Start, err)
	}
	return t, nil
}

// Step returns StepSeconds as a duration.
func (c ClockConf) Step() time.Duration {
	return time.Duration(c.StepSeconds * float64(time.Second))
}

// ServerConf holds listener addresses.
type ServerConf struct {
	HTTPAddr string `yaml:"http_addr" validate:"required"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// StoreConf locates the frame history database. An empty Path disables
// persistence.
type StoreConf struct {
	Path string `yaml:"path"`
}

// LogConf mirrors logging.Config.
type LogConf struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// Default returns a small Walker shell with terminals in London and New York.
func Default() *Config {
	return &Config{
		Constellation: model.ConstellationConfig{
			Satellites:      1584,
			Planes:          72,
			InclinationDeg:  53,
			AltitudeKm:      550,
			PhaseStagger:    39.0 / 72.0,
			ISLPlaneShift:   1,
			ISLPlaneStep:    0,
			CandidatePool:   24,
			MaxRadioRangeKm: 1089,
			RangeMarginKm:   100,
			RebuildMarginKm: 50,
			ScaleKmPerUnit:  1,
			GridCellDeg:     10,
			MaxRelays:       0,
			MaxLinksPerNode: 0,
			MotionSource:    model.MotionSourceWalker,
		},
		Route: model.RouteRequest{
			Src:   model.GroundPoint{Name: "London", Lat: 51.5072, Lon: -0.1276},
			Dst:   model.GroundPoint{Name: "New York", Lat: 40.7128, Lon: -74.0060},
			Paths: 1,
		},
		Clock:   ClockConf{StepSeconds: 1, Mode: "realtime"},
		Server:  ServerConf{HTTPAddr: ":8080", GRPCAddr: ":50051"},
		Log:     LogConf{Level: "info", Format: "text"},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv lets deployment override addresses and logging without
// editing the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ROUTER_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("ROUTER_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := os.Getenv("ROUTER_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	cfg.Tracing = cfg.Tracing.WithEnv()
}

// Validate runs the struct tag rules plus the cross-field rules the tags
// cannot express. Every failure wraps ErrInvalid.
func Validate(cfg *Config) error {
	validate, trans := NewValidator()
	var msgs []string
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, e := range verrs {
			msgs = append(msgs, e.Translate(trans))
		}
	}

	c := cfg.Constellation
	if c.Planes > 0 && c.Satellites%c.Planes != 0 {
		msgs = append(msgs, fmt.Sprintf("satellites (%d) must be a multiple of planes (%d)", c.Satellites, c.Planes))
	}
	if c.MotionSource == model.MotionSourceTLE && c.TLEFile == "" {
		msgs = append(msgs, "tle_file is required when motion_source is tle")
	}

	if len(msgs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	return nil
}

// NewValidator returns a validator with English translations registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")
	_ = enTranslations.RegisterDefaultTranslations(validate, trans)
	return validate, trans
}
