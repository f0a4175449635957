package sim

import (
	"fmt"
	"os"
	"time"

	"github.com/signalsfoundry/constellation-router/core"
	"github.com/signalsfoundry/constellation-router/model"
)

// NewPositionSource picks the position producer named by cfg.MotionSource.
// A TLE catalogue must hold exactly cfg.Satellites element sets.
func NewPositionSource(cfg model.ConstellationConfig, epoch time.Time) (core.PositionSource, error) {
	switch cfg.MotionSource {
	case "", model.MotionSourceWalker:
		return core.NewWalkerModel(cfg, epoch), nil
	case model.MotionSourceTLE:
		f, err := os.Open(cfg.TLEFile)
		if err != nil {
			return nil, fmt.Errorf("open tle catalogue: %w", err)
		}
		defer f.Close()
		tles, err := core.ParseTLEs(f)
		if err != nil {
			return nil, err
		}
		if len(tles) != cfg.Satellites {
			return nil, fmt.Errorf("%w: catalogue %s holds %d satellites, want %d",
				ErrPositionCount, cfg.TLEFile, len(tles), cfg.Satellites)
		}
		return core.NewSGP4Model(tles)
	default:
		return nil, fmt.Errorf("sim: unknown motion source %q", cfg.MotionSource)
	}
}
