// Command simulator runs a fixed number of frames as fast as possible and
// prints a routing summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"

	"github.com/signalsfoundry/constellation-router/internal/config"
	"github.com/signalsfoundry/constellation-router/internal/logging"
	"github.com/signalsfoundry/constellation-router/internal/sim"
	"github.com/signalsfoundry/constellation-router/internal/store"
	"github.com/signalsfoundry/constellation-router/timectrl"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (defaults are used when empty)")
	frames := flag.Int("frames", 60, "number of frames to simulate")
	storePath := flag.String("store", "", "pebble directory for frame history (overrides store.path)")
	realtime := flag.Bool("realtime", false, "pace frames on the wall clock instead of running accelerated")
	quiet := flag.Bool("quiet", false, "disable the progress bar")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	mode := timectrl.Accelerated
	if *realtime {
		mode = timectrl.RealTime
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, log = logging.WithRunLogger(ctx, log)

	var progress io.Writer = ansi.NewAnsiStdout()
	if *quiet {
		progress = nil
	}
	sum, err := run(ctx, cfg, runOptions{Frames: *frames, Mode: mode, Progress: progress}, log)
	if err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
	sum.Print(os.Stdout)
}

type runOptions struct {
	Frames int
	Mode   timectrl.Mode
	// Progress receives a progress bar; nil disables it.
	Progress io.Writer
}

// summary aggregates a run.
type summary struct {
	Frames     int
	Full       int
	Positional int
	Reachable  int
	Failed     int

	MinRTTMs  float64
	MaxRTTMs  float64
	sumRTTMs  float64
	Elapsed   time.Duration
	FrameTime time.Duration
}

func (s *summary) add(res sim.FrameResult) {
	s.Frames++
	s.FrameTime += res.Duration
	if res.Rebuild {
		s.Full++
	} else {
		s.Positional++
	}
	best, ok := res.Route.Best()
	if !ok {
		return
	}
	if s.Reachable == 0 || best.RTTMs < s.MinRTTMs {
		s.MinRTTMs = best.RTTMs
	}
	s.MaxRTTMs = math.Max(s.MaxRTTMs, best.RTTMs)
	s.sumRTTMs += best.RTTMs
	s.Reachable++
}

// MeanRTTMs averages the best path RTT over reachable frames.
func (s summary) MeanRTTMs() float64 {
	if s.Reachable == 0 {
		return 0
	}
	return s.sumRTTMs / float64(s.Reachable)
}

func (s summary) Print(w io.Writer) {
	fmt.Fprintf(w, "frames:      %d (%d full, %d positional, %d failed)\n", s.Frames, s.Full, s.Positional, s.Failed)
	fmt.Fprintf(w, "reachable:   %d/%d frames\n", s.Reachable, s.Frames)
	if s.Reachable > 0 {
		fmt.Fprintf(w, "rtt ms:      min %.2f  mean %.2f  max %.2f\n", s.MinRTTMs, s.MeanRTTMs(), s.MaxRTTMs)
	}
	if s.Frames > 0 {
		fmt.Fprintf(w, "frame time:  %s mean\n", (s.FrameTime / time.Duration(s.Frames)).Round(time.Microsecond))
	}
	fmt.Fprintf(w, "elapsed:     %s\n", s.Elapsed.Round(time.Millisecond))
}

func run(ctx context.Context, cfg *config.Config, opts runOptions, log logging.Logger) (summary, error) {
	var sum summary
	if opts.Frames <= 0 {
		return sum, fmt.Errorf("frames must be positive, got %d", opts.Frames)
	}
	start, err := cfg.Clock.StartTime(time.Now())
	if err != nil {
		return sum, err
	}
	source, err := sim.NewPositionSource(cfg.Constellation, start)
	if err != nil {
		return sum, err
	}
	engine, err := sim.NewEngine(sim.Options{
		Constellation: cfg.Constellation,
		Cities:        cfg.Cities,
		Route:         cfg.Route,
		Log:           log,
	})
	if err != nil {
		return sum, err
	}

	var sink sim.FrameSink
	if cfg.Store.Path != "" {
		fs, err := store.Open(cfg.Store.Path, store.Options{}, log)
		if err != nil {
			return sum, err
		}
		defer fs.Close()
		sink = fs
	}
	svc := sim.NewService(engine, source, sink, log)

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(opts.Frames,
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s -> %s[reset]", cfg.Route.Src.Name, cfg.Route.Dst.Name)),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}))
	}

	log.Info(ctx, "simulation starting",
		logging.Int("satellites", cfg.Constellation.Satellites),
		logging.Int("frames", opts.Frames),
		logging.String("mode", opts.Mode.String()),
		logging.String("src", cfg.Route.Src.Name),
		logging.String("dst", cfg.Route.Dst.Name),
	)

	clock := timectrl.NewFrameClock(start, cfg.Clock.Step(), opts.Mode)
	clock.AddListener(func(frame int, t time.Time) {
		res, err := svc.Advance(ctx, t)
		if err != nil {
			log.Warn(ctx, "frame failed", logging.Int("frame", frame), logging.Err(err))
			if res.Time.IsZero() {
				sum.Failed++
			}
		}
		if !res.Time.IsZero() {
			sum.add(res)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	})

	began := time.Now()
	<-clock.Start(ctx, opts.Frames)
	sum.Elapsed = time.Since(began)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(opts.Progress)
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}
