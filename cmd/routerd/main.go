// Command routerd runs the frame loop continuously and serves route
// queries over HTTP, with a gRPC health endpoint for orchestrators.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/constellation-router/internal/api"
	"github.com/signalsfoundry/constellation-router/internal/config"
	"github.com/signalsfoundry/constellation-router/internal/logging"
	"github.com/signalsfoundry/constellation-router/internal/observability"
	"github.com/signalsfoundry/constellation-router/internal/sim"
	"github.com/signalsfoundry/constellation-router/internal/store"
	"github.com/signalsfoundry/constellation-router/timectrl"
)

func main() {
	configPath := flag.String("config", "configs/router.yaml", "YAML configuration file, watched for changes")
	flag.Parse()

	boot := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader, err := config.NewLoader(*configPath, boot)
	if err != nil {
		boot.Error(ctx, "failed to load config", logging.Err(err))
		os.Exit(1)
	}
	cfg := loader.Config()
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, AddSource: true})
	ctx, log = logging.WithRunLogger(ctx, log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log,
		attribute.Int("constellation.satellites", cfg.Constellation.Satellites),
		attribute.Int("constellation.planes", cfg.Constellation.Planes),
		attribute.Float64("constellation.altitude_km", cfg.Constellation.AltitudeKm),
	)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	d, err := newDaemon(cfg, nil, log)
	if err != nil {
		log.Error(ctx, "failed to start router", logging.Err(err))
		os.Exit(1)
	}
	defer d.Close()

	loader.OnChange(d.applyConfig)
	stopWatch, err := loader.Watch(ctx)
	if err != nil {
		log.Warn(ctx, "config hot reload disabled", logging.Err(err))
	} else {
		defer stopWatch()
	}

	httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.Server.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}
	var grpcLis net.Listener
	if cfg.Server.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
			os.Exit(1)
		}
	}

	if err := d.Serve(ctx, httpLis, grpcLis); err != nil {
		log.Error(ctx, "router exited", logging.Err(err))
		os.Exit(1)
	}
}

// daemon owns the frame loop and its servers.
type daemon struct {
	cfg       *config.Config
	log       logging.Logger
	collector *observability.FrameCollector
	history   *store.FrameStore
	svc       *sim.Service
	clock     *timectrl.FrameClock

	httpSrv *http.Server
	grpcSrv *grpc.Server
	health  *health.Server
}

// newDaemon builds every component. reg nil means the default Prometheus
// registerer.
func newDaemon(cfg *config.Config, reg prometheus.Registerer, log logging.Logger) (*daemon, error) {
	collector, err := observability.NewFrameCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	start, err := cfg.Clock.StartTime(time.Now())
	if err != nil {
		return nil, err
	}
	mode, err := timectrl.ParseMode(cfg.Clock.Mode)
	if err != nil {
		return nil, err
	}
	source, err := sim.NewPositionSource(cfg.Constellation, start)
	if err != nil {
		return nil, err
	}
	engine, err := sim.NewEngine(sim.Options{
		Constellation: cfg.Constellation,
		Cities:        cfg.Cities,
		Route:         cfg.Route,
		Log:           log,
		Metrics:       collector,
	})
	if err != nil {
		return nil, err
	}

	d := &daemon{cfg: cfg, log: log, collector: collector}
	var sink sim.FrameSink
	var history api.History
	if cfg.Store.Path != "" {
		d.history, err = store.Open(cfg.Store.Path, store.Options{}, log)
		if err != nil {
			return nil, err
		}
		sink, history = d.history, d.history
	}
	d.svc = sim.NewService(engine, source, sink, log)

	d.clock = timectrl.NewFrameClock(start, cfg.Clock.Step(), mode)
	d.httpSrv = &http.Server{
		Handler:           api.NewRouter(d.svc, history, collector, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.grpcSrv = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(api.RequestIDUnaryServerInterceptor(log)),
	)
	d.health = health.NewServer()
	d.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(d.grpcSrv, d.health)
	return d, nil
}

// applyConfig takes a reloaded config. Only the terminal pair is applied
// live; constellation and relay changes need a restart.
func (d *daemon) applyConfig(cfg *config.Config) {
	ctx := context.Background()
	if cfg.Constellation != d.cfg.Constellation || !slices.Equal(cfg.Cities, d.cfg.Cities) {
		d.log.Warn(ctx, "constellation or relay changes are ignored until restart")
	}
	if cfg.Route == d.svc.Request() {
		return
	}
	if err := d.svc.SetTerminals(cfg.Route); err != nil {
		d.log.Warn(ctx, "rejected terminal change", logging.Err(err))
		return
	}
	d.log.Info(ctx, "terminals changed",
		logging.String("src", cfg.Route.Src.Name),
		logging.String("dst", cfg.Route.Dst.Name),
		logging.Int("paths", cfg.Route.Paths),
	)
}

// Serve runs the frame clock and both servers until ctx is done, then
// shuts everything down. grpcLis may be nil.
func (d *daemon) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	errs := make(chan error, 2)

	go func() {
		if err := d.httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()
	d.log.Info(ctx, "serving HTTP", logging.String("addr", httpLis.Addr().String()))

	if grpcLis != nil {
		go func() {
			if err := d.grpcSrv.Serve(grpcLis); err != nil {
				errs <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		d.log.Info(ctx, "serving gRPC health", logging.String("addr", grpcLis.Addr().String()))
	}

	frameCtx, cancelFrames := context.WithCancel(ctx)
	defer cancelFrames()
	advance := d.svc.Listener(frameCtx)
	d.clock.AddListener(func(frame int, t time.Time) {
		advance(frame, t)
		if frame == 0 {
			d.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		}
	})
	clockDone := d.clock.Start(frameCtx, 0)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}

	d.log.Info(ctx, "shutting down router")
	d.health.Shutdown()
	cancelFrames()
	<-clockDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.httpSrv.Shutdown(shutdownCtx); err != nil {
		d.log.Warn(ctx, "http shutdown failed", logging.Err(err))
	}
	d.grpcSrv.GracefulStop()
	return runErr
}

// Close releases the frame store.
func (d *daemon) Close() {
	if d.history != nil {
		_ = d.history.Close()
	}
}
