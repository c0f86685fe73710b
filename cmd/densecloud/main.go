// Command densecloud runs the point accumulation engine against the
// synthetic room scene and serves the result.
//
// Usage:
//
//	go run ./cmd/densecloud [flags]
//
// Flags:
//
//	-config     Cloud tuning file (.json, .yaml); built-in defaults when empty
//	-grpc-addr  PointStream gRPC listen address (default: localhost:50051; empty disables)
//	-http-addr  Debug HTTP listen address (default: localhost:8080; empty disables)
//	-log-file   Rotated ops log file (default: stderr)
//	-log-level  ops, diag or trace (default: ops)
//	-plot       Write a top-down PNG of the cloud here on exit
//	-ticks      Run this many ticks and exit (default: 0, run until interrupted)
//	-orbit-hz   Camera orbit steps per second when running until interrupted
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/densecloud/internal/admission"
	"github.com/banshee-data/densecloud/internal/cloud"
	"github.com/banshee-data/densecloud/internal/config"
	"github.com/banshee-data/densecloud/internal/manager"
	"github.com/banshee-data/densecloud/internal/monitoring"
	"github.com/banshee-data/densecloud/internal/notify"
	"github.com/banshee-data/densecloud/internal/sampling"
	"github.com/banshee-data/densecloud/internal/stream"
	"github.com/banshee-data/densecloud/internal/synthetic"
	"github.com/banshee-data/densecloud/internal/version"
	"github.com/banshee-data/densecloud/internal/visualiser"
)

type options struct {
	configPath  string
	grpcAddr    string
	httpAddr    string
	logFile     string
	logLevel    string
	plotPath    string
	ticks       int
	orbitHz     float64
	showVersion bool
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.configPath, "config", "", "Cloud tuning file (.json, .yaml); built-in defaults when empty")
	fs.StringVar(&o.grpcAddr, "grpc-addr", "localhost:50051", "PointStream gRPC listen address (empty disables)")
	fs.StringVar(&o.httpAddr, "http-addr", "localhost:8080", "Debug HTTP listen address (empty disables)")
	fs.StringVar(&o.logFile, "log-file", "", "Rotated ops log file (default: stderr)")
	fs.StringVar(&o.logLevel, "log-level", "ops", "Log level: ops, diag or trace")
	fs.StringVar(&o.plotPath, "plot", "", "Write a top-down PNG of the cloud here on exit")
	fs.IntVar(&o.ticks, "ticks", 0, "Run this many ticks and exit (0 runs until interrupted)")
	fs.Float64Var(&o.orbitHz, "orbit-hz", 15, "Camera orbit steps per second")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.ticks < 0 {
		return o, fmt.Errorf("-ticks must be non-negative, got %d", o.ticks)
	}
	if o.orbitHz <= 0 {
		return o, fmt.Errorf("-orbit-hz must be positive, got %g", o.orbitHz)
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}
	if opts.showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts, os.Stderr); err != nil {
		log.Fatalf("densecloud: %v", err)
	}
}

// app is the wired engine.
type app struct {
	cfg       *config.CloudConfig
	scene     *synthetic.Scene
	registry  *cloud.Registry
	notifier  *notify.Notifier
	manager   *manager.Manager
	publisher *stream.Publisher
	mesh      *visualiser.MeshVisualizer
	particles *visualiser.ParticleVisualizer
	plot      *visualiser.PlotVisualizer
}

func loadConfig(path string) (*config.CloudConfig, error) {
	if path == "" {
		return config.Defaults(), nil
	}
	return config.Load(path)
}

func newApp(cfg *config.CloudConfig, scene *synthetic.Scene) (*app, error) {
	a := &app{
		cfg:       cfg,
		scene:     scene,
		registry:  cloud.NewRegistry(),
		notifier:  notify.New(),
		publisher: stream.NewPublisher(stream.DefaultConfig()),
	}
	m, err := manager.New(manager.Config{Cloud: cfg, Source: scene, Registry: a.registry, Notifier: a.notifier})
	if err != nil {
		return nil, err
	}
	a.manager = m

	primary := m.PointCloud()
	a.mesh = visualiser.NewMeshVisualizer(primary)
	a.particles, err = visualiser.NewParticleVisualizer(primary, visualiser.ParticleOptions{ConfidenceGradient: true})
	if err != nil {
		return nil, err
	}
	a.plot = visualiser.NewPlotVisualizer(primary, "densecloud", 0)
	visualiser.Attach(primary, a.mesh)
	visualiser.Attach(primary, a.particles)
	visualiser.Attach(primary, a.plot)

	a.publisher.Watch(a.registry, a.notifier)
	return a, nil
}

func run(ctx context.Context, opts options, logOut io.Writer) error {
	level, err := monitoring.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	opsOut := logOut
	if opts.logFile != "" {
		f := monitoring.RotatingFile(opts.logFile, 0, 0)
		defer f.Close()
		opsOut = io.MultiWriter(logOut, f)
	}
	monitoring.NewStreams(level, opsOut, logOut).Apply(
		cloud.SetLogWriters,
		sampling.SetLogWriters,
		admission.SetLogWriters,
		manager.SetLogWriters,
		stream.SetLogWriters,
	)
	monitoring.SetLogger(log.New(opsOut, "[densecloud] ", log.LstdFlags|log.Lmicroseconds).Printf)

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	scene, err := synthetic.New(synthetic.DefaultConfig())
	if err != nil {
		return err
	}
	a, err := newApp(cfg, scene)
	if err != nil {
		return err
	}
	if err := a.publisher.Start(); err != nil {
		return err
	}
	defer a.publisher.Stop()
	if err := a.manager.Initialize(ctx); err != nil {
		return err
	}
	monitoring.Logf("%s: capacity=%d points_per_frame=%d status=%s",
		version.String(), cfg.GetCapacity(), cfg.GetMaxPointsPerFrame(), statusString(a.manager))

	g, gctx := errgroup.WithContext(ctx)
	if opts.grpcAddr != "" {
		lis, err := net.Listen("tcp", opts.grpcAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		srv := stream.NewGRPCServer(a.publisher)
		g.Go(func() error {
			monitoring.Logf("PointStream gRPC listening on %s", lis.Addr())
			return srv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			srv.Stop()
			return nil
		})
	}
	if opts.httpAddr != "" {
		srv := &http.Server{Addr: opts.httpAddr, Handler: a.mux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			monitoring.Logf("debug HTTP listening on %s", opts.httpAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// A finished tick budget returns errStopped, which cancels gctx and
	// shuts the servers down.
	g.Go(func() error {
		if opts.ticks > 0 {
			return a.runTicks(gctx, opts.ticks)
		}
		return a.runLive(gctx, opts.orbitHz)
	})

	err = g.Wait()
	a.report()
	if opts.plotPath != "" {
		if perr := a.plot.Save(opts.plotPath); perr != nil {
			err = errors.Join(err, perr)
		} else {
			monitoring.Logf("wrote %s", opts.plotPath)
		}
	}
	a.manager.DestroyAllPointClouds()
	if errors.Is(err, context.Canceled) || errors.Is(err, errStopped) {
		return nil
	}
	return err
}

var errStopped = errors.New("tick budget spent")

// runTicks advances the scene in lock step with the manager and then stops
// the whole group.
func (a *app) runTicks(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.manager.Tick(ctx); err != nil {
			return err
		}
		if err := a.scene.Advance(); err != nil {
			return err
		}
	}
	return errStopped
}

// runLive runs the manager loop while the camera orbits on its own clock.
func (a *app) runLive(ctx context.Context, orbitHz float64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.manager.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / orbitHz))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := a.scene.Advance(); err != nil {
					return err
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *app) report() {
	st := a.manager.Stats()
	monitoring.Logf("ticks=%d processed=%d admitted=%d saturated=%d motion_skipped=%d acquire_failures=%d",
		st.Ticks, st.Processed, st.PointsAdmitted, st.PointsSaturated, st.MotionSkipped, st.AcquireFailures)
	if buf := a.manager.PointCloud(); buf != nil {
		lo, hi, ok := a.mesh.Bounds()
		if ok {
			monitoring.Logf("cloud %s: %d/%d points, bounds %v..%v, %d particles",
				buf.ID(), buf.Count(), buf.Capacity(), lo, hi, a.particles.Alive())
		}
	}
	ps := a.publisher.Stats()
	monitoring.Logf("publisher: frames=%d dropped=%d clients=%d", ps.FrameCount, ps.Dropped, ps.ClientCount)
}

func statusString(m *manager.Manager) string {
	st, err := m.Status()
	if err != nil {
		return fmt.Sprintf("%s (%v)", st, err)
	}
	return st.String()
}
