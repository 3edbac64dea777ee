// netmond is the network reachability monitor daemon.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/netmon/internal/api"
	"github.com/xtxerr/netmon/internal/history"
	"github.com/xtxerr/netmon/internal/loader"
	"github.com/xtxerr/netmon/internal/logging"
	"github.com/xtxerr/netmon/internal/monitor"
	"github.com/xtxerr/netmon/internal/network"
	"github.com/xtxerr/netmon/internal/prober"
	"github.com/xtxerr/netmon/internal/storage"
	"github.com/xtxerr/netmon/internal/storage/archive"
	"github.com/xtxerr/netmon/internal/storage/retention"
	"github.com/xtxerr/netmon/internal/telemetry"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	logDir := flag.String("log-dir", "", "log storage directory (overrides config)")
	targets := flag.String("targets", "", "comma separated targets (overrides config)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	log.Printf("netmond %s starting...", Version)

	// Load config
	cfg, err := loader.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	// CLI overrides
	loader.Overrides{Listen: *listen, LogDir: *logDir, Targets: *targets}.Apply(cfg)

	if err := loader.Validate(cfg); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logging.Init(level, cfg.Logging.JSON)

	metrics := telemetry.New()
	probeTargets := cfg.ProbeTargets()

	// =========================================================================
	// Network identity
	// =========================================================================

	var detector network.Detector
	if cfg.Network.Name != "" {
		log.Printf("Network name pinned to %q", cfg.Network.Name)
		detector = network.StaticDetector{Name: cfg.Network.Name}
	} else {
		detector = network.NewPlatformDetector(network.NewOSRunner(cfg.Network.DetectTimeout.Duration()), "")
	}
	identifier := network.NewIdentifier(detector, cfg.Network.Refresh.Duration(),
		network.WithDetectTimeout(cfg.Network.DetectTimeout.Duration()),
		network.WithErrorHook(metrics.DetectError))

	// =========================================================================
	// Storage (CSV log tree, optional Parquet archive)
	// =========================================================================

	var storeOpts []storage.Option
	if cfg.Retention.Archive {
		log.Printf("Archiving expired metrics to %s", cfg.ArchiveDir())
		storeOpts = append(storeOpts, storage.WithArchive(archive.New(cfg.ArchiveDir(), cfg.ArchiveOptions())))
	}

	store, err := storage.New(cfg.Storage.Dir, storeOpts...)
	if err != nil {
		log.Fatalf("Open storage: %v", err)
	}

	// =========================================================================
	// Monitor and warm history
	// =========================================================================

	hosts := make([]string, 0, len(probeTargets))
	methods := make(map[string]string, len(probeTargets))
	for _, t := range probeTargets {
		hosts = append(hosts, t.Host)
		methods[t.Host] = t.Method
	}

	mon := monitor.New(hosts, store, monitor.Config{
		Window:     cfg.Aggregation.Window.Duration(),
		MaxAge:     cfg.LoadHorizon(),
		MaxSamples: cfg.MaxSamples(),
		MaxWindows: cfg.Memory.MaxWindows,
	}, monitor.WithMetrics(metrics), monitor.WithMethods(methods))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hist := history.New(store, history.Config{
		Days:        cfg.Memory.LoadDays,
		MaxSamples:  cfg.MaxSamples(),
		MaxWindows:  cfg.Memory.MaxWindows,
		Concurrency: cfg.History.Concurrency,
	}, history.WithMetrics(metrics))

	res, err := hist.Load(ctx, mon)
	if err != nil {
		log.Printf("Warning: history load: %v", err)
	} else {
		log.Printf("History loaded: %d samples, %d windows from %d files (%d errors) in %s",
			res.SamplesLoaded, res.WindowsLoaded, res.FilesRead, len(res.Errors), res.Duration)
	}

	// =========================================================================
	// Prober
	// =========================================================================

	p := prober.New(probeTargets, prober.NewDefaultDispatch(network.NewOSRunner(0)), identifier, mon, prober.Config{
		Window:       cfg.Aggregation.Window.Duration(),
		Jitter:       cfg.Probe.Jitter,
		DrainTimeout: cfg.Shutdown.DrainTimeout.Duration(),
	})
	if err := p.Start(ctx); err != nil {
		log.Fatalf("Start prober: %v", err)
	}
	log.Printf("Probing %d targets", len(probeTargets))

	// =========================================================================
	// Scheduled cleanup
	// =========================================================================

	var cleanup *retention.Worker
	if cfg.Retention.AutoCleanup {
		cleanup = retention.NewWorker(store.Retention(), cfg.Retention.Days, cfg.Retention.Hour)
		cleanup.OnRun = func(r retention.CleanupResult) {
			metrics.CleanupRemoved(r.FilesDeleted)
		}
		cleanup.Start(ctx)
		log.Printf("Automatic cleanup enabled (keep %d days, at %02d:00)", cfg.Retention.Days, cfg.Retention.Hour)
	}

	// =========================================================================
	// API server
	// =========================================================================

	srv := api.New(api.Config{
		Listen:  cfg.Listen,
		Targets: probeTargets,
	}, mon, store, identifier,
		api.WithMetrics(metrics),
		api.WithProbeStats(p))

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	stopped := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer close(stopped)
		<-sig
		log.Println("Shutting down...")

		// Stop probing first; open windows are flushed once the workers drain.
		if err := p.StopWithContext(context.Background()); err != nil {
			log.Printf("Warning: prober stop: %v", err)
		}

		if cleanup != nil {
			cleanup.Stop()
		}
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Shutdown.DrainTimeout.Duration())
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: server shutdown: %v", err)
		}
	}()

	// =========================================================================
	// Run
	// =========================================================================

	log.Printf("Listening on %s (storage %s)", cfg.Listen, store.Root())

	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	<-stopped
	log.Println("Stopped")
}
