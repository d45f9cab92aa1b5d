package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/nafsi/internal/config"
	"github.com/jkaninda/nafsi/internal/devicesync"
	"github.com/jkaninda/nafsi/internal/dream"
	"github.com/jkaninda/nafsi/internal/gateway/httpapi"
	"github.com/jkaninda/nafsi/internal/gateway/ws"
	"github.com/jkaninda/nafsi/internal/ratelimit"
	"github.com/jkaninda/nafsi/internal/scheduler"
)

var (
	serveConfigPath string
	serveAddr       string
)

// idlePruneAge bounds the per-counterpart in-process state (affective
// cache, turn locks, rate buckets) kept between turns.
const idlePruneAge = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the presence (HTTP and WebSocket gateways, background cycles)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `nafsi --config path` and `nafsi serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveAddr, "addr", "", "override listen address (e.g. :8087)")
	}
}

// runServe starts Nafsi in serve mode: the turn gateways plus the dream,
// sweep, and decay cycles.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("NAFSI_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logger.Info("starting", slog.String("config", serveConfigPath))

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	reg := sc.Registry()

	// Capability probing.
	go sc.Supervisor.Run(ctx)

	// Expire unconfirmed advisory proposals.
	cancelAdvisory := sc.Gate.Advisory().StartCleanup(ctx, 1*time.Minute)
	defer cancelAdvisory()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "nafsi"
	}

	// Rate limiting is shared across both gateways so a counterpart cannot
	// double its quota by opening a socket.
	var rlCfg ratelimit.Config
	if cfg.Server.RateLimit != nil {
		rlCfg = *cfg.Server.RateLimit
	}
	limiter := ratelimit.NewLimiter(rlCfg)

	// Background cycles: dreaming, memory hygiene, idle affect decay.
	if cfg.Scheduler != nil {
		sched := scheduler.New(scheduler.NewMetrics(reg), logger)

		cycle := dream.NewCycle(
			sc.Store.Memories(),
			sc.Store.Hypotheses(),
			sc.Store.Heritage(),
			sc.Store.Affective(),
			sc.Store.Leases(),
			hostname,
			cfg.Dream,
			dream.NewMetrics(reg),
			logger,
		).WithCapability(sc.Supervisor)

		// The sweep job doubles as general hygiene: evict per-counterpart
		// caches, locks, and rate buckets idle past an hour.
		sweep := func(ctx context.Context) error {
			sc.Limbic.Prune(idlePruneAge)
			sc.Engine.PruneIdle(idlePruneAge)
			limiter.Prune(idlePruneAge)
			return sc.Memories.Sweep(ctx)
		}

		jobs := []scheduler.Job{
			{Name: "dream-cycle", Spec: cfg.Scheduler.Dream(), Run: cycle.Run},
			{Name: "memory-sweep", Spec: cfg.Scheduler.Sweep(), Run: sweep},
			{Name: "affect-decay", Spec: cfg.Scheduler.Decay(), Run: sc.Limbic.DecayTick},
		}
		for _, job := range jobs {
			if err := sched.Add(ctx, job); err != nil {
				return err
			}
		}
		cancelSched := sched.Start(ctx)
		defer cancelSched()
		logger.Info("background cycles scheduled", slog.Int("jobs", len(jobs)))
	}

	// Device sync (optional). Synced revisions land in storage behind the
	// limbic engine's back, so the manager invalidates its cache.
	var syncMgr *devicesync.Manager
	if cfg.Sync != nil && cfg.Sync.Enabled {
		syncMgr = devicesync.NewManager(sc.Store.Sync(), devicesync.NewMetrics(reg), logger).
			WithInvalidator(sc.Limbic).
			WithDeviceID(hostname)
		logger.Debug("device sync enabled")
	}

	// WebSocket conversation endpoint, mounted on the HTTP gateway.
	wsServer := ws.NewServer(sc.Engine, limiter, ws.Config{
		APIToken: cfg.Server.APIToken,
	}, logger)

	gwCfg := httpapi.Config{
		ListenAddr: cfg.Server.ListenAddr(),
		APIToken:   cfg.Server.APIToken,
	}
	if sc.Obs != nil {
		gwCfg.MetricsRegistry = reg
		gwCfg.MetricsPath = metricsPath(cfg)
		gwCfg.HealthChecker = sc.Obs.Health
		gwCfg.Metrics = sc.Obs.Metrics
		if sc.Obs.Tracer != nil {
			gwCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
	}

	gw := httpapi.NewGateway(gwCfg, sc.Engine, sc.Gate, sc.Store.Audit(), limiter, logger).
		WithHandler("/ws", wsServer.Handler()).
		WithOpenAPIDocs()
	if syncMgr != nil {
		gw = gw.WithSync(syncMgr)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return gw.Stop(shutdownCtx)
}

func metricsPath(cfg *config.Config) string {
	if cfg.Observability == nil {
		return ""
	}
	return cfg.Observability.Metrics.MetricsPath()
}
