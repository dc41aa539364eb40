package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/knockd/internal/audit"
	"grimm.is/knockd/internal/brand"
	"grimm.is/knockd/internal/clock"
	"grimm.is/knockd/internal/config"
	"grimm.is/knockd/internal/events"
	"grimm.is/knockd/internal/firewall"
	"grimm.is/knockd/internal/health"
	"grimm.is/knockd/internal/knock"
	"grimm.is/knockd/internal/logging"
	"grimm.is/knockd/internal/metrics"
	"grimm.is/knockd/internal/services"
)

// ShutdownTimeout bounds graceful shutdown, including revoking live grants.
const ShutdownTimeout = 30 * time.Second

// RunServe runs the knock daemon until SIGINT or SIGTERM.
func RunServe(configFile string, dryRun bool) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, dryRun, logger)
}

func newLogger(lc *config.LogConfig) (*logging.Logger, error) {
	lcfg := logging.DefaultConfig()
	if lc != nil {
		level, err := logging.ParseLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		lcfg.Level = level
		lcfg.JSON = lc.JSON
	}
	return logging.New(lcfg), nil
}

// serve builds the daemon from cfg and blocks until ctx is done, then shuts
// everything down. extra options are applied to the knock server last.
func serve(ctx context.Context, cfg *config.Config, dryRun bool, logger *logging.Logger, extra ...knock.Option) error {
	log := logger.WithComponent("daemon")

	backendName := cfg.Firewall.Backend
	if dryRun {
		backendName = config.BackendMemory
		log.Warn("dry run: firewall changes are simulated", "configured_backend", cfg.Firewall.Backend)
	}

	reg := metrics.Get()
	hub := events.NewHub()

	backend, err := firewall.New(firewall.Options{
		Backend:       backendName,
		Table:         cfg.Firewall.Table,
		Chain:         cfg.Firewall.Chain,
		ProtectedPort: cfg.Knock.ProtectedPort,
		Metrics:       reg,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	manager := services.NewManager(logger)
	checker := health.NewChecker(clock.Default)
	if backendName == config.BackendNFTables {
		checker.Register("nftables", health.NFTablesTableCheck(nil, cfg.Firewall.Table))
	}

	opts := []knock.Option{
		knock.WithLogger(logger),
		knock.WithHub(hub),
		knock.WithMetrics(reg),
	}

	if cfg.Audit != nil && cfg.Audit.Path != "" {
		store, err := audit.Open(cfg.Audit.Path, cfg.Audit.RetentionDays, clock.Default)
		if err != nil {
			backend.Close()
			return fmt.Errorf("open audit store: %w", err)
		}
		defer store.Close()

		sub := audit.NewSubscriber(hub, store, logger)
		manager.Register(services.NewRunner("audit", func(ctx context.Context) error {
			sub.Run(ctx)
			sub.Close()
			return nil
		}))
		opts = append(opts, knock.WithAuditPruner(store.Prune))
		checker.Register("audit", health.AuditCheck(store))
		log.Info("audit trail enabled", "path", cfg.Audit.Path, "retention_days", cfg.Audit.RetentionDays)
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		addr := cfg.Metrics.Listen
		manager.Register(services.NewRunner("metrics", func(ctx context.Context) error {
			return metrics.Serve(ctx, addr, logger,
				metrics.Route{Pattern: "/healthz", Handler: checker.Handler()},
				metrics.Route{Pattern: "/livez", Handler: health.LivenessHandler()},
				metrics.Route{Pattern: "/readyz", Handler: checker.ReadinessHandler()},
			)
		}))
	}

	srv, err := knock.New(knock.SettingsFromConfig(cfg.Knock), backend, append(opts, extra...)...)
	if err != nil {
		backend.Close()
		return err
	}
	manager.Register(srv)
	checker.Register(srv.Name(), health.ServiceCheck(srv))

	log.Info("starting", "version", brand.Version, "backend", backendName, "pid", os.Getpid())
	if err := manager.Start(ctx); err != nil {
		// The server closes its backend on Stop; if it never started, do it here.
		if !srv.Status().Running {
			backend.Close()
		}
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := manager.Stop(stopCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
