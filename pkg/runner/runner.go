// Package runner implements the Runner (C9): the top-level supervisor that
// wires Core collaborators, enables configured modules, handles OS signals,
// and drives graceful shutdown. Grounded on cmd/warren/main.go's
// build-collaborators -> start -> block-on-signal -> graceful-stop
// sequencing, collapsed to this domain's single top-level Runner instead of
// warren's multi-component cluster bring-up.
package runner

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethpandaops/lab/internal/config"
	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/beacon"
	"github.com/ethpandaops/lab/pkg/beaconchaintimings"
	"github.com/ethpandaops/lab/pkg/frontendconfig"
	"github.com/ethpandaops/lab/pkg/geocoder"
	"github.com/ethpandaops/lab/pkg/metrics"
	"github.com/ethpandaops/lab/pkg/module"
	"github.com/ethpandaops/lab/pkg/network"
	"github.com/ethpandaops/lab/pkg/objectstore"
	"github.com/ethpandaops/lab/pkg/statestore"
	"github.com/ethpandaops/lab/pkg/warehouse"
	"github.com/ethpandaops/lab/pkg/xatucontributors"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// Runner wires every Core collaborator and supervises the configured
// modules' full lifecycle.
type Runner struct {
	cfg    *config.Config
	logger zerolog.Logger

	store     objectstore.ObjectStore
	warehouse *warehouse.Client
	catalog   *network.Catalog
	geocoder  *geocoder.Geocoder
	shadowDB  *bolt.DB

	modules     []*module.Module
	stateStores []*statestore.Store

	metricsCollector *metrics.Collector
}

// New builds an unstarted Runner from a validated Config.
func New(cfg *config.Config, logger zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger, geocoder: geocoder.New()}
}

// Run wires collaborators, starts every enabled module, publishes the
// frontend config snapshot, then blocks until an OS termination signal (or
// ctx cancellation) before gracefully stopping everything. Modules are
// independent: a registration/start failure in one module is logged and
// does not prevent others from starting, per spec.md §4.9.
func (r *Runner) Run(ctx context.Context) error {
	metrics.SetCriticalComponents("object_store", "warehouse", "network_catalog")
	metrics.RegisterComponent("object_store", false, "initializing")
	metrics.RegisterComponent("warehouse", false, "initializing")
	metrics.RegisterComponent("network_catalog", false, "initializing")
	r.startMetricsServer()

	store, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:        r.cfg.Storage.S3.Endpoint,
		Region:          r.cfg.Storage.S3.Region,
		Bucket:          r.cfg.Storage.S3.Bucket,
		AccessKeyID:     r.cfg.Storage.S3.AccessKeyID,
		SecretAccessKey: r.cfg.Storage.S3.SecretAccessKey,
	}, r.logger)
	if err != nil {
		metrics.RegisterComponent("object_store", false, err.Error())
		return errs.New(errs.Fatal, "runner.Run", err)
	}
	r.store = store
	metrics.RegisterComponent("object_store", true, "ready")

	wh := warehouse.New(r.cfg.ClickHouse.URL, r.logger)
	if err := wh.Start(ctx); err != nil {
		metrics.RegisterComponent("warehouse", false, err.Error())
		return errs.New(errs.Fatal, "runner.Run", err)
	}
	r.warehouse = wh
	metrics.RegisterComponent("warehouse", true, "ready")

	r.catalog = buildCatalog(r.cfg, r.logger)
	if err := r.catalog.Initialize(ctx, &http.Client{Timeout: 30 * time.Second}); err != nil {
		metrics.RegisterComponent("network_catalog", false, err.Error())
		return errs.New(errs.Fatal, "runner.Run", err)
	}
	metrics.RegisterComponent("network_catalog", true, "ready")

	if db, err := bolt.Open("lab-state-shadow.db", 0o600, &bolt.Options{Timeout: 1 * time.Second}); err != nil {
		r.logger.Warn().Err(err).Msg("local state shadow cache unavailable, continuing without it")
	} else {
		r.shadowDB = db
	}

	r.startModules(ctx)

	r.metricsCollector = metrics.NewCollector(r.collectStats, 15*time.Second)
	r.metricsCollector.Start()

	if err := frontendconfig.Export(ctx, r.cfg, r.store, r.logger); err != nil {
		r.logger.Error().Err(err).Msg("failed to publish frontend config snapshot")
	}

	r.waitForShutdown(ctx)
	r.Stop(context.Background())
	return nil
}

// startMetricsServer starts the /metrics, /health, /ready, and /live HTTP
// endpoints in the background, matching cmd/warren/main.go's local-only
// metrics server. Bind failures are logged, not fatal: observability must
// not block the data pipeline from starting.
func (r *Runner) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	addr := r.cfg.Metrics.Addr
	r.logger.Info().Str("addr", addr).Msg("starting metrics server")
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			r.logger.Error().Err(err).Str("addr", addr).Msg("metrics server exited")
		}
	}()
}

// collectStats is the metrics.StatsFunc polled by the runner's Collector.
func (r *Runner) collectStats() metrics.RunnerStats {
	counts := make(map[string]int, len(r.modules))
	for _, m := range r.modules {
		counts[m.Name()] = len(m.Processors())
	}
	return metrics.RunnerStats{ModulesRunning: counts}
}

func buildCatalog(cfg *config.Config, logger zerolog.Logger) *network.Catalog {
	entries := make(map[string]struct {
		ConfigURL   string
		GenesisTime int64
	}, len(cfg.Ethereum.Networks))
	for name, n := range cfg.Ethereum.Networks {
		entries[name] = struct {
			ConfigURL   string
			GenesisTime int64
		}{ConfigURL: n.ConfigURL, GenesisTime: n.GenesisTime}
	}
	return network.NewCatalog(entries, logger)
}

// startModules builds and starts each enabled module independently: a
// failure building or starting one module is logged, and the loop
// continues to the next, per spec.md §4.9.
func (r *Runner) startModules(ctx context.Context) {
	if r.cfg.Modules.Beacon != nil && r.cfg.Modules.Beacon.Enabled {
		r.tryStartModule(ctx, "beacon", func() (*module.Module, error) {
			state := statestore.New(beacon.ModuleName, r.store, r.shadowDB, r.logger)
			if err := state.Start(ctx); err != nil {
				return nil, err
			}
			r.stateStores = append(r.stateStores, state)
			return beacon.NewModule(r.cfg.Modules.Beacon, r.cfg, r.catalog, r.warehouse, r.store, state, r.geocoder, r.logger)
		})
	}

	if r.cfg.Modules.BeaconChainTimings != nil && r.cfg.Modules.BeaconChainTimings.Enabled {
		r.tryStartModule(ctx, beaconchaintimings.ModuleName, func() (*module.Module, error) {
			state := statestore.New(beaconchaintimings.ModuleName, r.store, r.shadowDB, r.logger)
			if err := state.Start(ctx); err != nil {
				return nil, err
			}
			r.stateStores = append(r.stateStores, state)
			return beaconchaintimings.New(r.cfg.Modules.BeaconChainTimings, r.warehouse, r.store, state, r.logger)
		})
	}

	if r.cfg.Modules.XatuPublicContributors != nil && r.cfg.Modules.XatuPublicContributors.Enabled {
		r.tryStartModule(ctx, xatucontributors.ModuleName, func() (*module.Module, error) {
			state := statestore.New(xatucontributors.ModuleName, r.store, r.shadowDB, r.logger)
			if err := state.Start(ctx); err != nil {
				return nil, err
			}
			r.stateStores = append(r.stateStores, state)
			return xatucontributors.New(r.cfg.Modules.XatuPublicContributors, r.warehouse, r.store, state, r.logger)
		})
	}
}

func (r *Runner) tryStartModule(ctx context.Context, name string, build func() (*module.Module, error)) {
	mod, err := build()
	if err != nil {
		r.logger.Error().Err(err).Str("module", name).Msg("failed to build module, skipping")
		return
	}
	if err := mod.Start(ctx); err != nil {
		r.logger.Error().Err(err).Str("module", name).Msg("failed to start module, skipping")
		return
	}
	r.modules = append(r.modules, mod)
	r.logger.Info().Str("module", name).Msg("module started")
}

// waitForShutdown blocks until SIGINT/SIGTERM or ctx cancellation. Restoring
// any prior signal handlers is best-effort and not attempted here, matching
// spec.md §5's "any restoration of prior signal handlers is best-effort and
// must not fail shutdown."
func (r *Runner) waitForShutdown(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		r.logger.Info().Msg("received shutdown signal")
	case <-ctx.Done():
		r.logger.Info().Msg("context cancelled")
	}
}

// Stop stops every module, the warehouse connection, and performs each
// state store's final flush, in that order, with guaranteed release on all
// exit paths per Design Notes §9.
func (r *Runner) Stop(ctx context.Context) {
	if r.metricsCollector != nil {
		r.metricsCollector.Stop()
	}
	for _, m := range r.modules {
		r.logger.Info().Str("module", m.Name()).Msg("stopping module")
		m.Stop()
	}
	if r.warehouse != nil {
		if err := r.warehouse.Stop(); err != nil {
			r.logger.Error().Err(err).Msg("failed to stop warehouse client")
		}
	}
	for _, s := range r.stateStores {
		s.Stop(ctx)
	}
	if r.catalog != nil {
		r.catalog.Stop()
	}
	if r.shadowDB != nil {
		if err := r.shadowDB.Close(); err != nil {
			r.logger.Error().Err(err).Msg("failed to close local state shadow cache")
		}
	}
}
