package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/signalrun/internal/application/pipeline"
	"github.com/sawpanic/signalrun/internal/config"
	"github.com/sawpanic/signalrun/internal/infrastructure/cache"
	"github.com/sawpanic/signalrun/internal/infrastructure/db"
	httpapi "github.com/sawpanic/signalrun/internal/interfaces/http"
	logsetup "github.com/sawpanic/signalrun/internal/log"
	"github.com/sawpanic/signalrun/internal/persistence"
	"github.com/sawpanic/signalrun/internal/telemetry"
)

// app holds everything one invocation wires together.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	metrics  *telemetry.Registry
	ledgerDB *db.Manager
	redis    *cache.RedisCache
	server   *httpapi.Server
	exec     *pipeline.Executor
}

type appOptions struct {
	configPath string
	logFormat  string
	force      bool
	flags      *config.Flags
}

func newApp(ctx context.Context, opts appOptions, out io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath, opts.flags)
	if err != nil {
		return nil, err
	}
	logger, err := logsetup.Setup(cfg.LogLevel, logsetup.Format(opts.logFormat), os.Stderr)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: telemetry.NewRegistry()}
	health := httpapi.NewHealthHandler(version)

	a.ledgerDB, err = db.NewManager(ctx, cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	ledger := persistence.NewLedger(a.ledgerDB.Repository(), logger)
	if a.ledgerDB.IsEnabled() {
		health.Register("ledger", a.ledgerDB.Health().Ping)
	}

	var remote cache.Store
	if cfg.Cache.Addr != "" {
		a.redis, err = cache.NewRedisCache(ctx, cfg.Cache)
		if err != nil {
			// The memory layer still serves this run.
			logger.Warn().Err(err).Str("addr", cfg.Cache.Addr).Msg("Redis cache unavailable")
		} else {
			remote = a.redis
		}
	}
	layered := cache.NewLayered(remote, cfg.Cache.TTL, logger)
	if remote != nil {
		health.Register("cache", func(context.Context) error {
			if layered.BreakerState() == gobreaker.StateOpen {
				return errors.New("remote cache breaker open")
			}
			return nil
		})
	}
	resolver := cache.NewStationarityCache(layered, cfg.Cache.TTL, logger, a.metrics.CacheResult)

	if cfg.Metrics.Addr != "" {
		serverCfg := httpapi.DefaultServerConfig()
		serverCfg.Addr = cfg.Metrics.Addr
		a.server = httpapi.NewServer(serverCfg, a.metrics.Gatherer(), health)
		if err := a.server.Start(); err != nil {
			a.close()
			return nil, err
		}
	}

	a.exec, err = pipeline.New(cfg,
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLedger(ledger),
		pipeline.WithResolver(resolver),
		pipeline.WithLogger(logger),
		pipeline.WithOutput(out),
		pipeline.WithForce(opts.force),
		pipeline.WithStepHook(health.SetRun),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	logger.Debug().Str("run_id", a.exec.RunID()).Str("config", cfg.JSON()).Msg("Configuration loaded")
	return a, nil
}

// close flushes metrics and releases connections. It is safe on a
// partially built app.
func (a *app) close() {
	if path := a.cfg.Metrics.TextfilePath; path != "" {
		if err := a.metrics.WriteToTextfile(path); err != nil {
			a.logger.Warn().Err(err).Str("path", path).Msg("Failed to write metrics textfile")
		}
	}
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.ledgerDB != nil {
		if err := a.ledgerDB.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close ledger")
		}
	}
}
