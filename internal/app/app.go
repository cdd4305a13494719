// Package app wires configuration, storage, and the engine components
// into a runnable server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aethergate/aethergate/internal/audit"
	"github.com/aethergate/aethergate/internal/budget"
	"github.com/aethergate/aethergate/internal/config"
	"github.com/aethergate/aethergate/internal/db"
	"github.com/aethergate/aethergate/internal/dispatch"
	"github.com/aethergate/aethergate/internal/engine"
	"github.com/aethergate/aethergate/internal/http/api/admin"
	"github.com/aethergate/aethergate/internal/http/api/front"
	"github.com/aethergate/aethergate/internal/ledger"
	"github.com/aethergate/aethergate/internal/provider"
	"github.com/aethergate/aethergate/internal/roundtable"
	"github.com/aethergate/aethergate/internal/selector"
	"github.com/aethergate/aethergate/internal/settings"
	"github.com/aethergate/aethergate/internal/tasks"
	"github.com/aethergate/aethergate/internal/trace"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 15 * time.Second

// Migrate opens the database from configuration and runs migrations.
func Migrate(_ context.Context, configPath string) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the orchestration server and blocks until ctx is
// cancelled.
func RunServer(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		return errLoad
	}
	config.SetupLogging(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSettings := settings.RefreshSnapshot(ctx, conn); errSettings != nil {
		return fmt.Errorf("load settings: %w", errSettings)
	}

	var health provider.HealthCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if errPing := client.Ping(ctx).Err(); errPing != nil {
			return fmt.Errorf("ping redis: %w", errPing)
		}
		health = provider.NewRedisHealthCache(client)
		defer func() { _ = client.Close() }()
	} else {
		health = provider.NewMemoryHealthCache()
	}

	registry := provider.NewRegistry(health, cfg.Engine.HealthTTL.Std())
	if errRegister := registerProviders(registry, cfg.Providers); errRegister != nil {
		return errRegister
	}

	runner := tasks.NewRunner(8)
	auditor := audit.NewRecorder(conn, runner)

	rates := ledger.NewRates(conn, ledger.RatePolicy(cfg.Engine.UnknownRatePolicy),
		cfg.Engine.FallbackInputRateMicrosPer1K, cfg.Engine.FallbackOutputRateMicrosPer1K)
	if errRates := rates.Refresh(ctx); errRates != nil {
		return fmt.Errorf("load rates: %w", errRates)
	}

	journal := ledger.New(conn, rates)
	governor := budget.NewGovernor(conn, auditor, cfg.Engine.AllowUnmetered)
	tracer := trace.NewService(conn, cfg.Engine.GatedStepKinds)
	gate := trace.NewGate(conn, runner, auditor)

	sel := selector.New(registry)
	dispatcher := dispatch.NewEngine(registry, dispatch.RetryPolicy{
		MaxAttempts: cfg.Engine.MaxAttempts,
		BaseDelay:   cfg.Engine.RetryBase.Std(),
		MaxDelay:    cfg.Engine.RetryMaxDelay.Std(),
	}, cfg.Engine.AttemptTimeout.Std())

	orchestrator := engine.NewOrchestrator(conn, cfg.Engine, sel, dispatcher, governor, journal, tracer)
	gate.SetResumer(orchestrator)
	coordinator := roundtable.NewCoordinator(conn, registry, orchestrator)

	provider.NewProbePoller(registry).Start(ctx)
	budget.NewResetJob(conn, auditor).Start(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	front.RegisterFrontRoutes(r, front.Deps{
		DB:          conn,
		JWT:         cfg.JWT,
		Engine:      orchestrator,
		Coordinator: coordinator,
		Governor:    governor,
		Gate:        gate,
		Tracer:      tracer,
	})
	admin.RegisterAdminRoutes(r, admin.Deps{
		DB:       conn,
		JWT:      cfg.JWT,
		Governor: governor,
		Rates:    rates,
		Gate:     gate,
		Registry: registry,
		Auditor:  auditor,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		if errServe := server.ListenAndServe(); errServe != nil && errServe != http.ErrServerClosed {
			errCh <- errServe
		}
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("http shutdown failed")
	}
	if errClose := runner.Close(shutdownCtx); errClose != nil {
		log.WithError(errClose).Warn("background runner close failed")
	}
	return nil
}

// registerProviders builds descriptors and adapters from configuration.
// Key-based providers read their secret from the configured environment
// variable; daemon providers get an HTTP adapter probed at base_url.
func registerProviders(registry *provider.Registry, configs []config.ProviderConfig) error {
	for _, pc := range configs {
		tier := provider.Tier(pc.Tier)
		if pc.SecretEnv != "" {
			desc, errDesc := provider.NewKeyProvider(pc.ID, tier, pc.Models, pc.Priority, os.Getenv(pc.SecretEnv), pc.Specialties...)
			if errDesc != nil {
				return fmt.Errorf("provider %s: %w", pc.ID, errDesc)
			}
			if errRegister := registry.Register(desc, provider.NewHTTPAdapter(pc.ID, pc.BaseURL)); errRegister != nil {
				return errRegister
			}
			continue
		}
		desc, errDesc := provider.NewDaemonProvider(pc.ID, tier, pc.Models, pc.Priority, pc.Specialties...)
		if errDesc != nil {
			return fmt.Errorf("provider %s: %w", pc.ID, errDesc)
		}
		if errRegister := registry.Register(desc, provider.NewHTTPAdapter(pc.ID, pc.BaseURL)); errRegister != nil {
			return errRegister
		}
	}
	return nil
}
