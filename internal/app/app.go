// Package app wires configuration, storage, the cluster adapter, and
// the HTTP surface into a runnable application.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hjimin027/kubdev-auto-system/internal/api/handlers"
	"github.com/hjimin027/kubdev-auto-system/internal/api/middleware"
	"github.com/hjimin027/kubdev-auto-system/internal/batch"
	"github.com/hjimin027/kubdev-auto-system/internal/config"
	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	"github.com/hjimin027/kubdev-auto-system/internal/lifecycle"
	"github.com/hjimin027/kubdev-auto-system/internal/manifest"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/logger"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/metrics"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/worker"
	"github.com/hjimin027/kubdev-auto-system/internal/provider"
	"github.com/hjimin027/kubdev-auto-system/internal/quota"
	"github.com/hjimin027/kubdev-auto-system/internal/repository"
	"github.com/hjimin027/kubdev-auto-system/internal/service"
	"github.com/hjimin027/kubdev-auto-system/internal/stack"
)

// expireSweepInterval paces the background TTL sweep.
const expireSweepInterval = time.Minute

// App holds the wired application.
type App struct {
	Router *gin.Engine

	store   *repository.Store
	manager *lifecycle.Manager
	pools   *worker.Pools
}

// Bootstrap builds the full dependency graph from configuration.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := repository.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	clientset, err := provider.NewClientset(cfg.Cluster.KubeconfigPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("cluster client: %w", err)
	}
	adapter := provider.NewKubernetesAdapter(clientset, cfg.Cluster.OperationTimeout)

	// The cluster pool bounds concurrent adapter calls; batch fan-out
	// runs on it, so batch.concurrency caps its size.
	clusterPoolSize := cfg.Worker.ClusterPoolSize
	if cfg.Batch.Concurrency < clusterPoolSize {
		clusterPoolSize = cfg.Batch.Concurrency
	}
	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		ClusterPoolSize: clusterPoolSize,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("worker pools: %w", err)
	}

	m := metrics.New()
	builder := manifest.NewBuilder(cfg.Cluster.IngressDomain)
	compiler := stack.NewCompiler(cfg.Cluster.Registry)
	governor := quota.NewGovernor(domain.QuotaPolicy{
		CPUMillis:    cfg.Quota.CeilingCPUMillis,
		MemoryBytes:  cfg.Quota.CeilingMemoryBytes,
		StorageBytes: cfg.Quota.CeilingStorageBytes,
		MaxPods:      cfg.Quota.CeilingMaxPods,
		MaxServices:  cfg.Quota.CeilingMaxServices,
	}, cfg.Quota.WarningRatio, cfg.Quota.CriticalRatio)

	manager := lifecycle.NewManager(store, adapter, builder, compiler, governor, m, lifecycle.Config{
		Retry: lifecycle.RetryPolicy{
			BaseDelay:   cfg.Lifecycle.Retry.BaseDelay,
			Multiplier:  cfg.Lifecycle.Retry.Multiplier,
			MaxAttempts: cfg.Lifecycle.Retry.MaxAttempts,
		},
		ProvisionWindow: cfg.Lifecycle.ProvisionWindow,
		DefaultTTL:      cfg.Lifecycle.DefaultTTL,
	})

	users := service.NewUserService(store)
	coordinator := batch.NewCoordinator(manager, store, users, pools, m, cfg.Batch.MaxItems)

	server := handlers.NewServer(handlers.ServerDeps{
		Store:       store,
		Manager:     manager,
		Coordinator: coordinator,
		Adapter:     adapter,
		Governor:    governor,
		Compiler:    compiler,
		Users:       users,
		Pools:       pools,
		Metrics:     m,
		JWTCfg: middleware.JWTConfig{
			SigningKey: []byte(cfg.Security.JWTSecret),
			Issuer:     cfg.Security.JWTIssuer,
			ExpiresIn:  cfg.Security.TokenTTL,
		},
	})

	return &App{
		Router:  server.Router(),
		store:   store,
		manager: manager,
		pools:   pools,
	}, nil
}

// Start launches background services: the TTL expiry sweep.
func (a *App) Start(context.Context) error {
	return a.pools.SubmitDetached("general", func(ctx context.Context) {
		ticker := time.NewTicker(expireSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				initiated, err := a.manager.ExpireSweep(ctx, now)
				if err != nil {
					logger.Error("expiry sweep failed", zap.Error(err))
					continue
				}
				if initiated > 0 {
					logger.Info("expiry sweep initiated deletions", zap.Int("count", initiated))
				}
			}
		}
	})
}

// Shutdown releases pools and storage.
func (a *App) Shutdown() {
	a.pools.Shutdown()
	if err := a.store.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
}
