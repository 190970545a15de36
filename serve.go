package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"contractflow/internal/api"
	"contractflow/internal/auth"
	"contractflow/internal/blob"
	"contractflow/internal/pipeline"
	"contractflow/internal/readcache"
	"contractflow/internal/redis"
	"contractflow/internal/service/ai"
	"contractflow/internal/service/audit"
	"contractflow/internal/service/contracts"
	"contractflow/internal/service/users"
	"contractflow/internal/worker"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 30 * time.Second

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("opening database", "db", dbType())
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	health := map[string]api.HealthCheck{
		"database": func(ctx context.Context) error { return db.PingContext(ctx) },
	}

	// without redis the token cache is skipped and the read cache stays in process
	var remote readcache.Store
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		slog.Warn("redis unavailable, continuing without shared cache", "error", err)
	} else {
		defer rdb.Close()
		remote = rdb
		health["redis"] = rdb.Ping
	}

	cache := readcache.New(remote, cfg.Cache.LocalSize, time.Duration(cfg.Cache.LocalTTLSeconds)*time.Second)
	userService := users.NewService(db)
	contractService := contracts.NewService(db, cache, time.Duration(cfg.Cache.DetailTTLSeconds)*time.Second)
	authService := auth.NewService(db, rdb, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)

	registry, err := ai.NewRegistryFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init ai providers: %w", err)
	}
	slog.Info("ai providers ready", "providers", registry.IDs())

	var archive pipeline.Archiver
	if cfg.Storage.Enabled {
		store, err := blob.NewStore(cfg.Storage)
		if err != nil {
			return fmt.Errorf("init object storage: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
		archive = store
		health["object_storage"] = store.Ping
	}

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})

	reapCtx, reapCancel := context.WithCancel(context.Background())
	defer reapCancel()
	contractService.StartStaleReaper(reapCtx, contracts.DefaultReapInterval, contracts.DefaultStaleAfter)

	handler := api.NewHandler(api.Deps{
		Auth:      authService,
		Resets:    auth.NewResetTokens(cfg.Auth.ResetSecret, time.Duration(cfg.Auth.ResetTTLMinutes)*time.Minute),
		Mailer:    auth.LogMailer{Logger: slog.Default()},
		Users:     userService,
		Contracts: contractService,
		Audit:     audit.NewService(db),
		Ingestor:  pipeline.New(contractService, registry, dispatcher, archive),
		Health:    health,
	}, api.Options{
		MaxUploadBytes: int64(cfg.BasicConfig.MaxUploadMB) << 20,
		PublicBaseURL:  cfg.BasicConfig.PublicBaseURL,
		AuthRateLimit:  cfg.Auth.AuthRateLimit,
		AuthRateWindow: time.Duration(cfg.Auth.AuthRateWindowSecond) * time.Second,
	})

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	// queued analyses still commit their terminal state
	running, idle := dispatcher.Stats()
	slog.Info("draining workers", "running", running, "idle", idle)
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker shutdown", "error", err)
	}
	reapCancel()
	return nil
}
