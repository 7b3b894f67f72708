package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
	"meshpad/internal/core/services"
	httphandlers "meshpad/internal/handlers/http"
	snapshots "meshpad/internal/infrastructure/backup"
	bus "meshpad/internal/infrastructure/distributed"
	"meshpad/internal/infrastructure/middleware"
	"meshpad/internal/infrastructure/monitoring"
	repositories "meshpad/internal/infrastructure/repositories"
	signalserver "meshpad/internal/infrastructure/signal"
	"meshpad/pkg/backup"
	"meshpad/pkg/config"
	"meshpad/pkg/distributed"
	"meshpad/pkg/logger"
	"meshpad/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const adminCacheTTL = 5 * time.Second

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/meshpad/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Initialize repositories
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	roomRepo := repoFactory.CreateRoomRepository()
	presenceRepo := repoFactory.CreatePresenceRepository()

	// Initialize services
	roomService := services.NewRoomService(roomRepo, presenceRepo, cfg.Rooms.MaxPeers, cfg.Rooms.StaleAfter)
	adminRooms := services.NewCachedRoomService(roomService, adminCacheTTL)
	authService := services.NewAuthService(services.AuthConfig{
		JWTSecret:     cfg.Auth.JWTSecret,
		AdminUsername: cfg.Auth.AdminUsername,
		AdminPassword: cfg.Auth.AdminPassword,
		TokenTTL:      cfg.Auth.AccessTokenTTL,
	})

	// Initialize monitoring
	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector()
	}

	// Cross-instance envelope bus when backed by Redis
	instanceID := buildInstanceID()
	var envelopeBus signalserver.EnvelopeBus
	if rc := repoFactory.RedisClient(); rc != nil {
		envelopeBus = bus.NewRedisEnvelopeBus(rc, instanceID, log)
		log.Infow("envelope bus enabled", "instance_id", instanceID)
	}

	// Initialize signaling server
	srv := signalserver.NewServer(roomService, envelopeBus, collector, log)
	srv.SetAllowedOrigins(cfg.Auth.AllowedOrigins)
	if cfg.RateLimiting.Enabled {
		srv.SetMessageRate(cfg.RateLimiting.WebSocket.MessagesPerSecond, cfg.RateLimiting.WebSocket.Burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if envelopeBus != nil {
		go func() {
			if err := srv.ConsumeBus(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("envelope bus consumer stopped", "error", err)
			}
		}()
	}

	// Periodic stale room sweep, held behind a distributed lock when
	// several instances share one Redis.
	go runRoomReaper(ctx, roomService, repoFactory.RedisClient(), cfg.Rooms.CleanupInterval, log)

	// Room state snapshots
	var (
		backupHandler   *httphandlers.BackupHandler
		backupScheduler *snapshots.Scheduler
	)
	if cfg.Backup.Enabled {
		storage, err := backup.NewFileStorage(cfg.Backup.Directory)
		if err != nil {
			log.Fatalw("failed to prepare snapshot storage", "error", err)
		}
		snapshotSvc := backup.NewService(storage, "1")
		backupScheduler = snapshots.NewScheduler(snapshotSvc, roomRepo, snapshots.Config{
			Interval:  cfg.Backup.Interval,
			Retention: cfg.Backup.Retention,
		}, log)
		restoreSvc := snapshots.NewRestoreService(snapshotSvc, roomRepo, log)
		backupHandler = httphandlers.NewBackupHandler(snapshotSvc, backupScheduler, restoreSvc)

		go backupScheduler.Start(ctx)
		log.Infow("room snapshots enabled",
			"directory", cfg.Backup.Directory,
			"interval", cfg.Backup.Interval,
		)
	}

	// Health checks
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRepositoryCheck(roomRepo, 15*time.Second, 2*time.Second)
	if rc := repoFactory.RedisClient(); rc != nil {
		healthChecker.AddRedisCheck(rc, 15*time.Second, 2*time.Second)
	}

	// Initialize HTTP handlers
	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL)
	roomHandler := httphandlers.NewRoomHandler(adminRooms)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	// Setup auth routes (public)
	authHandler.SetupRoutes(router)

	// Setup admin routes with authentication
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authService), middleware.RequireRole(domain.RoleAdmin))
	{
		api.GET("/rooms", roomHandler.ListRooms)
		api.GET("/rooms/:id", roomHandler.GetRoom)
		api.DELETE("/rooms/:id", roomHandler.DeleteRoom)

		if backupHandler != nil {
			api.GET("/backups", backupHandler.ListSnapshots)
			api.POST("/backups", backupHandler.CreateSnapshot)
			api.POST("/backups/restore", backupHandler.RestoreSnapshot)
		}
	}

	// Signaling websocket
	router.GET(cfg.Signal.Path, middleware.NewWebSocketRateLimitMiddleware(cfg), gin.WrapF(srv.HandleWebSocket))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	// Readiness endpoint
	router.GET("/ready", func(c *gin.Context) {
		readyCtx, readyCancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer readyCancel()

		if !healthChecker.IsReady(readyCtx) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("prometheus metrics enabled")
	}

	// Create HTTP server with timeouts
	httpSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting meshpad signaling server", "address", cfg.Server.Address, "ws_path", cfg.Signal.Path)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Announce shutdown to connected peers before the listener closes.
	srv.Shutdown(shutdownCtx)
	cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := httpSrv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	adminRooms.Stop()
	if backupScheduler != nil {
		backupScheduler.Stop()
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracing", "error", err)
	}

	log.Info("meshpad signaling server stopped")
}

func buildInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "meshpad"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
}

// runRoomReaper sweeps stale rooms on a fixed interval. With Redis the
// sweep runs under a distributed lock so only one instance reaps per
// cycle.
func runRoomReaper(
	ctx context.Context,
	rooms ports.RoomService,
	redisClient *redis.Client,
	interval time.Duration,
	log *zap.SugaredLogger,
) {
	if interval <= 0 {
		return
	}

	var lockManager *distributed.LockManager
	if redisClient != nil {
		lockManager = distributed.NewLockManager(redisClient, "meshpad:lock")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reapOnce(ctx, rooms, lockManager, interval, log)
		}
	}
}

func reapOnce(
	ctx context.Context,
	rooms ports.RoomService,
	lockManager *distributed.LockManager,
	lockTTL time.Duration,
	log *zap.SugaredLogger,
) {
	if lockManager != nil {
		lock := lockManager.AcquireLock("room-reaper", lockTTL)
		acquired, err := lock.TryLock(ctx)
		if err != nil {
			log.Warnw("reaper lock unavailable", "error", err)
			return
		}
		if !acquired {
			// Another instance reaps this cycle.
			return
		}
		defer lock.Unlock(context.Background())
	}

	evicted, err := rooms.ReapStaleRooms(ctx)
	if err != nil {
		log.Warnw("stale room sweep failed", "error", err)
		return
	}
	if evicted > 0 {
		log.Infow("stale rooms reaped", "count", evicted)
	}
}
