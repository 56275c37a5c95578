package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"
	"callnet/internal/core/services"
	httphandlers "callnet/internal/handlers/http"
	"callnet/internal/infrastructure/distributed"
	"callnet/internal/infrastructure/middleware"
	"callnet/internal/infrastructure/monitoring"
	"callnet/internal/infrastructure/notify"
	"callnet/internal/infrastructure/reliability"
	"callnet/internal/infrastructure/repositories"
	redisrepo "callnet/internal/infrastructure/repositories/redis"
	signalinfra "callnet/internal/infrastructure/signal"
	webrtcinfra "callnet/internal/infrastructure/webrtc"
	"callnet/pkg/config"
	apperrors "callnet/pkg/errors"
	"callnet/pkg/logger"
	"callnet/pkg/retry"
	"callnet/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New("info").Sugar().Fatalw("failed to load configuration", "path", *configPath, "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "callnet-agent",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: "production",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	identity, err := services.NewTokenIdentity(authService, cfg.Identity.Token)
	if err != nil {
		log.Fatalw("identity token rejected", "error", err)
	}
	user, _ := identity.CurrentUserID(context.Background())
	log = log.With("user_id", user)
	instanceID := uuid.New().String()

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	callRepo := repoFactory.CreateCallRepository(user)
	favoriteRepo := repoFactory.CreateFavoriteRepository()

	sinks := []ports.Notifier{notify.NewLogNotifier(log)}
	var (
		eventBus *distributed.EventBus
		registry *distributed.AgentRegistry
	)
	if repoFactory.UsesRedis() {
		client := repoFactory.RedisClient()

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := redisrepo.Migrate(migrateCtx, client, log); err != nil {
			log.Fatalw("redis migrations failed", "error", err)
		}
		cancel()

		registry = distributed.NewAgentRegistry(client, instanceID, 0, log)
		if err := registry.Register(context.Background(), user, cfg.Server.Address); err != nil {
			if errors.Is(err, distributed.ErrAgentRunning) {
				log.Fatalw("refusing to start a second agent for this user", "error", err)
			}
			log.Fatalw("failed to register agent", "error", err)
		}

		eventBus = distributed.NewEventBus(client, instanceID, log)
		sinks = append(sinks, eventBus)
	}
	notifier := notify.NewMultiNotifier(sinks...)

	collector := monitoring.NewPrometheusCollector()

	dialRetry := retry.DefaultConfig()
	dialRetry.MaxAttempts = cfg.Reliability.MaxAttempts
	dialRetry.InitialDelay = cfg.Reliability.InitialDelay
	dialRetry.MaxDelay = cfg.Reliability.MaxDelay

	transport := signalinfra.NewWebSocketClient(signalinfra.ClientConfig{
		URL:          cfg.Signal.URL,
		Token:        identity.Token(),
		PingInterval: cfg.Signal.PingInterval,
		PongTimeout:  cfg.Signal.PongTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,
		DialTimeout:  cfg.Signal.DialTimeout,
		Retry:        dialRetry,
	}, log)

	sessions := webrtcinfra.NewSessionFactory(webrtcinfra.ConfigFrom(cfg), nil, log)

	opts := services.DefaultCallControllerOptions()
	opts.RingTimeout = cfg.Call.RingTimeout
	opts.TickInterval = cfg.Call.TickInterval
	opts.PresenceRetry = cfg.Call.PresenceRetry
	controller := services.NewCallController(identity, transport, sessions, callRepo, notifier, collector, opts, log)

	runCtx, stopRun := context.WithCancel(context.Background())
	controllerDone := make(chan error, 1)
	go func() {
		controllerDone <- controller.Run(runCtx)
	}()

	if eventBus != nil {
		go publishCallUpdates(controller, eventBus, user, log)
	}

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRepositoryCheck(callRepo, 30*time.Second, 2*time.Second)
	healthChecker.AddSignalingCheck(transport.Connected, func() bool { return opts.StayConnected }, 30*time.Second, time.Second)
	if guarded, ok := callRepo.(*reliability.CallRepositoryWrapper); ok {
		healthChecker.AddBreakerCheck(guarded.BreakerState, 30*time.Second, time.Second)
	}
	if repoFactory.UsesRedis() {
		healthChecker.AddRedisCheck(repoFactory.RedisClient(), 30*time.Second, 2*time.Second)
	}

	callHandler := httphandlers.NewCallHandler(
		controller,
		services.NewHistoryService(callRepo, favoriteRepo, cfg.Call.HistoryLimit, log),
		services.NewFavoritesService(callRepo, favoriteRepo, log),
		authService,
		cfg.Auth.AllowedOrigins,
		log,
	)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	router.GET("/health", func(c *gin.Context) {
		ready, _ := controller.EngineReady(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"timestamp":    time.Now(),
			"uptime":       time.Since(startTime).String(),
			"engine_ready": ready,
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := healthChecker.GetReadinessStatus(ctx)
		if ready, err := controller.EngineReady(ctx); err != nil || !ready {
			status.Status = "unhealthy"
			status.Checks["media_engine"] = "not initialized"
		} else {
			status.Checks["media_engine"] = "healthy"
		}

		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(collector.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	api := router.Group("/api/v1",
		middleware.AuthMiddleware(authService),
		middleware.OwnerMiddleware(user),
	)
	callHandler.SetupRoutes(api)

	// media engine retries are driven by the operator through this endpoint
	api.POST("/engine/retry", func(c *gin.Context) {
		if err := controller.RetryInitialization(); err != nil {
			_ = c.Error(apperrors.NewServiceUnavailableError(err.Error()))
			return
		}
		c.Status(http.StatusAccepted)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting callnet agent on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var leaseLost <-chan struct{}
	if registry != nil {
		leaseLost = registry.Lost()
	}

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case err := <-controllerDone:
		log.Errorw("Call controller stopped", "error", err)
		controllerDone <- err
	case <-leaseLost:
		log.Error("Agent lease lost, shutting down")
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down callnet agent...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// ends every live call and closes update streams before the listener goes away
	stopRun()
	select {
	case err := <-controllerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("Call controller exited with error", "error", err)
		}
	case <-shutdownCtx.Done():
		log.Warn("Call controller did not stop in time")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := transport.Close(); err != nil {
		log.Errorw("Error closing signaling transport", "error", err)
	}
	if eventBus != nil {
		if err := eventBus.Close(); err != nil {
			log.Errorw("Error closing event bus", "error", err)
		}
	}
	if registry != nil {
		if err := registry.Unregister(shutdownCtx); err != nil {
			log.Errorw("Error unregistering agent", "error", err)
		}
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("callnet agent stopped")
}

// publishCallUpdates mirrors controller updates onto the event bus until the
// controller stops, so the final ENDED and MISSED snapshots still go out.
func publishCallUpdates(controller *services.CallController, bus *distributed.EventBus, owner domain.UserID, log *zap.SugaredLogger) {
	updates, cancel := controller.Subscribe()
	defer cancel()

	for update := range updates {
		call := update.Call
		ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := bus.PublishCallUpdated(ctx, owner, &call); err != nil {
			log.Warnw("failed to publish call update", "call_id", call.ID, "error", err)
		}
		stop()
	}
}
