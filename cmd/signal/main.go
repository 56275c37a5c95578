package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callnet/internal/core/services"
	httphandlers "callnet/internal/handlers/http"
	"callnet/internal/infrastructure/middleware"
	"callnet/internal/infrastructure/monitoring"
	signalinfra "callnet/internal/infrastructure/signal"
	"callnet/pkg/config"
	"callnet/pkg/logger"
	"callnet/pkg/tracing"

	"github.com/gin-gonic/gin"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zapLogger := logger.New("info")
		zapLogger.Sugar().Fatalw("failed to load configuration", "path", *configPath, "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "callnet-signal",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: "production",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	collector := monitoring.NewPrometheusCollector()

	serverCfg := signalinfra.ServerConfig{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		serverCfg.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		serverCfg.Burst = cfg.RateLimiting.WebSocket.Burst
		serverCfg.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}
	wsServer := signalinfra.NewWebSocketServer(authService, serverCfg, collector, log)

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

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"clients":   len(wsServer.ConnectedUsers()),
		})
	})
	router.GET("/ready", gin.WrapF(wsServer.HealthCheck))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(collector.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	if cfg.Auth.IssueTokens {
		httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL).SetupRoutes(router)
		log.Warn("development token issuing enabled on /api/v1/auth/token")
	}

	// WriteTimeout stays unset: upgraded sockets outlive any request deadline.
	srv := &http.Server{
		Addr:        cfg.Signal.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting callnet signaling server on %s", cfg.Signal.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down callnet signaling server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer shutdownCancel()

	// hijacked connections are not tracked by http.Server
	wsServer.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("callnet signaling server stopped")
}
