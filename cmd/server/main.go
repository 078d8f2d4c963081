package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dm-service/internal/config"
	"dm-service/internal/database"
	"dm-service/internal/handler"
	"dm-service/internal/job"
	"dm-service/internal/metrics"
	"dm-service/internal/middleware"
	"dm-service/internal/presence"
	"dm-service/internal/repository"
	"dm-service/internal/router"
	"dm-service/internal/service"
	"dm-service/internal/websocket"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Starting DM Service",
		zap.Int("port", cfg.Server.Port),
		zap.String("env", cfg.Server.Env),
		zap.String("base_path", cfg.Server.BasePath),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("auth", cfg.Auth.JWTSecret != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Retry until the database answers or the process is signalled
	db, err := database.Connect(ctx, database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		Debug:           !cfg.IsProduction() && cfg.Log.Level == "debug",
	}, database.RetryPolicy{
		Min: cfg.Database.ConnectRetryMin,
		Max: cfg.Database.ConnectRetryMax,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// Redis presence mirror (optional)
	var mirror service.PresenceMirror
	var mirrorPing handler.Pinger
	if cfg.Redis.Enabled {
		redisClient, err := database.NewRedis(ctx, cfg.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, presence mirror disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			cache := repository.NewPresenceCache(redisClient)
			mirror, mirrorPing = cache, cache
		}
	}

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegistry(registry)

	var validator middleware.TokenValidator
	if cfg.Auth.JWTSecret != "" {
		validator = middleware.NewJWTValidator(cfg.Auth.JWTSecret)
	} else {
		logger.Warn("JWT secret not set, announced identities are trusted")
	}

	store := repository.NewStore(db)
	presenceRegistry := presence.NewRegistry()
	hub := websocket.NewHub(m, logger)

	presenceService := service.NewPresenceService(
		presenceRegistry,
		presence.NewDebouncer(cfg.Presence.DebounceDelay),
		store,
		hub,
		mirror,
		m,
		logger,
	)
	presenceService.SetStoreTimeout(cfg.Server.EventTimeout)

	dispatcher := websocket.NewDispatcher(websocket.DispatcherConfig{
		Presence:         presenceService,
		Delivery:         service.NewDeliveryService(store, presenceRegistry, hub, m, logger),
		Status:           service.NewStatusService(store, presenceRegistry, hub, service.DeleteScope(cfg.Messages.DeleteBroadcast), m, logger),
		Conversations:    service.NewConversationService(store, m),
		Notifier:         hub,
		MaxContentLength: cfg.Messages.MaxContentLength,
		Metrics:          m,
		Logger:           logger,
	})

	wsHandler := websocket.NewHandler(hub, dispatcher, validator, cfg.WebSocket.AllowedOrigins, websocket.Options{
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		EventsPerSecond: cfg.WebSocket.EventsPerSecond,
		EventBurst:      cfg.WebSocket.EventBurst,
		EventTimeout:    cfg.Server.EventTimeout,
	}, logger)

	// Presence sweep, once now and then on schedule
	scheduler, err := job.Schedule(cfg.Presence.SweepSchedule, job.NewPresenceSweepJob(presenceService, logger))
	if err != nil {
		logger.Fatal("Failed to schedule presence sweep", zap.Error(err))
	}
	scheduler.Start()

	r := router.Setup(router.Config{
		BasePath:       cfg.Server.BasePath,
		Logger:         logger,
		Metrics:        m,
		Gatherer:       registry,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		Validator:      validator,
		Health:         handler.NewHealthHandler(db, mirrorPing),
		Presence:       handler.NewPresenceHandler(presenceService),
		WebSocket:      wsHandler,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("DM Service started successfully", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	<-scheduler.Stop().Done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	hub.CloseAll()
	presenceService.Stop()

	logger.Info("Server exited gracefully")
}

// initLogger initializes the zap logger with the specified level and format
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoding := "json"
	encoderConfig := zap.NewProductionEncoderConfig()
	if format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      zapLevel == zapcore.DebugLevel,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}
