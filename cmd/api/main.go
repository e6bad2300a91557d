package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/api"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/auth"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/config"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/fcm"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/repository"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Starting goalkeeper notification core",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
	)

	// Initialize database
	ctx := context.Background()
	db, err := initDatabase(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Connected to database")

	// Change feed listener: the store's subscribe primitive.
	workerCtx, workerCancel := context.WithCancel(ctx)
	listener := repository.NewListener(db, logger)
	listener.Start(workerCtx)

	repo := repository.NewPostgresRepository(db, listener)
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessExpiry)

	// Initialize Firebase; without it delivery stays in-app only.
	var sender domain.PushSender
	fcmClient, err := fcm.NewClient(ctx, logger, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Warn("Failed to initialize Firebase client - push notifications will be disabled", zap.Error(err))
	} else {
		logger.Info("Firebase client initialized")
		sender = fcmClient
	}

	// Initialize services
	store := domain.NewNotificationStore(repo, listener, logger)
	gate := domain.NewPreferenceGate(repo, logger)
	dispatcher := domain.NewDeliveryDispatcher(gate, repo, sender, logger)
	contractService := domain.NewContractService(repo, store, dispatcher, cfg.Contracts.TTL, logger)
	lobbyEngine := domain.NewFullLobbyEngine(repo, store, dispatcher, logger)

	if err := lobbyEngine.Start(workerCtx); err != nil {
		logger.Fatal("Failed to start full-lobby engine", zap.Error(err))
	}

	// Background sweeps
	contractService.StartExpiryWorker(workerCtx, cfg.Contracts.SweepInterval)
	store.StartMaintenanceWorker(workerCtx, cfg.Notifications.SweepInterval, cfg.Notifications.ArchiveAge, cfg.Notifications.PurgeAge)

	// Initialize WebSocket manager
	wsManager := api.NewWebSocketManager(logger)
	go wsManager.Run()

	// Initialize handlers
	notificationHandler := api.NewNotificationHandler(store, logger)
	contractHandler := api.NewContractHandler(contractService, logger)
	lobbyHandler := api.NewLobbyHandler(lobbyEngine, logger)
	deviceHandler := api.NewDeviceHandler(dispatcher, gate, logger)
	wsHandler := api.NewWSHandler(wsManager, listener, store, logger)
	healthHandler := api.NewHealthHandler(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return db.Ping(pingCtx)
	})

	// Initialize router
	router := api.NewRouter(notificationHandler, contractHandler, lobbyHandler, deviceHandler, wsHandler, healthHandler, jwtManager, logger)
	r := router.Setup()

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop listener and sweeps
	workerCancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func initDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
