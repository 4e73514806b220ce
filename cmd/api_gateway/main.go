package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/escrow-invite-ledger/internal/api_gateway"
	"github.com/escrow-invite-ledger/internal/api_gateway/middleware"
	"github.com/escrow-invite-ledger/internal/api_gateway/service"
	"github.com/escrow-invite-ledger/internal/config"
	"github.com/escrow-invite-ledger/internal/data/mongo"
	"github.com/escrow-invite-ledger/internal/data/postgres"
	"github.com/escrow-invite-ledger/internal/escrow/ledger"
	"github.com/escrow-invite-ledger/internal/escrow/notifier"
	escrow "github.com/escrow-invite-ledger/internal/escrow/service"
	"github.com/escrow-invite-ledger/internal/logger"
	"github.com/escrow-invite-ledger/internal/platform/auth"
	"github.com/escrow-invite-ledger/internal/platform/messaging/producers"
	"github.com/escrow-invite-ledger/internal/platform/metrics"
	"github.com/escrow-invite-ledger/internal/platform/persistence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

const rateLimitPrefix = "escrow:ratelimit"

func main() {
	configName := pflag.String("config", "api_gateway", "config file name under ./configs, without extension")
	pflag.Parse()

	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig(*configName)
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	// Initialize databases with app context. Migrations run inside NewPostgresDB.
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	redisClient, err := persistence.NewRedisClient(appCtx, log, &cfg.Redis)
	if err != nil {
		log.Error("Failed to initialize Redis", "error", err)
		os.Exit(1)
	}

	publisher, err := producers.NewNotificationPublisher(appCtx, log, cfg)
	if err != nil {
		log.Error("Failed to initialize notification publisher", "driver", cfg.Notification.Driver, "error", err)
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	dispatcher, err := notifier.NewDispatcher(publisher, cfg.Notification.PoolSize, cfg.Notification.PublishTimeout, m, log)
	if err != nil {
		log.Error("Failed to initialize notification dispatcher", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	accountRepo := postgres.NewAccountRepository(log, postgresDB)
	holdRepo := postgres.NewHoldRepository(log, postgresDB)
	entryRepo := postgres.NewLedgerRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	historyRepo := mongo.NewLedgerRepository(log, mongoDB.Database())

	// Initialize services
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	books := ledger.NewLedger(accountRepo, entryRepo, outboxRepo, log)
	engine := escrow.NewEngine(
		postgresDB,
		holdRepo,
		accountRepo,
		books,
		escrow.NewAccountResolver(accountRepo),
		dispatcher,
		m,
		escrow.PolicyFromConfig(&cfg.Escrow),
		log,
	)
	accountService := service.NewAccountService(accountRepo, historyRepo, tokens, log)

	// Initialize REST server
	server := api_gateway.NewServer(log, cfg, api_gateway.Dependencies{
		Accounts:  accountService,
		Transfers: engine,
		Tokens:    tokens,
		Limiter:   middleware.NewFixedWindowLimiter(redisClient, rateLimitPrefix, cfg.RateLimit.Requests, cfg.RateLimit.Window),
		Metrics:   m,
		Gatherer:  prometheus.DefaultGatherer,
		Probes: map[string]api_gateway.Probe{
			"postgres": postgresDB.Ping,
			"mongodb":  mongoDB.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Stop taking requests before the stores behind them go away
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	// Flush notifications already accepted by the dispatcher, then close the publisher
	if err = dispatcher.Close(cfg.Notification.PublishTimeout); err != nil {
		log.Error("Error closing notification publisher", "error", err)
	}

	postgresDB.Close()

	if err = redisClient.Close(); err != nil {
		log.Error("Error closing Redis client", "error", err)
	}

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
