package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/escrow-invite-ledger/internal/config"
	"github.com/escrow-invite-ledger/internal/data/mongo"
	"github.com/escrow-invite-ledger/internal/data/postgres"
	"github.com/escrow-invite-ledger/internal/escrow/delivery"
	"github.com/escrow-invite-ledger/internal/escrow/ledger"
	"github.com/escrow-invite-ledger/internal/escrow/mirror"
	"github.com/escrow-invite-ledger/internal/escrow/notifier"
	escrow "github.com/escrow-invite-ledger/internal/escrow/service"
	"github.com/escrow-invite-ledger/internal/escrow/sweeper"
	"github.com/escrow-invite-ledger/internal/logger"
	"github.com/escrow-invite-ledger/internal/platform/lease"
	"github.com/escrow-invite-ledger/internal/platform/messaging/consumers"
	"github.com/escrow-invite-ledger/internal/platform/messaging/producers"
	"github.com/escrow-invite-ledger/internal/platform/metrics"
	"github.com/escrow-invite-ledger/internal/platform/persistence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

func main() {
	configName := pflag.String("config", "escrow_worker", "config file name under ./configs, without extension")
	sweepOnce := pflag.Bool("sweep-once", false, "run a single expiry sweep and exit")
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

	log.Info("Starting Escrow Worker",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
		"sweep_once", *sweepOnce,
	)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
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

	engine := escrow.NewEngine(
		postgresDB,
		holdRepo,
		accountRepo,
		ledger.NewLedger(accountRepo, entryRepo, outboxRepo, log),
		escrow.NewAccountResolver(accountRepo),
		dispatcher,
		m,
		escrow.PolicyFromConfig(&cfg.Escrow),
		log,
	)

	sweepLease := lease.NewRedisLease(redisClient, log, cfg.Sweeper.LeaseKey, cfg.Sweeper.LeaseTTL)
	expirySweeper, err := sweeper.New(&cfg.Sweeper, holdRepo, engine, sweepLease, m, log)
	if err != nil {
		log.Error("Failed to initialize expiry sweeper", "error", err)
		os.Exit(1)
	}

	if *sweepOnce {
		report := expirySweeper.SweepOnce(appCtx)
		log.Info("Sweep finished",
			"scanned", report.Scanned,
			"expired", report.Expired,
			"superseded", report.Superseded,
			"failed", report.Failed,
			"skipped", report.Skipped,
		)
		expirySweeper.Close()
		if err := dispatcher.Close(cfg.Notification.PublishTimeout); err != nil {
			log.Error("Error closing notification publisher", "error", err)
		}
		_ = redisClient.Close()
		postgresDB.Close()
		if report.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}
	if err := mongo.EnsureLedgerIndexes(appCtx, log, mongoDB.Database()); err != nil {
		log.Error("Failed to ensure ledger history indexes", "error", err)
		os.Exit(1)
	}
	historyRepo := mongo.NewLedgerRepository(log, mongoDB.Database())

	// Initialize ledger mirror
	poller := mirror.NewPoller(
		&cfg.Outbox,
		outboxRepo,
		mirror.NewHistoryPublisher(outboxRepo, historyRepo, m, log),
		m,
		log,
	)

	// Delivery reads back the notification topic, so it only runs on the Kafka driver
	var (
		kafkaConsumer *consumers.KafkaConsumer
		dlqProducer   *producers.DLQProducer
	)
	if cfg.Notification.Driver == config.NotificationDriverKafka {
		dlqProducer, err = producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
		if err != nil {
			log.Error("Failed to initialize DLQ Kafka producer", "error", err)
			os.Exit(1)
		}
		var dlq producers.DeadLetterPublisher
		if dlqProducer != nil {
			dlq = dlqProducer
		}

		deliveryHandler := delivery.NewHandler(
			log,
			delivery.NewLogDeliverer(log, cfg.Notification.InviteLinkURL),
			engine,
			dlq,
		)
		kafkaConsumer = consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka)
		if err := kafkaConsumer.Subscribe(appCtx, deliveryHandler.HandleMessage); err != nil {
			log.Error("Failed to subscribe to notification topic", "error", err)
			os.Exit(1)
		}
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Create error channel for service errors
	errChan := make(chan error, 1)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		expirySweeper.Start(appCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Start(appCtx)
	}()

	go func() {
		log.Info("Starting metrics server", "port", cfg.Metrics.Port)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		if kafkaConsumer != nil {
			<-kafkaConsumer.Done()
		}
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	expirySweeper.Close()

	if err = dispatcher.Close(cfg.Notification.PublishTimeout); err != nil {
		log.Error("Error closing notification publisher", "error", err)
	}

	if dlqProducer != nil {
		if err = dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	if kafkaConsumer != nil {
		if err = kafkaConsumer.Close(); err != nil {
			log.Error("Error closing Kafka consumer", "error", err)
		}
	}

	if err = metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping metrics server", "error", err)
	}

	postgresDB.Close()

	if err = redisClient.Close(); err != nil {
		log.Error("Error closing Redis client", "error", err)
	}

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serviceErr != nil {
		log.Error("Escrow Worker shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Escrow Worker shutdown completed with errors")
	} else {
		log.Info("Escrow Worker shutdown completed successfully")
	}
}
