package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stellar-anchor-watch/internal/aggregation"
	"github.com/stellar-anchor-watch/internal/anchoring"
	"github.com/stellar-anchor-watch/internal/config"
	"github.com/stellar-anchor-watch/internal/data/mongo"
	"github.com/stellar-anchor-watch/internal/data/postgres"
	"github.com/stellar-anchor-watch/internal/ingestion"
	"github.com/stellar-anchor-watch/internal/logger"
	"github.com/stellar-anchor-watch/internal/outbox_poller"
	"github.com/stellar-anchor-watch/internal/platform/messaging/consumers"
	"github.com/stellar-anchor-watch/internal/platform/messaging/producers"
	"github.com/stellar-anchor-watch/internal/platform/persistence"
	"github.com/stellar-anchor-watch/internal/reputation"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("pipeline_worker")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Pipeline Worker",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	// Initialize databases with app context
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

	// Initialize repositories
	cursorRepo := postgres.NewCursorRepository(log, postgresDB)
	recordRepo := postgres.NewRecordRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	metricsRepo := postgres.NewMetricsRepository(log, postgresDB)
	assetRepo := postgres.NewAssetRepository(log, postgresDB)
	snapshotRepo := postgres.NewSnapshotRepository(log, postgresDB)
	historyRepo := mongo.NewHistoryRepository(log, mongoDB.Database())

	// Initialize the ingestion side: Horizon source, normalizer, committer
	source := ingestion.NewHorizonSource(log, &cfg.Horizon, cfg.Ingestion.MaxRetryElapsed)
	rates := ingestion.NewStaticRateSource(map[string]int64{
		"USDC": 100,
		"USDT": 100,
	})
	normalizer := ingestion.NewNormalizer(log, rates)
	committer := ingestion.NewPgBatchCommitter(postgresDB.Pool(), recordRepo, cursorRepo, outboxRepo, log)
	coordinator := ingestion.NewCoordinator(&cfg.Ingestion, source, normalizer, committer, cursorRepo, log)

	// Initialize Kafka producers
	batchProducer, err := producers.NewBatchEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize batch event producer", "error", err)
		os.Exit(1)
	}

	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	// dlqProducer might be nil if DLQTopic is not configured. The poller is nil-safe.

	// Initialize outbox poller
	batchPublisher := outbox_poller.NewKafkaBatchPublisher(outboxRepo, batchProducer, log)
	poller := outbox_poller.NewPoller(&cfg.Outbox, outboxRepo, batchPublisher, dlqProducer, log)

	// Initialize the aggregation engine and the reputation scorer
	engine, err := aggregation.NewEngine(&cfg.Aggregation, &cfg.WorkerPool, postgresDB.Pool(), metricsRepo, recordRepo, historyRepo, log)
	if err != nil {
		log.Error("Failed to initialize aggregation engine", "error", err)
		os.Exit(1)
	}

	reconciler := aggregation.NewReconciler(engine, metricsRepo, recordRepo, log)

	sourceChecker := reputation.NewStaticSourceChecker(nil, nil)
	scorer := reputation.NewScorer(&cfg.Reputation, postgresDB.Pool(), assetRepo, recordRepo, sourceChecker, log)

	// Initialize the anchoring pipeline. Without a configured contract
	// endpoint, local mode anchors against the in-memory contract.
	var contract anchoring.SnapshotContract
	if cfg.Anchoring.ContractURL != "" {
		contract = anchoring.NewSorobanContract(&cfg.Anchoring)
	} else {
		log.Warn("No contract endpoint configured, anchoring against in-memory contract")
		contract = anchoring.NewInMemoryContract(cfg.Anchoring.SubmitterKey)
	}
	pipeline := anchoring.NewPipeline(&cfg.Anchoring, metricsRepo, snapshotRepo, contract, log)

	// Initialize Kafka consumers, one group per downstream component so each
	// receives every batch event independently
	aggregationConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka)
	reputationConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka)

	// Schedule the periodic sweeps
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Aggregation.ReconcileSchedule, func() {
		if _, err := reconciler.Run(appCtx); err != nil {
			log.Error("Reconciliation sweep failed", "error", err)
		}
	}); err != nil {
		log.Error("Invalid reconciliation schedule", "schedule", cfg.Aggregation.ReconcileSchedule, "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc(cfg.Reputation.SweepSchedule, func() {
		if _, err := scorer.RunVerificationSweep(appCtx); err != nil {
			log.Error("Verification sweep failed", "error", err)
		}
	}); err != nil {
		log.Error("Invalid verification sweep schedule", "schedule", cfg.Reputation.SweepSchedule, "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc(cfg.Anchoring.Schedule, func() {
		if err := pipeline.Run(appCtx); err != nil {
			log.Error("Snapshot anchoring run failed", "error", err)
		}
	}); err != nil {
		log.Error("Invalid anchoring schedule", "schedule", cfg.Anchoring.Schedule, "error", err)
		os.Exit(1)
	}

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	// Start ingestion workers, one per task
	if err := coordinator.Start(appCtx, &wg); err != nil {
		log.Error("Failed to start ingestion coordinator", "error", err)
		os.Exit(1)
	}

	// Start outbox poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Outbox Poller",
			"interval", cfg.Outbox.PollingInterval.String(),
			"batch_size", cfg.Outbox.BatchSize,
		)
		poller.Start(appCtx)
	}()

	// Start the aggregation consumer in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		groupID := cfg.Kafka.ConsumerGroup + "-aggregation"
		log.Info("Starting aggregation consumer", "topic", cfg.Kafka.BatchTopic, "group", groupID)
		if err := aggregationConsumer.Subscribe(appCtx, cfg.Kafka.BatchTopic, groupID, engine.HandleBatchEvent); err != nil {
			errChan <- fmt.Errorf("aggregation consumer error: %w", err)
		}
	}()

	// Start the reputation consumer in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		groupID := cfg.Kafka.ConsumerGroup + "-reputation"
		log.Info("Starting reputation consumer", "topic", cfg.Kafka.BatchTopic, "group", groupID)
		if err := reputationConsumer.Subscribe(appCtx, cfg.Kafka.BatchTopic, groupID, scorer.HandleBatchEvent); err != nil {
			errChan <- fmt.Errorf("reputation consumer error: %w", err)
		}
	}()

	scheduler.Start()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
	}

	// Cancel the application context
	cancelAppCtx()

	// Stop the scheduler and wait for any in-flight scheduled run
	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	// Free the aggregation worker pool
	engine.Release()

	// Close Kafka producers
	if err = batchProducer.Close(); err != nil {
		log.Error("Error closing batch event producer", "error", err)
	}
	if dlqProducer != nil { // dlqProducer can be nil if DLQTopic was not configured
		if err = dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	// Close Kafka consumers
	if err = aggregationConsumer.Close(); err != nil {
		log.Error("Error closing aggregation consumer", "error", err)
	}
	if err = reputationConsumer.Close(); err != nil {
		log.Error("Error closing reputation consumer", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Close MongoDB connection
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	log.Info("Pipeline Worker stopped")
}
