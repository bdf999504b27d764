package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohamedkhairy/session-features/internal/config"
	"github.com/mohamedkhairy/session-features/internal/enricher"
	"github.com/mohamedkhairy/session-features/internal/pipeline"
	"github.com/mohamedkhairy/session-features/internal/pubsub"
	"github.com/mohamedkhairy/session-features/internal/storage"
	"github.com/mohamedkhairy/session-features/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting session enricher service",
		logger.String("port", fmt.Sprintf("%d", cfg.Enricher.Port)),
		logger.String("health_port", fmt.Sprintf("%d", cfg.Enricher.HealthCheckPort)),
		logger.String("bar_stream", cfg.Enricher.BarStream),
		logger.String("enriched_stream", cfg.Enricher.EnrichedStream),
		logger.String("zone", cfg.Session.Zone),
	)

	// Initialize Redis client
	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client",
			logger.ErrorField(err),
		)
	}
	defer redisClient.Close()

	// Initialize TimescaleDB client
	dbConfig := storage.DBConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
	writeConfig := storage.WriteConfig{
		BatchSize:  cfg.Enricher.DBWriteBatchSize,
		Interval:   cfg.Enricher.DBWriteInterval,
		QueueSize:  cfg.Enricher.DBWriteQueueSize,
		MaxRetries: cfg.Enricher.DBMaxRetries,
		RetryDelay: cfg.Enricher.DBRetryDelay,
	}
	dbClient, err := storage.NewTimescaleDBClient(dbConfig, writeConfig)
	if err != nil {
		logger.Fatal("Failed to initialize TimescaleDB client",
			logger.ErrorField(err),
		)
	}
	defer dbClient.Close()

	// Start TimescaleDB write queue processor
	if err := dbClient.Start(); err != nil {
		logger.Fatal("Failed to start TimescaleDB client",
			logger.ErrorField(err),
		)
	}

	// Initialize the enrichment pipeline
	pipe, err := pipeline.New(cfg.Pipeline())
	if err != nil {
		logger.Fatal("Invalid pipeline configuration",
			logger.ErrorField(err),
		)
	}

	// Initialize the enriched-bar publisher
	publisherConfig := pubsub.DefaultStreamPublisherConfig(cfg.Enricher.EnrichedStream)
	publisherConfig.BatchSize = cfg.Enricher.BatchSize
	publisher := pubsub.NewStreamPublisher(redisClient, publisherConfig)
	publisher.Start()
	defer publisher.Close()

	// Initialize the enricher service
	serviceConfig := enricher.Config{
		WindowSize:        cfg.Enricher.WindowSize,
		RecomputeInterval: cfg.Enricher.RecomputeInterval,
	}
	service, err := enricher.New(serviceConfig, pipe, publisher, dbClient)
	if err != nil {
		logger.Fatal("Failed to initialize enricher service",
			logger.ErrorField(err),
		)
	}
	if err := service.Start(); err != nil {
		logger.Fatal("Failed to start enricher service",
			logger.ErrorField(err),
		)
	}
	defer service.Stop()

	// Initialize stream consumer
	consumerConfig := pubsub.DefaultStreamConsumerConfig(
		cfg.Enricher.BarStream,
		cfg.Enricher.ConsumerGroup,
		fmt.Sprintf("enricher-%d", os.Getpid()),
	)
	consumerConfig.BatchSize = cfg.Enricher.BatchSize

	consumer := pubsub.NewStreamConsumer(redisClient, consumerConfig)
	consumer.SetHandler(service)

	// Start stream consumer
	if err := consumer.Start(); err != nil {
		logger.Fatal("Failed to start stream consumer",
			logger.ErrorField(err),
		)
	}
	defer consumer.Stop()

	logger.Info("Session enricher service started",
		logger.String("stream", cfg.Enricher.BarStream),
		logger.String("consumer_group", cfg.Enricher.ConsumerGroup),
		logger.Int("window_size", cfg.Enricher.WindowSize),
	)

	// Setup health and metrics server
	var wg sync.WaitGroup
	healthRouter := setupHealthAndMetricsServer(service, consumer, dbClient)
	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Enricher.HealthCheckPort),
		Handler:      healthRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting health and metrics server",
			logger.Int("port", cfg.Enricher.HealthCheckPort),
		)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health and metrics server failed",
				logger.ErrorField(err),
			)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down session enricher service")

	// Shut down HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Health server shutdown failed", logger.ErrorField(err))
	}

	wg.Wait()

	// Stop the consumer first so no new bars arrive, then let the
	// service run its final recompute pass and flush the publisher
	consumer.Stop()
	service.Stop()
	if err := publisher.Flush(); err != nil {
		logger.Error("Final publisher flush failed", logger.ErrorField(err))
	}

	logger.Info("Session enricher service stopped")
}

// setupHealthAndMetricsServer sets up HTTP endpoints for health checks and metrics
func setupHealthAndMetricsServer(
	service *enricher.Service,
	consumer *pubsub.StreamConsumer,
	dbClient *storage.TimescaleDBClient,
) *mux.Router {
	router := mux.NewRouter()

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		processed, acked, failed := consumer.GetStats()
		healthStatus := map[string]interface{}{
			"status":    "UP",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks": map[string]interface{}{
				"consumer": map[string]interface{}{
					"status":    "ok",
					"running":   consumer.IsRunning(),
					"processed": processed,
					"acked":     acked,
					"failed":    failed,
				},
				"enricher": map[string]interface{}{
					"status":     "ok",
					"running":    service.IsRunning(),
					"window_len": service.WindowLen(),
				},
				"database": map[string]interface{}{
					"status":  "ok",
					"running": dbClient.IsRunning(),
				},
			},
		}

		if !consumer.IsRunning() || !service.IsRunning() || !dbClient.IsRunning() {
			status = http.StatusServiceUnavailable
			healthStatus["status"] = "DOWN"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(healthStatus)
	}).Methods("GET")

	// Readiness probe
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if consumer.IsRunning() && service.IsRunning() && dbClient.IsRunning() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("READY"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
		}
	}).Methods("GET")

	// Liveness probe
	router.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("LIVE"))
	}).Methods("GET")

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	return router
}
