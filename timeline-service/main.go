package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"fadedreams/roadassist/internal/config"
	"fadedreams/roadassist/internal/logging"
	"fadedreams/roadassist/internal/mongodb"
	"fadedreams/roadassist/internal/registry"
	"fadedreams/roadassist/internal/tracing"
	"fadedreams/roadassist/timeline-service/kafka"
	"fadedreams/roadassist/timeline-service/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("timeline-service stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("timeline-service", 8084)
	if err != nil {
		return err
	}

	logger, logFile, err := logging.NewLogger(cfg.ServiceName, cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)
	logger.Info("Starting timeline-service", "timestamp", time.Now().Unix())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracing.Init(cfg.Tracing, cfg.ServiceName, logger)
	if err != nil {
		return err
	}
	defer shutdown()

	client, err := mongodb.Connect(cfg.Mongo, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	entries := store.NewMongoStore(client.Database(cfg.Mongo.Database))
	if err := entries.EnsureIndexes(ctx); err != nil {
		return err
	}

	var reg *registry.Registry
	if cfg.Consul.Enabled {
		reg, err = registry.New(cfg.Consul.Address, logger)
		if err != nil {
			return err
		}
	}

	brokers := reg.Resolve(ctx, cfg.Kafka.ConsulService, cfg.Kafka.BootstrapServers)
	consumer, err := kafka.NewConsumer(brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID,
		kafka.NewRegistrySchemas(cfg.Kafka.SchemaRegistryURL), entries, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()
	go func() {
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Kafka consumer failed", "error", err)
			stop()
		}
	}()

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.ServicePort),
		Handler:           router(cfg.ServiceName, client),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "port", cfg.ServicePort)
		serverErr <- server.ListenAndServe()
	}()

	if reg != nil {
		serviceID, err := reg.Register(cfg.ServiceName, cfg.ServiceHost, cfg.ServicePort)
		if err != nil {
			return err
		}
		defer reg.Deregister(serviceID)
	}

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down timeline-service")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// router serves the health check Consul polls. It reports unhealthy while
// MongoDB is unreachable.
func router(serviceName string, client *mongo.Client) *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware(serviceName))
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx, nil); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}
