package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc/reflection"

	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/internal/config"
	"fadedreams/roadassist/internal/logging"
	"fadedreams/roadassist/internal/mongodb"
	"fadedreams/roadassist/internal/registry"
	"fadedreams/roadassist/internal/tracing"
	"fadedreams/roadassist/request-service/domain"
	"fadedreams/roadassist/request-service/grpcsvc"
	"fadedreams/roadassist/request-service/handlers"
	"fadedreams/roadassist/request-service/kafka"
	"fadedreams/roadassist/request-service/service"
	"fadedreams/roadassist/request-service/summarizer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("request-service stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("request-service", 8083)
	if err != nil {
		return err
	}
	if err := cfg.RequireAuth(); err != nil {
		return err
	}

	// Initialize structured logging
	logger, logFile, err := logging.NewLogger(cfg.ServiceName, cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)
	logger.Info("Starting request-service", "timestamp", time.Now().Unix())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracing.Init(cfg.Tracing, cfg.ServiceName, logger)
	if err != nil {
		return err
	}
	defer shutdown()

	// Connect to MongoDB with retries
	client, err := mongodb.Connect(cfg.Mongo, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	repo := domain.NewMongoRepository(client.Database(cfg.Mongo.Database))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return err
	}

	var reg *registry.Registry
	if cfg.Consul.Enabled {
		reg, err = registry.New(cfg.Consul.Address, logger)
		if err != nil {
			return err
		}
	}

	var summ service.Summarizer
	if cfg.Summarizer.URL != "" {
		summ = summarizer.NewClient(cfg.Summarizer.URL, cfg.Summarizer.APIKey, cfg.Summarizer.Timeout, logger)
	} else {
		logger.Info("Summarizer not configured, issue summaries are manual")
	}
	svc := service.NewService(repo, summ, logger)
	verifier := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audience)

	// Outbox publishing
	brokers := reg.Resolve(ctx, cfg.Kafka.ConsulService, cfg.Kafka.BootstrapServers)
	producer, err := kafka.NewProducer(brokers, cfg.Kafka.SchemaRegistryURL, cfg.Kafka.Topic, logger)
	if err != nil {
		return err
	}
	defer producer.Close()
	outbox := kafka.NewOutboxProcessor(repo, producer, logger)
	go func() {
		if err := outbox.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Outbox processor failed", "error", err)
		}
	}()

	// Start gRPC server in a separate goroutine
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	grpcServer := grpcsvc.NewServer(grpcsvc.NewFeedServer(svc, verifier, logger))
	reflection.Register(grpcServer)
	go func() {
		logger.Info("Starting gRPC server", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server stopped", "error", err)
			stop()
		}
	}()
	defer grpcServer.Stop()

	h := handlers.NewRequestHandler(svc, verifier, logger)
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.ServicePort),
		Handler:           h.Router(cfg.ServiceName),
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
		logger.Info("Shutting down request-service")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
