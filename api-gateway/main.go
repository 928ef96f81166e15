package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"fadedreams/roadassist/api-gateway/handlers"
	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/internal/config"
	"fadedreams/roadassist/internal/logging"
	"fadedreams/roadassist/internal/registry"
	"fadedreams/roadassist/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api-gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("api-gateway", 8081)
	if err != nil {
		return err
	}
	if err := cfg.RequireAuth(); err != nil {
		return err
	}

	logger, logFile, err := logging.NewLogger(cfg.ServiceName, cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracing.Init(cfg.Tracing, cfg.ServiceName, logger)
	if err != nil {
		return err
	}
	defer shutdown()

	var reg *registry.Registry
	if cfg.Consul.Enabled {
		reg, err = registry.New(cfg.Consul.Address, logger)
		if err != nil {
			return err
		}
	}

	verifier := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audience)
	gw, err := handlers.NewGateway(verifier, reg, cfg.Gateway.UpstreamService, cfg.Gateway.UpstreamURL, logger)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.ServicePort),
		Handler:           gw.Router(cfg.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("API Gateway running", "port", cfg.ServicePort, "upstream", cfg.Gateway.UpstreamService)
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
		logger.Info("Shutting down api-gateway")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
