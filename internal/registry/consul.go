// Package registry registers services with Consul and resolves peers
// through Consul's health endpoint.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"

	"github.com/hashicorp/consul/api"
)

type Registry struct {
	client *api.Client
	logger *slog.Logger
}

// New creates a Consul client for address.
func New(address string, logger *slog.Logger) (*Registry, error) {
	consulConfig := api.DefaultConfig()
	consulConfig.Address = address
	client, err := api.NewClient(consulConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}
	return &Registry{client: client, logger: logger}, nil
}

// Register adds the service with an HTTP health check on /health and
// returns the service ID.
func (r *Registry) Register(name, host string, port int) (string, error) {
	serviceID := name + "-" + strconv.Itoa(port)
	registration := &api.AgentServiceRegistration{
		ID:      serviceID,
		Name:    name,
		Port:    port,
		Address: host,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s/health", net.JoinHostPort(host, strconv.Itoa(port))),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if err := r.client.Agent().ServiceRegister(registration); err != nil {
		return "", fmt.Errorf("failed to register with Consul: %w", err)
	}
	r.logger.Info("Registered with Consul", "service_id", serviceID)
	return serviceID, nil
}

func (r *Registry) Deregister(serviceID string) {
	if err := r.client.Agent().ServiceDeregister(serviceID); err != nil {
		r.logger.Error("Failed to deregister service", "service_id", serviceID, "error", err)
		return
	}
	r.logger.Info("Deregistered service from Consul", "service_id", serviceID)
}

// Resolve returns host:port of a passing instance of name. It returns
// fallback when the registry is nil, unreachable, or has no healthy
// instance.
func (r *Registry) Resolve(ctx context.Context, name, fallback string) string {
	if r == nil {
		return fallback
	}
	entries, _, err := r.client.Health().Service(name, "", true, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		r.logger.Warn("Consul lookup failed, using fallback", "service", name, "fallback", fallback, "error", err)
		return fallback
	}
	if len(entries) == 0 {
		r.logger.Warn("No healthy instances, using fallback", "service", name, "fallback", fallback)
		return fallback
	}

	entry := entries[rand.IntN(len(entries))]
	host := entry.Service.Address
	if host == "" {
		host = entry.Node.Address
	}
	return net.JoinHostPort(host, strconv.Itoa(entry.Service.Port))
}
