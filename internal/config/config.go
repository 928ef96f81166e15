// Package config loads service configuration from defaults, an optional YAML
// file named by CONFIG_FILE, and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceName string `yaml:"service_name"`
	// ServiceHost is the address other services use to reach this one.
	ServiceHost string `yaml:"service_host"`
	ServicePort int    `yaml:"service_port"`
	GRPCPort    int    `yaml:"grpc_port"`

	Log        LogConfig        `yaml:"log"`
	Mongo      MongoConfig      `yaml:"mongo"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Consul     ConsulConfig     `yaml:"consul"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Auth       AuthConfig       `yaml:"auth"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Gateway    GatewayConfig    `yaml:"gateway"`
}

type LogConfig struct {
	// File is the JSON log file; empty disables file output.
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

type MongoConfig struct {
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type KafkaConfig struct {
	// BootstrapServers is used when the broker cannot be resolved through Consul.
	BootstrapServers  string `yaml:"bootstrap_servers"`
	ConsulService     string `yaml:"consul_service"`
	SchemaRegistryURL string `yaml:"schema_registry_url"`
	Topic             string `yaml:"topic"`
	GroupID           string `yaml:"group_id"`
}

type ConsulConfig struct {
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
	URLPath  string `yaml:"url_path"`
	Enabled  bool   `yaml:"enabled"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

type SummarizerConfig struct {
	// URL of the text-summarization helper; empty disables it.
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type GatewayConfig struct {
	UpstreamService string `yaml:"upstream_service"`
	// UpstreamURL is used when the upstream cannot be resolved through Consul.
	UpstreamURL string `yaml:"upstream_url"`
}

// Defaults returns the configuration used by docker-compose deployments.
func Defaults(serviceName string, port int) *Config {
	return &Config{
		ServiceName: serviceName,
		ServiceHost: serviceName,
		ServicePort: port,
		GRPCPort:    50051,
		Log: LogConfig{
			File:  fmt.Sprintf("/var/log/%s/%s.log", serviceName, serviceName),
			Level: "info",
		},
		Mongo: MongoConfig{
			URI:        "mongodb://mongodb:27017/roadassist?replicaSet=rs0",
			Database:   "roadassist",
			Retries:    5,
			RetryDelay: 2 * time.Second,
		},
		Kafka: KafkaConfig{
			BootstrapServers:  "kafka:9094",
			ConsulService:     "kafka",
			SchemaRegistryURL: "http://schema-registry:8081",
			Topic:             "request-events",
			GroupID:           serviceName + "-group",
		},
		Consul: ConsulConfig{
			Address: "consul:8500",
			Enabled: true,
		},
		Tracing: TracingConfig{
			Endpoint: "jaeger:4318",
			URLPath:  "/v1/traces",
			Enabled:  true,
		},
		Auth: AuthConfig{
			Issuer: "identity",
		},
		Summarizer: SummarizerConfig{
			Timeout: 5 * time.Second,
		},
		Gateway: GatewayConfig{
			UpstreamService: "request-service",
			UpstreamURL:     "http://request-service:8083",
		},
	}
}

// Load builds the configuration for serviceName.
func Load(serviceName string, port int) (*Config, error) {
	cfg := Defaults(serviceName, port)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.ServiceHost = getEnv("SERVICE_HOST", c.ServiceHost)
	c.ServicePort = getEnvInt("SERVICE_PORT", c.ServicePort)
	c.GRPCPort = getEnvInt("GRPC_PORT", c.GRPCPort)

	c.Log.File = getEnv("LOG_FILE", c.Log.File)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	c.Mongo.URI = getEnv("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = getEnv("MONGO_DATABASE", c.Mongo.Database)
	c.Mongo.Retries = getEnvInt("MONGO_RETRIES", c.Mongo.Retries)
	c.Mongo.RetryDelay = getEnvDuration("MONGO_RETRY_DELAY", c.Mongo.RetryDelay)

	c.Kafka.BootstrapServers = getEnv("KAFKA_BOOTSTRAP_SERVERS", c.Kafka.BootstrapServers)
	c.Kafka.ConsulService = getEnv("KAFKA_CONSUL_SERVICE", c.Kafka.ConsulService)
	c.Kafka.SchemaRegistryURL = getEnv("SCHEMA_REGISTRY_URL", c.Kafka.SchemaRegistryURL)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", c.Kafka.GroupID)

	c.Consul.Address = getEnv("CONSUL_ADDRESS", c.Consul.Address)
	c.Consul.Enabled = getEnvBool("CONSUL_ENABLED", c.Consul.Enabled)

	c.Tracing.Endpoint = getEnv("JAEGER_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.URLPath = getEnv("JAEGER_URL_PATH", c.Tracing.URLPath)
	c.Tracing.Enabled = getEnvBool("TRACING_ENABLED", c.Tracing.Enabled)

	c.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = getEnv("AUTH_ISSUER", c.Auth.Issuer)
	c.Auth.Audience = getEnv("AUTH_AUDIENCE", c.Auth.Audience)

	c.Summarizer.URL = getEnv("SUMMARIZER_URL", c.Summarizer.URL)
	c.Summarizer.APIKey = getEnv("SUMMARIZER_API_KEY", c.Summarizer.APIKey)
	c.Summarizer.Timeout = getEnvDuration("SUMMARIZER_TIMEOUT", c.Summarizer.Timeout)

	c.Gateway.UpstreamService = getEnv("UPSTREAM_SERVICE", c.Gateway.UpstreamService)
	c.Gateway.UpstreamURL = getEnv("UPSTREAM_URL", c.Gateway.UpstreamURL)
}

// Validate checks the settings every service relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name must not be empty"))
	}
	if c.ServicePort <= 0 || c.ServicePort > 65535 {
		errs = append(errs, fmt.Errorf("invalid service port %d", c.ServicePort))
	}
	if c.Mongo.URI == "" || c.Mongo.Database == "" {
		errs = append(errs, errors.New("mongo uri/database must not be empty"))
	}
	if c.Mongo.Retries < 1 {
		errs = append(errs, errors.New("mongo retries must be positive"))
	}
	if c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka topic must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RequireAuth checks that tokens can be verified.
func (c *Config) RequireAuth() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("invalid config: AUTH_JWT_SECRET must be set")
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
