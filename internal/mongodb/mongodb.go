package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"fadedreams/roadassist/internal/config"
)

// Connect dials MongoDB and waits until the replica set reports ready.
// Change streams require a replica set, so a standalone server never passes.
func Connect(cfg config.MongoConfig, logger *slog.Logger) (*mongo.Client, error) {
	var client *mongo.Client
	var err error

	opts := options.Client().ApplyURI(cfg.URI).SetMonitor(otelmongo.NewMonitor())

	for i := range cfg.Retries {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err = mongo.Connect(ctx, opts)
		if err == nil {
			err = client.Ping(ctx, nil)
			if err == nil {
				var result struct {
					Ok int `bson:"ok"`
				}
				err = client.Database("admin").RunCommand(ctx, bson.D{
					{Key: "replSetGetStatus", Value: 1},
				}).Decode(&result)
				if err == nil && result.Ok == 1 {
					cancel()
					logger.Info("Connected to MongoDB", "database", cfg.Database)
					return client, nil
				}
				logger.Error("Replica set not ready", "error", err)
			}
			client.Disconnect(context.Background())
		}
		cancel()
		logger.Error("Failed to connect to MongoDB", "attempt", i+1, "max_attempts", cfg.Retries, "error", err)
		if i < cfg.Retries-1 {
			time.Sleep(cfg.RetryDelay)
		}
	}
	return nil, fmt.Errorf("failed to connect to MongoDB after %d retries: %w", cfg.Retries, err)
}
