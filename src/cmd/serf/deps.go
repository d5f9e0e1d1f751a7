package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"serf-ci/src/artifact"
	"serf-ci/src/broker"
	"serf-ci/src/config"
	"serf-ci/src/github"
	"serf-ci/src/logger"
	"serf-ci/src/server"
	"serf-ci/src/store"
)

// newBroker returns Redpanda when brokers are configured and an in-process
// broker otherwise.
func newBroker(cfg *config.Config, log logger.Logger) (broker.Broker, error) {
	if len(cfg.RedpandaBrokers) == 0 {
		return broker.NewInMemoryBroker(), nil
	}
	b, err := broker.NewRedpandaBroker(cfg.RedpandaBrokers, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redpanda: %w", err)
	}
	log.Debug("Using Redpanda brokers %v", cfg.RedpandaBrokers)
	return b, nil
}

// newStore returns Postgres when a DSN is configured and memory otherwise.
func newStore(ctx context.Context, cfg *config.Config, log logger.Logger) (store.Store, error) {
	if cfg.PostgresDSN == "" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	log.Debug("Recording builds in Postgres")
	return s, nil
}

// newArtifacts returns an S3 creator when a bucket is configured and gists
// otherwise.
func newArtifacts(ctx context.Context, cfg *config.Config, gh *github.Client) (artifact.Creator, error) {
	if cfg.ArtifactBucket == "" {
		return artifact.NewGistCreator(gh), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return artifact.NewS3Creator(s3.NewFromConfig(awsCfg), cfg.ArtifactBucket, cfg.ArtifactBaseURL), nil
}

// newRefCache returns a Redis cache when REDIS_ADDR is set and a memory
// cache otherwise.
func newRefCache(cfg *config.Config) (server.RefCache, func() error) {
	if cfg.RedisAddr == "" {
		return server.NewMemoryCache(server.DefaultCacheTTL), func() error { return nil }
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return server.NewRedisCache(rdb, server.DefaultCacheTTL, "serf"), rdb.Close
}
