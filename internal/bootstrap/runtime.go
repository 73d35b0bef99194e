// Package bootstrap connects the runtime dependencies shared by the API binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"

	"framez/internal/blob"
	"framez/internal/cache"
	"framez/internal/config"
	"framez/internal/database"
	"framez/internal/notifications"
	"framez/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemo creates the demo accounts and a handful of posts when the store is empty.
	SeedDemo bool
}

// Runtime is the set of connected dependencies the server runs on.
type Runtime struct {
	DB    *gorm.DB
	Redis *redis.Client
	Bus   notifications.Bus
	Store blob.ObjectStorage
}

// InitRuntime connects to the database, Redis, the change bus and object storage.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	bus, err := NewBus(ctx, cfg, r)
	if err != nil {
		return nil, fmt.Errorf("change bus init failed: %w", err)
	}

	store, err := blob.New(ctx, cfg)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("object storage init failed: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("ensure bucket %s: %w", store.Bucket(), err)
	}

	if opts.SeedDemo && !cfg.IsProduction() {
		if err := seed.Demo(ctx, db); err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return &Runtime{DB: db, Redis: r, Bus: bus, Store: store}, nil
}

// NewBus builds the change bus selected by cfg.Broker. The redis broker needs a
// live client; without one the server degrades to the in-process bus.
func NewBus(ctx context.Context, cfg *config.Config, rdb *redis.Client) (notifications.Bus, error) {
	switch cfg.Broker {
	case "", "local":
		return notifications.NewLocalBus(), nil
	case "redis":
		if rdb == nil {
			log.Printf("BROKER=redis but Redis is unavailable, falling back to the local bus")
			return notifications.NewLocalBus(), nil
		}
		return notifications.NewNotifier(rdb), nil
	case "amqp":
		return notifications.NewAMQPBus(cfg.AMQPURL)
	case "pubsub":
		return notifications.NewPubSubBus(ctx, notifications.PubSubConfig{
			ProjectID:       cfg.GCSProjectID,
			Topic:           cfg.PubSubTopic,
			CredentialsFile: cfg.GCSCredentialsFile,
		})
	default:
		return nil, errors.New("unsupported broker " + cfg.Broker)
	}
}
