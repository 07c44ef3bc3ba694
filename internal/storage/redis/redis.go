package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	trackedStore *trackedStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	// Create Redis client
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "tabtime"
	}

	return &Store{
		client:       client,
		trackedStore: &trackedStore{client: client, keys: keyspace{prefix: prefix}},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Tracked returns the TrackedStore implementation
func (s *Store) Tracked() storage.TrackedStore {
	return s.trackedStore
}

// keyspace names every key the tracked store touches.
//
//	{prefix}:days                  set of day buckets
//	{prefix}:day:{day}:hosts       set of hostnames seen on a day
//	{prefix}:page:{day}:{host}     hash of resource key -> PageData JSON
type keyspace struct {
	prefix string
}

func (k keyspace) days() string {
	return k.prefix + ":days"
}

func (k keyspace) hosts(day string) string {
	return fmt.Sprintf("%s:day:%s:hosts", k.prefix, day)
}

func (k keyspace) pages(day, host string) string {
	return fmt.Sprintf("%s:page:%s:%s", k.prefix, day, host)
}
