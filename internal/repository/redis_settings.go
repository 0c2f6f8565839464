package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/timmy/curator/internal/config"
	"gorm.io/gorm"
)

const settingsKeyPrefix = "settings:"

var _ SettingsStore = (*RedisSettingsStore)(nil)

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return cli, nil
}

// RedisSettingsStore keeps each setting in a hash with value and description fields.
type RedisSettingsStore struct {
	cli *redis.Client
}

// NewRedisSettingsStore creates a settings store backed by cli.
func NewRedisSettingsStore(cli *redis.Client) *RedisSettingsStore {
	return &RedisSettingsStore{cli: cli}
}

// Get implements SettingsStore.
func (s *RedisSettingsStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := s.cli.HGet(ctx, settingsKeyPrefix+key, "value").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("failed to decode setting %q: %w", key, err)
	}
	return true, nil
}

// Set implements SettingsStore.
func (s *RedisSettingsStore) Set(ctx context.Context, key string, value interface{}, description string) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %q: %w", key, err)
	}
	fields := map[string]interface{}{"value": string(b)}
	if description != "" {
		fields["description"] = description
	}
	return s.cli.HSet(ctx, settingsKeyPrefix+key, fields).Err()
}

// NewSettingsStore picks the settings backend. cli is only used for "redis".
func NewSettingsStore(backend string, db *gorm.DB, cli *redis.Client) (SettingsStore, error) {
	switch backend {
	case "", "database":
		return NewSettingsRepository(db), nil
	case "redis":
		if cli == nil {
			return nil, errors.New("redis settings backend requires a redis client")
		}
		return NewRedisSettingsStore(cli), nil
	default:
		return nil, fmt.Errorf("unknown settings backend %q", backend)
	}
}
