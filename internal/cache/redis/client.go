package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/credishield/backend/pkg/logger"
)

// Client caches scorer results keyed by a hash of the feature vector. The
// scorer is a pure function of its input, so a cached result is as valid as
// a fresh one; nothing derived from the prediction log is ever cached here.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis score cache initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetScore(ctx context.Context, inputHash string, result interface{}, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal score: %w", err)
	}

	if err := c.client.Set(ctx, "score:"+inputHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set score cache: %w", err)
	}

	logger.Debug("Score cached", zap.String("input_hash", inputHash), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetScore(ctx context.Context, inputHash string, result interface{}) (bool, error) {
	data, err := c.client.Get(ctx, "score:"+inputHash).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get score cache: %w", err)
	}

	if err := json.Unmarshal(data, result); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached score: %w", err)
	}

	logger.Debug("Score cache hit", zap.String("input_hash", inputHash))
	return true, nil
}
