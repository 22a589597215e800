package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"campus-dispatch/internal/config"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient creates a redis client from config.
func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// Message is one entry read from a redis stream.
type Message struct {
	Stream string
	ID     string
	Values map[string]interface{}
}

// PublishJSON appends a JSON-encoded payload to a stream as a single
// "data" field plus a unix timestamp.
func PublishJSON(ctx context.Context, client *redis.Client, stream string, data interface{}) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stream payload: %w", err)
	}

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data":      string(jsonBytes),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}

	return id, nil
}

// ReadGroup reads up to count pending messages for a consumer group,
// blocking briefly when the stream is empty.
func ReadGroup(ctx context.Context, client *redis.Client, stream, group, consumer string, count int64) ([]Message, error) {
	results, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    5 * time.Second,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var messages []Message
	for _, result := range results {
		for _, msg := range result.Messages {
			messages = append(messages, Message{
				Stream: result.Stream,
				ID:     msg.ID,
				Values: msg.Values,
			})
		}
	}

	return messages, nil
}

// Ack acknowledges a processed message.
func Ack(ctx context.Context, client *redis.Client, stream, group, id string) error {
	return client.XAck(ctx, stream, group, id).Err()
}

// EnsureGroup creates the consumer group if it does not exist, creating
// the stream as a side effect when necessary.
func EnsureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}
