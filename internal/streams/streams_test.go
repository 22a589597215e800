package streams

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublishJSONAndReadGroup(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	require.NoError(t, EnsureGroup(ctx, client, "test:stream", "test-group"))

	payload := map[string]string{"beacon_id": "LIB-1", "signal_type": "STUDENT_SOS"}
	id, err := PublishJSON(ctx, client, "test:stream", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	messages, err := ReadGroup(ctx, client, "test:stream", "test-group", "consumer-1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	data, ok := messages[0].Values["data"].(string)
	require.True(t, ok)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(data), &decoded))
	assert.Equal(t, "LIB-1", decoded["beacon_id"])
	assert.Equal(t, "STUDENT_SOS", decoded["signal_type"])
}

func TestAck_RemovesFromPending(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	require.NoError(t, EnsureGroup(ctx, client, "test:stream", "test-group"))

	_, err := PublishJSON(ctx, client, "test:stream", map[string]string{"k": "v"})
	require.NoError(t, err)

	messages, err := ReadGroup(ctx, client, "test:stream", "test-group", "consumer-1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	require.NoError(t, Ack(ctx, client, "test:stream", "test-group", messages[0].ID))

	pending, err := client.XPending(ctx, "test:stream", "test-group").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestEnsureGroup_Idempotent(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	require.NoError(t, EnsureGroup(ctx, client, "test:stream", "test-group"))
	require.NoError(t, EnsureGroup(ctx, client, "test:stream", "test-group"))
}
