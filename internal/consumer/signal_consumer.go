package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"campus-dispatch/internal/dispatch"
	"campus-dispatch/internal/repository"
	"campus-dispatch/internal/streams"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SignalConsumer reads inbound emergency signals from the signal stream
// and feeds them to the orchestrator. Payloads that can never succeed
// (malformed JSON, invalid signal type, unknown beacon) are logged and
// acknowledged so they do not wedge the group; transient failures stay
// pending for redelivery.
type SignalConsumer struct {
	client       *redis.Client
	orchestrator *dispatch.Orchestrator
	logger       *zap.Logger

	stream   string
	group    string
	consumer string

	wg sync.WaitGroup
}

// NewSignalConsumer creates a signal consumer.
func NewSignalConsumer(
	client *redis.Client,
	orchestrator *dispatch.Orchestrator,
	stream, group, consumer string,
	logger *zap.Logger,
) *SignalConsumer {
	return &SignalConsumer{
		client:       client,
		orchestrator: orchestrator,
		logger:       logger,
		stream:       stream,
		group:        group,
		consumer:     consumer,
	}
}

// Start creates the consumer group and begins consuming until the
// context is cancelled.
func (c *SignalConsumer) Start(ctx context.Context) error {
	if err := streams.EnsureGroup(ctx, c.client, c.stream, c.group); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info("Signal consumer started",
		zap.String("stream", c.stream),
		zap.String("group", c.group),
		zap.String("consumer", c.consumer),
	)

	return nil
}

// Wait blocks until the consume loop has exited.
func (c *SignalConsumer) Wait() {
	c.wg.Wait()
}

func (c *SignalConsumer) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Signal consumer stopped")
			return
		default:
		}

		messages, err := streams.ReadGroup(ctx, c.client, c.stream, c.group, c.consumer, 10)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("Failed to read signal stream", zap.Error(err))
			continue
		}

		for _, msg := range messages {
			if err := c.handle(ctx, msg); err != nil {
				c.logger.Error("Failed to handle signal, leaving pending",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			if err := streams.Ack(ctx, c.client, c.stream, c.group, msg.ID); err != nil {
				c.logger.Error("Failed to ack signal message",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// handle processes one stream entry. A nil return means the message
// should be acknowledged, including the poison cases.
func (c *SignalConsumer) handle(ctx context.Context, msg streams.Message) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		c.logger.Warn("Signal message missing data field, dropping",
			zap.String("message_id", msg.ID),
		)
		return nil
	}

	var input dispatch.SignalInput
	if err := json.Unmarshal([]byte(data), &input); err != nil {
		c.logger.Warn("Malformed signal payload, dropping",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return nil
	}

	result, err := c.orchestrator.HandleSignal(ctx, input)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidSignalType) || errors.Is(err, repository.ErrUnknownBeacon) {
			c.logger.Warn("Rejected signal, dropping",
				zap.String("message_id", msg.ID),
				zap.String("beacon_id", input.BeaconID),
				zap.String("signal_type", string(input.SignalType)),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("signal handling failed: %w", err)
	}

	c.logger.Debug("Signal consumed",
		zap.String("message_id", msg.ID),
		zap.String("incident_id", result.Incident.IncidentID),
		zap.Bool("was_created", result.WasCreated),
		zap.Int("alerts", len(result.Alerts)),
	)

	return nil
}
