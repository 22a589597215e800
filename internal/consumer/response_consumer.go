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

// GuardResponse is one message published by a guard's mobile client:
// an accept/decline of an alert, a location ping, or an availability
// toggle.
type GuardResponse struct {
	GuardID string `json:"guard_id"`
	Action  string `json:"action"` // accept | decline | location | availability

	AlertID   string `json:"alert_id,omitempty"`  // accept, decline
	BeaconID  string `json:"beacon_id,omitempty"` // location
	Available *bool  `json:"available,omitempty"` // availability
}

// ResponseConsumer reads guard messages from the response stream.
// Stale and too-late responses are normal outcomes here, not failures:
// the guard raced an earlier transition and the alert record already
// says so.
type ResponseConsumer struct {
	client       *redis.Client
	orchestrator *dispatch.Orchestrator
	logger       *zap.Logger

	stream   string
	group    string
	consumer string

	wg sync.WaitGroup
}

// NewResponseConsumer creates a response consumer.
func NewResponseConsumer(
	client *redis.Client,
	orchestrator *dispatch.Orchestrator,
	stream, group, consumer string,
	logger *zap.Logger,
) *ResponseConsumer {
	return &ResponseConsumer{
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
func (c *ResponseConsumer) Start(ctx context.Context) error {
	if err := streams.EnsureGroup(ctx, c.client, c.stream, c.group); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info("Response consumer started",
		zap.String("stream", c.stream),
		zap.String("group", c.group),
		zap.String("consumer", c.consumer),
	)

	return nil
}

// Wait blocks until the consume loop has exited.
func (c *ResponseConsumer) Wait() {
	c.wg.Wait()
}

func (c *ResponseConsumer) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Response consumer stopped")
			return
		default:
		}

		messages, err := streams.ReadGroup(ctx, c.client, c.stream, c.group, c.consumer, 10)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("Failed to read response stream", zap.Error(err))
			continue
		}

		for _, msg := range messages {
			if err := c.handle(ctx, msg); err != nil {
				c.logger.Error("Failed to handle guard response, leaving pending",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			if err := streams.Ack(ctx, c.client, c.stream, c.group, msg.ID); err != nil {
				c.logger.Error("Failed to ack response message",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}
		}
	}
}

func (c *ResponseConsumer) handle(ctx context.Context, msg streams.Message) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		c.logger.Warn("Response message missing data field, dropping",
			zap.String("message_id", msg.ID),
		)
		return nil
	}

	var resp GuardResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.logger.Warn("Malformed guard response, dropping",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return nil
	}
	if resp.GuardID == "" {
		c.logger.Warn("Guard response missing guard_id, dropping",
			zap.String("message_id", msg.ID),
		)
		return nil
	}

	switch resp.Action {
	case "accept", "decline":
		return c.handleAlertResponse(ctx, msg.ID, resp)
	case "location":
		if resp.BeaconID == "" {
			c.logger.Warn("Location ping missing beacon_id, dropping",
				zap.String("message_id", msg.ID),
				zap.String("guard_id", resp.GuardID),
			)
			return nil
		}
		if err := c.orchestrator.UpdateGuardLocation(ctx, resp.GuardID, resp.BeaconID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.logger.Warn("Location ping for unknown guard, dropping",
					zap.String("message_id", msg.ID),
					zap.String("guard_id", resp.GuardID),
				)
				return nil
			}
			return fmt.Errorf("location update for guard %s failed: %w", resp.GuardID, err)
		}
		return nil
	case "availability":
		if resp.Available == nil {
			c.logger.Warn("Availability toggle missing available flag, dropping",
				zap.String("message_id", msg.ID),
				zap.String("guard_id", resp.GuardID),
			)
			return nil
		}
		if err := c.orchestrator.SetGuardAvailability(ctx, resp.GuardID, *resp.Available); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.logger.Warn("Availability toggle for unknown guard, dropping",
					zap.String("message_id", msg.ID),
					zap.String("guard_id", resp.GuardID),
				)
				return nil
			}
			return fmt.Errorf("availability update for guard %s failed: %w", resp.GuardID, err)
		}
		return nil
	default:
		c.logger.Warn("Unknown guard response action, dropping",
			zap.String("message_id", msg.ID),
			zap.String("action", resp.Action),
		)
		return nil
	}
}

func (c *ResponseConsumer) handleAlertResponse(ctx context.Context, messageID string, resp GuardResponse) error {
	if resp.AlertID == "" {
		c.logger.Warn("Alert response missing alert_id, dropping",
			zap.String("message_id", messageID),
			zap.String("guard_id", resp.GuardID),
		)
		return nil
	}

	var result *dispatch.AlertResult
	var err error
	if resp.Action == "accept" {
		result, err = c.orchestrator.AcceptAlert(ctx, resp.AlertID, resp.GuardID)
	} else {
		result, err = c.orchestrator.DeclineAlert(ctx, resp.AlertID, resp.GuardID)
	}
	if err != nil {
		return fmt.Errorf("%s of alert %s failed: %w", resp.Action, resp.AlertID, err)
	}

	c.logger.Debug("Guard response consumed",
		zap.String("message_id", messageID),
		zap.String("alert_id", resp.AlertID),
		zap.String("guard_id", resp.GuardID),
		zap.String("action", resp.Action),
		zap.Bool("stale", result.Stale),
		zap.Bool("too_late", result.TooLate),
		zap.Bool("escalated", result.Escalated != nil),
	)

	return nil
}
