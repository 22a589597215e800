package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"campus-dispatch/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTNotifier publishes guard notifications to per-guard topics
// (<prefix><guard_id>/alerts). Guards' mobile clients subscribe to
// their own topic.
type MQTTNotifier struct {
	client      mqtt.Client
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

// NewMQTTNotifier connects to the broker and returns a notifier.
func NewMQTTNotifier(cfg *config.Config, logger *zap.Logger) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
	}
	if cfg.MQTT.Password != "" {
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTNotifier{
		client:      client,
		topicPrefix: cfg.Notifier.TopicPrefix,
		qos:         cfg.MQTT.QoS,
		logger:      logger,
	}, nil
}

// Notify publishes one message to the guard's topic.
func (n *MQTTNotifier) Notify(ctx context.Context, guardID string, msg Message) error {
	if guardID == "" {
		return fmt.Errorf("guard_id is required")
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	topic := fmt.Sprintf("%s%s/alerts", n.topicPrefix, guardID)
	token := n.client.Publish(topic, n.qos, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	n.logger.Debug("Guard notified",
		zap.String("guard_id", guardID),
		zap.String("kind", string(msg.Kind)),
		zap.String("topic", topic),
	)

	return nil
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() error {
	n.client.Disconnect(250)
	return nil
}
