// Package broker defines the interface for message brokers and provides implementations.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultPublishTimeout bounds best-effort publishes.
const DefaultPublishTimeout = 5 * time.Second

// Broker abstracts message publishing and consumption.
// Implemented in-process (InMemoryBroker) and over Kafka (RedpandaBroker).
type Broker interface {
	// Publish sends a message to a topic with an optional key for partitioning.
	// For in-memory broker, key is carried but not used for routing.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Subscribe returns a channel for consuming messages from a topic.
	// groupID is used for consumer group coordination in Kafka.
	Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error)

	// Close shuts down the broker connection gracefully.
	Close() error
}

// Message represents a consumed message from a broker.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp int64
}

// PublishJSON marshals v and publishes it to topic under key.
func PublishJSON(ctx context.Context, b Broker, topic, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", topic, err)
	}
	return b.Publish(ctx, topic, key, data)
}

// PublishJSONWithin is PublishJSON bounded by timeout, for callers that must
// not stall when the broker is unreachable.
func PublishJSONWithin(ctx context.Context, timeout time.Duration, b Broker, topic, key string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return PublishJSON(ctx, b, topic, key, v)
}
