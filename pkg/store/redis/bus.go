package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

const defaultChannel = "graphsync:events"

// Message is one relayed event as carried between relay instances.
type Message struct {
	InstanceID string          `json:"instance_id"`
	PeerID     string          `json:"peer_id"`
	Event      json.RawMessage `json:"event"`
}

// Bus fans relayed events out to every relay instance sharing a Redis server.
type Bus struct {
	client     *redis.Client
	channel    string
	instanceID string
}

// NewBus creates a bus on the default channel. instanceID marks messages published
// by this process so that Subscribe can skip them.
func NewBus(client *redis.Client, instanceID string) *Bus {
	return &Bus{client: client, channel: defaultChannel, instanceID: instanceID}
}

// WithChannel returns a copy of the bus using a different pub/sub channel.
func (b *Bus) WithChannel(channel string) *Bus {
	cp := *b
	cp.channel = channel
	return &cp
}

// InstanceID returns the id stamped on published messages.
func (b *Bus) InstanceID() string {
	return b.instanceID
}

// Publish sends one raw event on the bus.
func (b *Bus) Publish(ctx context.Context, peerID string, event []byte) error {
	data, err := json.Marshal(Message{InstanceID: b.instanceID, PeerID: peerID, Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal bus message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to PUBLISH to %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe delivers messages from other instances to fn until ctx is cancelled.
// The subscription is confirmed before Subscribe starts delivering.
func (b *Bus) Subscribe(ctx context.Context, fn func(Message)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to SUBSCRIBE to %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.Printf("Failed to unmarshal bus message on %s: %v", b.channel, err)
				continue
			}
			if msg.InstanceID == b.instanceID {
				continue
			}
			fn(msg)
		}
	}
}

// Ping checks connectivity to the Redis server.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
