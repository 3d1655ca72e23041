// Package pubsub publishes task notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/realtime-progress/internal/publisher"
)

// topicAttribute carries the logical topic so one Pub/Sub topic can serve
// every notification kind.
const topicAttribute = "topic"

type result interface {
	Get(ctx context.Context) (string, error)
}

type sender interface {
	send(ctx context.Context, msg *pubsub.Message) result
}

type clientSender struct {
	publisher *pubsub.Publisher
}

func (s clientSender) send(ctx context.Context, msg *pubsub.Message) result {
	return s.publisher.Publish(ctx, msg)
}

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	sender sender
}

// New creates a Publisher for the provided topic publisher.
func New(p *pubsub.Publisher) *Publisher {
	if p == nil {
		return &Publisher{}
	}
	return &Publisher{sender: clientSender{publisher: p}}
}

// NewFromClient opens a publisher for topicID on client.
func NewFromClient(client *pubsub.Client, topicID string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return New(client.Publisher(topicID)), nil
}

// Publish marshals the payload to JSON and waits for the server-assigned id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.sender == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attrs := map[string]string{topicAttribute: topic}
	maps.Copy(attrs, publisher.AttributesOf(payload))
	msg := &pubsub.Message{Data: data, Attributes: attrs}

	id, err := p.sender.send(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
