// Package nats publishes task notifications to NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/JakeFAU/realtime-progress/internal/publisher"
)

// Config describes the NATS connection and stream.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	Stream        string
	SubjectPrefix string
}

type streamPublisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher sends JSON payloads to subject "<prefix>.<topic>".
type Publisher struct {
	js     streamPublisher
	prefix string
}

// Connect dials NATS and ensures the stream exists for the subject prefix.
func Connect(cfg Config) (*nats.Conn, *Publisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream add stream: %w", err)
	}
	return nc, New(js, cfg.SubjectPrefix), nil
}

// New wraps a JetStream context.
func New(js streamPublisher, prefix string) *Publisher {
	return &Publisher{js: js, prefix: prefix}
}

// Publish returns "<stream>:<sequence>" from the JetStream ack.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.js == nil {
		return "", fmt.Errorf("nats publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &nats.Msg{
		Subject: p.subject(topic),
		Data:    data,
		Header:  nats.Header{},
	}
	attrs := publisher.AttributesOf(payload)
	for k, v := range attrs {
		msg.Header.Set(k, v)
	}
	opts := []nats.PubOpt{nats.Context(ctx)}
	if id := attrs["event_id"]; id != "" {
		opts = append(opts, nats.MsgId(id))
	}
	ack, err := p.js.PublishMsg(msg, opts...)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return ack.Stream + ":" + strconv.FormatUint(ack.Sequence, 10), nil
}

func (p *Publisher) subject(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}
