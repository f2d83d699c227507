// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/api/option"
)

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
}

// Config names the project and topic to publish to.
type Config struct {
	ProjectID string
	TopicID   string
}

// Dial opens a client for cfg.ProjectID and binds a publisher to cfg.TopicID.
// The returned Publisher owns the client and must be closed.
func Dial(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client, publisher: client.Publisher(cfg.TopicID), topic: cfg.TopicID}, nil
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Publish marshals the payload to JSON and publishes it. The topic argument
// is recorded as an attribute; routing is fixed by the bound publisher.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if topic != "" {
		msg.Attributes["topic"] = topic
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client when owned.
func (p *Publisher) Close() error {
	if p == nil || p.publisher == nil {
		return nil
	}
	p.publisher.Stop()
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

var _ propagation.TextMapCarrier = (*pubsubCarrier)(nil)

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
