// Package memory contains an in-memory publisher for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher records payloads instead of sending them anywhere.
type Publisher struct {
	mu     sync.RWMutex
	sent   []PublishedMessage
	closed bool
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a sequential pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", fmt.Errorf("memory publisher closed")
	}
	id := fmt.Sprintf("memory-%d", len(p.sent)+1)
	p.sent = append(p.sent, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []PublishedMessage {
	return p.filter(func(PublishedMessage) bool { return true })
}

// OnTopic returns the messages published under topic.
func (p *Publisher) OnTopic(topic string) []PublishedMessage {
	return p.filter(func(m PublishedMessage) bool { return m.Topic == topic })
}

func (p *Publisher) filter(keep func(PublishedMessage) bool) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, 0, len(p.sent))
	for _, m := range p.sent {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// Close rejects later publishes.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
