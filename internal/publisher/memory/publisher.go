// Package memory keeps published run events in process for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/discipline-sync/internal/telemetry"
)

const defaultCapacity = 256

// Message is one recorded publish, encoded the way Pub/Sub would carry it.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Publisher retains the most recent messages up to its capacity.
type Publisher struct {
	mu       sync.RWMutex
	capacity int
	seq      int
	messages []Message
}

// New returns a Publisher that keeps at most capacity messages; capacity <= 0 uses a default.
func New(capacity int) *Publisher {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Publisher{capacity: capacity}
}

// Publish JSON-encodes payload and records it with the trace context of ctx.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	attrs := make(map[string]string)
	telemetry.Inject(ctx, attrs)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg := Message{ID: fmt.Sprintf("memory-%d", p.seq), Topic: topic, Data: data, Attributes: attrs}
	p.messages = append(p.messages, msg)
	if over := len(p.messages) - p.capacity; over > 0 {
		p.messages = append([]Message(nil), p.messages[over:]...)
	}
	return msg.ID, nil
}

// Messages returns a copy of the retained messages, oldest first.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
