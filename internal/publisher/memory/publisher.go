// Package memory records published messages in process for development and
// tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
)

// Message captures one publish call.
type Message struct {
	ID   string
	Key  string
	Data []byte
}

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload as JSON, records it and returns a pseudo ID.
func (p *Publisher) Publish(ctx context.Context, key string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, "publish canceled")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshal payload")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Key: key, Data: data})
	return id, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
