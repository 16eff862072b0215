package bus

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Bus used in tests and development mode. Streams
// are seeded (or fed by Publish when a stream binding exists) and consumed
// through the same durable-cursor semantics as the NATS implementation.
type Memory struct {
	mu        sync.Mutex
	streams   map[string][]*Message
	cursors   map[string]int // stream/durable -> next index
	published []*Message
	deleted   []string // stream/durable of deleted consumers

	// BindSubjects routes Publish calls into seeded streams:
	// subject filter -> stream name.
	bindings map[string]string
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{
		streams:  make(map[string][]*Message),
		cursors:  make(map[string]int),
		bindings: make(map[string]string),
	}
}

// Seed appends messages to a stream.
func (m *Memory) Seed(stream string, msgs ...*Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[stream] = append(m.streams[stream], msgs...)
}

// Bind routes published messages matching the subject filter into stream,
// mimicking a JetStream stream subscription.
func (m *Memory) Bind(stream, filterSubject string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[filterSubject] = stream
}

// Published returns everything sent through Publish, in order.
func (m *Memory) Published() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Message(nil), m.published...)
}

// DeletedConsumers returns "stream/durable" pairs removed via DeleteConsumer.
func (m *Memory) DeletedConsumers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func (m *Memory) Consume(_ context.Context, stream, durable, filterSubject string) (Consumer, error) {
	return &memoryConsumer{
		bus:     m,
		cursor:  stream + "/" + durable,
		stream:  stream,
		subject: filterSubject,
	}, nil
}

func (m *Memory) Publish(_ context.Context, subject string, data []byte, headers map[string][]string) error {
	msg := NewMessage(subject, data, headers, time.Now().UTC(), nil, nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, msg)
	for filter, stream := range m.bindings {
		if MatchSubject(filter, subject) {
			m.streams[stream] = append(m.streams[stream], msg)
		}
	}
	return nil
}

func (m *Memory) DeleteConsumer(_ context.Context, stream, durable string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, stream+"/"+durable)
	delete(m.cursors, stream+"/"+durable)
	return nil
}

func (m *Memory) Close() {}

type memoryConsumer struct {
	bus     *Memory
	cursor  string
	stream  string
	subject string
}

func (c *memoryConsumer) Fetch(ctx context.Context, max int, wait time.Duration) ([]*Message, error) {
	deadline := time.Now().Add(wait)
	for {
		msgs := c.take(max)
		if len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (c *memoryConsumer) take(max int) []*Message {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()

	var msgs []*Message
	stream := c.bus.streams[c.stream]
	idx := c.bus.cursors[c.cursor]

	for idx < len(stream) && len(msgs) < max {
		msg := stream[idx]
		idx++
		if MatchSubject(c.subject, msg.Subject) {
			msgs = append(msgs, msg)
		}
	}
	c.bus.cursors[c.cursor] = idx
	return msgs
}
