// Package bus abstracts the message bus that store jobs drain and load jobs
// publish to. The production implementation sits on NATS JetStream; an
// in-process implementation backs tests and development mode.
package bus

import (
	"context"
	"time"
)

// Message is one bus message with its ack handles. Ack marks the message
// consumed; InProgress extends the redelivery deadline while a batch is
// still accumulating.
type Message struct {
	Subject   string
	Data      []byte
	Headers   map[string][]string
	Timestamp time.Time

	ack        func() error
	inProgress func() error
}

// NewMessage builds a message with explicit ack handles. Implementations and
// tests use this; nil handles are no-ops.
func NewMessage(subject string, data []byte, headers map[string][]string, ts time.Time, ack, inProgress func() error) *Message {
	return &Message{
		Subject:    subject,
		Data:       data,
		Headers:    headers,
		Timestamp:  ts,
		ack:        ack,
		inProgress: inProgress,
	}
}

// Ack marks the message as processed.
func (m *Message) Ack() error {
	if m.ack == nil {
		return nil
	}
	return m.ack()
}

// InProgress signals that the message is still being worked on.
func (m *Message) InProgress() error {
	if m.inProgress == nil {
		return nil
	}
	return m.inProgress()
}

// Consumer is a durable pull consumer bound to one stream and subject filter.
type Consumer interface {
	// Fetch returns up to max messages, waiting up to wait for at least one
	// to arrive. An empty slice with a nil error means the wait elapsed.
	Fetch(ctx context.Context, max int, wait time.Duration) ([]*Message, error)
}

// Bus is the message-bus surface the workers and the supervisor need.
type Bus interface {
	// Consume binds a durable pull consumer (explicit ack, deliver-all) on
	// the stream, creating it if needed.
	Consume(ctx context.Context, stream, durable, filterSubject string) (Consumer, error)

	// Publish sends data to subject and waits for the stream acknowledgment.
	Publish(ctx context.Context, subject string, data []byte, headers map[string][]string) error

	// DeleteConsumer removes a durable consumer. Deleting an absent consumer
	// is not an error.
	DeleteConsumer(ctx context.Context, stream, durable string) error

	// Close releases the connection.
	Close()
}
