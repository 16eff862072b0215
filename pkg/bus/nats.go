package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/nats3-io/nats3/internal/logger"
)

// NATS implements Bus on a JetStream-enabled NATS connection.
type NATS struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// ConsumerAckWait is how long JetStream waits for an ack before redelivering.
// Workers emit InProgress keep-alives well inside this window.
const ConsumerAckWait = 30 * time.Second

// Connect dials the NATS server and initializes the JetStream context.
func Connect(url string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("nats3"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("initialize JetStream: %w", err)
	}

	return &NATS{nc: nc, js: js}, nil
}

func (n *NATS) Consume(ctx context.Context, stream, durable, filterSubject string) (Consumer, error) {
	s, err := n.js.Stream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("lookup stream %s: %w", stream, err)
	}

	cons, err := s.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       ConsumerAckWait,
	})
	if err != nil {
		return nil, fmt.Errorf("bind consumer %s on %s: %w", durable, stream, err)
	}

	return &natsConsumer{cons: cons}, nil
}

func (n *NATS) Publish(ctx context.Context, subject string, data []byte, headers map[string][]string) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	if len(headers) > 0 {
		msg.Header = nats.Header(headers)
	}

	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (n *NATS) DeleteConsumer(ctx context.Context, stream, durable string) error {
	s, err := n.js.Stream(ctx, stream)
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil
		}
		return fmt.Errorf("lookup stream %s: %w", stream, err)
	}

	if err := s.DeleteConsumer(ctx, durable); err != nil {
		if errors.Is(err, jetstream.ErrConsumerNotFound) {
			return nil
		}
		return fmt.Errorf("delete consumer %s on %s: %w", durable, stream, err)
	}
	return nil
}

func (n *NATS) Close() {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
	}
}

type natsConsumer struct {
	cons jetstream.Consumer
}

func (c *natsConsumer) Fetch(ctx context.Context, max int, wait time.Duration) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}

	batch, err := c.cons.Fetch(max, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	var msgs []*Message
	for m := range batch.Messages() {
		msgs = append(msgs, fromJetStream(m))
	}
	if err := batch.Error(); err != nil {
		return msgs, fmt.Errorf("fetch batch: %w", err)
	}
	return msgs, nil
}

func fromJetStream(m jetstream.Msg) *Message {
	ts := time.Now().UTC()
	if meta, err := m.Metadata(); err == nil {
		ts = meta.Timestamp
	}
	return NewMessage(m.Subject(), m.Data(), m.Headers(), ts, m.Ack, m.InProgress)
}
