package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		filter  string
		subject string
		match   bool
	}{
		{"orders.created", "orders.created", true},
		{"orders.created", "orders.shipped", false},
		{"orders.*", "orders.created", true},
		{"orders.*", "orders.created.eu", false},
		{"orders.>", "orders.created", true},
		{"orders.>", "orders.created.eu", true},
		{"orders.>", "orders", false},
		{">", "anything.at.all", true},
		{"*.created", "orders.created", true},
		{"*.created", "orders.shipped", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.match, MatchSubject(tt.filter, tt.subject),
			"filter %q subject %q", tt.filter, tt.subject)
	}
}

func TestMessageAckHandles(t *testing.T) {
	acked, progressed := 0, 0
	msg := NewMessage("s", nil, nil, time.Now(),
		func() error { acked++; return nil },
		func() error { progressed++; return nil })

	require.NoError(t, msg.Ack())
	require.NoError(t, msg.InProgress())
	assert.Equal(t, 1, acked)
	assert.Equal(t, 1, progressed)

	// Nil handles are no-ops.
	bare := NewMessage("s", nil, nil, time.Now(), nil, nil)
	require.NoError(t, bare.Ack())
	require.NoError(t, bare.InProgress())
}

func TestMemoryConsumeFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Seed("ORDERS",
		NewMessage("orders.created", []byte("1"), nil, time.Now(), nil, nil),
		NewMessage("orders.shipped", []byte("2"), nil, time.Now(), nil, nil),
		NewMessage("orders.created", []byte("3"), nil, time.Now(), nil, nil),
	)

	cons, err := m.Consume(ctx, "ORDERS", "d1", "orders.created")
	require.NoError(t, err)

	msgs, err := cons.Fetch(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", string(msgs[0].Data))
	assert.Equal(t, "3", string(msgs[1].Data))

	// Cursor advanced; nothing left.
	msgs, err = cons.Fetch(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryDurableCursorsAreIndependent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("S", NewMessage("a", []byte("x"), nil, time.Now(), nil, nil))

	c1, _ := m.Consume(ctx, "S", "d1", "a")
	c2, _ := m.Consume(ctx, "S", "d2", "a")

	msgs, err := c1.Fetch(ctx, 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msgs, err = c2.Fetch(ctx, 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestMemoryPublishAndBind(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Bind("REPLAY", "replay.>")

	require.NoError(t, m.Publish(ctx, "replay.orders", []byte("p"), map[string][]string{"H": {"v"}}))
	require.NoError(t, m.Publish(ctx, "other.subject", []byte("q"), nil))

	published := m.Published()
	require.Len(t, published, 2)
	assert.Equal(t, "replay.orders", published[0].Subject)
	assert.Equal(t, []string{"v"}, published[0].Headers["H"])

	// Only the matching publish landed in the bound stream.
	cons, _ := m.Consume(ctx, "REPLAY", "d", ">")
	msgs, err := cons.Fetch(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "replay.orders", msgs[0].Subject)
}

func TestMemoryDeleteConsumer(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.DeleteConsumer(ctx, "S", "d1"))
	assert.Equal(t, []string{"S/d1"}, m.DeletedConsumers())
}
