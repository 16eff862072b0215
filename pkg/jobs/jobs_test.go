package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusCreated, StatusRunning, true},
		{StatusCreated, StatusPaused, true},
		{StatusCreated, StatusSuccess, false},
		{StatusRunning, StatusPaused, true},
		{StatusRunning, StatusSuccess, true},
		{StatusRunning, StatusFailure, true},
		{StatusRunning, StatusCreated, false},
		{StatusPaused, StatusRunning, true},
		{StatusPaused, StatusSuccess, false},
		{StatusSuccess, StatusRunning, false},
		{StatusFailure, StatusRunning, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTransitionSources(t *testing.T) {
	from := TransitionSources(StatusRunning)
	assert.ElementsMatch(t, []Status{StatusCreated, StatusPaused}, from)

	assert.Empty(t, TransitionSources(StatusCreated))
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailure.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusPaused.Terminal())
}

func TestBatchDefaults(t *testing.T) {
	var b Batch
	b.ApplyDefaults()

	assert.Equal(t, int64(DefaultBatchMaxBytes), b.MaxBytes)
	assert.Equal(t, int64(DefaultBatchMaxCount), b.MaxCount)
	assert.Equal(t, DefaultBatchMaxAge, b.MaxAge.Duration)

	// Explicit values survive.
	b = Batch{MaxBytes: 42, MaxCount: 7, MaxAge: Interval{time.Minute}}
	b.ApplyDefaults()
	assert.Equal(t, int64(42), b.MaxBytes)
	assert.Equal(t, int64(7), b.MaxCount)
	assert.Equal(t, time.Minute, b.MaxAge.Duration)
}

func TestIntervalJSON(t *testing.T) {
	in := Interval{2*time.Second + 500*time.Millisecond}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"secs":2,"nanos":500000000}`, string(data))

	var out Interval
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Duration, out.Duration)

	var neg Interval
	err = json.Unmarshal([]byte(`{"secs":-1,"nanos":0}`), &neg)
	assert.Error(t, err)
}

func TestCreateStoreJobValidate(t *testing.T) {
	req := CreateStoreJob{
		Name:    "orders-archive",
		Stream:  "ORDERS",
		Subject: "orders.>",
		Bucket:  "archive",
	}
	require.NoError(t, req.Validate())

	req.Stream = ""
	assert.Error(t, req.Validate())

	req.Stream = "ORDERS"
	req.Codec = Codec("Protobuf")
	assert.Error(t, req.Validate())
}

func TestCreateStoreJobValidateBatchThresholds(t *testing.T) {
	base := CreateStoreJob{
		Name:    "orders-archive",
		Stream:  "ORDERS",
		Subject: "orders.>",
		Bucket:  "archive",
	}

	req := base
	req.Batch = &Batch{MaxBytes: -1}
	assert.Error(t, req.Validate())

	req = base
	req.Batch = &Batch{MaxCount: -5}
	assert.Error(t, req.Validate())

	req = base
	req.Batch = &Batch{MaxAge: Interval{-time.Second}}
	assert.Error(t, req.Validate())

	// Positive thresholds pass; unset ones take the defaults later.
	req = base
	req.Batch = &Batch{MaxBytes: 512_000, MaxCount: 100}
	require.NoError(t, req.Validate())
}

func TestCreateStoreJobMaterialize(t *testing.T) {
	req := CreateStoreJob{
		Name:    "orders-archive",
		Stream:  "ORDERS",
		Subject: "orders.>",
		Bucket:  "archive",
		Prefix:  "prod",
	}

	job := req.Job()
	assert.NotEqual(t, "", job.ID.String())
	assert.Equal(t, StatusCreated, job.Status)
	assert.Equal(t, CodecBinary, job.Codec)
	assert.Equal(t, int64(DefaultBatchMaxBytes), job.Batch.MaxBytes)
	assert.True(t, job.OwnsConsumer())
	assert.Equal(t, "nats3-store-"+job.ID.String(), job.ConsumerName())

	req.Consumer = "pre-existing"
	job = req.Job()
	assert.False(t, job.OwnsConsumer())
	assert.Equal(t, "pre-existing", job.ConsumerName())
}

func TestCreateLoadJobValidate(t *testing.T) {
	req := CreateLoadJob{
		Name:         "orders-replay",
		Stream:       "ORDERS",
		Subject:      "orders.>",
		Bucket:       "archive",
		WriteSubject: "orders.replay",
	}
	require.NoError(t, req.Validate())

	from := time.Now()
	to := from.Add(-time.Hour)
	req.From, req.To = &from, &to
	assert.Error(t, req.Validate())

	req.From, req.To = nil, nil
	req.PollInterval = &Interval{0}
	assert.Error(t, req.Validate())
}

func TestAutostartDefaultsTrue(t *testing.T) {
	assert.True(t, CreateStoreJob{}.WantsAutostart())
	no := false
	assert.False(t, CreateStoreJob{Autostart: &no}.WantsAutostart())
	assert.True(t, CreateLoadJob{}.WantsAutostart())
}
