// Package jobs defines the durable job model shared by the catalog, the
// workers and the HTTP API: store jobs drain a bus stream into chunked
// objects, load jobs replay chunked objects back onto the bus.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Batch bounds how much a store job accumulates before flushing a chunk.
// Thresholds must be positive; zero means unset and takes the default.
type Batch struct {
	// MaxBytes is the payload-byte threshold for a flush.
	MaxBytes int64 `json:"max_bytes" mapstructure:"max_bytes" validate:"omitempty,gt=0"`

	// MaxCount is the message-count threshold for a flush.
	MaxCount int64 `json:"max_count" mapstructure:"max_count" validate:"omitempty,gt=0"`

	// MaxAge flushes a non-empty batch after this much wall-clock time
	// even if neither size threshold was reached.
	MaxAge Interval `json:"max_age" mapstructure:"max_age"`
}

// Default batch thresholds.
const (
	DefaultBatchMaxBytes = 1_000_000
	DefaultBatchMaxCount = 1000
	DefaultBatchMaxAge   = 10 * time.Second
)

// ApplyDefaults fills unset batch thresholds.
func (b *Batch) ApplyDefaults() {
	if b.MaxBytes <= 0 {
		b.MaxBytes = DefaultBatchMaxBytes
	}
	if b.MaxCount <= 0 {
		b.MaxCount = DefaultBatchMaxCount
	}
	if b.MaxAge.Duration <= 0 {
		b.MaxAge = Interval{DefaultBatchMaxAge}
	}
}

// Codec selects the record serialization used inside chunk payloads.
type Codec string

const (
	CodecBinary Codec = "Binary"
	CodecJSON   Codec = "Json"
)

// Valid reports whether c names a known codec.
func (c Codec) Valid() bool {
	return c == CodecBinary || c == CodecJSON
}

// Interval is a duration that serializes as {"secs": s, "nanos": n} on the
// wire, matching the API schema.
type Interval struct {
	time.Duration
}

type intervalWire struct {
	Secs  int64 `json:"secs"`
	Nanos int64 `json:"nanos"`
}

func (i Interval) MarshalJSON() ([]byte, error) {
	d := i.Duration
	return json.Marshal(intervalWire{
		Secs:  int64(d / time.Second),
		Nanos: int64(d % time.Second),
	})
}

func (i *Interval) UnmarshalJSON(data []byte) error {
	var w intervalWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Secs < 0 || w.Nanos < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	i.Duration = time.Duration(w.Secs)*time.Second + time.Duration(w.Nanos)
	return nil
}

// StoreJob drains a durable consumer on a bus stream into chunk objects.
type StoreJob struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Status       Status    `json:"status"`
	StatusReason string    `json:"status_reason,omitempty"`

	// Stream and Subject select what to drain. Consumer optionally names a
	// pre-existing durable consumer; when empty one is derived from the job
	// id and owned (created and deleted) by the job.
	Stream   string `json:"stream"`
	Consumer string `json:"consumer,omitempty"`
	Subject  string `json:"subject"`

	// Bucket and Prefix locate the chunk objects.
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix,omitempty"`

	Batch Batch `json:"batch"`
	Codec Codec `json:"codec"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConsumerName returns the durable consumer the job drains: the configured
// one when set, otherwise a name derived from the job id.
func (j StoreJob) ConsumerName() string {
	if j.Consumer != "" {
		return j.Consumer
	}
	return "nats3-store-" + j.ID.String()
}

// OwnsConsumer reports whether the durable consumer was derived by the job
// and should be deleted with it.
func (j StoreJob) OwnsConsumer() bool {
	return j.Consumer == ""
}

// LoadJob replays chunk objects back onto the bus in catalog order.
type LoadJob struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Status       Status    `json:"status"`
	StatusReason string    `json:"status_reason,omitempty"`

	// Stream, Subject, Bucket and Prefix select which chunks to replay.
	Stream  string `json:"stream"`
	Subject string `json:"subject"`
	Bucket  string `json:"bucket"`
	Prefix  string `json:"prefix,omitempty"`

	// WriteSubject is where replayed records are published.
	WriteSubject string `json:"write_subject"`

	// From and To optionally bound the replay window by record time.
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`

	// PollInterval, when set, keeps the job tailing the catalog for new
	// chunks instead of completing once the window is exhausted.
	PollInterval *Interval `json:"poll_interval,omitempty"`

	// DeleteChunks removes each chunk (object plus catalog soft delete)
	// after its records were published.
	DeleteChunks bool `json:"delete_chunks"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
