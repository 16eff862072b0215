package jobs

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// CreateStoreJob is the request body for creating a store job.
type CreateStoreJob struct {
	Name     string `json:"name" validate:"required,max=255"`
	Stream   string `json:"stream" validate:"required"`
	Consumer string `json:"consumer,omitempty"`
	Subject  string `json:"subject" validate:"required"`
	Bucket   string `json:"bucket" validate:"required"`
	Prefix   string `json:"prefix,omitempty"`
	Batch    *Batch `json:"batch,omitempty"`
	Codec    Codec  `json:"codec,omitempty"`

	// Autostart spawns a worker right after the row is inserted.
	// Defaults to true.
	Autostart *bool `json:"autostart,omitempty"`
}

// Validate checks the request for structural problems.
func (r CreateStoreJob) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid store job request: %w", err)
	}
	if r.Codec != "" && !r.Codec.Valid() {
		return fmt.Errorf("invalid store job request: unknown codec %q", r.Codec)
	}
	if r.Batch != nil && r.Batch.MaxAge.Duration < 0 {
		return fmt.Errorf("invalid store job request: max_age must not be negative")
	}
	return nil
}

// Job materializes a StoreJob from the request with defaults applied.
func (r CreateStoreJob) Job() StoreJob {
	batch := Batch{}
	if r.Batch != nil {
		batch = *r.Batch
	}
	batch.ApplyDefaults()

	codec := r.Codec
	if codec == "" {
		codec = CodecBinary
	}

	now := time.Now().UTC()
	return StoreJob{
		ID:        uuid.New(),
		Name:      r.Name,
		Status:    StatusCreated,
		Stream:    r.Stream,
		Consumer:  r.Consumer,
		Subject:   r.Subject,
		Bucket:    r.Bucket,
		Prefix:    r.Prefix,
		Batch:     batch,
		Codec:     codec,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WantsAutostart reports whether the job should start immediately.
func (r CreateStoreJob) WantsAutostart() bool {
	return r.Autostart == nil || *r.Autostart
}

// CreateLoadJob is the request body for creating a load job.
type CreateLoadJob struct {
	Name         string     `json:"name" validate:"required,max=255"`
	Stream       string     `json:"stream" validate:"required"`
	Subject      string     `json:"subject" validate:"required"`
	Bucket       string     `json:"bucket" validate:"required"`
	Prefix       string     `json:"prefix,omitempty"`
	WriteSubject string     `json:"write_subject" validate:"required"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
	PollInterval *Interval  `json:"poll_interval,omitempty"`
	DeleteChunks bool       `json:"delete_chunks,omitempty"`
	Autostart    *bool      `json:"autostart,omitempty"`
}

// Validate checks the request for structural problems.
func (r CreateLoadJob) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid load job request: %w", err)
	}
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return fmt.Errorf("invalid load job request: window end precedes start")
	}
	if r.PollInterval != nil && r.PollInterval.Duration <= 0 {
		return fmt.Errorf("invalid load job request: poll_interval must be positive")
	}
	return nil
}

// Job materializes a LoadJob from the request.
func (r CreateLoadJob) Job() LoadJob {
	now := time.Now().UTC()
	return LoadJob{
		ID:           uuid.New(),
		Name:         r.Name,
		Status:       StatusCreated,
		Stream:       r.Stream,
		Subject:      r.Subject,
		Bucket:       r.Bucket,
		Prefix:       r.Prefix,
		WriteSubject: r.WriteSubject,
		From:         r.From,
		To:           r.To,
		PollInterval: r.PollInterval,
		DeleteChunks: r.DeleteChunks,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// WantsAutostart reports whether the job should start immediately.
func (r CreateLoadJob) WantsAutostart() bool {
	return r.Autostart == nil || *r.Autostart
}
