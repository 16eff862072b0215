// Package catalog defines the durable metadata store: job rows, the chunk
// index and load cursors. Postgres backs production; an in-memory
// implementation backs tests and development mode.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nats3-io/nats3/pkg/jobs"
)

var (
	// ErrJobNotFound is returned when no job matches the given id or name.
	ErrJobNotFound = errors.New("job not found")

	// ErrChunkNotFound is returned when no chunk has the given sequence number.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrDuplicateName is returned when a job name is already taken.
	ErrDuplicateName = errors.New("job name already exists")

	// ErrDuplicateKey is returned when a chunk's (bucket, prefix, key) is
	// already cataloged.
	ErrDuplicateKey = errors.New("chunk key already exists")

	// ErrConflict is returned for illegal status transitions.
	ErrConflict = errors.New("illegal status transition")
)

// Chunk is one catalog row describing a stored chunk object.
type Chunk struct {
	// SequenceNumber is the global, monotonically increasing chunk id.
	// It is reserved via NextChunkSequence before the object is written
	// so the object key can embed it.
	SequenceNumber int64

	// StoreJobID references the producing job; nil once that job was deleted.
	StoreJobID *uuid.UUID

	Stream   string
	Consumer string
	Subject  string

	Bucket string
	Prefix string
	Key    string

	// TimestampStart and TimestampEnd are the stream timestamps of the
	// first and last record in the chunk.
	TimestampStart time.Time
	TimestampEnd   time.Time

	MessageCount int64
	SizeBytes    int64

	Codec         jobs.Codec
	Hash          []byte
	FormatVersion int16

	CreatedAt time.Time
	DeletedAt *time.Time
}

// ChunkSelector filters and orders chunk listings. Results are ordered by
// (timestamp_start, sequence_number) and exclude soft-deleted rows.
type ChunkSelector struct {
	Stream  string
	Subject string
	Bucket  string
	Prefix  string

	// From and To bound the replay window: a chunk qualifies when its
	// [start, end] record-time span intersects the window.
	From *time.Time
	To   *time.Time

	// AfterSequence excludes chunks at or below this sequence number.
	AfterSequence int64

	// Limit caps the result size; zero means no cap.
	Limit int32
}

// StoreJobFilter narrows store job listings.
type StoreJobFilter struct {
	Statuses []jobs.Status
	Stream   string
	Subject  string
	Bucket   string
	Prefix   string
	Limit    int32
}

// LoadJobFilter narrows load job listings.
type LoadJobFilter struct {
	Statuses     []jobs.Status
	Stream       string
	Bucket       string
	Prefix       string
	WriteSubject string
	Limit        int32
}

// StoreJobs manages store job rows.
type StoreJobs interface {
	// CreateStoreJob inserts the row. Returns ErrDuplicateName when the
	// name is taken.
	CreateStoreJob(ctx context.Context, job jobs.StoreJob) error

	GetStoreJob(ctx context.Context, id uuid.UUID) (jobs.StoreJob, error)
	GetStoreJobByName(ctx context.Context, name string) (jobs.StoreJob, error)
	ListStoreJobs(ctx context.Context, filter StoreJobFilter) ([]jobs.StoreJob, error)

	// UpdateStoreJobStatus applies a status transition, guarded by the
	// legal-transition table. Returns ErrConflict for illegal moves.
	UpdateStoreJobStatus(ctx context.Context, id uuid.UUID, to jobs.Status, reason string) (jobs.StoreJob, error)

	// DeleteStoreJob removes the row. Chunks produced by the job survive
	// with their job reference cleared.
	DeleteStoreJob(ctx context.Context, id uuid.UUID) error
}

// LoadJobs manages load job rows.
type LoadJobs interface {
	CreateLoadJob(ctx context.Context, job jobs.LoadJob) error
	GetLoadJob(ctx context.Context, id uuid.UUID) (jobs.LoadJob, error)
	GetLoadJobByName(ctx context.Context, name string) (jobs.LoadJob, error)
	ListLoadJobs(ctx context.Context, filter LoadJobFilter) ([]jobs.LoadJob, error)
	UpdateLoadJobStatus(ctx context.Context, id uuid.UUID, to jobs.Status, reason string) (jobs.LoadJob, error)

	// DeleteLoadJob removes the row and its cursor.
	DeleteLoadJob(ctx context.Context, id uuid.UUID) error
}

// Chunks manages the chunk index.
type Chunks interface {
	// NextChunkSequence reserves and returns the next chunk sequence number.
	NextChunkSequence(ctx context.Context) (int64, error)

	// InsertChunk catalogs a written chunk. Returns ErrDuplicateKey when
	// the (bucket, prefix, key) triple is already present.
	InsertChunk(ctx context.Context, chunk Chunk) error

	GetChunk(ctx context.Context, seq int64) (Chunk, error)
	ListChunks(ctx context.Context, sel ChunkSelector) ([]Chunk, error)

	// SoftDeleteJobChunks soft-deletes every live chunk row produced by the
	// store job and returns the affected rows so callers can also remove
	// the objects.
	SoftDeleteJobChunks(ctx context.Context, jobID uuid.UUID) ([]Chunk, error)

	// ListChunkKeys returns every cataloged key under (bucket, prefix),
	// including soft-deleted rows, for orphan detection.
	ListChunkKeys(ctx context.Context, bucket, prefix string) ([]string, error)

	// PurgeDeletedChunks removes soft-deleted rows older than cutoff and
	// returns how many were purged.
	PurgeDeletedChunks(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cursors manages load job replay positions.
type Cursors interface {
	// GetLoadCursor returns the last replayed sequence number, zero when
	// the job has not replayed anything yet.
	GetLoadCursor(ctx context.Context, jobID uuid.UUID) (int64, error)

	// AdvanceLoadCursor records seq as replayed and, when markDeleted is
	// set, soft-deletes the chunk row in the same transaction.
	AdvanceLoadCursor(ctx context.Context, jobID uuid.UUID, seq int64, markDeleted bool) error
}

// Catalog is the full durable metadata surface.
type Catalog interface {
	StoreJobs
	LoadJobs
	Chunks
	Cursors

	Ping(ctx context.Context) error
	Close()
}
