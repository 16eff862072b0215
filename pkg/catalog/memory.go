package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nats3-io/nats3/pkg/jobs"
)

// Memory is an in-process Catalog used in tests and development mode. It
// mirrors the Postgres implementation's semantics, including transition
// guards and unique constraints.
type Memory struct {
	mu        sync.Mutex
	storeJobs map[uuid.UUID]jobs.StoreJob
	loadJobs  map[uuid.UUID]jobs.LoadJob
	chunks    map[int64]Chunk
	cursors   map[uuid.UUID]int64
	sequence  int64
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{
		storeJobs: make(map[uuid.UUID]jobs.StoreJob),
		loadJobs:  make(map[uuid.UUID]jobs.LoadJob),
		chunks:    make(map[int64]Chunk),
		cursors:   make(map[uuid.UUID]int64),
	}
}

func (m *Memory) CreateStoreJob(_ context.Context, job jobs.StoreJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.storeJobs {
		if existing.Name == job.Name {
			return ErrDuplicateName
		}
	}
	m.storeJobs[job.ID] = job
	return nil
}

func (m *Memory) GetStoreJob(_ context.Context, id uuid.UUID) (jobs.StoreJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.storeJobs[id]
	if !ok {
		return jobs.StoreJob{}, ErrJobNotFound
	}
	return job, nil
}

func (m *Memory) GetStoreJobByName(_ context.Context, name string) (jobs.StoreJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.storeJobs {
		if job.Name == name {
			return job, nil
		}
	}
	return jobs.StoreJob{}, ErrJobNotFound
}

func (m *Memory) ListStoreJobs(_ context.Context, filter StoreJobFilter) ([]jobs.StoreJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []jobs.StoreJob
	for _, job := range m.storeJobs {
		if !statusMatches(job.Status, filter.Statuses) {
			continue
		}
		if filter.Stream != "" && job.Stream != filter.Stream {
			continue
		}
		if filter.Subject != "" && job.Subject != filter.Subject {
			continue
		}
		if filter.Bucket != "" && job.Bucket != filter.Bucket {
			continue
		}
		if filter.Prefix != "" && job.Prefix != filter.Prefix {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return capStoreJobs(out, filter.Limit), nil
}

func (m *Memory) UpdateStoreJobStatus(_ context.Context, id uuid.UUID, to jobs.Status, reason string) (jobs.StoreJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.storeJobs[id]
	if !ok {
		return jobs.StoreJob{}, ErrJobNotFound
	}
	if !job.Status.CanTransition(to) {
		return jobs.StoreJob{}, ErrConflict
	}
	job.Status = to
	job.StatusReason = reason
	job.UpdatedAt = time.Now().UTC()
	m.storeJobs[id] = job
	return job, nil
}

func (m *Memory) DeleteStoreJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.storeJobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(m.storeJobs, id)

	// Chunks outlive their producing job with the reference cleared,
	// like the Postgres ON DELETE SET NULL.
	for seq, chunk := range m.chunks {
		if chunk.StoreJobID != nil && *chunk.StoreJobID == id {
			chunk.StoreJobID = nil
			m.chunks[seq] = chunk
		}
	}
	return nil
}

func (m *Memory) CreateLoadJob(_ context.Context, job jobs.LoadJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.loadJobs {
		if existing.Name == job.Name {
			return ErrDuplicateName
		}
	}
	m.loadJobs[job.ID] = job
	return nil
}

func (m *Memory) GetLoadJob(_ context.Context, id uuid.UUID) (jobs.LoadJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.loadJobs[id]
	if !ok {
		return jobs.LoadJob{}, ErrJobNotFound
	}
	return job, nil
}

func (m *Memory) GetLoadJobByName(_ context.Context, name string) (jobs.LoadJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.loadJobs {
		if job.Name == name {
			return job, nil
		}
	}
	return jobs.LoadJob{}, ErrJobNotFound
}

func (m *Memory) ListLoadJobs(_ context.Context, filter LoadJobFilter) ([]jobs.LoadJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []jobs.LoadJob
	for _, job := range m.loadJobs {
		if !statusMatches(job.Status, filter.Statuses) {
			continue
		}
		if filter.Stream != "" && job.Stream != filter.Stream {
			continue
		}
		if filter.Bucket != "" && job.Bucket != filter.Bucket {
			continue
		}
		if filter.Prefix != "" && job.Prefix != filter.Prefix {
			continue
		}
		if filter.WriteSubject != "" && job.WriteSubject != filter.WriteSubject {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && int32(len(out)) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) UpdateLoadJobStatus(_ context.Context, id uuid.UUID, to jobs.Status, reason string) (jobs.LoadJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.loadJobs[id]
	if !ok {
		return jobs.LoadJob{}, ErrJobNotFound
	}
	if !job.Status.CanTransition(to) {
		return jobs.LoadJob{}, ErrConflict
	}
	job.Status = to
	job.StatusReason = reason
	job.UpdatedAt = time.Now().UTC()
	m.loadJobs[id] = job
	return job, nil
}

func (m *Memory) DeleteLoadJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loadJobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(m.loadJobs, id)
	delete(m.cursors, id)
	return nil
}

func (m *Memory) NextChunkSequence(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequence++
	return m.sequence, nil
}

func (m *Memory) InsertChunk(_ context.Context, chunk Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.chunks {
		if existing.Bucket == chunk.Bucket && existing.Prefix == chunk.Prefix && existing.Key == chunk.Key {
			return ErrDuplicateKey
		}
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now().UTC()
	}
	m.chunks[chunk.SequenceNumber] = chunk
	return nil
}

func (m *Memory) GetChunk(_ context.Context, seq int64) (Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chunk, ok := m.chunks[seq]
	if !ok {
		return Chunk{}, ErrChunkNotFound
	}
	return chunk, nil
}

func (m *Memory) ListChunks(_ context.Context, sel ChunkSelector) ([]Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Chunk
	for _, chunk := range m.chunks {
		if chunk.DeletedAt != nil {
			continue
		}
		if chunk.SequenceNumber <= sel.AfterSequence {
			continue
		}
		if sel.Stream != "" && chunk.Stream != sel.Stream {
			continue
		}
		if sel.Subject != "" && chunk.Subject != sel.Subject {
			continue
		}
		if sel.Bucket != "" && chunk.Bucket != sel.Bucket {
			continue
		}
		if sel.Prefix != "" && chunk.Prefix != sel.Prefix {
			continue
		}
		if sel.From != nil && chunk.TimestampEnd.Before(*sel.From) {
			continue
		}
		if sel.To != nil && chunk.TimestampStart.After(*sel.To) {
			continue
		}
		out = append(out, chunk)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].TimestampStart.Equal(out[j].TimestampStart) {
			return out[i].TimestampStart.Before(out[j].TimestampStart)
		}
		return out[i].SequenceNumber < out[j].SequenceNumber
	})

	if sel.Limit > 0 && int32(len(out)) > sel.Limit {
		out = out[:sel.Limit]
	}
	return out, nil
}

func (m *Memory) SoftDeleteJobChunks(_ context.Context, jobID uuid.UUID) ([]Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var out []Chunk
	for seq, chunk := range m.chunks {
		if chunk.StoreJobID == nil || *chunk.StoreJobID != jobID || chunk.DeletedAt != nil {
			continue
		}
		chunk.DeletedAt = &now
		m.chunks[seq] = chunk
		out = append(out, chunk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (m *Memory) ListChunkKeys(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for _, chunk := range m.chunks {
		if chunk.Bucket == bucket && chunk.Prefix == prefix {
			keys = append(keys, chunk.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) PurgeDeletedChunks(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for seq, chunk := range m.chunks {
		if chunk.DeletedAt != nil && chunk.DeletedAt.Before(cutoff) {
			delete(m.chunks, seq)
			purged++
		}
	}
	return purged, nil
}

func (m *Memory) GetLoadCursor(_ context.Context, jobID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cursors[jobID], nil
}

func (m *Memory) AdvanceLoadCursor(_ context.Context, jobID uuid.UUID, seq int64, markDeleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursors[jobID] = seq
	if markDeleted {
		if chunk, ok := m.chunks[seq]; ok && chunk.DeletedAt == nil {
			now := time.Now().UTC()
			chunk.DeletedAt = &now
			m.chunks[seq] = chunk
		}
	}
	return nil
}

func (m *Memory) Ping(_ context.Context) error { return nil }

func (m *Memory) Close() {}

func statusMatches(status jobs.Status, wanted []jobs.Status) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, s := range wanted {
		if s == status {
			return true
		}
	}
	return false
}

func capStoreJobs(in []jobs.StoreJob, limit int32) []jobs.StoreJob {
	if limit > 0 && int32(len(in)) > limit {
		return in[:limit]
	}
	return in
}
