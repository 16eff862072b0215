// Package catalog_test exercises the Postgres catalog against a real
// database in a container. The tests are skipped when Docker is not
// available or when running with -short.
package catalog_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nats3-io/nats3/pkg/catalog"
	"github.com/nats3-io/nats3/pkg/catalog/postgres"
	"github.com/nats3-io/nats3/pkg/jobs"
)

func setupStore(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("nats3_test"),
		tcpostgres.WithUsername("nats3_test"),
		tcpostgres.WithPassword("nats3_test"),
		testcontainers.WithWaitStrategyAndDeadline(5*time.Minute,
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	if err != nil {
		t.Skipf("skipping, could not start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := postgres.New(ctx, postgres.Config{
		URL:         connStr,
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store
}

func TestPostgresCatalog(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	t.Run("store job round trip", func(t *testing.T) {
		job := jobs.CreateStoreJob{
			Name:    "archive",
			Stream:  "ORDERS",
			Subject: "orders.>",
			Bucket:  "bucket",
			Prefix:  "prod",
		}.Job()
		require.NoError(t, store.CreateStoreJob(ctx, job))

		got, err := store.GetStoreJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.Name, got.Name)
		assert.Equal(t, jobs.StatusCreated, got.Status)
		assert.Equal(t, job.Batch, got.Batch)

		byName, err := store.GetStoreJobByName(ctx, "archive")
		require.NoError(t, err)
		assert.Equal(t, job.ID, byName.ID)

		// Duplicate name rejected.
		dup := jobs.CreateStoreJob{
			Name:    "archive",
			Stream:  "OTHER",
			Subject: "x.>",
			Bucket:  "bucket",
		}.Job()
		assert.ErrorIs(t, store.CreateStoreJob(ctx, dup), catalog.ErrDuplicateName)
	})

	t.Run("status transition guard", func(t *testing.T) {
		job := jobs.CreateStoreJob{
			Name:    "transitions",
			Stream:  "ORDERS",
			Subject: "orders.>",
			Bucket:  "bucket",
		}.Job()
		require.NoError(t, store.CreateStoreJob(ctx, job))

		running, err := store.UpdateStoreJobStatus(ctx, job.ID, jobs.StatusRunning, "")
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusRunning, running.Status)

		// Running -> Created is illegal.
		_, err = store.UpdateStoreJobStatus(ctx, job.ID, jobs.StatusCreated, "")
		assert.ErrorIs(t, err, catalog.ErrConflict)

		failed, err := store.UpdateStoreJobStatus(ctx, job.ID, jobs.StatusFailure, "boom")
		require.NoError(t, err)
		assert.Equal(t, "boom", failed.StatusReason)

		// Terminal states are sticky.
		_, err = store.UpdateStoreJobStatus(ctx, job.ID, jobs.StatusRunning, "")
		assert.ErrorIs(t, err, catalog.ErrConflict)
	})

	t.Run("chunk sequence and index", func(t *testing.T) {
		job := jobs.CreateStoreJob{
			Name:    "chunks",
			Stream:  "EVENTS",
			Subject: "events.>",
			Bucket:  "bucket",
			Prefix:  "chunks",
		}.Job()
		require.NoError(t, store.CreateStoreJob(ctx, job))

		seq1, err := store.NextChunkSequence(ctx)
		require.NoError(t, err)
		seq2, err := store.NextChunkSequence(ctx)
		require.NoError(t, err)
		assert.Greater(t, seq2, seq1)

		base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
		row := catalog.Chunk{
			SequenceNumber: seq1,
			StoreJobID:     &job.ID,
			Stream:         "EVENTS",
			Consumer:       job.ConsumerName(),
			Subject:        "events.>",
			Bucket:         "bucket",
			Prefix:         "chunks",
			Key:            "chunks/EVENTS/events._/2026/04/01/1000-1.chunk",
			TimestampStart: base,
			TimestampEnd:   base.Add(time.Second),
			MessageCount:   10,
			SizeBytes:      512,
			Codec:          jobs.CodecBinary,
			Hash:           make([]byte, 32),
			FormatVersion:  1,
		}
		require.NoError(t, store.InsertChunk(ctx, row))

		// Same (bucket, prefix, key) is rejected.
		dup := row
		dup.SequenceNumber = seq2
		assert.ErrorIs(t, store.InsertChunk(ctx, dup), catalog.ErrDuplicateKey)

		got, err := store.GetChunk(ctx, seq1)
		require.NoError(t, err)
		assert.Equal(t, row.Key, got.Key)
		assert.True(t, got.TimestampStart.Equal(base))
		assert.Equal(t, job.ID, *got.StoreJobID)

		listed, err := store.ListChunks(ctx, catalog.ChunkSelector{
			Stream: "EVENTS",
			Bucket: "bucket",
			Prefix: "chunks",
		})
		require.NoError(t, err)
		require.Len(t, listed, 1)

		// A window entirely before the chunk excludes it.
		to := base.Add(-time.Hour)
		listed, err = store.ListChunks(ctx, catalog.ChunkSelector{
			Stream: "EVENTS",
			To:     &to,
		})
		require.NoError(t, err)
		assert.Empty(t, listed)

		// Deleting the producing job clears the reference, keeps the chunk.
		require.NoError(t, store.DeleteStoreJob(ctx, job.ID))
		got, err = store.GetChunk(ctx, seq1)
		require.NoError(t, err)
		assert.Nil(t, got.StoreJobID)
	})

	t.Run("cascade soft delete of job chunks", func(t *testing.T) {
		job := jobs.CreateStoreJob{
			Name:    "cascade",
			Stream:  "EVENTS",
			Subject: "events.>",
			Bucket:  "bucket",
			Prefix:  "cascade",
		}.Job()
		require.NoError(t, store.CreateStoreJob(ctx, job))

		base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
		var seqs []int64
		for i := 0; i < 2; i++ {
			seq, err := store.NextChunkSequence(ctx)
			require.NoError(t, err)
			seqs = append(seqs, seq)
			require.NoError(t, store.InsertChunk(ctx, catalog.Chunk{
				SequenceNumber: seq,
				StoreJobID:     &job.ID,
				Stream:         "EVENTS",
				Consumer:       job.ConsumerName(),
				Subject:        "events.>",
				Bucket:         "bucket",
				Prefix:         "cascade",
				Key:            fmt.Sprintf("cascade/EVENTS/events._/2026/04/02/%d-%d.chunk", i, seq),
				TimestampStart: base,
				TimestampEnd:   base.Add(time.Second),
				MessageCount:   1,
				SizeBytes:      64,
				Codec:          jobs.CodecBinary,
				Hash:           make([]byte, 32),
				FormatVersion:  1,
			}))
		}

		deleted, err := store.SoftDeleteJobChunks(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, deleted, 2)
		for _, c := range deleted {
			assert.Contains(t, seqs, c.SequenceNumber)
			assert.NotNil(t, c.DeletedAt)
		}

		listed, err := store.ListChunks(ctx, catalog.ChunkSelector{Prefix: "cascade"})
		require.NoError(t, err)
		assert.Empty(t, listed)

		// A second pass finds nothing left to delete.
		deleted, err = store.SoftDeleteJobChunks(ctx, job.ID)
		require.NoError(t, err)
		assert.Empty(t, deleted)
	})

	t.Run("load cursor advance and soft delete", func(t *testing.T) {
		job := jobs.CreateLoadJob{
			Name:         "restore",
			Stream:       "EVENTS",
			Subject:      "events.>",
			Bucket:       "bucket",
			Prefix:       "cursor",
			WriteSubject: "events.replay",
			DeleteChunks: true,
		}.Job()
		require.NoError(t, store.CreateLoadJob(ctx, job))

		cursor, err := store.GetLoadCursor(ctx, job.ID)
		require.NoError(t, err)
		assert.Zero(t, cursor)

		seq, err := store.NextChunkSequence(ctx)
		require.NoError(t, err)
		base := time.Date(2026, 4, 1, 11, 0, 0, 0, time.UTC)
		require.NoError(t, store.InsertChunk(ctx, catalog.Chunk{
			SequenceNumber: seq,
			Stream:         "EVENTS",
			Subject:        "events.>",
			Bucket:         "bucket",
			Prefix:         "cursor",
			Key:            "cursor/EVENTS/events._/2026/04/01/2000-9.chunk",
			TimestampStart: base,
			TimestampEnd:   base,
			MessageCount:   1,
			SizeBytes:      64,
			Codec:          jobs.CodecBinary,
			Hash:           make([]byte, 32),
			FormatVersion:  1,
		}))

		require.NoError(t, store.AdvanceLoadCursor(ctx, job.ID, seq, true))

		cursor, err = store.GetLoadCursor(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, seq, cursor)

		// Soft-deleted: invisible to ListChunks, visible to ListChunkKeys.
		listed, err := store.ListChunks(ctx, catalog.ChunkSelector{Prefix: "cursor"})
		require.NoError(t, err)
		assert.Empty(t, listed)

		keys, err := store.ListChunkKeys(ctx, "bucket", "cursor")
		require.NoError(t, err)
		assert.Len(t, keys, 1)

		// Purge removes rows soft-deleted before the cutoff.
		purged, err := store.PurgeDeletedChunks(ctx, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), purged)

		// Deleting the job removes its cursor.
		require.NoError(t, store.DeleteLoadJob(ctx, job.ID))
		_, err = store.GetLoadJob(ctx, job.ID)
		assert.ErrorIs(t, err, catalog.ErrJobNotFound)
	})

	t.Run("list filters", func(t *testing.T) {
		for _, name := range []string{"filter-a", "filter-b"} {
			job := jobs.CreateStoreJob{
				Name:    name,
				Stream:  "FILTERS",
				Subject: "f.>",
				Bucket:  "bucket",
			}.Job()
			require.NoError(t, store.CreateStoreJob(ctx, job))
		}

		listed, err := store.ListStoreJobs(ctx, catalog.StoreJobFilter{Stream: "FILTERS"})
		require.NoError(t, err)
		assert.Len(t, listed, 2)

		listed, err = store.ListStoreJobs(ctx, catalog.StoreJobFilter{
			Stream:   "FILTERS",
			Statuses: []jobs.Status{jobs.StatusRunning},
		})
		require.NoError(t, err)
		assert.Empty(t, listed)

		listed, err = store.ListStoreJobs(ctx, catalog.StoreJobFilter{Stream: "FILTERS", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, listed, 1)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
