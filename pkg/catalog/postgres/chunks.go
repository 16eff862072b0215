package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nats3-io/nats3/pkg/catalog"
)

const chunkColumns = `
	sequence_number, store_job_id, stream, consumer, subject,
	bucket, prefix, key, timestamp_start, timestamp_end,
	message_count, size_bytes, codec, hash, format_version,
	created_at, deleted_at`

func (s *Store) NextChunkSequence(ctx context.Context) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT nextval('chunk_sequence')`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("reserve chunk sequence: %w", err)
	}
	return seq, nil
}

func (s *Store) InsertChunk(ctx context.Context, chunk catalog.Chunk) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO chunks (
			sequence_number, store_job_id, stream, consumer, subject,
			bucket, prefix, key, timestamp_start, timestamp_end,
			message_count, size_bytes, codec, hash, format_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		chunk.SequenceNumber, chunk.StoreJobID, chunk.Stream, chunk.Consumer,
		chunk.Subject, chunk.Bucket, chunk.Prefix, chunk.Key,
		chunk.TimestampStart, chunk.TimestampEnd, chunk.MessageCount,
		chunk.SizeBytes, chunk.Codec, chunk.Hash, chunk.FormatVersion,
	)
	return mapError(err, "insert chunk", catalog.ErrChunkNotFound)
}

func (s *Store) GetChunk(ctx context.Context, seq int64) (catalog.Chunk, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE sequence_number = $1`, seq)
	return scanChunk(row)
}

func (s *Store) ListChunks(ctx context.Context, sel catalog.ChunkSelector) ([]catalog.Chunk, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE deleted_at IS NULL`
	var args []any

	for _, f := range []struct {
		column string
		value  string
	}{
		{"stream", sel.Stream},
		{"subject", sel.Subject},
		{"bucket", sel.Bucket},
		{"prefix", sel.Prefix},
	} {
		if f.value != "" {
			args = append(args, f.value)
			query += fmt.Sprintf(" AND %s = $%d", f.column, len(args))
		}
	}
	if sel.AfterSequence > 0 {
		args = append(args, sel.AfterSequence)
		query += fmt.Sprintf(" AND sequence_number > $%d", len(args))
	}
	// Window intersection: the chunk's [start, end] span must overlap.
	if sel.From != nil {
		args = append(args, *sel.From)
		query += fmt.Sprintf(" AND timestamp_end >= $%d", len(args))
	}
	if sel.To != nil {
		args = append(args, *sel.To)
		query += fmt.Sprintf(" AND timestamp_start <= $%d", len(args))
	}
	query += " ORDER BY timestamp_start, sequence_number"
	if sel.Limit > 0 {
		args = append(args, sel.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []catalog.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
	}
	return out, rows.Err()
}

func (s *Store) SoftDeleteJobChunks(ctx context.Context, jobID uuid.UUID) ([]catalog.Chunk, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		UPDATE chunks SET deleted_at = now()
		WHERE store_job_id = $1 AND deleted_at IS NULL
		RETURNING `+chunkColumns, jobID)
	if err != nil {
		return nil, fmt.Errorf("soft delete job chunks: %w", err)
	}
	defer rows.Close()

	var out []catalog.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
	}
	return out, rows.Err()
}

func (s *Store) ListChunkKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT key FROM chunks WHERE bucket = $1 AND prefix = $2`, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list chunk keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan chunk key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) PurgeDeletedChunks(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chunks WHERE deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deleted chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetLoadCursor(ctx context.Context, jobID uuid.UUID) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var seq int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_sequence FROM load_cursors WHERE job_id = $1`, jobID).Scan(&seq)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("get load cursor: %w", err)
	}
	return seq, nil
}

// AdvanceLoadCursor upserts the cursor and optionally soft-deletes the chunk
// in one transaction so a crash cannot leave the two out of step.
func (s *Store) AdvanceLoadCursor(ctx context.Context, jobID uuid.UUID, seq int64, markDeleted bool) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cursor transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO load_cursors (job_id, last_sequence, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (job_id)
		DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = now()`,
		jobID, seq)
	if err != nil {
		return mapError(err, "advance load cursor", catalog.ErrJobNotFound)
	}

	if markDeleted {
		_, err = tx.Exec(ctx, `
			UPDATE chunks SET deleted_at = now()
			WHERE sequence_number = $1 AND deleted_at IS NULL`, seq)
		if err != nil {
			return fmt.Errorf("soft delete chunk %d: %w", seq, err)
		}
	}

	return tx.Commit(ctx)
}

func scanChunk(row pgx.Row) (catalog.Chunk, error) {
	var chunk catalog.Chunk
	err := row.Scan(
		&chunk.SequenceNumber, &chunk.StoreJobID, &chunk.Stream, &chunk.Consumer,
		&chunk.Subject, &chunk.Bucket, &chunk.Prefix, &chunk.Key,
		&chunk.TimestampStart, &chunk.TimestampEnd, &chunk.MessageCount,
		&chunk.SizeBytes, &chunk.Codec, &chunk.Hash, &chunk.FormatVersion,
		&chunk.CreatedAt, &chunk.DeletedAt,
	)
	if err != nil {
		return catalog.Chunk{}, mapError(err, "scan chunk", catalog.ErrChunkNotFound)
	}
	return chunk, nil
}
