package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nats3-io/nats3/pkg/catalog"
	"github.com/nats3-io/nats3/pkg/jobs"
)

const storeJobColumns = `
	id, name, status, status_reason, stream, consumer, subject,
	bucket, prefix, max_bytes, max_count, max_age_ns, codec,
	created_at, updated_at`

func (s *Store) CreateStoreJob(ctx context.Context, job jobs.StoreJob) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO store_jobs (
			id, name, status, status_reason, stream, consumer, subject,
			bucket, prefix, max_bytes, max_count, max_age_ns, codec,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.Name, job.Status, job.StatusReason, job.Stream, job.Consumer,
		job.Subject, job.Bucket, job.Prefix, job.Batch.MaxBytes, job.Batch.MaxCount,
		job.Batch.MaxAge.Nanoseconds(), job.Codec, job.CreatedAt, job.UpdatedAt,
	)
	return mapError(err, "create store job", catalog.ErrJobNotFound)
}

func (s *Store) GetStoreJob(ctx context.Context, id uuid.UUID) (jobs.StoreJob, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+storeJobColumns+` FROM store_jobs WHERE id = $1`, id)
	return scanStoreJob(row)
}

func (s *Store) GetStoreJobByName(ctx context.Context, name string) (jobs.StoreJob, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+storeJobColumns+` FROM store_jobs WHERE name = $1`, name)
	return scanStoreJob(row)
}

func (s *Store) ListStoreJobs(ctx context.Context, filter catalog.StoreJobFilter) ([]jobs.StoreJob, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	query := `SELECT ` + storeJobColumns + ` FROM store_jobs WHERE TRUE`
	var args []any

	if len(filter.Statuses) > 0 {
		args = append(args, statusStrings(filter.Statuses))
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	for _, f := range []struct {
		column string
		value  string
	}{
		{"stream", filter.Stream},
		{"subject", filter.Subject},
		{"bucket", filter.Bucket},
		{"prefix", filter.Prefix},
	} {
		if f.value != "" {
			args = append(args, f.value)
			query += fmt.Sprintf(" AND %s = $%d", f.column, len(args))
		}
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list store jobs: %w", err)
	}
	defer rows.Close()

	var out []jobs.StoreJob
	for rows.Next() {
		job, err := scanStoreJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStoreJobStatus(ctx context.Context, id uuid.UUID, to jobs.Status, reason string) (jobs.StoreJob, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	// The transition table is enforced in the WHERE clause so concurrent
	// updaters cannot race a job into an illegal state.
	row := s.pool.QueryRow(ctx, `
		UPDATE store_jobs
		SET status = $2, status_reason = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+storeJobColumns,
		id, to, reason, statusStrings(jobs.TransitionSources(to)),
	)

	job, err := scanStoreJob(row)
	if err == nil {
		return job, nil
	}
	if err == catalog.ErrJobNotFound {
		// Distinguish a missing row from an illegal transition.
		if _, getErr := s.GetStoreJob(ctx, id); getErr == nil {
			return jobs.StoreJob{}, catalog.ErrConflict
		}
	}
	return jobs.StoreJob{}, err
}

func (s *Store) DeleteStoreJob(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	// chunks.store_job_id clears via ON DELETE SET NULL.
	tag, err := s.pool.Exec(ctx, `DELETE FROM store_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete store job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrJobNotFound
	}
	return nil
}

func scanStoreJob(row pgx.Row) (jobs.StoreJob, error) {
	var (
		job      jobs.StoreJob
		maxAgeNS int64
	)
	err := row.Scan(
		&job.ID, &job.Name, &job.Status, &job.StatusReason, &job.Stream,
		&job.Consumer, &job.Subject, &job.Bucket, &job.Prefix,
		&job.Batch.MaxBytes, &job.Batch.MaxCount, &maxAgeNS, &job.Codec,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return jobs.StoreJob{}, mapError(err, "scan store job", catalog.ErrJobNotFound)
	}
	job.Batch.MaxAge = jobs.Interval{Duration: time.Duration(maxAgeNS)}
	return job, nil
}

const loadJobColumns = `
	id, name, status, status_reason, stream, subject, bucket, prefix,
	write_subject, from_time, to_time, poll_interval_ns, delete_chunks,
	created_at, updated_at`

func (s *Store) CreateLoadJob(ctx context.Context, job jobs.LoadJob) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var pollNS *int64
	if job.PollInterval != nil {
		ns := job.PollInterval.Nanoseconds()
		pollNS = &ns
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO load_jobs (
			id, name, status, status_reason, stream, subject, bucket, prefix,
			write_subject, from_time, to_time, poll_interval_ns, delete_chunks,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.Name, job.Status, job.StatusReason, job.Stream, job.Subject,
		job.Bucket, job.Prefix, job.WriteSubject, job.From, job.To, pollNS,
		job.DeleteChunks, job.CreatedAt, job.UpdatedAt,
	)
	return mapError(err, "create load job", catalog.ErrJobNotFound)
}

func (s *Store) GetLoadJob(ctx context.Context, id uuid.UUID) (jobs.LoadJob, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+loadJobColumns+` FROM load_jobs WHERE id = $1`, id)
	return scanLoadJob(row)
}

func (s *Store) GetLoadJobByName(ctx context.Context, name string) (jobs.LoadJob, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+loadJobColumns+` FROM load_jobs WHERE name = $1`, name)
	return scanLoadJob(row)
}

func (s *Store) ListLoadJobs(ctx context.Context, filter catalog.LoadJobFilter) ([]jobs.LoadJob, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	query := `SELECT ` + loadJobColumns + ` FROM load_jobs WHERE TRUE`
	var args []any

	if len(filter.Statuses) > 0 {
		args = append(args, statusStrings(filter.Statuses))
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	for _, f := range []struct {
		column string
		value  string
	}{
		{"stream", filter.Stream},
		{"bucket", filter.Bucket},
		{"prefix", filter.Prefix},
		{"write_subject", filter.WriteSubject},
	} {
		if f.value != "" {
			args = append(args, f.value)
			query += fmt.Sprintf(" AND %s = $%d", f.column, len(args))
		}
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list load jobs: %w", err)
	}
	defer rows.Close()

	var out []jobs.LoadJob
	for rows.Next() {
		job, err := scanLoadJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) UpdateLoadJobStatus(ctx context.Context, id uuid.UUID, to jobs.Status, reason string) (jobs.LoadJob, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		UPDATE load_jobs
		SET status = $2, status_reason = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+loadJobColumns,
		id, to, reason, statusStrings(jobs.TransitionSources(to)),
	)

	job, err := scanLoadJob(row)
	if err == nil {
		return job, nil
	}
	if err == catalog.ErrJobNotFound {
		if _, getErr := s.GetLoadJob(ctx, id); getErr == nil {
			return jobs.LoadJob{}, catalog.ErrConflict
		}
	}
	return jobs.LoadJob{}, err
}

func (s *Store) DeleteLoadJob(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	// load_cursors drops via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM load_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete load job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrJobNotFound
	}
	return nil
}

func scanLoadJob(row pgx.Row) (jobs.LoadJob, error) {
	var (
		job    jobs.LoadJob
		pollNS *int64
	)
	err := row.Scan(
		&job.ID, &job.Name, &job.Status, &job.StatusReason, &job.Stream,
		&job.Subject, &job.Bucket, &job.Prefix, &job.WriteSubject,
		&job.From, &job.To, &pollNS, &job.DeleteChunks,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return jobs.LoadJob{}, mapError(err, "scan load job", catalog.ErrJobNotFound)
	}
	if pollNS != nil {
		job.PollInterval = &jobs.Interval{Duration: time.Duration(*pollNS)}
	}
	return job, nil
}

func statusStrings(statuses []jobs.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
