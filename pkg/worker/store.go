package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats3-io/nats3/internal/logger"
	"github.com/nats3-io/nats3/pkg/bus"
	"github.com/nats3-io/nats3/pkg/catalog"
	"github.com/nats3-io/nats3/pkg/chunk"
	"github.com/nats3-io/nats3/pkg/jobs"
	"github.com/nats3-io/nats3/pkg/metrics"
	"github.com/nats3-io/nats3/pkg/objstore"
)

// StoreConfig tunes the store worker loop.
type StoreConfig struct {
	// FlushFailureBudget is how many consecutive flush failures are
	// tolerated before the job fails.
	FlushFailureBudget int

	// FetchWait bounds a single fetch when no age deadline is closer.
	FetchWait time.Duration

	// KeepAliveInterval is how often buffered messages get an InProgress
	// ack so the bus does not redeliver them mid-batch.
	KeepAliveInterval time.Duration

	// FlushRetryDelay is the pause after a failed flush attempt.
	FlushRetryDelay time.Duration
}

// ApplyDefaults fills unset knobs.
func (c *StoreConfig) ApplyDefaults() {
	if c.FlushFailureBudget <= 0 {
		c.FlushFailureBudget = 5
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 1 * time.Second
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 10 * time.Second
	}
	if c.FlushRetryDelay <= 0 {
		c.FlushRetryDelay = 1 * time.Second
	}
}

// StoreWorker drains one durable consumer into chunk objects.
type StoreWorker struct {
	job     jobs.StoreJob
	codec   chunk.Codec
	bus     bus.Bus
	objects objstore.Store
	catalog catalog.Catalog
	metrics *metrics.Metrics
	cfg     StoreConfig
	log     *slog.Logger
}

// NewStoreWorker builds a store worker for the given job.
func NewStoreWorker(job jobs.StoreJob, b bus.Bus, objects objstore.Store, cat catalog.Catalog, m *metrics.Metrics, cfg StoreConfig) (*StoreWorker, error) {
	cfg.ApplyDefaults()

	codec, err := chunk.CodecFromName(string(job.Codec))
	if err != nil {
		return nil, fmt.Errorf("store job %s: %w", job.ID, err)
	}

	return &StoreWorker{
		job:     job,
		codec:   codec,
		bus:     b,
		objects: objects,
		catalog: cat,
		metrics: m,
		cfg:     cfg,
		log:     logger.With("component", "store-worker", "job_id", job.ID.String(), "job", job.Name),
	}, nil
}

// batch accumulates fetched messages until a flush threshold trips.
type batch struct {
	msgs      []*bus.Message
	records   []chunk.Record
	bytes     int64
	startedAt time.Time
}

func (b *batch) add(msg *bus.Message) {
	if len(b.msgs) == 0 {
		b.startedAt = time.Now()
	}
	b.msgs = append(b.msgs, msg)
	b.records = append(b.records, chunk.Record{
		Subject:   msg.Subject,
		Timestamp: msg.Timestamp,
		Headers:   msg.Headers,
		Data:      msg.Data,
	})
	b.bytes += int64(len(msg.Data))
}

func (b *batch) empty() bool { return len(b.msgs) == 0 }

func (b *batch) age() time.Duration {
	if b.empty() {
		return 0
	}
	return time.Since(b.startedAt)
}

func (b *batch) reset() {
	b.msgs = nil
	b.records = nil
	b.bytes = 0
}

// Run drives the drain loop until the context is cancelled, a pause is
// requested, or the flush failure budget is exhausted. Pause and cancel both
// drain the partial batch before returning.
func (w *StoreWorker) Run(ctx context.Context, pause <-chan struct{}) (ExitReason, error) {
	consumer, err := w.bus.Consume(ctx, w.job.Stream, w.job.ConsumerName(), w.job.Subject)
	if err != nil {
		return ExitFailed, fmt.Errorf("bind consumer: %w", err)
	}

	w.log.Info("Store worker started",
		"stream", w.job.Stream,
		"subject", w.job.Subject,
		"consumer", w.job.ConsumerName(),
	)

	var (
		acc           batch
		flushFailures int
		lastKeepAlive = time.Now()
	)

	for {
		select {
		case <-ctx.Done():
			w.drainOnExit(&acc, "cancel")
			return ExitCancelled, nil
		case <-pause:
			if err := w.drainOnExit(&acc, "pause"); err != nil {
				return ExitFailed, err
			}
			return ExitPaused, nil
		default:
		}

		msgs, err := consumer.Fetch(ctx, w.fetchMax(&acc), w.fetchWait(&acc))
		if err != nil {
			if ctx.Err() != nil {
				continue // top of loop handles cancellation
			}
			w.log.Warn("Fetch failed", "error", err)
			sleepCtx(ctx, w.cfg.FlushRetryDelay)
			continue
		}
		// Thresholds are checked per message so one oversized fetch still
		// splits into size-bounded chunks.
		for _, msg := range msgs {
			acc.add(msg)
			if !w.shouldFlush(&acc) {
				continue
			}
			if fatal, err := w.tryFlush(ctx, &acc, &flushFailures); fatal {
				return ExitFailed, err
			}
		}

		// Keep redelivery at bay while the batch is still filling.
		if !acc.empty() && time.Since(lastKeepAlive) >= w.cfg.KeepAliveInterval {
			for _, msg := range acc.msgs {
				if err := msg.InProgress(); err != nil {
					w.log.Warn("Keep-alive ack failed", "error", err)
					break
				}
			}
			lastKeepAlive = time.Now()
		}

		// Age can trip the flush even when the fetch delivered nothing.
		if w.shouldFlush(&acc) {
			if fatal, err := w.tryFlush(ctx, &acc, &flushFailures); fatal {
				return ExitFailed, err
			}
		}
	}
}

// tryFlush attempts one flush against the consecutive-failure budget. The
// batch is retained on failure so the next attempt retries it.
func (w *StoreWorker) tryFlush(ctx context.Context, acc *batch, failures *int) (fatal bool, err error) {
	if err := w.flush(ctx, acc); err != nil {
		*failures++
		w.log.Error("Flush failed",
			"error", err,
			"consecutive_failures", *failures,
			"budget", w.cfg.FlushFailureBudget,
		)
		if *failures >= w.cfg.FlushFailureBudget {
			return true, fmt.Errorf("flush failure budget exhausted: %w", err)
		}
		sleepCtx(ctx, w.cfg.FlushRetryDelay)
		return false, nil
	}
	*failures = 0
	return false, nil
}

func (w *StoreWorker) fetchMax(acc *batch) int {
	max := int(w.job.Batch.MaxCount) - len(acc.msgs)
	if max < 1 {
		max = 1
	}
	return max
}

func (w *StoreWorker) fetchWait(acc *batch) time.Duration {
	wait := w.cfg.FetchWait
	if !acc.empty() {
		if remaining := w.job.Batch.MaxAge.Duration - acc.age(); remaining < wait {
			wait = remaining
		}
	}
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait
}

func (w *StoreWorker) shouldFlush(acc *batch) bool {
	if acc.empty() {
		return false
	}
	return acc.bytes >= w.job.Batch.MaxBytes ||
		int64(len(acc.msgs)) >= w.job.Batch.MaxCount ||
		acc.age() >= w.job.Batch.MaxAge.Duration
}

// drainOnExit flushes whatever accumulated before the worker leaves. The run
// context may already be dead, so the flush gets its own deadline.
func (w *StoreWorker) drainOnExit(acc *batch, cause string) error {
	if acc.empty() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := w.flush(ctx, acc); err != nil {
		w.log.Error("Drain flush failed", "cause", cause, "error", err)
		return fmt.Errorf("drain flush: %w", err)
	}
	return nil
}

// flush encodes the batch, writes the object, catalogs it and acks the
// messages. The sequence number is reserved first so the key can embed it;
// a crash between PUT and insert leaves an orphan object the reconciler
// eventually sweeps.
func (w *StoreWorker) flush(ctx context.Context, acc *batch) error {
	if acc.empty() {
		return nil
	}

	seq, err := w.catalog.NextChunkSequence(ctx)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	payload, hdr, err := chunk.Encode(w.codec, acc.records)
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}

	// The stream does not guarantee timestamp order within a batch, so the
	// chunk span is the min/max over all records, not first/last.
	start, end := acc.records[0].Timestamp, acc.records[0].Timestamp
	for _, rec := range acc.records[1:] {
		if rec.Timestamp.Before(start) {
			start = rec.Timestamp
		}
		if rec.Timestamp.After(end) {
			end = rec.Timestamp
		}
	}
	key := chunk.ObjectKey(w.job.Prefix, w.job.Stream, w.job.Subject, start, seq)

	if err := w.objects.Put(ctx, w.job.Bucket, key, payload); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	jobID := w.job.ID
	err = w.catalog.InsertChunk(ctx, catalog.Chunk{
		SequenceNumber: seq,
		StoreJobID:     &jobID,
		Stream:         w.job.Stream,
		Consumer:       w.job.ConsumerName(),
		Subject:        w.job.Subject,
		Bucket:         w.job.Bucket,
		Prefix:         w.job.Prefix,
		Key:            key,
		TimestampStart: start,
		TimestampEnd:   end,
		MessageCount:   int64(len(acc.records)),
		SizeBytes:      int64(len(payload)),
		Codec:          w.job.Codec,
		Hash:           hdr.Hash[:],
		FormatVersion:  int16(hdr.Version),
	})
	if err != nil {
		return fmt.Errorf("catalog chunk %d: %w", seq, err)
	}

	// Acks only after the chunk is durable. A failed ack means redelivery
	// and a duplicate chunk, which at-least-once delivery permits.
	for _, msg := range acc.msgs {
		if err := msg.Ack(); err != nil {
			w.log.Warn("Ack failed, message will be redelivered", "error", err)
		}
	}

	w.metrics.ChunkWritten(jobID.String(), string(jobs.KindStore), len(acc.records), len(payload))
	w.log.Info("Chunk flushed",
		"sequence", seq,
		"key", key,
		"messages", len(acc.records),
		"bytes", len(payload),
	)

	acc.reset()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
