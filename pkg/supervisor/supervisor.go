// Package supervisor owns the job lifecycle: it creates jobs, spawns and
// stops their workers, converges durable status with worker exits, and runs
// the background reconciler.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nats3-io/nats3/internal/logger"
	"github.com/nats3-io/nats3/pkg/bus"
	"github.com/nats3-io/nats3/pkg/catalog"
	"github.com/nats3-io/nats3/pkg/jobs"
	"github.com/nats3-io/nats3/pkg/metrics"
	"github.com/nats3-io/nats3/pkg/objstore"
	"github.com/nats3-io/nats3/pkg/worker"
)

// Config tunes the supervisor and its background loops.
type Config struct {
	// ShutdownTimeout bounds how long Shutdown waits for workers to drain.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// ReconcileInterval is how often the reconciler runs.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`

	// OrphanSafetyWindow is how old an uncataloged chunk object must be
	// before the reconciler deletes it. It must comfortably exceed the
	// longest plausible gap between an object PUT and its catalog insert.
	OrphanSafetyWindow time.Duration `mapstructure:"orphan_safety_window"`

	// PurgeRetention is how long soft-deleted chunk rows are kept before
	// the reconciler purges them.
	PurgeRetention time.Duration `mapstructure:"purge_retention"`

	Store worker.StoreConfig `mapstructure:"-"`
	Load  worker.LoadConfig  `mapstructure:"-"`
}

// ApplyDefaults fills unset knobs.
func (c *Config) ApplyDefaults() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Minute
	}
	if c.OrphanSafetyWindow <= 0 {
		c.OrphanSafetyWindow = time.Hour
	}
	if c.PurgeRetention <= 0 {
		c.PurgeRetention = 24 * time.Hour
	}
	c.Store.ApplyDefaults()
	c.Load.ApplyDefaults()
}

// handle tracks one spawned worker.
type handle struct {
	kind      jobs.Kind
	cancel    context.CancelFunc
	pause     chan struct{}
	pauseOnce sync.Once
	done      chan struct{}
}

func (h *handle) requestPause() {
	h.pauseOnce.Do(func() { close(h.pause) })
}

// Supervisor manages job workers on top of the catalog, the bus and the
// object store.
type Supervisor struct {
	catalog catalog.Catalog
	bus     bus.Bus
	objects objstore.Store
	metrics *metrics.Metrics
	cfg     Config
	log     *slog.Logger

	mu      sync.Mutex
	handles map[uuid.UUID]*handle
	wg      sync.WaitGroup
	closed  bool
}

// New creates a supervisor. Call Recover once at boot and Shutdown on exit.
func New(cat catalog.Catalog, b bus.Bus, objects objstore.Store, m *metrics.Metrics, cfg Config) *Supervisor {
	cfg.ApplyDefaults()
	return &Supervisor{
		catalog: cat,
		bus:     b,
		objects: objects,
		metrics: m,
		cfg:     cfg,
		log:     logger.With("component", "supervisor"),
		handles: make(map[uuid.UUID]*handle),
	}
}

// CreateStoreJob validates and persists the job, then spawns its worker
// unless autostart was disabled. Creating a job whose name already exists
// returns the existing job unchanged.
func (s *Supervisor) CreateStoreJob(ctx context.Context, req jobs.CreateStoreJob) (jobs.StoreJob, error) {
	if err := req.Validate(); err != nil {
		return jobs.StoreJob{}, err
	}

	job := req.Job()
	if err := s.catalog.CreateStoreJob(ctx, job); err != nil {
		if errors.Is(err, catalog.ErrDuplicateName) {
			return s.catalog.GetStoreJobByName(ctx, req.Name)
		}
		return jobs.StoreJob{}, fmt.Errorf("create store job: %w", err)
	}

	s.log.Info("Store job created", "job_id", job.ID, "name", job.Name)

	if req.WantsAutostart() {
		return s.startStore(ctx, job.ID)
	}
	return job, nil
}

// CreateLoadJob validates and persists the job, then spawns its worker
// unless autostart was disabled. Creation is idempotent by name.
func (s *Supervisor) CreateLoadJob(ctx context.Context, req jobs.CreateLoadJob) (jobs.LoadJob, error) {
	if err := req.Validate(); err != nil {
		return jobs.LoadJob{}, err
	}

	job := req.Job()
	if err := s.catalog.CreateLoadJob(ctx, job); err != nil {
		if errors.Is(err, catalog.ErrDuplicateName) {
			return s.catalog.GetLoadJobByName(ctx, req.Name)
		}
		return jobs.LoadJob{}, fmt.Errorf("create load job: %w", err)
	}

	s.log.Info("Load job created", "job_id", job.ID, "name", job.Name)

	if req.WantsAutostart() {
		return s.startLoad(ctx, job.ID)
	}
	return job, nil
}

// PauseStoreJob asks the running worker to pause and waits until it drained
// its partial batch. Pausing a job without a worker applies the Created to
// Paused transition directly.
func (s *Supervisor) PauseStoreJob(ctx context.Context, id uuid.UUID) (jobs.StoreJob, error) {
	if err := s.pauseWorker(ctx, id); err != nil {
		return jobs.StoreJob{}, err
	}

	job, err := s.catalog.GetStoreJob(ctx, id)
	if err != nil {
		return jobs.StoreJob{}, err
	}
	if job.Status != jobs.StatusPaused {
		// No worker was running; move the row directly.
		return s.catalog.UpdateStoreJobStatus(ctx, id, jobs.StatusPaused, "")
	}
	return job, nil
}

// PauseLoadJob asks the running worker to pause and waits for it.
func (s *Supervisor) PauseLoadJob(ctx context.Context, id uuid.UUID) (jobs.LoadJob, error) {
	if err := s.pauseWorker(ctx, id); err != nil {
		return jobs.LoadJob{}, err
	}

	job, err := s.catalog.GetLoadJob(ctx, id)
	if err != nil {
		return jobs.LoadJob{}, err
	}
	if job.Status != jobs.StatusPaused {
		return s.catalog.UpdateLoadJobStatus(ctx, id, jobs.StatusPaused, "")
	}
	return job, nil
}

// ResumeStoreJob transitions the job back to Running and spawns a fresh
// worker. The worker resumes from the durable consumer position.
func (s *Supervisor) ResumeStoreJob(ctx context.Context, id uuid.UUID) (jobs.StoreJob, error) {
	return s.startStore(ctx, id)
}

// ResumeLoadJob transitions the job back to Running and spawns a fresh
// worker. The worker resumes from the load cursor.
func (s *Supervisor) ResumeLoadJob(ctx context.Context, id uuid.UUID) (jobs.LoadJob, error) {
	return s.startLoad(ctx, id)
}

// DeleteStoreJob stops the worker, deletes the job-owned consumer and
// removes the row. Chunks written by the job survive in the catalog unless
// cascade is set, which soft-deletes their rows and removes the objects.
func (s *Supervisor) DeleteStoreJob(ctx context.Context, id uuid.UUID, cascade bool) error {
	job, err := s.catalog.GetStoreJob(ctx, id)
	if err != nil {
		return err
	}

	s.stopWorker(ctx, id)

	if job.OwnsConsumer() {
		if err := s.bus.DeleteConsumer(ctx, job.Stream, job.ConsumerName()); err != nil {
			s.log.Warn("Consumer delete failed",
				"job_id", id,
				"consumer", job.ConsumerName(),
				"error", err,
			)
		}
	}

	if cascade {
		// Rows are soft-deleted before the job row goes away; deleting the
		// job first would clear the chunk references the cascade needs.
		chunks, err := s.catalog.SoftDeleteJobChunks(ctx, id)
		if err != nil {
			return fmt.Errorf("cascade chunk delete: %w", err)
		}
		for _, c := range chunks {
			if err := s.objects.Delete(ctx, c.Bucket, c.Key); err != nil {
				s.log.Warn("Cascade object delete failed",
					"job_id", id,
					"key", c.Key,
					"error", err,
				)
			}
		}
		s.log.Info("Cascade deleted job chunks", "job_id", id, "chunks", len(chunks))
	}

	if err := s.catalog.DeleteStoreJob(ctx, id); err != nil {
		return fmt.Errorf("delete store job: %w", err)
	}
	s.log.Info("Store job deleted", "job_id", id, "name", job.Name)
	return nil
}

// DeleteLoadJob stops the worker and removes the row with its cursor.
func (s *Supervisor) DeleteLoadJob(ctx context.Context, id uuid.UUID) error {
	job, err := s.catalog.GetLoadJob(ctx, id)
	if err != nil {
		return err
	}

	s.stopWorker(ctx, id)

	if err := s.catalog.DeleteLoadJob(ctx, id); err != nil {
		return fmt.Errorf("delete load job: %w", err)
	}
	s.log.Info("Load job deleted", "job_id", id, "name", job.Name)
	return nil
}

// Recover respawns workers for every job left in Running by a previous
// process. Jobs in Created stay put until they are resumed explicitly.
func (s *Supervisor) Recover(ctx context.Context) error {
	running := []jobs.Status{jobs.StatusRunning}

	storeJobs, err := s.catalog.ListStoreJobs(ctx, catalog.StoreJobFilter{Statuses: running})
	if err != nil {
		return fmt.Errorf("recover store jobs: %w", err)
	}
	for _, job := range storeJobs {
		if err := s.spawnStore(job); err != nil {
			s.log.Error("Store job recovery failed", "job_id", job.ID, "error", err)
		}
	}

	loadJobs, err := s.catalog.ListLoadJobs(ctx, catalog.LoadJobFilter{Statuses: running})
	if err != nil {
		return fmt.Errorf("recover load jobs: %w", err)
	}
	for _, job := range loadJobs {
		s.spawnLoad(job)
	}

	s.log.Info("Recovery complete",
		"store_jobs", len(storeJobs),
		"load_jobs", len(loadJobs),
	)
	return nil
}

// Shutdown cancels every worker and waits up to ShutdownTimeout for them to
// drain their partial batches.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for _, h := range s.handles {
		h.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("All workers drained")
	case <-time.After(s.cfg.ShutdownTimeout):
		s.log.Warn("Shutdown timeout elapsed with workers still draining")
	}
}

func (s *Supervisor) startStore(ctx context.Context, id uuid.UUID) (jobs.StoreJob, error) {
	job, err := s.catalog.UpdateStoreJobStatus(ctx, id, jobs.StatusRunning, "")
	if err != nil {
		return jobs.StoreJob{}, err
	}
	if err := s.spawnStore(job); err != nil {
		failed, ferr := s.catalog.UpdateStoreJobStatus(ctx, id, jobs.StatusFailure, err.Error())
		if ferr != nil {
			return jobs.StoreJob{}, err
		}
		return failed, err
	}
	return job, nil
}

func (s *Supervisor) startLoad(ctx context.Context, id uuid.UUID) (jobs.LoadJob, error) {
	job, err := s.catalog.UpdateLoadJobStatus(ctx, id, jobs.StatusRunning, "")
	if err != nil {
		return jobs.LoadJob{}, err
	}
	s.spawnLoad(job)
	return job, nil
}

func (s *Supervisor) spawnStore(job jobs.StoreJob) error {
	w, err := worker.NewStoreWorker(job, s.bus, s.objects, s.catalog, s.metrics, s.cfg.Store)
	if err != nil {
		return err
	}
	s.spawn(job.ID, jobs.KindStore, w.Run)
	return nil
}

func (s *Supervisor) spawnLoad(job jobs.LoadJob) {
	w := worker.NewLoadWorker(job, s.bus, s.objects, s.catalog, s.metrics, s.cfg.Load)
	s.spawn(job.ID, jobs.KindLoad, w.Run)
}

func (s *Supervisor) spawn(id uuid.UUID, kind jobs.Kind, run func(context.Context, <-chan struct{}) (worker.ExitReason, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, exists := s.handles[id]; exists {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{
		kind:   kind,
		cancel: cancel,
		pause:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.handles[id] = h
	s.wg.Add(1)
	s.metrics.JobStarted(string(kind))

	go func() {
		defer s.wg.Done()
		defer cancel()

		reason, err := run(runCtx, h.pause)
		s.complete(id, h, reason, err)
	}()
}

// complete converges the durable status with the worker's exit and releases
// the handle.
func (s *Supervisor) complete(id uuid.UUID, h *handle, reason worker.ExitReason, err error) {
	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()

	s.metrics.JobStopped(string(h.kind))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var to jobs.Status
	var statusReason string
	switch {
	case reason == worker.ExitCompleted && err == nil:
		to = jobs.StatusSuccess
	case reason == worker.ExitPaused:
		to = jobs.StatusPaused
	case reason == worker.ExitCancelled:
		// Shutdown or delete: the row keeps Running so recovery respawns it.
		close(h.done)
		return
	default:
		to = jobs.StatusFailure
		if err != nil {
			statusReason = err.Error()
		}
		s.metrics.JobFailed(id.String(), string(h.kind))
	}

	if err != nil {
		s.log.Error("Worker exited with error",
			"job_id", id,
			"kind", h.kind,
			"reason", reason.String(),
			"error", err,
		)
	} else {
		s.log.Info("Worker exited",
			"job_id", id,
			"kind", h.kind,
			"reason", reason.String(),
		)
	}

	var uerr error
	switch h.kind {
	case jobs.KindStore:
		_, uerr = s.catalog.UpdateStoreJobStatus(ctx, id, to, statusReason)
	case jobs.KindLoad:
		_, uerr = s.catalog.UpdateLoadJobStatus(ctx, id, to, statusReason)
	}
	if uerr != nil && !errors.Is(uerr, catalog.ErrJobNotFound) {
		s.log.Error("Status convergence failed",
			"job_id", id,
			"to", to,
			"error", uerr,
		)
	}

	close(h.done)
}

// pauseWorker signals the worker's pause channel and waits for the exit to
// be converged. A job without a worker is not an error here.
func (s *Supervisor) pauseWorker(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	h.requestPause()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopWorker cancels the worker, if any, and waits for it to finish.
func (s *Supervisor) stopWorker(ctx context.Context, id uuid.UUID) {
	s.mu.Lock()
	h, ok := s.handles[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
	}
}

func (s *Supervisor) hasWorker(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[id]
	return ok
}
