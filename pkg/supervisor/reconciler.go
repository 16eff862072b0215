package supervisor

import (
	"context"
	"strings"
	"time"

	"github.com/nats3-io/nats3/pkg/catalog"
	"github.com/nats3-io/nats3/pkg/chunk"
	"github.com/nats3-io/nats3/pkg/jobs"
)

// RunReconciler runs the reconcile loop until the context is cancelled.
func (s *Supervisor) RunReconciler(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reconcile(ctx)
		}
	}
}

// Reconcile converges the live worker set with the catalog and cleans up
// chunk debris: jobs durably Running without a worker are respawned, chunk
// objects that never made it into the catalog are swept once they are old
// enough, and soft-deleted chunk rows past retention are purged.
func (s *Supervisor) Reconcile(ctx context.Context) {
	s.respawnRunning(ctx)
	s.sweepOrphans(ctx)

	purged, err := s.catalog.PurgeDeletedChunks(ctx, time.Now().UTC().Add(-s.cfg.PurgeRetention))
	if err != nil {
		s.log.Warn("Chunk purge failed", "error", err)
	} else if purged > 0 {
		s.log.Info("Purged soft-deleted chunk rows", "rows", purged)
	}
}

// respawnRunning spawns workers for jobs that are durably Running but have
// no live worker, e.g. after a worker goroutine was lost to a panic.
func (s *Supervisor) respawnRunning(ctx context.Context) {
	running := []jobs.Status{jobs.StatusRunning}

	storeJobs, err := s.catalog.ListStoreJobs(ctx, catalog.StoreJobFilter{Statuses: running})
	if err != nil {
		s.log.Warn("Reconcile store job listing failed", "error", err)
	} else {
		for _, job := range storeJobs {
			if s.hasWorker(job.ID) {
				continue
			}
			s.log.Warn("Respawning store job without a worker", "job_id", job.ID)
			if err := s.spawnStore(job); err != nil {
				s.log.Error("Respawn failed", "job_id", job.ID, "error", err)
			}
		}
	}

	loadJobs, err := s.catalog.ListLoadJobs(ctx, catalog.LoadJobFilter{Statuses: running})
	if err != nil {
		s.log.Warn("Reconcile load job listing failed", "error", err)
		return
	}
	for _, job := range loadJobs {
		if s.hasWorker(job.ID) {
			continue
		}
		s.log.Warn("Respawning load job without a worker", "job_id", job.ID)
		s.spawnLoad(job)
	}
}

// sweepOrphans deletes chunk objects with no catalog row. A crash between
// the object PUT and the catalog insert leaves such objects behind; anything
// younger than the safety window may still be mid-insert and is left alone.
func (s *Supervisor) sweepOrphans(ctx context.Context) {
	storeJobs, err := s.catalog.ListStoreJobs(ctx, catalog.StoreJobFilter{})
	if err != nil {
		s.log.Warn("Orphan sweep job listing failed", "error", err)
		return
	}

	cutoff := time.Now().UTC().Add(-s.cfg.OrphanSafetyWindow)
	seen := make(map[string]struct{})

	for _, job := range storeJobs {
		scope := job.Bucket + "\x00" + job.Prefix
		if _, done := seen[scope]; done {
			continue
		}
		seen[scope] = struct{}{}

		objects, err := s.objects.List(ctx, job.Bucket, job.Prefix)
		if err != nil {
			s.log.Warn("Orphan sweep listing failed",
				"bucket", job.Bucket,
				"prefix", job.Prefix,
				"error", err,
			)
			continue
		}

		keys, err := s.catalog.ListChunkKeys(ctx, job.Bucket, job.Prefix)
		if err != nil {
			s.log.Warn("Orphan sweep catalog listing failed",
				"bucket", job.Bucket,
				"prefix", job.Prefix,
				"error", err,
			)
			continue
		}
		cataloged := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			cataloged[k] = struct{}{}
		}

		for _, obj := range objects {
			if !strings.HasSuffix(obj.Key, chunk.KeySuffix) {
				continue
			}
			if _, ok := cataloged[obj.Key]; ok {
				continue
			}
			if obj.LastModified.After(cutoff) {
				continue
			}
			if err := s.objects.Delete(ctx, job.Bucket, obj.Key); err != nil {
				s.log.Warn("Orphan delete failed",
					"bucket", job.Bucket,
					"key", obj.Key,
					"error", err,
				)
				continue
			}
			s.log.Info("Deleted orphan chunk object",
				"bucket", job.Bucket,
				"key", obj.Key,
				"modified", obj.LastModified,
			)
		}
	}
}
