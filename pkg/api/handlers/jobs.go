package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nats3-io/nats3/pkg/catalog"
	"github.com/nats3-io/nats3/pkg/jobs"
	"github.com/nats3-io/nats3/pkg/supervisor"
)

// JobsHandler serves the job management routes. Lifecycle operations go
// through the supervisor; reads go straight to the catalog.
type JobsHandler struct {
	sup *supervisor.Supervisor
	cat catalog.Catalog
}

// NewJobsHandler creates the job management handler.
func NewJobsHandler(sup *supervisor.Supervisor, cat catalog.Catalog) *JobsHandler {
	return &JobsHandler{sup: sup, cat: cat}
}

// CreateStoreJob handles POST /api/v1/store/job.
func (h *JobsHandler) CreateStoreJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.CreateStoreJob
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, fmt.Errorf("malformed request body: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		writeBadRequest(w, err)
		return
	}

	job, err := h.sup.CreateStoreJob(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// GetStoreJob handles GET /api/v1/store/job?job_id=...
func (h *JobsHandler) GetStoreJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	job, err := h.cat.GetStoreJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListStoreJobs handles GET /api/v1/store/jobs with optional filters:
// statuses (comma-separated), stream, subject, bucket, prefix, limit.
func (h *JobsHandler) ListStoreJobs(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query().Get("statuses"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	q := r.URL.Query()
	list, err := h.cat.ListStoreJobs(r.Context(), catalog.StoreJobFilter{
		Statuses: statuses,
		Stream:   q.Get("stream"),
		Subject:  q.Get("subject"),
		Bucket:   q.Get("bucket"),
		Prefix:   q.Get("prefix"),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []jobs.StoreJob{}
	}
	writeJSON(w, http.StatusOK, list)
}

// PauseStoreJob handles POST /api/v1/store/job/pause?job_id=...
func (h *JobsHandler) PauseStoreJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	job, err := h.sup.PauseStoreJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ResumeStoreJob handles POST /api/v1/store/job/resume?job_id=...
func (h *JobsHandler) ResumeStoreJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	job, err := h.sup.ResumeStoreJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeleteStoreJob handles DELETE /api/v1/store/job?job_id=...&cascade=true.
// With cascade the job's chunk rows are soft-deleted and their objects
// removed; without it the chunks survive the job.
func (h *JobsHandler) DeleteStoreJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	cascade, err := parseCascade(r.URL.Query().Get("cascade"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := h.sup.DeleteStoreJob(r.Context(), id, cascade); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateLoadJob handles POST /api/v1/load/job.
func (h *JobsHandler) CreateLoadJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.CreateLoadJob
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, fmt.Errorf("malformed request body: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		writeBadRequest(w, err)
		return
	}

	job, err := h.sup.CreateLoadJob(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// GetLoadJob handles GET /api/v1/load/job?job_id=...
func (h *JobsHandler) GetLoadJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	job, err := h.cat.GetLoadJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListLoadJobs handles GET /api/v1/load/jobs with optional filters:
// statuses (comma-separated), stream, bucket, prefix, write_subject, limit.
func (h *JobsHandler) ListLoadJobs(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query().Get("statuses"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	q := r.URL.Query()
	list, err := h.cat.ListLoadJobs(r.Context(), catalog.LoadJobFilter{
		Statuses:     statuses,
		Stream:       q.Get("stream"),
		Bucket:       q.Get("bucket"),
		Prefix:       q.Get("prefix"),
		WriteSubject: q.Get("write_subject"),
		Limit:        limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []jobs.LoadJob{}
	}
	writeJSON(w, http.StatusOK, list)
}

// PauseLoadJob handles POST /api/v1/load/job/pause?job_id=...
func (h *JobsHandler) PauseLoadJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	job, err := h.sup.PauseLoadJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ResumeLoadJob handles POST /api/v1/load/job/resume?job_id=...
func (h *JobsHandler) ResumeLoadJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	job, err := h.sup.ResumeLoadJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeleteLoadJob handles DELETE /api/v1/load/job?job_id=...
func (h *JobsHandler) DeleteLoadJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := h.sup.DeleteLoadJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseStatuses(raw string) ([]jobs.Status, error) {
	if raw == "" {
		return nil, nil
	}
	var out []jobs.Status
	for _, part := range strings.Split(raw, ",") {
		s := jobs.Status(strings.TrimSpace(part))
		if !s.Valid() {
			return nil, fmt.Errorf("unknown status %q", part)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseCascade(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("cascade must be a boolean")
	}
	return v, nil
}

func parseLimit(raw string) (int32, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return int32(n), nil
}
