package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nats3-io/nats3/pkg/bus"
	"github.com/nats3-io/nats3/pkg/catalog"
	"github.com/nats3-io/nats3/pkg/jobs"
	"github.com/nats3-io/nats3/pkg/objstore"
	"github.com/nats3-io/nats3/pkg/supervisor"
	"github.com/nats3-io/nats3/pkg/worker"
)

func newTestRouter(t *testing.T) (http.Handler, *catalog.Memory) {
	t.Helper()

	cat := catalog.NewMemory()
	sup := supervisor.New(cat, bus.NewMemory(), objstore.NewMemory(), nil, supervisor.Config{
		ShutdownTimeout: 5 * time.Second,
		Store:           worker.StoreConfig{FetchWait: 20 * time.Millisecond},
	})
	t.Cleanup(sup.Shutdown)

	return NewRouter(Config{}, sup, cat, nil), cat
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createStoreJob(t *testing.T, router http.Handler, name string) jobs.StoreJob {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/store/job", map[string]any{
		"name":      name,
		"stream":    "ORDERS",
		"subject":   "orders.>",
		"bucket":    "bucket",
		"prefix":    "prod",
		"autostart": false,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job jobs.StoreJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	return job
}

func TestStoreJobLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	job := createStoreJob(t, router, "archive")
	assert.Equal(t, jobs.StatusCreated, job.Status)
	assert.Equal(t, int64(jobs.DefaultBatchMaxCount), job.Batch.MaxCount)

	// Get
	rec := doJSON(t, router, http.MethodGet, "/api/v1/store/job?job_id="+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Pause (Created -> Paused)
	rec = doJSON(t, router, http.MethodPost, "/api/v1/store/job/pause?job_id="+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paused jobs.StoreJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paused))
	assert.Equal(t, jobs.StatusPaused, paused.Status)

	// Resume (Paused -> Running)
	rec = doJSON(t, router, http.MethodPost, "/api/v1/store/job/resume?job_id="+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resumed jobs.StoreJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resumed))
	assert.Equal(t, jobs.StatusRunning, resumed.Status)

	// Delete
	rec = doJSON(t, router, http.MethodDelete, "/api/v1/store/job?job_id="+job.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/store/job?job_id="+job.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStoreJobValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	// Missing required fields.
	rec := doJSON(t, router, http.MethodPost, "/api/v1/store/job", map[string]any{
		"name": "broken",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bad_request", body["kind"])

	// Unknown fields are rejected.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/store/job", map[string]any{
		"name":     "broken",
		"stream":   "S",
		"subject":  "s",
		"bucket":   "b",
		"surprise": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Negative batch thresholds are rejected.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/store/job", map[string]any{
		"name":    "broken",
		"stream":  "S",
		"subject": "s",
		"bucket":  "b",
		"batch":   map[string]any{"max_bytes": -1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed job_id.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/store/job?job_id=not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown job.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/store/job?job_id="+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStoreJobIllegalTransition(t *testing.T) {
	router, _ := newTestRouter(t)
	job := createStoreJob(t, router, "archive")

	// Resume from Created is not a legal transition target path: Created ->
	// Running is fine, but resuming twice hits Running -> Running.
	rec := doJSON(t, router, http.MethodPost, "/api/v1/store/job/resume?job_id="+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/store/job/resume?job_id="+job.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "conflict", body["kind"])
}

func TestListStoreJobsFilters(t *testing.T) {
	router, _ := newTestRouter(t)

	createStoreJob(t, router, "first")
	second := createStoreJob(t, router, "second")

	// Pause one so the status filter has something to separate.
	rec := doJSON(t, router, http.MethodPost, "/api/v1/store/job/pause?job_id="+second.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/store/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []jobs.StoreJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/store/jobs?statuses=Paused", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pausedOnly []jobs.StoreJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pausedOnly))
	require.Len(t, pausedOnly, 1)
	assert.Equal(t, second.ID, pausedOnly[0].ID)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/store/jobs?statuses=Sideways", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// An empty result is a JSON array, not null.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/store/jobs?stream=NOPE", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestDeleteStoreJobCascade(t *testing.T) {
	router, cat := newTestRouter(t)
	ctx := context.Background()

	job := createStoreJob(t, router, "archive")

	seq, err := cat.NextChunkSequence(ctx)
	require.NoError(t, err)
	require.NoError(t, cat.InsertChunk(ctx, catalog.Chunk{
		SequenceNumber: seq,
		StoreJobID:     &job.ID,
		Stream:         "ORDERS",
		Subject:        "orders.>",
		Bucket:         "bucket",
		Prefix:         "prod",
		Key:            "prod/ORDERS/orders._/2026/04/01/0-1.chunk",
		TimestampStart: time.Now().UTC(),
		TimestampEnd:   time.Now().UTC(),
		MessageCount:   1,
		Codec:          jobs.CodecBinary,
		Hash:           make([]byte, 32),
		FormatVersion:  1,
	}))

	// A malformed cascade flag is a 400.
	rec := doJSON(t, router, http.MethodDelete,
		"/api/v1/store/job?job_id="+job.ID.String()+"&cascade=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodDelete,
		"/api/v1/store/job?job_id="+job.ID.String()+"&cascade=true", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The job's chunk rows were soft-deleted along with it.
	chunks, err := cat.ListChunks(ctx, catalog.ChunkSelector{})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestLoadJobLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/load/job", map[string]any{
		"name":          "restore",
		"stream":        "ORDERS",
		"subject":       "orders.>",
		"bucket":        "bucket",
		"prefix":        "prod",
		"write_subject": "orders.replay",
		"poll_interval": map[string]int64{"secs": 5, "nanos": 0},
		"autostart":     false,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job jobs.LoadJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.NotNil(t, job.PollInterval)
	assert.Equal(t, 5*time.Second, job.PollInterval.Duration)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/load/jobs?write_subject=orders.replay", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []jobs.LoadJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/load/job?job_id="+job.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLoadJobWindowValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	from := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/load/job", map[string]any{
		"name":          "backwards",
		"stream":        "ORDERS",
		"subject":       "orders.>",
		"bucket":        "bucket",
		"write_subject": "orders.replay",
		"from":          from.Format(time.RFC3339),
		"to":            to.Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestCreateIsIdempotentByName(t *testing.T) {
	router, cat := newTestRouter(t)

	first := createStoreJob(t, router, "archive")
	second := createStoreJob(t, router, "archive")
	assert.Equal(t, first.ID, second.ID)

	all, err := cat.ListStoreJobs(context.Background(), catalog.StoreJobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestServerPortDefault(t *testing.T) {
	cat := catalog.NewMemory()
	sup := supervisor.New(cat, bus.NewMemory(), objstore.NewMemory(), nil, supervisor.Config{})
	t.Cleanup(sup.Shutdown)

	srv := NewServer(Config{}, sup, cat, nil)
	assert.Equal(t, 8080, srv.Port())
}
