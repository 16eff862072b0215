// Package handlers implements the HTTP handlers behind the management API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nats3-io/nats3/internal/logger"
	"github.com/nats3-io/nats3/pkg/catalog"
)

// errorBody is the JSON error envelope returned by every failed request.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Response encoding failed", "error", err)
	}
}

// writeError maps an error to its status code and error kind.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"

	switch {
	case errors.Is(err, catalog.ErrJobNotFound), errors.Is(err, catalog.ErrChunkNotFound):
		status = http.StatusNotFound
		kind = "not_found"
	case errors.Is(err, catalog.ErrConflict), errors.Is(err, catalog.ErrDuplicateName):
		status = http.StatusConflict
		kind = "conflict"
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

// writeBadRequest reports a malformed or invalid request body.
func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "bad_request"})
}

// jobID parses the job_id query parameter.
func jobID(r *http.Request) (uuid.UUID, error) {
	raw := r.URL.Query().Get("job_id")
	if raw == "" {
		return uuid.Nil, errors.New("missing job_id query parameter")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("job_id is not a valid UUID")
	}
	return id, nil
}

// decodeBody decodes the JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
