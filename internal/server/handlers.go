// internal/server/handlers.go
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/valpere/ReviewScrapexter/internal/jobs"
	"github.com/valpere/ReviewScrapexter/internal/output"
	"github.com/valpere/ReviewScrapexter/pkg/api"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleSubmitStore(w http.ResponseWriter, r *http.Request) {
	var body api.StoreRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	s.submit(w, r, body.JobRequest())
}

func (s *Server) handleSubmitCommunity(w http.ResponseWriter, r *http.Request) {
	var body api.CommunityRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	s.submit(w, r, body.JobRequest())
}

func (s *Server) handleSubmitShopping(w http.ResponseWriter, r *http.Request) {
	var body api.ShoppingRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	s.submit(w, r, body.JobRequest())
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, req types.JobRequest) {
	if err := s.guard.CheckRequest(req); err != nil {
		s.logger.Warn("job.submit_rejected", "source", req.Source, "error", err)
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	snap, err := s.jobs.Submit(r.Context(), req)
	switch {
	case err == nil:
		w.Header().Set("Location", "/api/v1/jobs/"+snap.ID)
		writeJSON(w, http.StatusAccepted, api.SubmitResponse{JobID: snap.ID, Status: snap.State})
	case errors.Is(err, jobs.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err, "")
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrShuttingDown):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, err, "")
	default:
		s.logger.Error("job.submit_failed", "source", req.Source, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to submit job"), "")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := s.lookup(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.Status())
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.jobs.Revoke(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, api.RevokeResponse{JobID: id, Revoked: true})
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, err, id)
	case errors.Is(err, jobs.ErrTerminal):
		writeError(w, http.StatusConflict, err, id)
	default:
		s.logger.Error("job.revoke_failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to revoke job"), id)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := s.lookup(w, r, id)
	if !ok {
		return
	}
	if snap.State != types.StateSuccess {
		writeError(w, http.StatusConflict, fmt.Errorf("job is %s, export requires %s", snap.State, types.StateSuccess), id)
		return
	}

	var buf bytes.Buffer
	if err := output.WriteWorkbook(&buf, snap); err != nil {
		s.logger.Error("job.export_failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to build workbook"), id)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="reviews-%s.xlsx"`, id))
	w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Debug("job.export_write_failed", "job_id", id, "error", err)
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, id string) (*jobs.Snapshot, bool) {
	snap, err := s.jobs.Status(r.Context(), id)
	switch {
	case err == nil:
		return snap, true
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, err, id)
	default:
		s.logger.Error("job.status_failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to read job"), id)
	}
	return nil, false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error, jobID string) {
	writeJSON(w, status, api.ErrorResponse{Error: err.Error(), JobID: jobID})
}
