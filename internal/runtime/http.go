package runtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/textreel/internal/eventstore"
)

type jobView struct {
	JobID      string      `json:"job_id"`
	UserID     string      `json:"user_id,omitempty"`
	Status     string      `json:"status"`
	OutputPath string      `json:"output_path,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Events     []eventView `json:"events"`
}

type eventView struct {
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	At        time.Time `json:"at"`
}

func (r *Runtime) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("GET /v1/jobs/{id}", r.handleJob)
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.componentsHealthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) componentsHealthy() bool {
	if r.cfg.Jobs.Enabled && !r.bus.Healthy() {
		return false
	}
	if r.jobs != nil && !r.jobs.Healthy() {
		return false
	}
	if r.intake != nil && !r.intake.Healthy() {
		return false
	}
	return true
}

// handleJob returns the audit trail of one render job. ?limit caps the number
// of events.
func (r *Runtime) handleJob(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	job, err := r.store.GetJob(req.Context(), id)
	if errors.Is(err, eventstore.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		r.logger.Error("job lookup failed", slogError(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	events, err := r.store.ListJobEvents(req.Context(), id, limit)
	if err != nil {
		r.logger.Error("job events lookup failed", slogError(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	view := jobView{
		JobID:      job.ID,
		UserID:     job.UserID,
		Status:     job.Status,
		OutputPath: job.OutputPath,
		ErrorKind:  job.ErrorKind,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		Events:     make([]eventView, 0, len(events)),
	}
	for _, e := range events {
		view.Events = append(view.Events, eventView{State: e.State, Detail: e.Detail, ErrorKind: e.ErrorKind, At: e.CreatedAt})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		r.logger.Warn("failed to write job response", slogError(err))
	}
}
