package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payment-status-orchestrator/internal/config"
	"payment-status-orchestrator/internal/models"
	"payment-status-orchestrator/internal/store"
	"payment-status-orchestrator/internal/telemetry"
)

const maxPaymentIDs = 10000

// RunStore is the slice of the persistence layer the API needs.
type RunStore interface {
	CreateRun(ctx context.Context, p store.CreateRunParams) (models.Run, error)
	GetRun(ctx context.Context, id string) (models.Run, error)
	MarkFailed(ctx context.Context, runID, lastError string) error
	RecordEvent(ctx context.Context, runID, event, detail string) error
	ListEvents(ctx context.Context, runID string, limit int) ([]models.RunEvent, error)
}

// RunEnqueuer hands accepted runs to the worker fleet.
type RunEnqueuer interface {
	Enqueue(ctx context.Context, runID string) error
}

// Limiter guards the submit endpoint per tenant.
type Limiter interface {
	Allow(ctx context.Context, tenant string) (bool, float64, error)
}

// Server wires HTTP handlers for the status-check API.
type Server struct {
	cfg     config.Config
	store   RunStore
	queue   RunEnqueuer
	limiter Limiter
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, st RunStore, q RunEnqueuer, limiter Limiter) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		queue:   q,
		limiter: limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/payments/check-status", s.handleStart)
	r.Get("/payments/check-status/{workflowId}", s.handleStatus)
	r.Get("/payments/check-status/{workflowId}/events", s.handleEvents)
	return r
}

type startRequest struct {
	PaymentIDs []string `json:"paymentIds"`
}

type startResponse struct {
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
}

type statusResponse struct {
	WorkflowID string            `json:"workflowId"`
	Status     string            `json:"status"`
	Progress   *models.Progress  `json:"progress"`
	Result     *models.RunResult `json:"result"`
	Error      string            `json:"error,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.PaymentIDs) == 0 {
		writeError(w, http.StatusBadRequest, "paymentIds is required")
		return
	}
	if len(req.PaymentIDs) > maxPaymentIDs {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("paymentIds exceeds limit of %d", maxPaymentIDs))
		return
	}
	ids, err := dedupePaymentIDs(req.PaymentIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tenant := tenantFromRequest(r)
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), tenant)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	run, err := s.store.CreateRun(r.Context(), store.CreateRunParams{
		Tenant:     tenant,
		PaymentIDs: ids,
		Config:     s.cfg.RunConfig(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	if err := s.queue.Enqueue(r.Context(), run.ID); err != nil {
		_ = s.store.MarkFailed(r.Context(), run.ID, "enqueue failed: "+err.Error())
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	_ = s.store.RecordEvent(r.Context(), run.ID, "accepted", fmt.Sprintf("tenant=%s payments=%d", tenant, len(ids)))
	telemetry.RunsAccepted.Inc()

	writeJSON(w, http.StatusAccepted, startResponse{WorkflowID: run.ID, Status: "STARTED"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowId")
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeJSON(w, http.StatusOK, statusResponse{WorkflowID: id, Status: models.StatusNotFound})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	resp := statusResponse{
		WorkflowID: run.ID,
		Status:     models.StatusFor(run.Phase),
		Progress:   &run.Progress,
	}
	if run.Phase == models.PhaseCompleted {
		resp.Result = run.Result
	}
	if run.Phase == models.PhaseFailed && run.LastError != nil {
		resp.Error = *run.LastError
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowId")
	if _, err := s.store.GetRun(r.Context(), id); errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	events, err := s.store.ListEvents(r.Context(), id, 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// dedupePaymentIDs collapses duplicates to their first occurrence, keeping
// input order, and rejects blank entries.
func dedupePaymentIDs(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, errors.New("paymentIds must not contain empty values")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
