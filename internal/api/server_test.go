package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"payment-status-orchestrator/internal/config"
	"payment-status-orchestrator/internal/models"
	"payment-status-orchestrator/internal/store"
)

type fakeStore struct {
	runs    map[string]models.Run
	created []store.CreateRunParams
	events  []models.RunEvent
	failed  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: map[string]models.Run{}}
}

func (s *fakeStore) CreateRun(_ context.Context, p store.CreateRunParams) (models.Run, error) {
	s.created = append(s.created, p)
	run := models.Run{
		ID:         fmt.Sprintf("run-%d", len(s.created)),
		Tenant:     p.Tenant,
		PaymentIDs: p.PaymentIDs,
		Config:     p.Config,
		Phase:      models.PhaseLookup,
	}
	s.runs[run.ID] = run
	return run, nil
}

func (s *fakeStore) GetRun(_ context.Context, id string) (models.Run, error) {
	run, ok := s.runs[id]
	if !ok {
		return models.Run{}, store.ErrRunNotFound
	}
	return run, nil
}

func (s *fakeStore) MarkFailed(_ context.Context, runID, lastError string) error {
	s.failed = append(s.failed, runID)
	return nil
}

func (s *fakeStore) RecordEvent(_ context.Context, runID, event, detail string) error {
	s.events = append(s.events, models.RunEvent{RunID: runID, Event: event, Detail: detail})
	return nil
}

func (s *fakeStore) ListEvents(_ context.Context, runID string, _ int) ([]models.RunEvent, error) {
	var out []models.RunEvent
	for _, ev := range s.events {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeQueue struct {
	enqueued []string
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, runID string) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, runID)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, float64, error) { return false, 0, nil }

func newTestServer(st *fakeStore, q *fakeQueue, limiter Limiter) *Server {
	return New(config.Load(), st, q, limiter)
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStartAcceptsRun(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	handler := newTestServer(st, q, nil).Router()

	rec := postJSON(t, handler, "/payments/check-status", `{"paymentIds":["p1","p2","p3"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		WorkflowID string `json:"workflowId"`
		Status     string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "STARTED" || resp.WorkflowID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != resp.WorkflowID {
		t.Fatalf("run not enqueued: %v", q.enqueued)
	}
}

func TestStartValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"paymentIds": [`},
		{"missing ids", `{}`},
		{"empty ids", `{"paymentIds": []}`},
		{"blank id", `{"paymentIds": ["p1", ""]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestServer(newFakeStore(), &fakeQueue{}, nil).Router()
			rec := postJSON(t, handler, "/payments/check-status", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestStartRejectsOversizedInput(t *testing.T) {
	ids := make([]string, maxPaymentIDs+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i)
	}
	body, _ := json.Marshal(map[string]any{"paymentIds": ids})

	handler := newTestServer(newFakeStore(), &fakeQueue{}, nil).Router()
	rec := postJSON(t, handler, "/payments/check-status", string(body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for %d ids, got %d", len(ids), rec.Code)
	}
}

func TestStartDeduplicatesPaymentIDs(t *testing.T) {
	st := newFakeStore()
	handler := newTestServer(st, &fakeQueue{}, nil).Router()

	rec := postJSON(t, handler, "/payments/check-status", `{"paymentIds":["p1","p2","p1","p3","p2"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(st.created) != 1 {
		t.Fatalf("expected one run, got %d", len(st.created))
	}
	if !reflect.DeepEqual(st.created[0].PaymentIDs, []string{"p1", "p2", "p3"}) {
		t.Fatalf("expected deduped ids in input order, got %v", st.created[0].PaymentIDs)
	}
}

func TestStartRateLimited(t *testing.T) {
	handler := newTestServer(newFakeStore(), &fakeQueue{}, denyLimiter{}).Router()
	rec := postJSON(t, handler, "/payments/check-status", `{"paymentIds":["p1"]}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestStartEnqueueFailureMarksRunFailed(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{err: fmt.Errorf("redis down")}
	handler := newTestServer(st, q, nil).Router()

	rec := postJSON(t, handler, "/payments/check-status", `{"paymentIds":["p1"]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if len(st.failed) != 1 {
		t.Fatalf("run not marked failed: %v", st.failed)
	}
}

func TestStatusNotFound(t *testing.T) {
	handler := newTestServer(newFakeStore(), &fakeQueue{}, nil).Router()

	req := httptest.NewRequest(http.MethodGet, "/payments/check-status/unknown", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		WorkflowID string           `json:"workflowId"`
		Status     string           `json:"status"`
		Progress   *models.Progress `json:"progress"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != models.StatusNotFound {
		t.Fatalf("expected NOT_FOUND, got %q", resp.Status)
	}
	if resp.Progress != nil {
		t.Fatalf("expected null progress for unknown run")
	}
}

func TestStatusReportsProgressAndResult(t *testing.T) {
	st := newFakeStore()
	running := models.Run{
		ID:    "run-running",
		Phase: models.PhaseProcessing,
		Progress: models.Progress{
			TotalPayments: 7, GatewaysIdentified: 2,
			ChunksTotal: 3, ChunksCompleted: 1,
			CurrentPhase: models.PhaseProcessing,
		},
	}
	completed := models.Run{
		ID:    "run-done",
		Phase: models.PhaseCompleted,
		Progress: models.Progress{
			TotalPayments: 2, GatewaysIdentified: 1,
			ChunksTotal: 1, ChunksCompleted: 1,
			CurrentPhase: models.PhaseCompleted,
		},
		Result: &models.RunResult{
			Successful:          map[string][]string{"alpha": {"p1", "p2"}},
			FailedChunks:        map[string][]models.FailedChunk{},
			GatewayLookupFailed: []string{},
		},
	}
	st.runs[running.ID] = running
	st.runs[completed.ID] = completed
	handler := newTestServer(st, &fakeQueue{}, nil).Router()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/check-status/run-running", nil))
	var resp statusResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != models.StatusRunning {
		t.Fatalf("expected RUNNING, got %q", resp.Status)
	}
	if resp.Result != nil {
		t.Fatal("result must be null until COMPLETED")
	}
	if resp.Progress == nil || resp.Progress.ChunksCompleted != 1 {
		t.Fatalf("unexpected progress: %+v", resp.Progress)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/check-status/run-done", nil))
	resp = statusResponse{}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != models.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %q", resp.Status)
	}
	if resp.Result == nil || len(resp.Result.Successful["alpha"]) != 2 {
		t.Fatalf("missing result: %+v", resp.Result)
	}
}

func TestStatusReportsFailure(t *testing.T) {
	st := newFakeStore()
	lastErr := "substrate internal error: put run-fail:lookup:p1: redis down"
	st.runs["run-fail"] = models.Run{
		ID:    "run-fail",
		Phase: models.PhaseFailed,
		Progress: models.Progress{
			TotalPayments: 3,
			CurrentPhase:  models.PhaseFailed,
		},
		LastError: &lastErr,
	}
	handler := newTestServer(st, &fakeQueue{}, nil).Router()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/check-status/run-fail", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp statusResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %q", resp.Status)
	}
	if resp.Error != lastErr {
		t.Fatalf("expected terminal error surfaced, got %q", resp.Error)
	}
	if resp.Result != nil {
		t.Fatal("failed run must not expose a result")
	}
	if resp.Progress == nil || resp.Progress.CurrentPhase != models.PhaseFailed {
		t.Fatalf("unexpected progress: %+v", resp.Progress)
	}
}

func TestEventsEndpoint(t *testing.T) {
	st := newFakeStore()
	st.runs["run-1"] = models.Run{ID: "run-1", Phase: models.PhaseProcessing}
	st.events = []models.RunEvent{
		{RunID: "run-1", Event: "accepted"},
		{RunID: "run-1", Event: "started"},
		{RunID: "run-2", Event: "accepted"},
	}
	handler := newTestServer(st, &fakeQueue{}, nil).Router()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/check-status/run-1/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.Count(rec.Body.String(), `"run_id":"run-1"`); got != 2 {
		t.Fatalf("expected 2 events for run-1, got %d: %s", got, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/check-status/nope/events", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", rec.Code)
	}
}
