package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/applaudehq/applaude-orchestrator/internal/domain"
	"github.com/applaudehq/applaude-orchestrator/internal/ledger"
	"github.com/applaudehq/applaude-orchestrator/internal/orchestrator"
	"github.com/applaudehq/applaude-orchestrator/internal/runstore"
)

// RunResponse is the API projection of a run
type RunResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Category    string  `json:"category"`
	Status      string  `json:"status"`
	StatusLabel string  `json:"status_label"`
	PRURL       string  `json:"pr_url,omitempty"`
	ReportURL   string  `json:"report_url,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
	Duration    string  `json:"duration"`
}

// StartRunResponse is returned when a run is accepted
type StartRunResponse struct {
	RunID         string `json:"run_id"`
	Status        string `json:"status"`
	RunsRemaining int    `json:"runs_remaining"`
}

// PlanResponse is one entry of the public plan catalog
type PlanResponse struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	PriceUSD     int    `json:"price_usd"`
	Runs         int    `json:"runs"`
	DurationDays int    `json:"duration_days"`
}

// StatusResponse summarizes the run population
type StatusResponse struct {
	Total    int `json:"total"`
	Queued   int `json:"queued"`
	Active   int `json:"active"`
	Complete int `json:"complete"`
	Failed   int `json:"failed"`
}

// LogResponse is one run log line
type LogResponse struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

func runToResponse(r *domain.Run) RunResponse {
	resp := RunResponse{
		ID:          r.ID,
		ProjectID:   r.ProjectID,
		Category:    string(r.Category),
		Status:      string(r.Status),
		StatusLabel: r.Status.Label(),
		PRURL:       r.PRURL,
		ReportURL:   r.ReportURL,
		StartedAt:   r.StartedAt.Format(time.RFC3339),
		Duration:    r.Duration().Round(time.Second).String(),
	}
	if r.CompletedAt != nil {
		t := r.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &t
	}
	return resp
}

// userID extracts the caller identity. Authentication happens upstream;
// the orchestrator trusts the forwarded header.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		runs, err := s.store.ListRuns(runstore.ListOptions{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var status StatusResponse
		status.Total = len(runs)
		for _, run := range runs {
			switch {
			case run.Status == domain.RunQueued:
				status.Queued++
			case run.Status == domain.RunComplete:
				status.Complete++
			case run.Status == domain.RunFailed:
				status.Failed++
			default:
				status.Active++
			}
		}

		writeJSON(w, status)
	}
}

func (s *Server) plansHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		keys := make([]string, 0, len(ledger.Plans))
		for key := range ledger.Plans {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			return ledger.Plans[keys[i]].PriceUSD < ledger.Plans[keys[j]].PriceUSD
		})

		resp := make([]PlanResponse, 0, len(keys))
		for _, key := range keys {
			p := ledger.Plans[key]
			resp = append(resp, PlanResponse{
				Key:          p.Key,
				Name:         p.Name,
				PriceUSD:     p.PriceUSD,
				Runs:         p.Runs,
				DurationDays: p.DurationDays,
			})
		}
		writeJSON(w, resp)
	}
}

type startRunRequest struct {
	Category string `json:"category"`
}

// projectActionHandler serves POST /api/projects/{id}/run
func (s *Server) projectActionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/projects/")
		projectID, action, ok := strings.Cut(path, "/")
		if !ok || action != "run" || projectID == "" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		user := userID(r)
		if user == "" {
			writeError(w, http.StatusBadRequest, "missing X-User-ID")
			return
		}

		var req startRunRequest
		if r.Body != nil {
			// An empty body selects the default category
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		category := domain.RunCategory(req.Category)
		if req.Category == "" {
			category = domain.CategoryFullStack
		}
		if !category.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown category")
			return
		}

		project, err := s.store.GetProject(projectID)
		if errors.Is(err, runstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// A foreign project is indistinguishable from a missing one
		if project.UserID != user {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}

		reservation, err := s.ledger.Reserve(user)
		if errors.Is(err, ledger.ErrInsufficientCredit) {
			writeError(w, http.StatusPaymentRequired, "no runs remaining")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		run := &domain.Run{
			ID:        uuid.NewString(),
			ProjectID: project.ID,
			Category:  category,
			Status:    domain.RunQueued,
			StartedAt: time.Now().UTC(),
		}
		if err := s.store.CreateRun(run); err != nil {
			// Compensate: the reserved credit goes back
			if rerr := s.ledger.Release(reservation); rerr != nil {
				log.Printf("[api] release reservation for %s: %v", user, rerr)
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		if err := s.dispatcher.Enqueue(run.ID); err != nil {
			if ferr := s.store.FailRun(run.ID, time.Now().UTC()); ferr != nil {
				log.Printf("[api] fail undispatched run %s: %v", run.ID, ferr)
			}
			if rerr := s.ledger.Release(reservation); rerr != nil {
				log.Printf("[api] release reservation for %s: %v", user, rerr)
			}
			writeError(w, http.StatusServiceUnavailable, "run queue is full")
			return
		}

		remaining := 0
		if entry, err := s.ledger.Get(user); err == nil && entry != nil {
			remaining = entry.RunsRemaining
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(StartRunResponse{
			RunID:         run.ID,
			Status:        string(run.Status),
			RunsRemaining: remaining,
		})
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		opts := runstore.ListOptions{
			UserID:    userID(r),
			ProjectID: r.URL.Query().Get("project_id"),
			Status:    domain.RunStatus(r.URL.Query().Get("status")),
		}
		runs, err := s.store.ListRuns(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := make([]RunResponse, len(runs))
		for i, run := range runs {
			resp[i] = runToResponse(run)
		}
		writeJSON(w, resp)
	}
}

// getRunHandler serves /api/runs/{id} and /api/runs/{id}/logs
func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "run ID required")
			return
		}
		id, sub, _ := strings.Cut(path, "/")

		run, err := s.store.GetRun(id)
		if errors.Is(err, runstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		switch sub {
		case "":
			writeJSON(w, runToResponse(run))
		case "logs":
			entries, err := s.store.GetLogs(run.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			resp := make([]LogResponse, len(entries))
			for i, e := range entries {
				resp[i] = LogResponse{
					Timestamp: e.Timestamp.Format(time.RFC3339),
					Level:     e.Level,
					Message:   e.Message,
				}
			}
			writeJSON(w, resp)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

// webhookPayload is the payment provider's event envelope
type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Metadata  struct {
			UserID string `json:"user_id"`
			Plan   string `json:"plan"`
		} `json:"metadata"`
	} `json:"data"`
}

// billingWebhookHandler confirms payments. The provider retries on
// anything but 200, so processing failures are logged and swallowed;
// ApplyPayment is idempotent and a retry is always safe.
func (s *Server) billingWebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			log.Printf("[billing] undecodable webhook: %v", err)
			w.WriteHeader(http.StatusOK)
			return
		}
		if payload.Event != "charge.success" {
			w.WriteHeader(http.StatusOK)
			return
		}

		err := s.ledger.ApplyPayment(payload.Data.Reference, payload.Data.Metadata.UserID, payload.Data.Metadata.Plan)
		if err != nil {
			log.Printf("[billing] apply payment %s: %v", payload.Data.Reference, err)
		}
		w.WriteHeader(http.StatusOK)
	}
}

var _ Dispatcher = (*orchestrator.Dispatcher)(nil)
