package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/applaudehq/applaude-orchestrator/internal/domain"
	"github.com/applaudehq/applaude-orchestrator/internal/ledger"
	"github.com/applaudehq/applaude-orchestrator/internal/runstore"
)

// Dispatcher is the slice of the run dispatcher the API needs
type Dispatcher interface {
	Enqueue(runID string) error
}

// Server is the HTTP API server
type Server struct {
	store      *runstore.Store
	ledger     *ledger.Ledger
	dispatcher Dispatcher
	addr       string
	mux        *http.ServeMux
	hub        *EventHub
}

// NewServer creates a new API server
func NewServer(store *runstore.Store, ldg *ledger.Ledger, dispatcher Dispatcher, addr string) *Server {
	s := &Server{
		store:      store,
		ledger:     ldg,
		dispatcher: dispatcher,
		addr:       addr,
		mux:        http.NewServeMux(),
		hub:        NewEventHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/plans", s.plansHandler())
	s.mux.HandleFunc("/api/projects/", s.projectActionHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.getRunHandler())
	s.mux.HandleFunc("/api/billing/webhook", s.billingWebhookHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Handler exposes the route table for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until the context is cancelled
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run()

	srv := &http.Server{Addr: s.addr, Handler: s.mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// OnRunStatus is wired as the orchestrator status callback; it feeds
// the SSE and websocket clients.
func (s *Server) OnRunStatus(run *domain.Run) {
	s.hub.Broadcast(Event{Type: "run_status", Data: runToResponse(run)})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
