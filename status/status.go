package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/HCTech2/GOLD-HFT/logging"
	"github.com/HCTech2/GOLD-HFT/models"
)

// SnapshotFunc produces the current read-only status view.
type SnapshotFunc func() models.StatusSnapshot

// Server exposes the strategy state over HTTP: a JSON snapshot, a
// liveness probe and the manual circuit-breaker reset.
type Server struct {
	addr       string
	snapshot   SnapshotFunc
	deactivate func()
	logger     logging.LoggerInterface
	httpServer *http.Server
}

// NewServer builds the status server. deactivate clears the circuit
// breaker and may be nil to disable the endpoint.
func NewServer(addr string, snapshot SnapshotFunc, deactivate func(), logger logging.LoggerInterface) *Server {
	return &Server{
		addr:       addr,
		snapshot:   snapshot,
		deactivate: deactivate,
		logger:     logger,
	}
}

// Start runs the HTTP listener in the background.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/risk/deactivate", s.handleDeactivate)

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Serveur de statut démarré sur %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Serveur de statut arrêté: %v", err)
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.Error("Encodage du statut impossible: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deactivate == nil {
		http.Error(w, "not supported", http.StatusNotImplemented)
		return
	}
	s.deactivate()
	s.logger.Warning("Circuit breaker réinitialisé via l'API de statut")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "deactivated"})
}
