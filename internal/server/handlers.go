package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type HealthResponse struct {
	Status        string `json:"status"`
	ActiveTests   int    `json:"active_tests"`
	KnownTests    int    `json:"known_tests"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:        "ok",
		ActiveTests:   len(s.engine.ActiveTests()),
		KnownTests:    len(s.engine.MonitoringStatus()),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	s.writeJSON(w, response)
}

// handleTests lists every known test with its monitoring status.
func (s *Server) handleTests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.engine.MonitoringStatus())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")
	if _, ok := s.engine.TestMetrics(id); !ok {
		http.Error(w, "Test not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.engine.TestResults(id))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")
	if _, ok := s.engine.TestMetrics(id); !ok {
		http.Error(w, "Test not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.engine.Alerts(id))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}
