package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/e7canasta/tilefeed/internal/store"
)

// HealthStatus represents the health state of the tilefeed service
type HealthStatus struct {
	Status          string  `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64   `json:"uptime_seconds"`
	SourceConnected bool    `json:"source_connected"`
	MQTTConnected   bool    `json:"mqtt_connected,omitempty"`
	SourceFPS       float64 `json:"source_fps"`
	FeedClients     int     `json:"feed_clients"`
	QueueLen        int     `json:"queue_len"`
	DropRate        float64 `json:"drop_rate"`
	Processed       uint64  `json:"processed"`
	Transcripts     uint64  `json:"transcripts"`
	InBattle        bool    `json:"in_battle"`
}

// HealthCheck returns the current health status of the service
func (s *Service) HealthCheck() HealthStatus {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	q := s.queue.Stats()
	g := s.grabber.Stats()
	_, inBattle := s.tracker.Active()
	status := HealthStatus{
		Status:          "healthy",
		SourceConnected: g.Connected,
		SourceFPS:       g.Rate.FPSMean,
		QueueLen:        q.Len,
		DropRate:        q.DropRate(),
		Processed:       s.processor.Stats().Processed,
		Transcripts:     s.tracker.Closed(),
		InBattle:        inBattle,
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if s.mqtt != nil {
		status.MQTTConnected = s.mqtt.Stats().Connected
	}
	if s.hub != nil {
		status.FeedClients = s.hub.Clients()
	}

	// Determine overall health status
	switch {
	case !running:
		status.Status = "unhealthy"
	case !status.SourceConnected, s.mqtt != nil && !status.MQTTConnected:
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health (simple liveness check)
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// ReadinessHandler handles /readiness. Degraded is still ready.
func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.HealthCheck()
	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// TranscriptsHandler handles /transcripts: the stored transcript summaries
// when a database is configured, the in-memory history otherwise.
func (s *Service) TranscriptsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if s.store == nil {
		history := s.tracker.History()
		if limit > 0 && len(history) > limit {
			history = history[len(history)-limit:]
		}
		writeJSON(w, http.StatusOK, history)
		return
	}
	list, err := s.store.List(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list transcripts", "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// TranscriptHandler handles /transcripts/{id} as plain text.
func (s *Service) TranscriptHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.store == nil {
		for _, tr := range s.tracker.History() {
			if tr.ID == id {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				fmt.Fprint(w, tr.String())
				return
			}
		}
		http.NotFound(w, r)
		return
	}
	tr, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("failed to load transcript", "id", id, "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, tr.String())
}

// Mux returns the service routes. /ws is present when the feed hub is.
func (s *Service) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.LivenessHandler)
	mux.HandleFunc("GET /readiness", s.ReadinessHandler)
	mux.HandleFunc("GET /transcripts", s.TranscriptsHandler)
	mux.HandleFunc("GET /transcripts/{id}", s.TranscriptHandler)
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
	return mux
}

func (s *Service) startHTTP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.http = &http.Server{
		Handler:           s.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("http server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
