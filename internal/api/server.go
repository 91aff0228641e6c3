// Package api exposes a read-only ops surface over the persistence
// index: health, peer identities, recent readings, and the Prometheus
// metrics endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trustplane/edge/internal/store"
)

// Server serves the ops API.
type Server struct {
	idx      store.Index
	registry *prometheus.Registry
	log      *slog.Logger
}

// NewServer assembles the ops server.
func NewServer(idx store.Index, registry *prometheus.Registry, log *slog.Logger) *Server {
	return &Server{idx: idx, registry: registry, log: log}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/identities", s.handleIdentities).Methods(http.MethodGet)
	r.HandleFunc("/api/readings/{sensor}", s.handleReadings).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

// Start serves until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("ops server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := s.idx.Identities(r.Context(), 100)
	if err != nil {
		s.log.Error("identities query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	out := make([]map[string]any, 0, len(identities))
	for _, ident := range identities {
		out = append(out, map[string]any{
			"did":          ident.DID,
			"verified":     ident.Verified,
			"unverifiable": ident.Unverifiable,
			"subscribed":   ident.Subscribed,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["sensor"]
	sensor, err := s.idx.SensorByKey(r.Context(), key)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "sensor not found"})
		return
	}
	readings, err := s.idx.ReadingsBySensor(r.Context(), sensor.ID, 100)
	if err != nil {
		s.log.Error("readings query failed", "sensor", key, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	out := make([]map[string]any, 0, len(readings))
	for _, reading := range readings {
		out = append(out, map[string]any{
			"value":     reading.Value,
			"timestamp": reading.Timestamp,
			"mqtt":      reading.MQTT,
			"iota":      reading.Iota,
			"verified":  reading.Verified,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
