// Package diagnostics serves a sync session's status, error statistics and
// Prometheus metrics over HTTP.
package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mcdev12/cardsync/go/internal/gamesync"
	"github.com/mcdev12/cardsync/go/internal/syncerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// SessionView is the part of a session the diagnostics endpoints read.
type SessionView interface {
	Status() gamesync.Status
	ErrorStats() syncerr.Stats
	Resync(ctx context.Context) error
}

type Config struct {
	Addr           string
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
}

// NewHandler builds the diagnostics mux wrapped in CORS and h2c.
func NewHandler(session SessionView, cfg Config) http.Handler {
	mux := http.NewServeMux()

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
	})

	h := &handlers{session: session}
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /debug/sync/status", h.status)
	mux.HandleFunc("GET /debug/sync/errors", h.errors)
	mux.HandleFunc("POST /debug/sync/resync", h.resync)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

func NewServer(session SessionView, cfg Config) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(session, cfg),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

type handlers struct {
	session SessionView
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

func (h *handlers) errors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.session.ErrorStats())
}

func (h *handlers) resync(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Resync(r.Context()); err != nil {
		log.Error().Err(err).Msg("manual resync failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.session.Status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode diagnostics response")
	}
}
