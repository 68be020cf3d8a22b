// Package api exposes the chat turn, history, and book ingestion over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bookchat-core/server/internal/agent/graph"
	"github.com/bookchat-core/server/internal/ingestion"
	"github.com/bookchat-core/server/internal/knowledge"
)

// Jobs is the part of the ingestion queue the handlers use.
type Jobs interface {
	Enqueue(bookID, path string) (ingestion.Job, error)
	Get(jobID string) (ingestion.Job, bool)
}

// BookCatalog lists the books that have a ready index.
type BookCatalog interface {
	ListBooks(ctx context.Context) ([]knowledge.Manifest, error)
}

type Deps struct {
	Runner  graph.Runner
	Catalog BookCatalog
	Jobs    Jobs
	// DataDir receives uploaded PDFs.
	DataDir        string
	AllowedOrigins []string
	// MaxUploadBytes caps an upload body, 0 means the default.
	MaxUploadBytes int64
}

type handler struct {
	deps Deps
}

const defaultMaxUploadBytes = 100 << 20

// NewRouter wires every route with CORS and request metrics.
func NewRouter(deps Deps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	h := &handler{deps: deps}

	router := mux.NewRouter()
	router.Use(corsMiddleware(deps.AllowedOrigins), metricsMiddleware)

	router.HandleFunc("/", h.handleWelcome).Methods(http.MethodGet)
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/chat", h.handleChat).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/history/{sessionId}", h.handleHistory).Methods(http.MethodGet, http.MethodOptions)
	v1.HandleFunc("/books/upload", h.handleUpload).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/books/jobs/{jobId}", h.handleJob).Methods(http.MethodGet, http.MethodOptions)
	v1.HandleFunc("/books/list", h.handleListBooks).Methods(http.MethodGet, http.MethodOptions)

	return router
}

func (h *handler) handleWelcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Book Chat API"})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
