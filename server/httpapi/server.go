// Package httpapi serves the public HTTP surface: feed creation, Atom feed
// documents, standalone entry pages, and Prometheus metrics. Everything it
// serves is public; knowing a feed's reference is the only access control.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/letterfeed/letterfeed/atom"
	"github.com/letterfeed/letterfeed/logger"
	"github.com/letterfeed/letterfeed/pkg/metrics"
	"github.com/letterfeed/letterfeed/storage"
)

// maxCreateBodySize bounds the JSON body of feed creation requests.
const maxCreateBodySize = 4 * 1024

// ServerOptions holds configuration options for the public HTTP server.
type ServerOptions struct {
	Addr        string
	MailboxHost string // Domain suffix of receiving addresses
}

// Server is the public HTTP server.
type Server struct {
	addr        string
	mailboxHost string
	store       *storage.Store
	renderer    *atom.Renderer
	server      *http.Server
}

// New creates the public HTTP server backed by store and renderer.
func New(store *storage.Store, renderer *atom.Renderer, options ServerOptions) *Server {
	s := &Server{
		addr:        options.Addr,
		mailboxHost: options.MailboxHost,
		store:       store,
		renderer:    renderer,
	}
	s.server = &http.Server{
		Addr:         options.Addr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/feeds", instrument("create_feed", s.handleCreateFeed)).Methods(http.MethodPost)
	router.HandleFunc("/feeds/{reference}", instrument("get_feed", s.handleGetFeed)).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/feeds/{reference}/entries/{entry}", instrument("get_entry", s.handleGetEntry)).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return router
}

// Start runs the server until ctx is canceled. Startup and serve failures are
// sent on errChan.
func (s *Server) Start(ctx context.Context, errChan chan error) {
	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down HTTP server", "error", err)
		}
	}()

	logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP server failed: %w", err)
	}
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps a handler with request metrics and debug logging.
func instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		logger.Debug("request served", "handler", name, "method", r.Method, "path", r.URL.Path, "status", rec.status)
	}
}

func jsonDecode(r io.Reader, v any) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
