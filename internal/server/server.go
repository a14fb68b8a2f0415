// Package server exposes the monitoring state over HTTP: monitor
// listings, result histories, and the token-guarded reload endpoint.
// A separate Prometheus metrics server is provided for the prometheus
// metrics exporter.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xbp-monitoring/xbp/internal/probe"
	"github.com/xbp-monitoring/xbp/internal/state"
)

const (
	// ReloadTokenEnv holds the server-side reload secret. Reload is
	// refused entirely when it is not set.
	ReloadTokenEnv = "XBP_RELOAD_TOKEN"

	// ReloadTokenHeader is the request header compared against the
	// server-side secret.
	ReloadTokenHeader = "x-xbp-reload-token"

	serverShutdownTimeout = 5 * time.Second
)

// Server serves the monitoring API.
type Server struct {
	state      *state.State
	port       int
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates an API [Server] over the shared monitoring state.
// The server is not started until [Server.Start] is called.
func New(st *state.State, port int, logger *slog.Logger) *Server {
	return &Server{
		state:  st,
		port:   port,
		logger: logger,
	}
}

// Router builds the API routes. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/-/health", s.handleHealth)
	r.Get("/-/monitors", s.handleMonitors)
	r.Post("/-/reload", s.handleReload)

	r.Get("/probes", s.handleProbes)
	r.Get("/probes/{name}/results", s.handleProbeResults)
	r.Get("/stories", s.handleStories)
	r.Get("/stories/{name}/results", s.handleStoryResults)

	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns after the listener is bound, so a
// port conflict surfaces synchronously. The server shuts down
// gracefully when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler: s.Router(),
		// BaseContext derives all request contexts from the server
		// context, so cancelling ctx also cancels in-flight handlers.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("api server listening", "addr", addr)
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMonitors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MonitorsResponse{
		Probes:  s.state.ProbeNames(),
		Stories: s.state.StoryNames(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	expected := os.Getenv(ReloadTokenEnv)
	if expected == "" {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: fmt.Sprintf("%s is not set", ReloadTokenEnv),
		})
		return
	}

	provided := r.Header.Get(ReloadTokenHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		return
	}

	newConfig, err := s.state.Reload(r.Context())
	if err != nil {
		s.logger.Error("reload failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	s.logger.Info("configuration reloaded",
		"probes", len(newConfig.Probes),
		"stories", len(newConfig.Stories),
	)
	writeJSON(w, http.StatusOK, ReloadResponse{
		Reloaded: true,
		Probes:   newConfig.ProbeNames(),
		Stories:  newConfig.StoryNames(),
	})
}

func (s *Server) handleProbes(w http.ResponseWriter, r *http.Request) {
	cfg := s.state.CurrentConfig()
	out := make([]MonitorStatusResponse, 0, len(cfg.Probes))
	for _, def := range cfg.Probes {
		entry := MonitorStatusResponse{Name: def.Name, Status: "pending", Tags: def.Tags}
		if latest, ok := s.state.LatestProbeResult(def.Name); ok {
			entry.Status = string(latest.Status)
			ts := latest.Timestamp
			entry.LastProbed = &ts
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStories(w http.ResponseWriter, r *http.Request) {
	names := s.state.StoryNames()
	out := make([]MonitorStatusResponse, 0, len(names))
	for _, name := range names {
		entry := MonitorStatusResponse{Name: name, Status: "pending"}
		if latest, ok := s.state.LatestStoryResult(name); ok {
			entry.Status = string(latest.Status)
			ts := latest.Timestamp
			entry.LastProbed = &ts
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProbeResults(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.state.FindProbe(name); !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("unknown probe: %q", name)})
		return
	}

	results, _ := s.state.ProbeHistory(name)
	if results == nil {
		results = []probe.ProbeResult{}
	}

	// response bodies are only exposed on explicit request
	if r.URL.Query().Get("show_response") != "true" {
		for i := range results {
			results[i].Body = ""
		}
	}

	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStoryResults(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.state.FindStory(name); !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("unknown story: %q", name)})
		return
	}

	results, _ := s.state.StoryHistory(name)
	if results == nil {
		results = []probe.StoryResult{}
	}

	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
