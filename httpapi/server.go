// Package httpapi exposes the relay's REST surface: a thin JSON adapter
// over the session manager. All debugging semantics live in the core;
// handlers only decode requests, dispatch, and map coded errors to HTTP
// statuses.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/roasbeef/dap-relay/errdefs"
	"github.com/roasbeef/dap-relay/session"
)

// Server is the relay's HTTP front end.
type Server struct {
	manager *session.Manager
	mux     *http.ServeMux
	server  *http.Server
}

// New creates a server bound to addr, serving the given manager.
func New(manager *session.Manager, addr string) *Server {
	s := &Server{
		manager: manager,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s
}

// Handler returns the underlying mux, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	log.Printf("[HTTP] Listening on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleTerminateSession)

	s.mux.HandleFunc("POST /sessions/{id}/launch", s.handleLaunch)
	s.mux.HandleFunc("POST /sessions/{id}/attach", s.handleAttach)

	s.mux.HandleFunc("POST /sessions/{id}/breakpoints", s.handleSetBreakpoints)
	s.mux.HandleFunc("GET /sessions/{id}/breakpoints", s.handleListBreakpoints)

	s.mux.HandleFunc("POST /sessions/{id}/continue", s.handleContinue)
	s.mux.HandleFunc("POST /sessions/{id}/pause", s.handlePause)
	s.mux.HandleFunc("POST /sessions/{id}/step-over", s.handleStepOver)
	s.mux.HandleFunc("POST /sessions/{id}/step-into", s.handleStepInto)
	s.mux.HandleFunc("POST /sessions/{id}/step-out", s.handleStepOut)

	s.mux.HandleFunc("GET /sessions/{id}/threads", s.handleThreads)
	s.mux.HandleFunc("GET /sessions/{id}/stacktrace", s.handleStackTrace)
	s.mux.HandleFunc("GET /sessions/{id}/scopes", s.handleScopes)
	s.mux.HandleFunc("GET /sessions/{id}/variables", s.handleVariables)
	s.mux.HandleFunc("POST /sessions/{id}/evaluate", s.handleEvaluate)

	s.mux.HandleFunc("GET /sessions/{id}/output", s.handleOutput)
	s.mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)

	s.mux.HandleFunc("GET /sessions/{id}/watches", s.handleListWatches)
	s.mux.HandleFunc("POST /sessions/{id}/watches", s.handleAddWatch)
	s.mux.HandleFunc("DELETE /sessions/{id}/watches", s.handleRemoveWatch)
	s.mux.HandleFunc("POST /sessions/{id}/watches/evaluate", s.handleEvaluateWatches)

	s.mux.HandleFunc("GET /recovery", s.handleListRecoverable)
	s.mux.HandleFunc("POST /recovery/{id}", s.handleRecover)
	s.mux.HandleFunc("DELETE /recovery/{id}", s.handleDismiss)
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// statusForCode maps relay error codes to HTTP statuses. Client errors
// surface as 4xx; adapter and persistence failures as upstream/server
// errors.
func statusForCode(code string) int {
	switch code {
	case errdefs.CodeSessionNotFound:
		return http.StatusNotFound
	case errdefs.CodeSessionLimit:
		return http.StatusTooManyRequests
	case errdefs.CodeInvalidSessionState:
		return http.StatusConflict
	case errdefs.CodeSessionExpired:
		return http.StatusGone
	case errdefs.CodeUnsupportedLanguage:
		return http.StatusBadRequest
	case errdefs.CodeAdapterNotFound:
		return http.StatusFailedDependency
	case errdefs.CodeDAPTimeout, errdefs.CodeLaunchTimeout:
		return http.StatusGatewayTimeout
	case errdefs.CodeDAPConnection, errdefs.CodeDAPRequestFailed,
		errdefs.CodeLaunchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the JSON error envelope. Uncoded errors are
// reported as a generic internal error without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	code := errdefs.Code(err)
	status := statusForCode(code)

	body := errorBody{Error: err.Error(), Code: code}
	var coded *errdefs.Error
	if errors.As(err, &coded) {
		body.Details = coded.Details
	}
	if code == "" {
		body.Error = "internal error"
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Failed to encode response: %v", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// getSession resolves the {id} path segment through the manager, writing
// the error response itself on failure.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.manager.ActiveCount(),
	})
}
