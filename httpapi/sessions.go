package httpapi

import (
	"net/http"

	"github.com/roasbeef/dap-relay/adapter"
	"github.com/roasbeef/dap-relay/session"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var cfg session.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	sess, err := s.manager.Create(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess.ToInfo())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.List()
	infos := make([]session.Info, len(sessions))
	for i, sess := range sessions {
		infos[i] = sess.ToInfo()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": infos,
		"count":    len(infos),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.ToInfo())
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Terminate(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"terminated": true})
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	var cfg adapter.LaunchConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if err := sess.Launch(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.ToInfo())
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	var cfg adapter.AttachConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if err := sess.Attach(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.ToInfo())
}

// breakpointRequest is one requested breakpoint. Enabled is a pointer so
// an omitted field defaults to true rather than false.
type breakpointRequest struct {
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hit_condition,omitempty"`
	LogMessage   string `json:"log_message,omitempty"`
	Enabled      *bool  `json:"enabled,omitempty"`
}

// setBreakpointsRequest replaces the whole breakpoint list of one file.
type setBreakpointsRequest struct {
	File        string              `json:"file"`
	Breakpoints []breakpointRequest `json:"breakpoints"`
}

func (s *Server) handleSetBreakpoints(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	var req setBreakpointsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	bps := make([]adapter.SourceBreakpoint, len(req.Breakpoints))
	for i, bp := range req.Breakpoints {
		enabled := bp.Enabled == nil || *bp.Enabled
		bps[i] = adapter.SourceBreakpoint{
			Line:         bp.Line,
			Column:       bp.Column,
			Condition:    bp.Condition,
			HitCondition: bp.HitCondition,
			LogMessage:   bp.LogMessage,
			Enabled:      enabled,
		}
	}

	verdicts, err := sess.SetBreakpoints(r.Context(), req.File, bps)
	if err != nil {
		writeError(w, err)
		return
	}

	// Breakpoint persistence is write-through on mutation.
	if err := s.manager.SaveBreakpoints(sess); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file":        req.File,
		"breakpoints": verdicts,
	})
}

func (s *Server) handleListBreakpoints(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"breakpoints": sess.Breakpoints(),
	})
}
