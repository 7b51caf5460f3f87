package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/roasbeef/dap-relay/session"
)

// threadRequest selects the thread an execution command targets; zero
// means the session's current thread.
type threadRequest struct {
	ThreadID int `json:"thread_id,omitempty"`
}

func (s *Server) execCommand(w http.ResponseWriter, r *http.Request,
	op func(sess *session.Session, ctx context.Context, threadID int) error) {

	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	var req threadRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
	}

	if err := op(sess, r.Context(), req.ThreadID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.ToInfo())
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	s.execCommand(w, r, (*session.Session).Continue)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.execCommand(w, r, (*session.Session).Pause)
}

func (s *Server) handleStepOver(w http.ResponseWriter, r *http.Request) {
	s.execCommand(w, r, (*session.Session).StepOver)
}

func (s *Server) handleStepInto(w http.ResponseWriter, r *http.Request) {
	s.execCommand(w, r, (*session.Session).StepInto)
}

func (s *Server) handleStepOut(w http.ResponseWriter, r *http.Request) {
	s.execCommand(w, r, (*session.Session).StepOut)
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	threads, err := sess.Threads(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) handleStackTrace(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	threadID := queryInt(r, "thread_id", 0)
	startFrame := queryInt(r, "start_frame", 0)
	levels := queryInt(r, "levels", 20)

	frames, err := sess.StackTrace(r.Context(), threadID, startFrame, levels)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"frames": frames})
}

func (s *Server) handleScopes(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	scopes, err := sess.Scopes(r.Context(), queryInt(r, "frame_id", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scopes": scopes})
}

func (s *Server) handleVariables(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	variables, err := sess.Variables(r.Context(),
		queryInt(r, "variables_reference", 0),
		queryInt(r, "start", 0),
		queryInt(r, "count", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variables": variables})
}

// evaluateRequest evaluates an expression, optionally in a frame.
type evaluateRequest struct {
	Expression string `json:"expression"`
	FrameID    int    `json:"frame_id,omitempty"`
	Context    string `json:"context,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if req.Context == "" {
		req.Context = "repl"
	}

	result, err := sess.Evaluate(r.Context(), req.Expression, req.FrameID,
		req.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
