package httpapi

import (
	"net/http"
	"time"
)

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	buf := sess.Output()
	limit := queryInt(r, "limit", 1000)

	// Cursor pagination when since is given, offset pagination otherwise.
	if since := r.URL.Query().Get("since"); since != "" {
		writeJSON(w, http.StatusOK,
			buf.GetSince(queryInt(r, "since", 0), limit))
		return
	}

	page := buf.GetPage(
		queryInt(r, "offset", 0), limit, r.URL.Query().Get("category"))
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	// timeout (seconds) enables long-polling: block until the first
	// event arrives or the deadline passes.
	timeout := time.Duration(queryInt(r, "timeout", 0)) * time.Second
	if timeout > 60*time.Second {
		timeout = 60 * time.Second
	}

	events := sess.Events().GetAll(timeout)
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// watchRequest names one watch expression.
type watchRequest struct {
	Expression string `json:"expression"`
}

func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watches": sess.Watches()})
}

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	var req watchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"watches": sess.AddWatch(req.Expression),
	})
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	// With no body, clear the whole list.
	if r.ContentLength == 0 {
		sess.ClearWatches()
		writeJSON(w, http.StatusOK, map[string]any{"watches": []string{}})
		return
	}

	var req watchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"watches": sess.RemoveWatch(req.Expression),
	})
}

// evaluateWatchesRequest selects the frame to evaluate watches in.
type evaluateWatchesRequest struct {
	FrameID int `json:"frame_id,omitempty"`
}

func (s *Server) handleEvaluateWatches(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(w, r)
	if !ok {
		return
	}

	var req evaluateWatchesRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": sess.EvaluateWatches(r.Context(), req.FrameID),
	})
}

func (s *Server) handleListRecoverable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.manager.ListRecoverable(),
	})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Recover(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.ToInfo())
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	dismissed := s.manager.Dismiss(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]any{"dismissed": dismissed})
}
