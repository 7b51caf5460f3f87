package persist

import (
	"log"
	"path/filepath"
	"time"

	"github.com/roasbeef/dap-relay/adapter"
)

// PersistedSession is a session's recoverable configuration: identity,
// breakpoints, and watch expressions. It does not capture the debuggee,
// which cannot be restored across restarts.
type PersistedSession struct {
	ID           string                                `json:"id"`
	Name         string                                `json:"name"`
	ProjectRoot  string                                `json:"project_root"`
	State        string                                `json:"state"`
	Language     string                                `json:"language"`
	CreatedAt    time.Time                             `json:"created_at"`
	LastActivity time.Time                             `json:"last_activity"`
	Breakpoints  map[string][]adapter.SourceBreakpoint `json:"breakpoints"`
	Watches      []string                              `json:"watch_expressions"`

	// Recovery metadata. ServerShutdown is true when the snapshot was
	// written during graceful stop, false for periodic snapshots.
	SavedAt        time.Time `json:"saved_at"`
	ServerShutdown bool      `json:"server_shutdown"`
}

// SessionStore persists session snapshots for recovery, one JSON file per
// session id. Sessions are saved periodically during operation (crash
// recovery) and during graceful shutdown (restart recovery).
type SessionStore struct {
	baseDir string
}

// NewSessionStore creates a store rooted at baseDir.
func NewSessionStore(baseDir string) *SessionStore {
	return &SessionStore{baseDir: baseDir}
}

func (s *SessionStore) path(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID+".json")
}

// Save writes a session snapshot.
func (s *SessionStore) Save(session PersistedSession) error {
	return atomicWrite(s.path(session.ID), session)
}

// Load returns the snapshot for a session id, or nil if absent.
func (s *SessionStore) Load(sessionID string) (*PersistedSession, error) {
	var session PersistedSession
	found, err := readJSON(s.path(sessionID), &session)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &session, nil
}

// Delete removes a snapshot, reporting whether it existed.
func (s *SessionStore) Delete(sessionID string) bool {
	return deleteFile(s.path(sessionID))
}

// ListAll returns every parseable snapshot. Files that fail to parse are
// logged and skipped, so one poisoned file cannot prevent recovery of the
// others.
func (s *SessionStore) ListAll() []PersistedSession {
	var sessions []PersistedSession
	for _, path := range listJSONFiles(s.baseDir) {
		var session PersistedSession
		found, err := readJSON(path, &session)
		if err != nil || !found {
			log.Printf("[SessionStore] Skipping %s: %v", path, err)
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions
}

// CleanupOld deletes snapshots older than maxAge, returning how many were
// removed.
func (s *SessionStore) CleanupOld(maxAge time.Duration) int {
	now := time.Now().UTC()
	cleaned := 0

	for _, session := range s.ListAll() {
		if now.Sub(session.SavedAt) > maxAge {
			if s.Delete(session.ID) {
				cleaned++
				log.Printf("[SessionStore] Cleaned up old session %s "+
					"(age: %s)", session.ID,
					now.Sub(session.SavedAt).Round(time.Minute))
			}
		}
	}

	return cleaned
}
