package session

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roasbeef/dap-relay/errdefs"
	"github.com/roasbeef/dap-relay/persist"
)

// Background loop cadences and the recovery retention window.
const (
	cleanupInterval   = 60 * time.Second
	persistInterval   = 300 * time.Second
	recoveryRetention = 24 * time.Hour
)

// ManagerOptions configures the session manager.
type ManagerOptions struct {
	MaxSessions int

	// MaxLifetime bounds a session's total age regardless of activity.
	// Zero disables the bound.
	MaxLifetime time.Duration

	Limits Limits

	BreakpointStore *persist.BreakpointStore
	SessionStore    *persist.SessionStore
}

// Manager is the process-wide session registry: create/lookup/terminate,
// session-limit admission, the idle-expiry and periodic-persistence loops,
// and the recovery catalog. A session id present in the registry is never
// simultaneously present in the recoverable catalog.
type Manager struct {
	opts ManagerOptions

	mu          sync.Mutex
	sessions    map[string]*Session
	recoverable map[string]persist.PersistedSession
	started     bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// initSession attaches and initializes the adapter for a new
	// session. Overridable in tests to avoid spawning real adapters.
	initSession func(ctx context.Context, s *Session) error
}

// NewManager creates a manager. Start must be called before use.
func NewManager(opts ManagerOptions) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 10
	}
	return &Manager{
		opts:        opts,
		sessions:    make(map[string]*Session),
		recoverable: make(map[string]persist.PersistedSession),
		initSession: func(ctx context.Context, s *Session) error {
			return s.InitAdapter(ctx)
		},
	}
}

// Start loads the recovery catalog and launches the background loops.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	// Purge stale snapshots, then index the rest for recovery.
	m.opts.SessionStore.CleanupOld(recoveryRetention)
	for _, data := range m.opts.SessionStore.ListAll() {
		m.recoverable[data.ID] = data
		log.Printf("[Manager] Loaded recoverable session %s (project: %s)",
			data.ID, data.ProjectRoot)
	}
	if n := len(m.recoverable); n > 0 {
		log.Printf("[Manager] Found %d recoverable sessions", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(2)
	go m.cleanupLoop(ctx)
	go m.persistLoop(ctx)

	m.started = true
	log.Printf("[Manager] Started")
	return nil
}

// Stop cancels the background loops, snapshots every live session with
// server_shutdown=true, persists breakpoints, and cleans each session up.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if err := m.opts.SessionStore.Save(s.ToPersisted(true)); err != nil {
			log.Printf("[Manager] Failed to persist session %s: %v",
				s.ID, err)
		}
		if err := m.opts.BreakpointStore.Save(
			s.ProjectRoot, s.Breakpoints()); err != nil {

			log.Printf("[Manager] Failed to save breakpoints for %s: %v",
				s.ID, err)
		}
		s.Cleanup(ctx)
	}

	log.Printf("[Manager] Stopped (sessions persisted for recovery)")
}

// newSessionID allocates a fresh random session token.
func newSessionID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "sess_" + hex[:8]
}

// Create admits a new session, initializes its adapter, and loads the
// project's persisted breakpoints. Fails with SESSION_LIMIT_REACHED at
// the configured cap. The registry slot is reserved up front so admission
// is atomic, but the lock is not held across adapter initialization.
func (m *Manager) Create(ctx context.Context, cfg Config) (*Session, error) {
	s := New(newSessionID(), cfg, m.opts.Limits)

	m.mu.Lock()
	if len(m.sessions) >= m.opts.MaxSessions {
		m.mu.Unlock()
		return nil, errdefs.SessionLimit(m.opts.MaxSessions)
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if err := m.initSession(ctx, s); err != nil {
		m.mu.Lock()
		delete(m.sessions, s.ID)
		m.mu.Unlock()
		s.Cleanup(ctx)
		return nil, err
	}

	bps, err := m.opts.BreakpointStore.Load(s.ProjectRoot)
	if err != nil {
		log.Printf("[Manager] Could not load breakpoints for %s: %v",
			s.ProjectRoot, err)
	} else {
		s.RestoreBreakpoints(bps)
	}

	log.Printf("[Manager] Created session %s for %s", s.ID, cfg.ProjectRoot)
	return s, nil
}

// Get looks a session up by id and touches its last-activity.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, errdefs.SessionNotFound(sessionID)
	}
	s.Touch()
	return s, nil
}

// List returns all live sessions.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Terminate persists a session's breakpoints, cleans it up, removes it
// from the registry, and deletes any persisted snapshot so the registry
// and the recovery catalog cannot diverge.
func (m *Manager) Terminate(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return errdefs.SessionNotFound(sessionID)
	}

	if err := m.opts.BreakpointStore.Save(
		s.ProjectRoot, s.Breakpoints()); err != nil {

		log.Printf("[Manager] Failed to save breakpoints for %s: %v",
			sessionID, err)
	}
	s.Cleanup(ctx)
	m.opts.SessionStore.Delete(sessionID)

	log.Printf("[Manager] Terminated session %s", sessionID)
	return nil
}

// SaveBreakpoints write-throughs a session's breakpoints to the store.
func (m *Manager) SaveBreakpoints(s *Session) error {
	return m.opts.BreakpointStore.Save(s.ProjectRoot, s.Breakpoints())
}

// ActiveCount is the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// cleanupLoop expires idle and over-age sessions once a minute. Each
// sweep catches its own failures; the loop must not die.
func (m *Manager) cleanupLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanupStale(ctx)
		}
	}
}

// cleanupStale removes sessions idle past their timeout or older than the
// maximum lifetime.
func (m *Manager) cleanupStale(ctx context.Context) {
	now := time.Now().UTC()

	m.mu.Lock()
	var stale []*Session
	for _, s := range m.sessions {
		idle := now.Sub(s.LastActivity())
		timeout := time.Duration(s.TimeoutMinutes) * time.Minute

		switch {
		case idle > timeout:
			log.Printf("[Manager] Session %s expired (idle %s)",
				s.ID, idle.Round(time.Second))
			stale = append(stale, s)
		case m.opts.MaxLifetime > 0 && now.Sub(s.CreatedAt()) > m.opts.MaxLifetime:
			log.Printf("[Manager] Session %s exceeded max lifetime",
				s.ID)
			stale = append(stale, s)
		}
	}

	for _, s := range stale {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()

	for _, s := range stale {
		if err := m.opts.BreakpointStore.Save(
			s.ProjectRoot, s.Breakpoints()); err != nil {

			log.Printf("[Manager] Failed to save breakpoints for %s: %v",
				s.ID, err)
		}
		s.Cleanup(ctx)
	}
}

// persistLoop snapshots every live session for crash recovery every five
// minutes. Failures are logged and never abort the loop.
func (m *Manager) persistLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.persistActive()
		}
	}
}

func (m *Manager) persistActive() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if err := m.opts.SessionStore.Save(s.ToPersisted(false)); err != nil {
			log.Printf("[Manager] Failed to persist session %s: %v",
				s.ID, err)
		}
	}
}

// ListRecoverable lists the sessions available for recovery.
func (m *Manager) ListRecoverable() []persist.PersistedSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]persist.PersistedSession, 0, len(m.recoverable))
	for _, data := range m.recoverable {
		out = append(out, data)
	}
	return out
}

// GetRecoverable returns one recoverable snapshot, or nil.
func (m *Manager) GetRecoverable(sessionID string) *persist.PersistedSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if data, ok := m.recoverable[sessionID]; ok {
		return &data
	}
	return nil
}

// Recover creates a brand-new session initialised from a recoverable
// snapshot's breakpoints and watches. The adapter is re-initialised; the
// old debuggee is not resurrected. The snapshot leaves the catalog and
// its file is deleted.
func (m *Manager) Recover(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.opts.MaxSessions {
		m.mu.Unlock()
		return nil, errdefs.SessionLimit(m.opts.MaxSessions)
	}

	data, ok := m.recoverable[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, errdefs.SessionNotFound(sessionID)
	}

	// Move the id from the recoverable catalog into the registry before
	// releasing the lock: an id is never a member of both, and the slot is
	// reserved for the duration of adapter initialization.
	s := NewFromPersisted(data, m.opts.Limits)
	delete(m.recoverable, sessionID)
	m.sessions[sessionID] = s
	m.mu.Unlock()

	if err := m.initSession(ctx, s); err != nil {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.recoverable[sessionID] = data
		m.mu.Unlock()
		s.Cleanup(ctx)
		return nil, err
	}

	m.opts.SessionStore.Delete(sessionID)

	log.Printf("[Manager] Recovered session %s for %s",
		sessionID, data.ProjectRoot)
	return s, nil
}

// Dismiss drops a recoverable snapshot without recovering it. Reports
// whether anything was dismissed; dismissing twice is a no-op.
func (m *Manager) Dismiss(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.recoverable[sessionID]; !ok {
		return false
	}
	delete(m.recoverable, sessionID)
	m.opts.SessionStore.Delete(sessionID)
	log.Printf("[Manager] Dismissed recoverable session %s", sessionID)
	return true
}
