// Package daprelay wires the relay's components together: configuration,
// persistence stores, the session manager, and the HTTP/MCP front ends.
package daprelay

import (
	"context"
	"fmt"
	"time"

	"github.com/roasbeef/dap-relay/httpapi"
	"github.com/roasbeef/dap-relay/internal/config"
	"github.com/roasbeef/dap-relay/mcp"
	"github.com/roasbeef/dap-relay/persist"
	"github.com/roasbeef/dap-relay/session"
	"github.com/roasbeef/dap-relay/tui"
)

// Service manages the lifecycle of the relay's components.
type Service struct {
	settings config.Settings
	manager  *session.Manager
	httpSrv  *httpapi.Server
	started  bool
}

// NewService builds a relay from settings. Start must be called before
// serving.
func NewService(settings config.Settings) (*Service, error) {
	if err := settings.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create data directories: %w", err)
	}

	limits := session.Limits{
		OutputBufferMaxBytes: settings.OutputBufferMaxBytes,
		RequestTimeout:       settings.DAPTimeout,
		LaunchTimeout:        settings.DAPLaunchTimeout,
		SessionTimeout:       settings.SessionTimeout,
	}
	if settings.PythonPath != "" {
		limits.ExecOverrides = map[string]string{
			"python": settings.PythonPath,
		}
	}

	manager := session.NewManager(session.ManagerOptions{
		MaxSessions:     settings.MaxSessions,
		MaxLifetime:     settings.SessionMaxLifetime,
		Limits:          limits,
		BreakpointStore: persist.NewBreakpointStore(settings.BreakpointsDir()),
		SessionStore:    persist.NewSessionStore(settings.SessionsDir()),
	})

	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)

	return &Service{
		settings: settings,
		manager:  manager,
		httpSrv:  httpapi.New(manager, addr),
	}, nil
}

// Start launches the session manager's background loops.
func (s *Service) Start() error {
	if s.started {
		return nil
	}
	if err := s.manager.Start(); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop shuts the HTTP server and the manager down, persisting sessions
// for recovery.
func (s *Service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.httpSrv.Shutdown(ctx)
	s.manager.Stop()
	s.started = false
}

// ServeHTTP blocks serving the REST surface until Stop.
func (s *Service) ServeHTTP() error {
	if err := s.Start(); err != nil {
		return err
	}
	return s.httpSrv.ListenAndServe()
}

// ServeMCP blocks serving MCP tools over stdio until the client
// disconnects.
func (s *Service) ServeMCP() error {
	if err := s.Start(); err != nil {
		return err
	}
	return mcp.NewDebugServer(s.manager).Serve()
}

// RunMonitor blocks running the interactive session monitor.
func (s *Service) RunMonitor() error {
	if err := s.Start(); err != nil {
		return err
	}
	return tui.NewMonitor(s.manager).Run()
}

// Manager exposes the session manager for embedders.
func (s *Service) Manager() *session.Manager {
	return s.manager
}
