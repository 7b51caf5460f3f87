// Package config loads relay settings from viper, which merges flag
// values, DAP_RELAY_* environment variables, and defaults (set up by the
// cobra command in cmd/dap-relay).
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// DAP_RELAY_MAX_SESSIONS=4.
const EnvPrefix = "DAP_RELAY"

// Settings holds all runtime configuration for the relay.
type Settings struct {
	// Server settings.
	Host string
	Port int

	// Session limits.
	MaxSessions        int
	SessionTimeout     time.Duration
	SessionMaxLifetime time.Duration

	// Output buffer.
	OutputBufferMaxBytes int

	// DAP request deadlines.
	DAPTimeout       time.Duration
	DAPLaunchTimeout time.Duration

	// Persistence root. Breakpoints and recoverable sessions live in
	// subdirectories of this path.
	DataDir string

	// Optional explicit adapter executables; empty means PATH lookup.
	PythonPath string
}

// SetDefaults registers the default values with viper. Called once from
// cmd/dap-relay before flags are bound.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 5679)
	v.SetDefault("max_sessions", 10)
	v.SetDefault("session_timeout_seconds", 3600)
	v.SetDefault("session_max_lifetime_seconds", 14400)
	v.SetDefault("output_buffer_max_bytes", 50*1024*1024)
	v.SetDefault("dap_timeout_seconds", 30)
	v.SetDefault("dap_launch_timeout_seconds", 60)
	v.SetDefault("data_dir", "")
	v.SetDefault("python_path", "")
}

// Load reads the merged configuration out of viper and clamps values to
// their documented bounds.
func Load(v *viper.Viper) Settings {
	s := Settings{
		Host:                 v.GetString("host"),
		Port:                 v.GetInt("port"),
		MaxSessions:          clampInt(v.GetInt("max_sessions"), 1, 100),
		SessionTimeout:       time.Duration(maxInt(v.GetInt("session_timeout_seconds"), 60)) * time.Second,
		SessionMaxLifetime:   time.Duration(maxInt(v.GetInt("session_max_lifetime_seconds"), 300)) * time.Second,
		OutputBufferMaxBytes: clampInt(v.GetInt("output_buffer_max_bytes"), 1024*1024, 500*1024*1024),
		DAPTimeout:           time.Duration(clampInt(v.GetInt("dap_timeout_seconds"), 1, 300)) * time.Second,
		DAPLaunchTimeout:     time.Duration(clampInt(v.GetInt("dap_launch_timeout_seconds"), 5, 600)) * time.Second,
		DataDir:              v.GetString("data_dir"),
		PythonPath:           v.GetString("python_path"),
	}

	if s.DataDir == "" {
		s.DataDir = DefaultDataDir()
	}

	return s
}

// Default returns settings with all defaults applied, without consulting
// the process environment. Used by tests and by embedders.
func Default() Settings {
	v := viper.New()
	SetDefaults(v)
	return Load(v)
}

// DefaultDataDir is the fallback persistence root under the user's home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dap-relay"
	}
	return filepath.Join(home, ".dap-relay")
}

// BreakpointsDir is the per-project breakpoint catalog directory.
func (s Settings) BreakpointsDir() string {
	return filepath.Join(s.DataDir, "breakpoints")
}

// SessionsDir is the recoverable-session catalog directory.
func (s Settings) SessionsDir() string {
	return filepath.Join(s.DataDir, "sessions")
}

// EnsureDirectories creates the persistence directories if absent.
func (s Settings) EnsureDirectories() error {
	for _, dir := range []string{s.DataDir, s.BreakpointsDir(), s.SessionsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(v, lo int) int {
	if v < lo {
		return lo
	}
	return v
}
