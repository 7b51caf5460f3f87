package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	daprelay "github.com/roasbeef/dap-relay"
	"github.com/roasbeef/dap-relay/internal/config"
	"github.com/roasbeef/dap-relay/internal/logging"
)

func main() {
	v := viper.New()
	config.SetDefaults(v)
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "dap-relay",
		Short: "Multi-language debug relay for agent clients",
		Long: "dap-relay brokers interactive debugging between agent-style " +
			"clients and native language debuggers speaking the Debug " +
			"Adapter Protocol.",
	}

	f := rootCmd.PersistentFlags()
	f.String("host", "127.0.0.1", "address to bind the HTTP server to")
	f.Int("port", 5679, "HTTP server port")
	f.Int("max-sessions", 10, "maximum concurrent debug sessions")
	f.Int("session-timeout-seconds", 3600, "idle timeout per session")
	f.Int("session-max-lifetime-seconds", 14400, "maximum session lifetime")
	f.Int("output-buffer-max-bytes", 50*1024*1024, "output ring buffer budget")
	f.Int("dap-timeout-seconds", 30, "DAP request timeout")
	f.Int("dap-launch-timeout-seconds", 60, "DAP launch/attach timeout")
	f.String("data-dir", "", "persistence root (default ~/.dap-relay)")
	f.String("python-path", "", "explicit Python interpreter for debugpy")

	// Bind flags to viper; keys use underscores so they match the env
	// var suffix after stripping the DAP_RELAY_ prefix.
	for _, name := range []string{
		"host", "port", "max-sessions", "session-timeout-seconds",
		"session-max-lifetime-seconds", "output-buffer-max-bytes",
		"dap-timeout-seconds", "dap-launch-timeout-seconds",
		"data-dir", "python-path",
	} {
		key := strings.ReplaceAll(name, "-", "_")
		if err := v.BindPFlag(key, f.Lookup(name)); err != nil {
			log.Fatalf("failed to bind flag %s: %v", name, err)
		}
	}

	rootCmd.AddCommand(
		serveCmd(v),
		mcpCmd(v),
		monitorCmd(v),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newService builds a relay service and sets up file logging.
func newService(v *viper.Viper, logToFile bool) (*daprelay.Service, error) {
	settings := config.Load(v)

	if logToFile {
		if _, err := logging.InitFileLogger(settings.DataDir); err != nil {
			return nil, err
		}
	}

	return daprelay.NewService(settings)
}

func serveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP debug relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newService(v, false)
			if err != nil {
				return err
			}

			// Stop on SIGINT/SIGTERM so sessions persist for recovery.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				log.Printf("[Main] Shutting down...")
				service.Stop()
			}()

			err = service.ServeHTTP()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func mcpCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP tool server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Stdout carries the MCP transport; logs must go to a file.
			service, err := newService(v, true)
			if err != nil {
				return err
			}
			defer service.Stop()

			return service.ServeMCP()
		},
	}
}

func monitorCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the interactive session monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdout.Fd()) &&
				!isatty.IsCygwinTerminal(os.Stdout.Fd()) {

				return fmt.Errorf("monitor requires a terminal")
			}

			service, err := newService(v, true)
			if err != nil {
				return err
			}
			defer service.Stop()

			return service.RunMonitor()
		},
	}
}
