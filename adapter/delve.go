package adapter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/roasbeef/dap-relay/errdefs"
)

func init() {
	Register(LangGo, func(opts Options) Driver {
		return newDelveDriver(opts)
	})
}

// delveDriver debugs Go programs through delve's native DAP server
// (`dlv dap --listen=127.0.0.1:port`). When no dlv binary is installed it
// falls back to an embedded delve DAP server running in-process.
type delveDriver struct {
	*procAdapter

	// stopEmbedded tears down the embedded server, when in use.
	stopEmbedded func()
}

func newDelveDriver(opts Options) *delveDriver {
	return &delveDriver{
		procAdapter: newProcAdapter(LangGo, "dlv-dap", opts),
	}
}

// Initialize starts a delve DAP server and performs the DAP initialize
// handshake. Discovery order: explicit override, `dlv` on PATH, embedded
// server.
func (d *delveDriver) Initialize(ctx context.Context) (map[string]any, error) {
	dlvPath := d.opts.ExecOverride
	if dlvPath == "" {
		dlvPath, _ = exec.LookPath("dlv")
	}

	if dlvPath != "" {
		port, err := freePort()
		if err != nil {
			return nil, err
		}
		argv := []string{
			dlvPath, "dap",
			fmt.Sprintf("--listen=127.0.0.1:%d", port),
		}
		if err := d.connectServerMode(ctx, argv, port); err != nil {
			return nil, err
		}
	} else {
		conn, stop, err := startEmbeddedDelve()
		if err != nil {
			return nil, errdefs.AdapterNotFound("go",
				"Install delve: go install github.com/go-delve/delve/cmd/dlv@latest")
		}
		d.stopEmbedded = stop
		d.attachClient(NewTransport(conn, conn, conn))
	}

	return d.doInitialize(ctx)
}

// Launch starts a Go program under delve. The launch mode is inferred from
// the program path unless set explicitly: test files and pre-built test
// binaries debug in "test"/"exec" mode, everything else compiles in
// "debug" mode with optimizations disabled.
func (d *delveDriver) Launch(ctx context.Context, cfg LaunchConfig,
	configure ConfigureFunc) error {

	if cfg.Program == "" {
		return errdefs.LaunchFailed(fmt.Errorf(
			"program path is required for Go launch"))
	}

	mode := "debug"
	if m, ok := cfg.Extra["mode"].(string); ok && m != "" {
		mode = m
	} else if strings.HasSuffix(cfg.Program, ".test") ||
		strings.Contains(cfg.Program, "__debug_bin") {
		mode = "exec"
	} else if strings.HasSuffix(cfg.Program, "_test.go") {
		mode = "test"
	}

	args := map[string]any{
		"request":     "launch",
		"mode":        mode,
		"program":     cfg.Program,
		"stopOnEntry": cfg.StopOnEntry,
	}
	if len(cfg.Args) > 0 {
		args["args"] = cfg.Args
	}
	if cfg.Cwd != "" {
		args["cwd"] = cfg.Cwd
	}
	if len(cfg.Env) > 0 {
		args["env"] = cfg.Env
	}

	if buildFlags, ok := cfg.Extra["buildFlags"].(string); ok {
		args["buildFlags"] = buildFlags
	} else if mode != "exec" {
		// Disable optimizations so variables and lines resolve.
		args["buildFlags"] = "-gcflags=all=-N -l"
	}
	if output, ok := cfg.Extra["output"].(string); ok && output != "" {
		args["output"] = output
	}
	mergeExtra(args, cfg.Extra, "mode", "buildFlags", "output")

	return d.launchRequest(ctx, "launch", args, configure)
}

// Attach attaches delve to a running process, locally by pid or remotely
// by host/port.
func (d *delveDriver) Attach(ctx context.Context, cfg AttachConfig,
	configure ConfigureFunc) error {

	mode := "local"
	if m, ok := cfg.Extra["mode"].(string); ok && m != "" {
		mode = m
	}

	args := map[string]any{
		"request": "attach",
		"mode":    mode,
	}
	switch {
	case cfg.ProcessID != 0:
		args["processId"] = cfg.ProcessID
	case cfg.Port != 0:
		host := cfg.Host
		if host == "" {
			host = "127.0.0.1"
		}
		args["host"] = host
		args["port"] = cfg.Port
	default:
		return errdefs.LaunchFailed(fmt.Errorf(
			"attach requires process_id or port"))
	}
	mergeExtra(args, cfg.Extra, "mode")

	return d.launchRequest(ctx, "attach", args, configure)
}

// Disconnect tears down the embedded server, when in use, after the shared
// disconnect path runs.
func (d *delveDriver) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	err := d.procAdapter.Disconnect(ctx, terminateDebuggee)
	if d.stopEmbedded != nil {
		d.stopEmbedded()
		d.stopEmbedded = nil
	}
	return err
}

// Terminate is Disconnect with the debuggee terminated.
func (d *delveDriver) Terminate(ctx context.Context) error {
	return d.Disconnect(ctx, true)
}
