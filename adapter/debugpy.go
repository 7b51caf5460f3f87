package adapter

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/roasbeef/dap-relay/errdefs"
)

func init() {
	Register(LangPython, func(opts Options) Driver {
		return newDebugpyDriver(opts)
	})
}

// debugpyDriver debugs Python programs through the debugpy adapter,
// spawned in server mode (`python -m debugpy.adapter --port N`).
type debugpyDriver struct {
	*procAdapter
}

func newDebugpyDriver(opts Options) *debugpyDriver {
	return &debugpyDriver{
		procAdapter: newProcAdapter(LangPython, "debugpy", opts),
	}
}

// findPython resolves the interpreter that hosts debugpy: explicit
// override first, then PATH.
func (d *debugpyDriver) findPython() (string, error) {
	if d.opts.ExecOverride != "" {
		return d.opts.ExecOverride, nil
	}
	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", errdefs.AdapterNotFound("python",
		"Install Python 3 and debugpy: pip install debugpy")
}

// Initialize spawns the debugpy adapter, dials it, and performs the DAP
// initialize handshake.
func (d *debugpyDriver) Initialize(ctx context.Context) (map[string]any, error) {
	python, err := d.findPython()
	if err != nil {
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		return nil, err
	}

	argv := []string{
		python, "-m", "debugpy.adapter",
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
	}
	if err := d.connectServerMode(ctx, argv, port); err != nil {
		return nil, err
	}

	return d.doInitialize(ctx)
}

// Launch starts a Python program. The common launch form is promoted to
// debugpy's argument schema; the debuggee always runs with justMyCode off,
// redirected output, and a TTY-neutral environment so it cannot stall on
// terminal features.
func (d *debugpyDriver) Launch(ctx context.Context, cfg LaunchConfig,
	configure ConfigureFunc) error {

	if cfg.Program == "" && cfg.Module == "" {
		return errdefs.LaunchFailed(fmt.Errorf(
			"either program or module must be specified"))
	}

	env := map[string]string{
		"PYTHONUNBUFFERED": "1",
		"TERM":             "dumb",
	}
	for k, v := range cfg.Env {
		env[k] = v
	}

	args := map[string]any{
		"type":           "python",
		"request":        "launch",
		"console":        "internalConsole",
		"justMyCode":     false,
		"redirectOutput": true,
		"env":            env,
		"stopOnEntry":    cfg.StopOnEntry,
	}
	if cfg.Program != "" {
		args["program"] = cfg.Program
	} else {
		args["module"] = cfg.Module
	}
	if len(cfg.Args) > 0 {
		args["args"] = cfg.Args
	}
	if cfg.Cwd != "" {
		args["cwd"] = cfg.Cwd
	}
	if pythonArgs, ok := cfg.Extra["pythonArgs"]; ok {
		args["pythonArgs"] = pythonArgs
	}
	mergeExtra(args, cfg.Extra, "pythonArgs")

	return d.launchRequest(ctx, "launch", args, configure)
}

// Attach connects to a process already running under debugpy, by pid or by
// host/port.
func (d *debugpyDriver) Attach(ctx context.Context, cfg AttachConfig,
	configure ConfigureFunc) error {

	args := map[string]any{
		"type":           "python",
		"request":        "attach",
		"justMyCode":     false,
		"redirectOutput": true,
	}
	switch {
	case cfg.ProcessID != 0:
		args["processId"] = cfg.ProcessID
	case cfg.Port != 0:
		host := cfg.Host
		if host == "" {
			host = "127.0.0.1"
		}
		args["connect"] = map[string]any{
			"host": host,
			"port": cfg.Port,
		}
	default:
		return errdefs.LaunchFailed(fmt.Errorf(
			"attach requires process_id or port"))
	}
	mergeExtra(args, cfg.Extra)

	return d.launchRequest(ctx, "attach", args, configure)
}

// mergeExtra copies adapter-specific passthrough options into args,
// skipping keys already promoted and keys in skip.
func mergeExtra(args map[string]any, extra map[string]any, skip ...string) {
	skipped := make(map[string]bool, len(skip))
	for _, k := range skip {
		skipped[k] = true
	}
	for k, v := range extra {
		if skipped[k] {
			continue
		}
		if _, exists := args[k]; !exists {
			args[k] = v
		}
	}
}
