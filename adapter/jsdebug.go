package adapter

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/roasbeef/dap-relay/errdefs"
)

func init() {
	Register(LangJavaScript, func(opts Options) Driver {
		return newJSDebugDriver(opts)
	})
}

// jsDebugDriver debugs Node.js programs through vscode-js-debug's DAP
// server (`js-debug dap --port=N`).
type jsDebugDriver struct {
	*procAdapter
}

func newJSDebugDriver(opts Options) *jsDebugDriver {
	return &jsDebugDriver{
		procAdapter: newProcAdapter(LangJavaScript, "pwa-node", opts),
	}
}

// findJSDebug resolves the js-debug CLI: explicit override first, then
// PATH.
func (d *jsDebugDriver) findJSDebug() (string, error) {
	if d.opts.ExecOverride != "" {
		return d.opts.ExecOverride, nil
	}
	if path, err := exec.LookPath("js-debug"); err == nil {
		return path, nil
	}
	return "", errdefs.AdapterNotFound("javascript",
		"Install vscode-js-debug: npm install -g @vscode/js-debug-cli")
}

// Initialize spawns js-debug in DAP server mode, dials it, and performs
// the DAP initialize handshake.
func (d *jsDebugDriver) Initialize(ctx context.Context) (map[string]any, error) {
	jsDebug, err := d.findJSDebug()
	if err != nil {
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		return nil, err
	}

	argv := []string{
		jsDebug, "dap",
		"--host=127.0.0.1",
		fmt.Sprintf("--port=%d", port),
	}
	if err := d.connectServerMode(ctx, argv, port); err != nil {
		return nil, err
	}

	return d.doInitialize(ctx)
}

// Launch starts a Node.js program. Source maps default on; runtime
// selection, runtime args, and outFiles pass through from Extra.
func (d *jsDebugDriver) Launch(ctx context.Context, cfg LaunchConfig,
	configure ConfigureFunc) error {

	if cfg.Program == "" {
		return errdefs.LaunchFailed(fmt.Errorf(
			"program path is required for Node.js launch"))
	}

	args := map[string]any{
		"type":        "pwa-node",
		"request":     "launch",
		"program":     cfg.Program,
		"console":     "internalConsole",
		"sourceMaps":  true,
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
	for _, key := range []string{
		"runtimeExecutable", "runtimeArgs", "sourceMaps",
		"outFiles", "skipFiles",
	} {
		if v, ok := cfg.Extra[key]; ok {
			args[key] = v
		}
	}
	mergeExtra(args, cfg.Extra)

	return d.launchRequest(ctx, "launch", args, configure)
}

// Attach connects to a Node.js process with an open inspector port.
func (d *jsDebugDriver) Attach(ctx context.Context, cfg AttachConfig,
	configure ConfigureFunc) error {

	if cfg.Port == 0 {
		return errdefs.LaunchFailed(fmt.Errorf(
			"attach requires the inspector port"))
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	args := map[string]any{
		"type":    "pwa-node",
		"request": "attach",
		"address": host,
		"port":    cfg.Port,
	}
	mergeExtra(args, cfg.Extra)

	return d.launchRequest(ctx, "attach", args, configure)
}
