package adapter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/roasbeef/dap-relay/errdefs"
)

func init() {
	Register(LangNative, func(opts Options) Driver {
		return newLLDBDriver(opts)
	})
}

// lldbKind distinguishes the two LLDB-family adapters: lldb-dap speaks DAP
// over stdio, CodeLLDB listens on a TCP port. Which transport to use is a
// property of the binary found, not of the call site.
type lldbKind string

const (
	kindLLDBDAP  lldbKind = "lldb-dap"
	kindCodeLLDB lldbKind = "codelldb"
)

// lldbDriver debugs native (Rust/C/C++) binaries through lldb-dap or
// CodeLLDB.
type lldbDriver struct {
	*procAdapter

	kind lldbKind
}

func newLLDBDriver(opts Options) *lldbDriver {
	return &lldbDriver{
		procAdapter: newProcAdapter(LangNative, "lldb", opts),
	}
}

// findLLDB locates an LLDB-family adapter. Search order: explicit
// override, PATH (preferring lldb-dap), VS Code extension directories for
// CodeLLDB, then common install paths.
func (d *lldbDriver) findLLDB() (string, lldbKind, error) {
	if d.opts.ExecOverride != "" {
		kind := kindCodeLLDB
		if filepath.Base(d.opts.ExecOverride) != "codelldb" {
			kind = kindLLDBDAP
		}
		return d.opts.ExecOverride, kind, nil
	}

	for _, cand := range []struct {
		name string
		kind lldbKind
	}{
		{"lldb-dap", kindLLDBDAP},
		{"lldb-vscode", kindLLDBDAP},
		{"codelldb", kindCodeLLDB},
	} {
		if path, err := exec.LookPath(cand.name); err == nil {
			return path, cand.kind, nil
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		extDirs := []string{
			filepath.Join(home, ".vscode", "extensions"),
			filepath.Join(home, ".vscode-server", "extensions"),
		}
		adapterName := "codelldb"
		if runtime.GOOS == "windows" {
			adapterName = "codelldb.exe"
		}
		for _, extDir := range extDirs {
			matches, _ := filepath.Glob(filepath.Join(
				extDir, "vadimcn.vscode-lldb-*", "adapter", adapterName))
			for _, adapter := range matches {
				if info, err := os.Stat(adapter); err == nil && !info.IsDir() {
					return adapter, kindCodeLLDB, nil
				}
			}
		}
	}

	for _, cand := range []struct {
		path string
		kind lldbKind
	}{
		{"/usr/local/bin/lldb-dap", kindLLDBDAP},
		{"/usr/bin/lldb-dap", kindLLDBDAP},
		{"/usr/local/bin/codelldb", kindCodeLLDB},
		{"/usr/bin/codelldb", kindCodeLLDB},
	} {
		if info, err := os.Stat(cand.path); err == nil && !info.IsDir() {
			return cand.path, cand.kind, nil
		}
	}

	return "", "", errdefs.AdapterNotFound("native",
		"Install options:\n"+
			"1. lldb-dap from LLVM: apt install lldb\n"+
			"2. VS Code extension: vadimcn.vscode-lldb\n"+
			"3. From source: https://github.com/vadimcn/codelldb")
}

// Initialize spawns the adapter in its transport mode and performs the DAP
// initialize handshake.
func (d *lldbDriver) Initialize(ctx context.Context) (map[string]any, error) {
	path, kind, err := d.findLLDB()
	if err != nil {
		return nil, err
	}
	d.kind = kind

	switch kind {
	case kindCodeLLDB:
		port, err := freePort()
		if err != nil {
			return nil, err
		}
		argv := []string{path, "--port", strconv.Itoa(port)}
		if err := d.connectServerMode(ctx, argv, port); err != nil {
			return nil, err
		}
	default:
		if err := d.connectStdioMode([]string{path}); err != nil {
			return nil, err
		}
	}

	return d.doInitialize(ctx)
}

// Launch starts a compiled native binary. sourceMap and initCommands pass
// through from Extra for remapped or scripted setups.
func (d *lldbDriver) Launch(ctx context.Context, cfg LaunchConfig,
	configure ConfigureFunc) error {

	if cfg.Program == "" {
		return errdefs.LaunchFailed(fmt.Errorf(
			"program path is required for native launch"))
	}

	args := map[string]any{
		"type":        "lldb",
		"request":     "launch",
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
	for _, key := range []string{"sourceMap", "initCommands"} {
		if v, ok := cfg.Extra[key]; ok {
			args[key] = v
		}
	}
	mergeExtra(args, cfg.Extra)

	return d.launchRequest(ctx, "launch", args, configure)
}

// Attach attaches to a running native process by pid, optionally with the
// program path for symbols.
func (d *lldbDriver) Attach(ctx context.Context, cfg AttachConfig,
	configure ConfigureFunc) error {

	if cfg.ProcessID == 0 {
		return errdefs.LaunchFailed(fmt.Errorf(
			"attach requires process_id"))
	}

	args := map[string]any{
		"type":    "lldb",
		"request": "attach",
		"pid":     cfg.ProcessID,
	}
	if program, ok := cfg.Extra["program"].(string); ok && program != "" {
		args["program"] = program
	}
	mergeExtra(args, cfg.Extra, "program")

	return d.launchRequest(ctx, "attach", args, configure)
}
