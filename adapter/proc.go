package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roasbeef/dap-relay/errdefs"
)

// Default request deadlines, overridable per driver via Options.
const (
	defaultRequestTimeout = 30 * time.Second
	defaultLaunchTimeout  = 60 * time.Second

	// disconnectTimeout bounds the best-effort disconnect request and the
	// wait for the child to exit after terminate.
	disconnectTimeout = 5 * time.Second
)

// stderrTailLimit is how many trailing bytes of adapter stderr are kept
// for diagnostics when the child dies.
const stderrTailLimit = 4096

// freePort asks the kernel for an ephemeral TCP port on loopback.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// stderrTail captures the trailing bytes of a stream.
type stderrTail struct {
	mu  sync.Mutex
	buf []byte
}

// Write implements io.Writer, keeping only the last stderrTailLimit bytes.
func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTailLimit {
		t.buf = t.buf[len(t.buf)-stderrTailLimit:]
	}
	return len(p), nil
}

// String returns the captured tail, trimmed.
func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// procAdapter is the machinery shared by every driver variant: subprocess
// lifecycle, transport establishment, the DAP initialize request, the
// launch/attach handshake, and the uniform DAP operations. Variants embed
// it and own only executable discovery, spawning, and launch-argument
// shaping.
type procAdapter struct {
	lang      Language
	adapterID string
	opts      Options

	mu           sync.Mutex
	cmd          *exec.Cmd
	procExit     chan struct{}
	client       *Client
	port         int
	initialized  bool
	launched     bool
	disconnected bool
	capabilities map[string]any
	stderr       *stderrTail

	gateMu   sync.Mutex
	initGate chan struct{}
}

func newProcAdapter(lang Language, adapterID string, opts Options) *procAdapter {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = defaultLaunchTimeout
	}
	return &procAdapter{
		lang:      lang,
		adapterID: adapterID,
		opts:      opts,
		stderr:    &stderrTail{},
	}
}

// Language reports the driver's language tag.
func (p *procAdapter) Language() Language { return p.lang }

// Connected reports whether the DAP connection is established and
// initialized.
func (p *procAdapter) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized && p.client != nil && p.client.Connected()
}

// Launched reports whether a debug target has been launched or attached.
func (p *procAdapter) Launched() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.launched
}

// Capabilities returns the recorded adapter capabilities.
func (p *procAdapter) Capabilities() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capabilities
}

// spawn starts the adapter child process with the relay's subprocess
// hygiene: detached from any controlling terminal so a debuggee touching
// the TTY cannot suspend the relay, stdin on the null device, stderr
// captured for diagnostics. stdio reports whether the child's stdin/stdout
// pipes carry the DAP stream.
func (p *procAdapter) spawn(argv []string, stdio bool) (io.ReadCloser, io.WriteCloser, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = p.stderr
	detachFromTTY(cmd)

	var (
		stdout io.ReadCloser
		stdin  io.WriteCloser
		err    error
	)
	if stdio {
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return nil, nil, err
		}
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, nil, err
		}
	} else {
		cmd.Stdin = nil // /dev/null
		cmd.Stdout = p.stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, errdefs.Wrap(errdefs.CodeDAPConnection, err,
			fmt.Sprintf("could not start %s", argv[0]))
	}

	exit := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exit)
	}()

	p.mu.Lock()
	p.cmd = cmd
	p.procExit = exit
	p.mu.Unlock()

	log.Printf("[Adapter %s] Spawned %s (pid %d)", p.opts.SessionID,
		argv[0], cmd.Process.Pid)

	return stdout, stdin, nil
}

// connectServerMode spawns argv and dials back the adapter's TCP listener
// with bounded retry. If the child exits while we are still dialing, its
// captured stderr tail is surfaced.
func (p *procAdapter) connectServerMode(ctx context.Context, argv []string,
	port int) error {

	if _, _, err := p.spawn(argv, false); err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)

	var conn net.Conn
	err := RetryWithBackoff(ctx, dialRetryConfig, func() error {
		select {
		case <-p.exitChan():
			return p.childDiedErr()
		default:
		}
		var dialErr error
		conn, dialErr = net.DialTimeout("tcp", addr, 2*time.Second)
		return dialErr
	})
	if err != nil {
		p.killChild()
		if tail := p.stderr.String(); tail != "" {
			return errdefs.DAPConnection(fmt.Sprintf(
				"could not connect to adapter at %s: %v (stderr: %s)",
				addr, err, tail))
		}
		return errdefs.DAPConnection(fmt.Sprintf(
			"could not connect to adapter at %s: %v", addr, err))
	}

	p.attachClient(NewTransport(conn, conn, conn))
	p.mu.Lock()
	p.port = port
	p.mu.Unlock()
	return nil
}

// connectStdioMode spawns argv and uses its stdin/stdout pipes as the
// DAP transport.
func (p *procAdapter) connectStdioMode(argv []string) error {
	stdout, stdin, err := p.spawn(argv, true)
	if err != nil {
		return err
	}
	p.attachClient(NewTransport(stdout, stdin, stdin))
	return nil
}

func (p *procAdapter) attachClient(transport *Transport) {
	client := NewClient(transport, p.handleEvent, p.opts.RequestTimeout)
	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
}

func (p *procAdapter) exitChan() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.procExit == nil {
		ch := make(chan struct{})
		return ch
	}
	return p.procExit
}

func (p *procAdapter) childDiedErr() error {
	msg := "adapter process exited before accepting a connection"
	if tail := p.stderr.String(); tail != "" {
		msg = fmt.Sprintf("%s: %s", msg, tail)
	}
	return errdefs.DAPConnection(msg)
}

// requireClient returns the live client or a connection error.
func (p *procAdapter) requireClient() (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil || !p.initialized {
		return nil, errdefs.DAPConnection("adapter not initialized")
	}
	return p.client, nil
}

// doInitialize sends the DAP initialize request with the relay's fixed
// client capability set and records the adapter's capabilities.
func (p *procAdapter) doInitialize(ctx context.Context) (map[string]any, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return nil, errdefs.DAPConnection("no transport established")
	}

	body, err := client.Send(ctx, "initialize", map[string]any{
		"clientID":                     "dap-relay",
		"clientName":                   "DAP Relay",
		"adapterID":                    p.adapterID,
		"pathFormat":                   "path",
		"linesStartAt1":                true,
		"columnsStartAt1":              true,
		"supportsVariableType":         true,
		"supportsVariablePaging":       true,
		"supportsRunInTerminalRequest": false,
		"supportsProgressReporting":    false,
	}, p.opts.RequestTimeout)
	if err != nil {
		return nil, err
	}

	caps := decodeBody(body)

	p.mu.Lock()
	p.capabilities = caps
	p.initialized = true
	p.mu.Unlock()

	return caps, nil
}

// launchRequest runs the DAP launch/attach handshake. The adapter emits an
// `initialized` event before it answers the launch request; between those
// the client must declare breakpoints and exception filters and send
// configurationDone. Two concurrent subtasks, gated by a one-shot channel:
// the launch response will not arrive until configurationDone is sent, so
// this must not be collapsed into a sequential flow.
func (p *procAdapter) launchRequest(ctx context.Context, command string,
	args map[string]any, configure ConfigureFunc) error {

	client, err := p.requireClient()
	if err != nil {
		return err
	}

	gate := make(chan struct{})
	p.gateMu.Lock()
	p.initGate = gate
	p.gateMu.Unlock()
	defer func() {
		p.gateMu.Lock()
		p.initGate = nil
		p.gateMu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := client.Send(gctx, command, args, p.opts.LaunchTimeout)
		return err
	})

	g.Go(func() error {
		select {
		case <-gate:
		case <-gctx.Done():
			return gctx.Err()
		case <-time.After(p.opts.LaunchTimeout):
			return errdefs.Newf(errdefs.CodeLaunchTimeout,
				"timed out waiting for initialized event during %s",
				command)
		}

		if configure != nil {
			if err := configure(gctx); err != nil {
				return err
			}
		}

		_, err := client.Send(gctx, "configurationDone",
			map[string]any{}, p.opts.RequestTimeout)
		return err
	})

	if err := g.Wait(); err != nil {
		// When the adapter never emitted initialized, the launch request
		// itself also times out; either way the failure is the untripped
		// gate and reports as LAUNCH_TIMEOUT. Everything else normalises
		// to LAUNCH_FAILED.
		select {
		case <-gate:
		default:
			if errdefs.IsCode(err, errdefs.CodeDAPTimeout) ||
				errdefs.IsCode(err, errdefs.CodeLaunchTimeout) {

				return errdefs.Newf(errdefs.CodeLaunchTimeout,
					"timed out waiting for initialized event during %s",
					command)
			}
		}
		if errdefs.IsCode(err, errdefs.CodeLaunchTimeout) {
			return err
		}
		return errdefs.LaunchFailed(err)
	}

	p.mu.Lock()
	p.launched = true
	p.mu.Unlock()
	return nil
}

// handleEvent is the client's event callback. The `initialized` event
// trips the handshake gate; output events additionally feed the output
// callback; everything with a known kind is forwarded to the session.
func (p *procAdapter) handleEvent(event string, rawBody json.RawMessage) {
	if event == eventInitialized {
		p.gateMu.Lock()
		if p.initGate != nil {
			close(p.initGate)
			p.initGate = nil
		}
		p.gateMu.Unlock()
		return
	}

	body := decodeBody(rawBody)

	if event == eventOutput && p.opts.OnOutput != nil {
		category, _ := body["category"].(string)
		if category == "" {
			category = "stdout"
		}
		output, _ := body["output"].(string)
		p.opts.OnOutput(category, output)
	}

	kind, ok := eventKinds[event]
	if !ok {
		return
	}
	if p.opts.OnEvent != nil {
		p.opts.OnEvent(kind, body)
	}
}

// Disconnect attempts a graceful DAP disconnect, stops the client, and
// reaps the child. Errors on the disconnect request are swallowed so
// cleanup always proceeds. Idempotent.
func (p *procAdapter) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	p.mu.Lock()
	if p.disconnected {
		p.mu.Unlock()
		return nil
	}
	p.disconnected = true
	client := p.client
	p.mu.Unlock()

	if client != nil && client.Connected() {
		_, err := client.Send(ctx, "disconnect", map[string]any{
			"terminateDebuggee": terminateDebuggee,
		}, disconnectTimeout)
		if err != nil {
			log.Printf("[Adapter %s] Disconnect request failed: %v",
				p.opts.SessionID, err)
		}
	}

	if client != nil {
		client.Close()
	}

	p.reapChild()

	p.mu.Lock()
	p.initialized = false
	p.launched = false
	p.client = nil
	p.port = 0
	p.mu.Unlock()

	log.Printf("[Adapter %s] Disconnected", p.opts.SessionID)
	return nil
}

// Terminate is Disconnect with the debuggee terminated.
func (p *procAdapter) Terminate(ctx context.Context) error {
	return p.Disconnect(ctx, true)
}

// reapChild sends terminate, waits up to disconnectTimeout, then kills.
func (p *procAdapter) reapChild() {
	p.mu.Lock()
	cmd := p.cmd
	exit := p.procExit
	p.cmd = nil
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	select {
	case <-exit:
		return
	default:
	}

	cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exit:
	case <-time.After(disconnectTimeout):
		cmd.Process.Kill()
		<-exit
	}
}

// killChild force-kills the adapter process, used when transport
// establishment fails.
func (p *procAdapter) killChild() {
	p.mu.Lock()
	cmd := p.cmd
	p.cmd = nil
	p.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}
