package adapter

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-delve/delve/service"
	"github.com/go-delve/delve/service/dap"
	delvedebugger "github.com/go-delve/delve/service/debugger"
)

// startEmbeddedDelve runs delve's DAP server in-process on a loopback
// listener and dials it back, for hosts without a dlv binary on PATH. The
// returned stop function shuts the server down.
func startEmbeddedDelve() (net.Conn, func(), error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create listener: %w", err)
	}

	disconnectCh := make(chan struct{})

	config := &service.Config{
		Listener:       listener,
		DisconnectChan: disconnectCh,
		Debugger: delvedebugger.Config{
			WorkingDir: ".",
		},
	}

	server := dap.NewServer(config)
	server.Run()

	addr := listener.Addr().String()
	var conn net.Conn

	connectErr := RetryWithBackoff(context.Background(), RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
	}, func() error {
		var dialErr error
		conn, dialErr = net.Dial("tcp", addr)
		return dialErr
	})
	if connectErr != nil {
		server.Stop()
		return nil, nil, fmt.Errorf(
			"failed to connect to embedded server at %s: %w",
			addr, connectErr)
	}

	cleanup := func() {
		server.Stop()
	}

	return conn, cleanup, nil
}
