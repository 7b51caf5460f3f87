package adapter

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/dap-relay/errdefs"
)

// EventHandler receives adapter events in the exact order they arrived on
// the wire. Handlers must not block: the reader goroutine is suspended for
// the duration of the call.
type EventHandler func(event string, body json.RawMessage)

// Client multiplexes DAP requests and events over one Transport. It owns a
// monotone sequence counter and a pending table correlating request seq to
// the caller awaiting the response.
type Client struct {
	transport *Transport
	onEvent   EventHandler

	defaultTimeout time.Duration

	mu      sync.Mutex
	seq     int
	pending map[int]chan fn.Result[*Message]
	closed  bool

	readerDone chan struct{}
}

// NewClient creates a client over the given transport and starts the
// background reader. defaultTimeout bounds requests that do not pass an
// explicit timeout.
func NewClient(transport *Transport, onEvent EventHandler,
	defaultTimeout time.Duration) *Client {

	c := &Client{
		transport:      transport,
		onEvent:        onEvent,
		defaultTimeout: defaultTimeout,
		pending:        make(map[int]chan fn.Result[*Message]),
		readerDone:     make(chan struct{}),
	}

	go c.readLoop()

	return c
}

// Send issues a DAP request and blocks until the matching response, the
// timeout, or ctx cancellation. It returns the raw response body.
//
// A non-success response fails with DAP_REQUEST_FAILED carrying the
// adapter's message. On timeout the seq is retired, so a late response is
// silently discarded.
func (c *Client) Send(ctx context.Context, command string, arguments any,
	timeout time.Duration) (json.RawMessage, error) {

	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	var rawArgs json.RawMessage
	if arguments != nil {
		encoded, err := json.Marshal(arguments)
		if err != nil {
			return nil, err
		}
		rawArgs = encoded
	}

	slot := make(chan fn.Result[*Message], 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errdefs.DAPConnection("client is closed")
	}
	c.seq++
	seq := c.seq
	c.pending[seq] = slot
	c.mu.Unlock()

	req := &Message{
		Seq:       seq,
		Type:      typeRequest,
		Command:   command,
		Arguments: rawArgs,
	}

	if err := c.transport.Write(req); err != nil {
		c.retire(seq)
		return nil, errdefs.Wrap(
			errdefs.CodeDAPConnection, err, "failed to write DAP request",
		)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-slot:
		resp, err := result.Unpack()
		if err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, errdefs.DAPRequestFailed(
				command, resp.ErrMessage,
			).WithDetail("response", resp)
		}
		return resp.Body, nil

	case <-timer.C:
		c.retire(seq)
		return nil, errdefs.DAPTimeout(command, timeout.Seconds())

	case <-ctx.Done():
		c.retire(seq)
		return nil, ctx.Err()
	}
}

// readLoop consumes frames and dispatches by type. Responses resolve their
// pending slot (orphans are dropped), events invoke the callback, anything
// else is ignored. A stream error fails all pending slots and stops the
// loop.
func (c *Client) readLoop() {
	defer close(c.readerDone)

	for {
		msg, err := c.transport.Read()
		if err != nil {
			if err != io.EOF && err != errTransportClosed {
				log.Printf("[DAPClient] Read error: %v", err)
			}
			c.failPending(errdefs.DAPConnection("connection closed"))
			return
		}

		switch msg.Type {
		case typeResponse:
			c.mu.Lock()
			slot, ok := c.pending[msg.RequestSeq]
			if ok {
				delete(c.pending, msg.RequestSeq)
			}
			c.mu.Unlock()

			if ok {
				slot <- fn.Ok(msg)
			}

		case typeEvent:
			c.dispatchEvent(msg)

		default:
			// Reverse requests and unknown types are not supported.
		}
	}
}

// dispatchEvent invokes the event callback, recovering panics so a bad
// handler cannot kill the reader.
func (c *Client) dispatchEvent(msg *Message) {
	if c.onEvent == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[DAPClient] Event handler panic for %q: %v",
				msg.Event, r)
		}
	}()
	c.onEvent(msg.Event, msg.Body)
}

// retire drops a pending slot so a late response is discarded.
func (c *Client) retire(seq int) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

// failPending fails every still-pending slot to unblock callers.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int]chan fn.Result[*Message])
	c.mu.Unlock()

	for _, slot := range pending {
		slot <- fn.Err[*Message](err)
	}
}

// Close shuts the client down: the transport is closed (stopping the
// reader), and all pending requests fail with a connection-closed error.
// Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.transport.Close()
	<-c.readerDone
}

// Connected reports whether the underlying transport is still usable.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.transport.Closed()
}
