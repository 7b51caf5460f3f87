package adapter

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/go-dap"

	"github.com/roasbeef/dap-relay/errdefs"
)

// Transport frames DAP messages over a paired byte reader/writer. Each
// message is `Content-Length: <N>\r\n\r\n<N bytes of UTF-8 JSON>`.
// Encoding uses go-dap's length-prefix codec; decoding is done here so
// that headers other than Content-Length are tolerated and ignored, which
// heterogeneous adapters occasionally need.
type Transport struct {
	reader *bufio.Reader

	// wmu serialises writers so concurrent requests cannot interleave
	// header and body bytes.
	wmu    sync.Mutex
	writer io.Writer

	closer io.Closer

	mu     sync.Mutex
	closed bool
}

// errTransportClosed is returned for reads and writes after Close.
var errTransportClosed = errors.New("transport closed")

// NewTransport wraps a byte stream pair in a framed DAP transport. closer
// is closed exactly once when the transport shuts down and may be nil.
func NewTransport(r io.Reader, w io.Writer, closer io.Closer) *Transport {
	return &Transport{
		reader: bufio.NewReader(r),
		writer: w,
		closer: closer,
	}
}

// Read blocks for the next framed message and decodes its envelope.
//
// EOF while reading headers is normal close and surfaces as io.EOF. A
// missing or non-numeric Content-Length, a truncated body, or a payload
// that is not valid UTF-8 JSON is a fatal stream error: the transport is
// marked closed and a DAP_CONNECTION error is returned.
func (t *Transport) Read() (*Message, error) {
	if t.isClosed() {
		return nil, errTransportClosed
	}

	contentLength, err := t.readHeaders()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		t.markClosed()
		return nil, err
	}

	content := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, content); err != nil {
		t.markClosed()
		return nil, errdefs.Wrap(
			errdefs.CodeDAPConnection, err, "truncated DAP message body",
		)
	}

	if !utf8.Valid(content) {
		t.markClosed()
		return nil, errdefs.New(
			errdefs.CodeDAPConnection,
			"DAP message body is not valid UTF-8",
		)
	}

	var msg Message
	if err := json.Unmarshal(content, &msg); err != nil {
		t.markClosed()
		return nil, errdefs.Wrap(
			errdefs.CodeDAPConnection, err, "invalid DAP message JSON",
		)
	}

	return &msg, nil
}

// readHeaders consumes header lines up to the blank delimiter and returns
// the Content-Length value. Unknown headers are skipped.
func (t *Transport) readHeaders() (int, error) {
	contentLength := -1

	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			// EOF at the header boundary is a normal close.
			if errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, errdefs.Wrap(
				errdefs.CodeDAPConnection, err,
				"failed to read DAP header",
			)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return 0, errdefs.Newf(errdefs.CodeDAPConnection,
					"invalid Content-Length %q", strings.TrimSpace(value))
			}
			contentLength = n
		}
	}

	if contentLength < 0 {
		return 0, errdefs.New(errdefs.CodeDAPConnection,
			"missing Content-Length header")
	}
	return contentLength, nil
}

// Write serialises msg once and emits it as a single framed message.
func (t *Transport) Write(msg *Message) error {
	content, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	if t.isClosed() {
		return errTransportClosed
	}

	return dap.WriteBaseMessage(t.writer, content)
}

// Close marks the transport closed and closes the underlying stream,
// unblocking any in-flight Read. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// Closed reports whether the transport has been shut down or hit a fatal
// stream error.
func (t *Transport) Closed() bool {
	return t.isClosed()
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) markClosed() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
