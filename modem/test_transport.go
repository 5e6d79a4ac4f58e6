package modem

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using channels.
// This is needed because the Loop's reader goroutine continuously reads from the transport,
// and we need reads to block until data is available (like a real serial port would).
//
// Replies registered with Reply are queued each time the matching command
// is written, which lets a test script a whole modem conversation.
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	closed   bool
	written  [][]byte
	replies  map[string][]string

	// leftover holds the part of a chunk that did not fit the last Read.
	// Only the reader goroutine touches it.
	leftover []byte
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 256),
		replies:  make(map[string][]string),
	}
}

// Reply registers data to be queued whenever cmd is written. cmd is
// compared with the written bytes minus a trailing CRLF, so raw payloads
// can be matched as well. Registering the same cmd again replaces the
// previous replies.
func (t *TestTransport) Reply(cmd string, replies ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[cmd] = replies
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	t.written = append(t.written, bytes.Clone(p))
	replies := t.replies[strings.TrimSuffix(string(p), "\r\n")]
	t.mu.Unlock()

	for _, r := range replies {
		t.SendData(r)
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	if len(t.leftover) == 0 {
		data, ok := <-t.readChan
		if !ok {
			return 0, io.EOF
		}
		t.leftover = data
	}
	n = copy(p, t.leftover)
	t.leftover = t.leftover[n:]
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Written returns everything written so far, one entry per Write call,
// with a trailing CRLF removed.
func (t *TestTransport) Written() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.written))
	for _, w := range t.written {
		out = append(out, strings.TrimSuffix(string(w), "\r\n"))
	}
	return out
}
