// Package ipc implements the supervisor-to-worker wire protocol: a 4-byte
// big-endian length prefix followed by a UTF-8 JSON payload, framed over
// any io.ReadWriteCloser (in production, a child process's stdin/stdout
// pipes).
package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrClosed is returned by Receive once the peer's pipe has closed and the
// read buffer is fully drained.
var ErrClosed = errors.New("ipc: channel closed")

// ErrProtocol is returned on a malformed length prefix or JSON body. It is
// fatal for the channel: the caller must treat the worker as errored.
var ErrProtocol = errors.New("ipc: protocol error")

// maxFrameSize bounds a single message so a corrupted length prefix can
// never trigger an unbounded allocation.
const maxFrameSize = 64 << 20 // 64 MiB

// Envelope is the tagged-union wire message. Type selects which of the
// concrete message shapes in messages.go Fields holds; the raw bytes
// are kept here so Channel stays agnostic to the message taxonomy.
type Envelope struct {
	Type   string          `json:"type"`
	Fields json.RawMessage `json:"fields,omitempty"`
}

// Channel provides framed Send/Receive over a single child process's
// stdin/stdout. A Channel has exactly one reader and one writer context
// per spec §5: Send is safe to call from one writer goroutine at a time
// (the mutex below only protects against accidental concurrent callers,
// it does not change the single-writer contract).
type Channel struct {
	rw io.ReadWriteCloser
	r  *bufio.Reader

	writeMu sync.Mutex
	closed  bool
}

// New wraps rw (a child process's combined stdin/stdout pipe pair) in a
// framed Channel.
func New(rw io.ReadWriteCloser) *Channel {
	return &Channel{rw: rw, r: bufio.NewReaderSize(rw, 32*1024)}
}

// Send serializes msg as a length-prefixed JSON frame and writes it. It
// blocks until the full frame has been handed to the underlying pipe,
// honoring write back-pressure.
func (c *Channel) Send(msg Envelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ipc: marshal envelope: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("%w: frame too large (%d bytes)", ErrProtocol, len(body))
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_, err = c.rw.Write(frame)
	if err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Receive blocks until a complete frame has been assembled and returns its
// decoded envelope. Partial reads are buffered internally across calls.
func (c *Channel) Receive() (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Envelope{}, ErrClosed
		}
		return Envelope{}, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return Envelope{}, fmt.Errorf("%w: declared frame length %d exceeds limit", ErrProtocol, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(c.r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Envelope{}, ErrClosed
		}
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return env, nil
}

// Close closes the underlying pipe pair. Safe to call more than once.
func (c *Channel) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rw.Close()
}

// Pack marshals a typed message body into an Envelope of the given type.
func Pack(msgType string, body interface{}) (Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Fields: raw}, nil
}

// Unpack decodes an envelope's fields into dst.
func Unpack(env Envelope, dst interface{}) error {
	if len(env.Fields) == 0 {
		return nil
	}
	return json.Unmarshal(env.Fields, dst)
}
