package ipc

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback is an in-memory io.ReadWriteCloser backed by a buffer, letting
// tests drive Send/Receive without a real process.
type loopback struct {
	buf    *bytes.Buffer
	closed bool
}

func newLoopback() *loopback { return &loopback{buf: &bytes.Buffer{}} }

func (l *loopback) Read(p []byte) (int, error) {
	if l.buf.Len() == 0 {
		if l.closed {
			return 0, io.EOF
		}
	}
	return l.buf.Read(p)
}
func (l *loopback) Write(p []byte) (int, error) { return l.buf.Write(p) }
func (l *loopback) Close() error                { l.closed = true; return nil }

func TestSendReceiveRoundTrip(t *testing.T) {
	lb := newLoopback()
	ch := New(lb)

	env, err := Pack(TypeHeartbeat, Heartbeat{State: "ready", TasksExecuted: 4})
	require.NoError(t, err)

	require.NoError(t, ch.Send(env))

	got, err := ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, TypeHeartbeat, got.Type)

	var hb Heartbeat
	require.NoError(t, Unpack(got, &hb))
	assert.Equal(t, "ready", hb.State)
	assert.Equal(t, 4, hb.TasksExecuted)
}

func TestReceiveMultipleFramesInOrder(t *testing.T) {
	lb := newLoopback()
	ch := New(lb)

	e1, _ := Pack(TypeWorkerReady, WorkerReady{ProtocolVersion: 1})
	e2, _ := Pack(TypeTaskComplete, TaskComplete{TaskID: "t1"})
	require.NoError(t, ch.Send(e1))
	require.NoError(t, ch.Send(e2))

	got1, err := ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, TypeWorkerReady, got1.Type)

	got2, err := ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, TypeTaskComplete, got2.Type)
}

func TestReceiveOnClosedEmptyPipeReturnsErrClosed(t *testing.T) {
	lb := newLoopback()
	lb.closed = true
	ch := New(lb)

	_, err := ch.Receive()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReceiveMalformedLengthPrefix(t *testing.T) {
	lb := newLoopback()
	// Declare an absurd frame length with no body following.
	lb.buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	lb.closed = true
	ch := New(lb)

	_, err := ch.Receive()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestReceiveMalformedJSON(t *testing.T) {
	lb := newLoopback()
	ch := New(lb)

	bad := []byte("{not json")
	frame := make([]byte, 4+len(bad))
	frame[0], frame[1], frame[2], frame[3] = 0, 0, 0, byte(len(bad))
	copy(frame[4:], bad)
	lb.buf.Write(frame)

	_, err := ch.Receive()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestSendAfterCloseFails(t *testing.T) {
	lb := newLoopback()
	ch := New(lb)
	require.NoError(t, ch.Close())

	env, _ := Pack(TypeHealthCheck, nil)
	err := ch.Send(env)
	assert.ErrorIs(t, err, ErrClosed)
}
