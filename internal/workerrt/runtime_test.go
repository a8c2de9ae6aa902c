package workerrt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodalcore/poolsupervisor/internal/ipc"
)

// pipe is an in-memory io.ReadWriteCloser used to drive a Runtime from a
// test without spawning a real process.
type pipe struct {
	toRuntime   *bytes.Buffer
	fromRuntime *bytes.Buffer
	closed      bool
}

func newPipe() *pipe { return &pipe{toRuntime: &bytes.Buffer{}, fromRuntime: &bytes.Buffer{}} }

func (p *pipe) Read(b []byte) (int, error) {
	if p.toRuntime.Len() == 0 && p.closed {
		return 0, io.EOF
	}
	return p.toRuntime.Read(b)
}
func (p *pipe) Write(b []byte) (int, error) { return p.fromRuntime.Write(b) }
func (p *pipe) Close() error                { p.closed = true; return nil }

func writeFrame(t *testing.T, buf *bytes.Buffer, env ipc.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	length := uint32(len(data))
	buf.Write([]byte{byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length)})
	buf.Write(data)
}

func TestRunSendsWorkerReadyThenProcessesExecuteTask(t *testing.T) {
	p := newPipe()
	ch := ipc.New(p)
	rt := New(ch, Config{WorkerID: "w1", HeartbeatIntervalMS: 10_000})
	rt.RegisterHandler("echo", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})

	execEnv, _ := ipc.Pack(ipc.TypeExecuteTask, ipc.ExecuteTask{TaskID: "t1", Type: "echo", Payload: json.RawMessage(`"hi"`), TimeoutMS: 1000})
	writeFrame(t, p.toRuntime, execEnv)
	shutdownEnv, _ := ipc.Pack(ipc.TypeShutdown, ipc.Shutdown{Graceful: false})
	writeFrame(t, p.toRuntime, shutdownEnv)
	p.closed = true

	err := rt.Run(context.Background())
	require.NoError(t, err)

	// Replay everything the runtime wrote back.
	readBack := ipc.New(&pipe{toRuntime: p.fromRuntime})
	ready, err := readBack.Receive()
	require.NoError(t, err)
	assert.Equal(t, ipc.TypeWorkerReady, ready.Type)

	complete, err := readBack.Receive()
	require.NoError(t, err)
	assert.Equal(t, ipc.TypeTaskComplete, complete.Type)

	var tc ipc.TaskComplete
	require.NoError(t, ipc.Unpack(complete, &tc))
	assert.Equal(t, "t1", tc.TaskID)

	final, err := readBack.Receive()
	require.NoError(t, err)
	assert.Equal(t, ipc.TypeWorkerShutdown, final.Type)
}

func TestUnknownTaskTypeFailsWithNoHandler(t *testing.T) {
	p := newPipe()
	ch := ipc.New(p)
	rt := New(ch, Config{WorkerID: "w1", HeartbeatIntervalMS: 10_000})

	execEnv, _ := ipc.Pack(ipc.TypeExecuteTask, ipc.ExecuteTask{TaskID: "t1", Type: "mystery", TimeoutMS: 1000})
	writeFrame(t, p.toRuntime, execEnv)
	shutdownEnv, _ := ipc.Pack(ipc.TypeShutdown, ipc.Shutdown{Graceful: false})
	writeFrame(t, p.toRuntime, shutdownEnv)
	p.closed = true

	require.NoError(t, rt.Run(context.Background()))

	readBack := ipc.New(&pipe{toRuntime: p.fromRuntime})
	readBack.Receive() // worker-ready

	failed, err := readBack.Receive()
	require.NoError(t, err)
	assert.Equal(t, ipc.TypeTaskFailed, failed.Type)

	var tf ipc.TaskFailed
	require.NoError(t, ipc.Unpack(failed, &tf))
	assert.Equal(t, ipc.ErrKindNoHandler, tf.Error.Kind)
}

func TestHandlerErrorReportsHandlerErrorKind(t *testing.T) {
	p := newPipe()
	ch := ipc.New(p)
	rt := New(ch, Config{WorkerID: "w1", HeartbeatIntervalMS: 10_000})
	rt.RegisterHandler("fail", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})

	execEnv, _ := ipc.Pack(ipc.TypeExecuteTask, ipc.ExecuteTask{TaskID: "t1", Type: "fail", TimeoutMS: 1000})
	writeFrame(t, p.toRuntime, execEnv)
	shutdownEnv, _ := ipc.Pack(ipc.TypeShutdown, ipc.Shutdown{Graceful: false})
	writeFrame(t, p.toRuntime, shutdownEnv)
	p.closed = true

	require.NoError(t, rt.Run(context.Background()))

	readBack := ipc.New(&pipe{toRuntime: p.fromRuntime})
	readBack.Receive() // worker-ready
	failed, err := readBack.Receive()
	require.NoError(t, err)

	var tf ipc.TaskFailed
	require.NoError(t, ipc.Unpack(failed, &tf))
	assert.Equal(t, ipc.ErrKindHandlerError, tf.Error.Kind)
	assert.Equal(t, "boom", tf.Error.Message)
}

func TestTaskTimeoutReportsTaskTimeoutKind(t *testing.T) {
	p := newPipe()
	ch := ipc.New(p)
	rt := New(ch, Config{WorkerID: "w1", HeartbeatIntervalMS: 10_000})
	rt.RegisterHandler("slow", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	execEnv, _ := ipc.Pack(ipc.TypeExecuteTask, ipc.ExecuteTask{TaskID: "t1", Type: "slow", TimeoutMS: 20})
	writeFrame(t, p.toRuntime, execEnv)
	shutdownEnv, _ := ipc.Pack(ipc.TypeShutdown, ipc.Shutdown{Graceful: false})
	writeFrame(t, p.toRuntime, shutdownEnv)
	p.closed = true

	require.NoError(t, rt.Run(context.Background()))

	readBack := ipc.New(&pipe{toRuntime: p.fromRuntime})
	readBack.Receive() // worker-ready
	failed, err := readBack.Receive()
	require.NoError(t, err)

	var tf ipc.TaskFailed
	require.NoError(t, ipc.Unpack(failed, &tf))
	assert.Equal(t, ipc.ErrKindTaskTimeout, tf.Error.Kind)
}

func TestHandlerPanicMarksErrorState(t *testing.T) {
	p := newPipe()
	ch := ipc.New(p)
	rt := New(ch, Config{WorkerID: "w1", HeartbeatIntervalMS: 10_000})
	rt.RegisterHandler("boom", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		panic("kaboom")
	})

	execEnv, _ := ipc.Pack(ipc.TypeExecuteTask, ipc.ExecuteTask{TaskID: "t1", Type: "boom", TimeoutMS: 1000})
	writeFrame(t, p.toRuntime, execEnv)
	shutdownEnv, _ := ipc.Pack(ipc.TypeShutdown, ipc.Shutdown{Graceful: false})
	writeFrame(t, p.toRuntime, shutdownEnv)
	p.closed = true

	require.NoError(t, rt.Run(context.Background()))

	readBack := ipc.New(&pipe{toRuntime: p.fromRuntime})
	readBack.Receive() // worker-ready
	errEnv, err := readBack.Receive()
	require.NoError(t, err)
	assert.Equal(t, ipc.TypeWorkerError, errEnv.Type)

	var we ipc.WorkerError
	require.NoError(t, ipc.Unpack(errEnv, &we))
	assert.True(t, we.Fatal)
}

func TestShutdownIdleExitsImmediately(t *testing.T) {
	p := newPipe()
	ch := ipc.New(p)
	rt := New(ch, Config{WorkerID: "w1", HeartbeatIntervalMS: 10_000})

	shutdownEnv, _ := ipc.Pack(ipc.TypeShutdown, ipc.Shutdown{Graceful: true})
	writeFrame(t, p.toRuntime, shutdownEnv)
	p.closed = true

	start := time.Now()
	require.NoError(t, rt.Run(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateExited, rt.State())
}
