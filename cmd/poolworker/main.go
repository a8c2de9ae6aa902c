// Command poolworker is the child-process entrypoint spawned by
// internal/procworker for each worker slot. It speaks the framed IPC
// protocol over its own stdin/stdout and executes tasks through the
// workerrt runtime.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nodalcore/poolsupervisor/internal/ipc"
	"github.com/nodalcore/poolsupervisor/internal/logger"
	"github.com/nodalcore/poolsupervisor/internal/workerrt"
)

func main() {
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		fmt.Fprintln(os.Stderr, "poolworker: WORKER_ID is not set")
		os.Exit(1)
	}

	var cfg workerrt.Config
	if raw := os.Getenv("WORKER_CONFIG"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "poolworker: invalid WORKER_CONFIG: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.WorkerID = workerID

	logger.Init(os.Getenv("LOG_LEVEL"), os.Getenv("ENV") != "production")

	pair := ipc.NewPipePair(os.Stdin, os.Stdout)
	channel := ipc.New(pair)

	rt := workerrt.New(channel, cfg)
	rt.RegisterHandler("echo", echoHandler)
	rt.RegisterHandler("sleep", sleepHandler)
	rt.RegisterHandler("compute", computeHandler)
	rt.RegisterHandler("fail", failHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	if err := rt.Run(ctx); err != nil {
		logger.WithWorker(workerID).Warn().Err(err).Msg("worker runtime exited")
	}
}

// Example task handlers, registered for manual testing and as templates
// for real workloads built on this runtime.

func echoHandler(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	result, err := json.Marshal(map[string]json.RawMessage{"echoed": payload})
	if err != nil {
		return nil, fmt.Errorf("echo: marshal result: %w", err)
	}
	return result, nil
}

func sleepHandler(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var in struct {
		DurationMS int64 `json:"duration_ms"`
	}
	_ = json.Unmarshal(payload, &in)

	duration := time.Second
	if in.DurationMS > 0 {
		duration = time.Duration(in.DurationMS) * time.Millisecond
	}

	select {
	case <-time.After(duration):
		return json.Marshal(map[string]string{"slept_for": duration.String()})
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func computeHandler(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Iterations int `json:"iterations"`
	}
	_ = json.Unmarshal(payload, &in)

	iterations := in.Iterations
	if iterations <= 0 {
		iterations = 1_000_000
	}

	sum := 0
	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			sum += i
		}
	}

	return json.Marshal(map[string]int{"result": sum})
}

func failHandler(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return nil, fmt.Errorf("intentional failure for testing (seed %d)", rand.Int())
}
