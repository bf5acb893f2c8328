// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the serve loop of a single worker process.
//
// A worker is spawned by the supervisor with the listening socket and
// the heartbeat pipe as inherited file descriptors. It resolves the
// application entry point exactly once at startup, accepts connections
// on the shared socket, and serves requests under a bounded number of
// handler slots. A request that exceeds the hard timeout costs the
// whole process: the watchdog writes a kill record and aborts, and the
// supervisor restarts the worker while its siblings keep serving.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prefork-sh/prefork/internal/heartbeat"
	"github.com/prefork-sh/prefork/lib/account"
	"github.com/prefork-sh/prefork/lib/appref"
	"github.com/prefork-sh/prefork/lib/process"
	"github.com/prefork-sh/prefork/lib/watchdog"
)

// Options configures a worker.
type Options struct {
	// Entry is the application reference in module:attribute form.
	Entry string

	// Threads is the number of concurrent handler slots. Connections
	// beyond this wait for a slot rather than being rejected.
	Threads int

	// RequestTimeout is the hard per-request budget.
	RequestTimeout time.Duration

	// ShutdownTimeout bounds the graceful drain on SIGTERM.
	ShutdownTimeout time.Duration

	// KillRecordPath is where the watchdog writes its kill record
	// before aborting the process.
	KillRecordPath string

	// Logger receives structured serve-phase logs.
	Logger *slog.Logger

	// abort overrides the process abort for tests. Production workers
	// leave it nil and get os.Exit.
	abort func(code int)
}

// Worker is a started worker: entry point resolved, watchdog armed.
type Worker struct {
	handler http.Handler
	table   *watchdog.Table
	opts    Options
	logger  *slog.Logger
}

// New resolves the application entry point and prepares the serve
// pipeline. Any error here is a startup failure: the process must exit
// with [process.ExitStartupFailure] rather than limp into serving.
func New(opts Options) (*Worker, error) {
	if err := account.AssertUnprivileged(); err != nil {
		return nil, err
	}
	if opts.Threads < 1 {
		return nil, fmt.Errorf("worker needs at least one handler slot, got %d", opts.Threads)
	}
	if opts.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive, got %v", opts.RequestTimeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Resolved exactly once. Workers never retry resolution: a broken
	// entry point is a deployment error, and serving without an
	// application would only hide it.
	handler, err := appref.Resolve(opts.Entry)
	if err != nil {
		return nil, fmt.Errorf("resolving application entry point: %w", err)
	}

	w := &Worker{
		handler: handler,
		opts:    opts,
		logger:  logger,
	}
	w.table = watchdog.NewTable(opts.RequestTimeout, w.abortOnExpiry)
	return w, nil
}

// abortOnExpiry is the watchdog callback: record which request blew
// the budget, then kill the whole process. The offending goroutine may
// be stuck in a syscall and cannot be cancelled from inside; the
// process boundary is the only reliable abort.
func (w *Worker) abortOnExpiry(entry watchdog.Entry) {
	record := watchdog.KillRecord{
		WorkerPID: os.Getpid(),
		RequestID: entry.ID,
		Method:    entry.Method,
		Path:      entry.Path,
		Started:   entry.Started,
		Deadline:  entry.Deadline,
		Timestamp: time.Now(),
	}
	if err := watchdog.WriteKillRecord(w.opts.KillRecordPath, record); err != nil {
		// The abort proceeds regardless; the supervisor still sees
		// the exit code, just without the request attribution.
		w.logger.Error("failed to write kill record", "error", err)
	}

	w.logger.Error("request exceeded hard timeout, aborting worker",
		"request_id", entry.ID,
		"method", entry.Method,
		"path", entry.Path,
		"started", entry.Started,
		"timeout", w.opts.RequestTimeout)

	abort := w.opts.abort
	if abort == nil {
		abort = os.Exit
	}
	abort(process.ExitWatchdogKill)
}

// Serve accepts connections on listener until ctx is cancelled, then
// drains in-flight requests within the shutdown timeout. Heartbeat
// frames go to heartbeatPipe for the supervisor's backstop; pass nil
// to disable heartbeats (tests).
func (w *Worker) Serve(ctx context.Context, listener net.Listener, heartbeatPipe *os.File) error {
	defer w.table.Close()

	server := &http.Server{
		Handler:  w.Handler(),
		ErrorLog: slog.NewLogLogger(w.logger.Handler(), slog.LevelWarn),
	}

	// Heartbeats outlive ctx: they must keep flowing through the
	// graceful drain, or the supervisor's staleness backstop would
	// kill a worker that is merely finishing its requests.
	if heartbeatPipe != nil {
		heartbeatCtx, stopHeartbeats := context.WithCancel(context.Background())
		defer stopHeartbeats()
		go w.sendHeartbeats(heartbeatCtx, heartbeatPipe)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	w.logger.Info("worker serving",
		"pid", os.Getpid(),
		"entry", w.opts.Entry,
		"threads", w.opts.Threads,
		"request_timeout", w.opts.RequestTimeout)

	select {
	case err := <-serveErr:
		return fmt.Errorf("accept loop failed: %w", err)
	case <-ctx.Done():
	}

	// Graceful drain: stop accepting, let in-flight handlers finish.
	// The watchdog stays armed through the drain, so a stuck request
	// still costs the process instead of stalling shutdown forever.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), w.opts.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn("drain deadline exceeded, closing remaining connections")
			server.Close()
			return nil
		}
		return fmt.Errorf("draining worker: %w", err)
	}
	w.logger.Info("worker drained cleanly")
	return nil
}

// sendHeartbeats writes a frame every interval until ctx is cancelled.
// A write error means the supervisor side of the pipe is gone; the
// worker logs it once and stops — the supervisor's death already
// triggers the worker's own demise via the parent-death signal.
func (w *Worker) sendHeartbeats(ctx context.Context, pipe *os.File) {
	writer := heartbeat.NewWriter(pipe)
	ticker := time.NewTicker(heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		inFlight := w.table.Snapshot()
		frame := heartbeat.Frame{
			PID:      os.Getpid(),
			SentAt:   time.Now(),
			InFlight: make([]heartbeat.Request, 0, len(inFlight)),
		}
		for _, entry := range inFlight {
			frame.InFlight = append(frame.InFlight, heartbeat.Request{
				ID:        entry.ID,
				Method:    entry.Method,
				Path:      entry.Path,
				StartedAt: entry.Started,
			})
		}

		if err := writer.Send(frame); err != nil {
			w.logger.Warn("heartbeat pipe closed, stopping heartbeats", "error", err)
			return
		}
	}
}

// InheritedListener recovers the shared listening socket from the fd
// the supervisor placed at [process.ListenerFD].
func InheritedListener() (net.Listener, error) {
	file := os.NewFile(process.ListenerFD, "listener")
	if file == nil {
		return nil, fmt.Errorf("no inherited listener at fd %d", process.ListenerFD)
	}
	listener, err := net.FileListener(file)
	// net.FileListener dups the fd; the original is no longer needed.
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("recovering inherited listener: %w", err)
	}
	return listener, nil
}

// InheritedHeartbeatPipe recovers the write end of the heartbeat pipe
// from the fd the supervisor placed at [process.HeartbeatFD].
func InheritedHeartbeatPipe() (*os.File, error) {
	file := os.NewFile(process.HeartbeatFD, "heartbeat")
	if file == nil {
		return nil, fmt.Errorf("no inherited heartbeat pipe at fd %d", process.HeartbeatFD)
	}
	return file, nil
}
