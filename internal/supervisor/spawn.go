// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/prefork-sh/prefork/internal/heartbeat"
	"github.com/prefork-sh/prefork/lib/process"
	"github.com/prefork-sh/prefork/lib/watchdog"
)

// killRecordMaxAge bounds how old a kill record may be and still be
// attributed to the exit the supervisor just observed.
const killRecordMaxAge = time.Minute

// runWorker spawns one worker, watches it until it exits or ctx is
// cancelled, and logs the outcome. Restart policy belongs to the
// caller.
func (s *Supervisor) runWorker(ctx context.Context, slot int, listenerFile *os.File) {
	logger := s.logger.With("slot", slot)

	heartbeatRead, heartbeatWrite, err := os.Pipe()
	if err != nil {
		logger.Error("creating heartbeat pipe", "error", err)
		return
	}
	defer heartbeatRead.Close()

	cmd := exec.Command(s.workerBinary)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{listenerFile, heartbeatWrite}
	cmd.Env = append(os.Environ(),
		process.EnvEntry+"="+s.cfg.App.Entry,
		process.EnvThreads+"="+strconv.Itoa(s.cfg.Server.Threads),
		process.EnvRequestTimeout+"="+s.cfg.Server.RequestTimeout.Std().String(),
		process.EnvShutdownTimeout+"="+s.cfg.Server.ShutdownTimeout.Std().String(),
		process.EnvKillRecord+"="+s.killRecordPath(slot),
	)
	if s.cred != nil {
		cmd.Env = append(cmd.Env, s.cred.Environ())
	}

	// Workers run as the unprivileged account (when the supervisor has
	// the privilege to switch) and die with the supervisor: the
	// parent-death signal guarantees no orphaned worker keeps the port
	// busy after a supervisor crash.
	attr := &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
	if os.Geteuid() == 0 {
		attr.Credential = s.acct.Credential()
	}
	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		heartbeatWrite.Close()
		logger.Error("spawning worker", "error", err)
		return
	}
	// The child holds its own copy of the write end; keeping ours open
	// would stop the reader from ever seeing EOF.
	heartbeatWrite.Close()

	logger.Info("worker started", "pid", cmd.Process.Pid)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go s.backstop(monitorCtx, logger, cmd.Process, heartbeatRead)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		s.logExit(logger, slot, cmd.ProcessState, err)
	case <-ctx.Done():
		s.drainWorker(logger, cmd, exited)
	}
}

// drainWorker asks an already-running worker to drain via SIGTERM and
// escalates to SIGKILL when the shutdown timeout expires.
func (s *Supervisor) drainWorker(logger *slog.Logger, cmd *exec.Cmd, exited <-chan error) {
	logger.Info("draining worker", "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		<-exited
		return
	}

	select {
	case <-exited:
		logger.Info("worker drained")
	case <-time.After(s.cfg.Server.ShutdownTimeout.Std()):
		logger.Warn("worker did not drain in time, killing", "pid", cmd.Process.Pid)
		cmd.Process.Kill()
		<-exited
	}
}

// heartbeatStaleLimit is how long the supervisor tolerates silence on
// a worker's heartbeat pipe before killing it. Generous relative to
// the send interval so scheduling hiccups never kill a healthy worker.
const heartbeatStaleLimit = 5 * heartbeat.Interval

// backstopGrace is how far past the request budget a reported
// in-flight request may run before the supervisor kills the worker
// from outside. The in-worker watchdog should have fired long before;
// reaching this margin means it could not.
const backstopGrace = 10 * time.Second

// backstopTick is how often the backstop re-evaluates silence and
// overdue requests between frames.
const backstopTick = time.Second

// backstop kills the worker from outside when its heartbeats stop or
// report a request far past the budget.
func (s *Supervisor) backstop(ctx context.Context, logger *slog.Logger, proc *os.Process, pipe *os.File) {
	frames := make(chan heartbeat.Frame)
	go func() {
		defer close(frames)
		reader := heartbeat.NewReader(pipe)
		for {
			frame, err := reader.Next()
			if err != nil {
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	lastFrame := time.Now()
	var inFlight []heartbeat.Request
	budget := s.cfg.Server.RequestTimeout.Std()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				// EOF: the worker exited; the wait path handles it.
				return
			}
			lastFrame = time.Now()
			inFlight = frame.InFlight
		case <-ticker.C:
			if silence := time.Since(lastFrame); silence > s.staleLimit {
				logger.Error("worker heartbeats stopped, killing",
					"pid", proc.Pid,
					"silence", silence.Round(time.Second))
				proc.Kill()
				return
			}
			for _, request := range inFlight {
				if overdue := time.Since(request.StartedAt) - budget; overdue > s.overdueGrace {
					logger.Error("worker watchdog missed an overdue request, killing",
						"pid", proc.Pid,
						"request_id", request.ID,
						"method", request.Method,
						"path", request.Path,
						"overdue", overdue.Round(time.Second))
					proc.Kill()
					return
				}
			}
		}
	}
}

// logExit classifies a worker's wait status and logs it. A watchdog
// exit is attributed to the request named in the kill record, which is
// then cleared.
func (s *Supervisor) logExit(logger *slog.Logger, slot int, state *os.ProcessState, waitErr error) {
	switch {
	case state == nil:
		logger.Error("worker wait failed", "error", waitErr)

	case state.ExitCode() == process.ExitWatchdogKill:
		recordPath := s.killRecordPath(slot)
		record, ok, err := watchdog.CheckKillRecord(recordPath, killRecordMaxAge)
		if err != nil {
			logger.Error("worker killed by watchdog; kill record unreadable",
				"pid", state.Pid(), "error", err)
		} else if ok {
			logger.Error("worker killed by watchdog",
				"pid", state.Pid(),
				"request_id", record.RequestID,
				"method", record.Method,
				"path", record.Path,
				"started", record.Started)
		} else {
			logger.Error("worker killed by watchdog; no kill record", "pid", state.Pid())
		}
		if err := watchdog.ClearKillRecord(recordPath); err != nil {
			logger.Warn("clearing kill record", "error", err)
		}

	case state.ExitCode() == process.ExitStartupFailure:
		logger.Error("worker failed to start; check entry point and inherited fds",
			"pid", state.Pid())

	case state.Exited() && state.ExitCode() == 0:
		logger.Info("worker exited cleanly", "pid", state.Pid())

	case state.Exited():
		logger.Error("worker crashed", "pid", state.Pid(), "code", state.ExitCode())

	default:
		// Killed by a signal: the backstop, the OOM killer, or an
		// operator.
		status := state.Sys().(syscall.WaitStatus)
		logger.Error("worker killed by signal",
			"pid", state.Pid(), "signal", status.Signal().String())
	}
}
