// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/prefork-sh/prefork/internal/heartbeat"
	"github.com/prefork-sh/prefork/lib/account"
	"github.com/prefork-sh/prefork/lib/config"
	"github.com/prefork-sh/prefork/lib/process"
	"github.com/prefork-sh/prefork/lib/testutil"
	"github.com/prefork-sh/prefork/lib/watchdog"
)

// testConfig returns a valid config pointing at temp directories and a
// stand-in worker binary.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Paths.ImageRoot = t.TempDir()
	cfg.Paths.RunDir = t.TempDir()
	cfg.Paths.StateDir = filepath.Join(t.TempDir(), "state")
	cfg.Identity.Account = "nobody"
	cfg.App.Entry = "search:app"
	cfg.Server.WorkerBinary = testutil.WriteFile(t, t.TempDir(), "prefork-worker", []byte("#!/bin/sh\nexit 0\n"))
	return cfg
}

func testAccount() *account.Account {
	return &account.Account{Name: "nobody", UID: 65534, GID: 65534}
}

func TestNewRequiresConfigAndAccount(t *testing.T) {
	if _, err := New(Options{Account: testAccount()}); err == nil {
		t.Error("expected error without config")
	}
	if _, err := New(Options{Config: testConfig(t)}); err == nil {
		t.Error("expected error without account")
	}
}

func TestNewRejectsMissingWorkerBinary(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.WorkerBinary = filepath.Join(t.TempDir(), "absent-worker")

	if _, err := New(Options{Config: cfg, Account: testAccount()}); err == nil {
		t.Error("expected error for missing worker binary")
	}
}

func TestNewCreatesStateDir(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(Options{Config: cfg, Account: testAccount()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	info, err := os.Stat(cfg.Paths.StateDir)
	if err != nil {
		t.Fatalf("state dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("state dir is not a directory")
	}

	want := filepath.Join(cfg.Paths.StateDir, "worker-1.killed")
	if got := s.killRecordPath(1); got != want {
		t.Errorf("killRecordPath: got %q, want %q", got, want)
	}
}

// exitState runs a short shell command and returns its wait status,
// giving the classifier real process states to chew on.
func exitState(t *testing.T, script string) *os.ProcessState {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", script)
	cmd.Run()
	if cmd.ProcessState == nil {
		t.Fatalf("no process state for %q", script)
	}
	return cmd.ProcessState
}

func newTestSupervisor(t *testing.T, logOutput io.Writer) *Supervisor {
	t.Helper()
	s, err := New(Options{
		Config:  testConfig(t),
		Account: testAccount(),
		Logger:  slog.New(slog.NewJSONHandler(logOutput, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// syncBuffer is a goroutine-safe log sink for tests that read logs
// written from the backstop goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// spawnStuckProcess starts a process that never exits on its own,
// standing in for a wedged worker.
func spawnStuckProcess(t *testing.T) (*exec.Cmd, <-chan error) {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting stand-in worker: %v", err)
	}
	t.Cleanup(func() { cmd.Process.Kill() })

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	return cmd, exited
}

func TestBackstopKillsSilentWorker(t *testing.T) {
	var logs syncBuffer
	s := newTestSupervisor(t, &logs)
	s.staleLimit = 100 * time.Millisecond
	s.tickInterval = 20 * time.Millisecond

	cmd, exited := spawnStuckProcess(t)

	// The write end stays open: the worker is alive but silent, which
	// must read as wedged, not as a clean exit.
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer readEnd.Close()
	defer writeEnd.Close()

	done := make(chan struct{})
	go func() {
		s.backstop(context.Background(), s.logger, cmd.Process, readEnd)
		close(done)
	}()

	testutil.RequireReceive(t, exited, 5*time.Second, "silent worker killed")
	testutil.RequireClosed(t, done, time.Second, "backstop returning")

	if !strings.Contains(logs.String(), "heartbeats stopped") {
		t.Errorf("stale-silence kill not logged: %s", logs.String())
	}
}

func TestBackstopKillsWorkerWithOverdueRequest(t *testing.T) {
	var logs syncBuffer
	s := newTestSupervisor(t, &logs)
	// Heartbeats keep arriving; only the overdue in-flight request may
	// trigger the kill.
	s.staleLimit = time.Hour
	s.tickInterval = 20 * time.Millisecond

	cmd, exited := spawnStuckProcess(t)

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer readEnd.Close()
	defer writeEnd.Close()

	budget := s.cfg.Server.RequestTimeout.Std()
	frame := heartbeat.Frame{
		PID:    cmd.Process.Pid,
		SentAt: time.Now(),
		InFlight: []heartbeat.Request{{
			ID:        uuid.New(),
			Method:    "GET",
			Path:      "/stuck",
			StartedAt: time.Now().Add(-(budget + s.overdueGrace + time.Minute)),
		}},
	}
	if err := heartbeat.NewWriter(writeEnd).Send(frame); err != nil {
		t.Fatalf("sending frame: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.backstop(context.Background(), s.logger, cmd.Process, readEnd)
		close(done)
	}()

	testutil.RequireReceive(t, exited, 5*time.Second, "overdue worker killed")
	testutil.RequireClosed(t, done, time.Second, "backstop returning")

	if !strings.Contains(logs.String(), "overdue") {
		t.Errorf("overdue-request kill not logged: %s", logs.String())
	}
	if !strings.Contains(logs.String(), "/stuck") {
		t.Errorf("overdue request not attributed: %s", logs.String())
	}
}

func TestBackstopToleratesHealthyWorker(t *testing.T) {
	var logs syncBuffer
	s := newTestSupervisor(t, &logs)
	s.staleLimit = 150 * time.Millisecond
	s.tickInterval = 20 * time.Millisecond

	cmd, exited := spawnStuckProcess(t)

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer readEnd.Close()

	// Steady idle frames within the stale limit: no kill.
	stopFrames := make(chan struct{})
	framesDone := make(chan struct{})
	go func() {
		defer close(framesDone)
		defer writeEnd.Close()
		writer := heartbeat.NewWriter(writeEnd)
		for {
			select {
			case <-stopFrames:
				return
			case <-time.After(30 * time.Millisecond):
			}
			if err := writer.Send(heartbeat.Frame{PID: cmd.Process.Pid, SentAt: time.Now()}); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.backstop(ctx, s.logger, cmd.Process, readEnd)
		close(done)
	}()

	select {
	case err := <-exited:
		t.Fatalf("healthy worker killed: %v", err)
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	close(stopFrames)
	testutil.RequireClosed(t, done, time.Second, "backstop returning")
	testutil.RequireClosed(t, framesDone, time.Second, "frame writer returning")
}

func TestLogExitClassifiesCleanExit(t *testing.T) {
	var logs bytes.Buffer
	s := newTestSupervisor(t, &logs)

	s.logExit(s.logger, 0, exitState(t, "exit 0"), nil)
	if !strings.Contains(logs.String(), "worker exited cleanly") {
		t.Errorf("clean exit not classified: %s", logs.String())
	}
}

func TestLogExitClassifiesCrash(t *testing.T) {
	var logs bytes.Buffer
	s := newTestSupervisor(t, &logs)

	s.logExit(s.logger, 0, exitState(t, "exit 3"), nil)
	if !strings.Contains(logs.String(), "worker crashed") {
		t.Errorf("crash not classified: %s", logs.String())
	}
}

func TestLogExitClassifiesStartupFailure(t *testing.T) {
	var logs bytes.Buffer
	s := newTestSupervisor(t, &logs)

	s.logExit(s.logger, 0, exitState(t, "exit 95"), nil)
	if !strings.Contains(logs.String(), "worker failed to start") {
		t.Errorf("startup failure not classified: %s", logs.String())
	}
}

func TestLogExitClassifiesSignal(t *testing.T) {
	var logs bytes.Buffer
	s := newTestSupervisor(t, &logs)

	s.logExit(s.logger, 0, exitState(t, "kill -KILL $$"), nil)
	if !strings.Contains(logs.String(), "worker killed by signal") {
		t.Errorf("signal death not classified: %s", logs.String())
	}
}

func TestLogExitAttributesWatchdogKill(t *testing.T) {
	var logs bytes.Buffer
	s := newTestSupervisor(t, &logs)

	// A worker that died with the watchdog exit code leaves a kill
	// record behind; the supervisor reads, logs, and clears it.
	record := watchdog.KillRecord{
		WorkerPID: 777,
		RequestID: uuid.New(),
		Method:    "POST",
		Path:      "/reports/generate",
		Timestamp: time.Now(),
	}
	if err := watchdog.WriteKillRecord(s.killRecordPath(0), record); err != nil {
		t.Fatalf("WriteKillRecord: %v", err)
	}

	s.logExit(s.logger, 0, exitState(t, "exit 94"), nil)

	if !strings.Contains(logs.String(), "worker killed by watchdog") {
		t.Errorf("watchdog kill not classified: %s", logs.String())
	}
	if !strings.Contains(logs.String(), "/reports/generate") {
		t.Errorf("kill record not attributed: %s", logs.String())
	}
	if _, err := os.Stat(s.killRecordPath(0)); !os.IsNotExist(err) {
		t.Error("kill record not cleared after attribution")
	}
}

func TestRestartPolicyEscalatesAndResets(t *testing.T) {
	policy := newRestartPolicy()

	first := policy.NextBackOff()
	if first <= 0 {
		t.Fatalf("first backoff not positive: %v", first)
	}

	// Repeated failures escalate but stay capped; a fixed-size pool
	// never gets a backoff.Stop.
	last := first
	for i := 0; i < 20; i++ {
		next := policy.NextBackOff()
		if next < 0 {
			t.Fatalf("restart policy gave up after %d failures", i+1)
		}
		last = next
	}
	if last > policy.MaxInterval+time.Duration(float64(policy.MaxInterval)*policy.RandomizationFactor) {
		t.Errorf("backoff exceeded cap: %v", last)
	}
	if last <= first {
		t.Errorf("backoff did not escalate: first %v, later %v", first, last)
	}

	// Stable serving resets the ladder.
	policy.Reset()
	ceiling := policy.InitialInterval + time.Duration(float64(policy.InitialInterval)*policy.RandomizationFactor)
	if reset := policy.NextBackOff(); reset > ceiling {
		t.Errorf("reset did not return to the initial interval: %v", reset)
	}
}

func TestWorkerEnvironmentContract(t *testing.T) {
	// The constants are the spawn interface; a rename breaks deployed
	// workers mid-upgrade.
	for name, want := range map[string]string{
		process.EnvEntry:           "PREFORK_ENTRY",
		process.EnvThreads:         "PREFORK_THREADS",
		process.EnvRequestTimeout:  "PREFORK_REQUEST_TIMEOUT",
		process.EnvShutdownTimeout: "PREFORK_SHUTDOWN_TIMEOUT",
		process.EnvKillRecord:      "PREFORK_KILL_RECORD",
	} {
		if name != want {
			t.Errorf("env contract drifted: got %q, want %q", name, want)
		}
	}
}
