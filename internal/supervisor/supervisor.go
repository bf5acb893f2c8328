// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor implements the pre-fork parent process.
//
// The supervisor binds the listening socket once, then spawns a fixed
// pool of worker processes that each inherit the socket and accept on
// it directly — the kernel spreads connections across the workers'
// blocked accepts, so the supervisor is never on the request path. Its
// job is lifecycle: spawn workers as the configured unprivileged
// account, watch their heartbeats, restart them when they die, and
// drain them on shutdown.
//
// Timeout enforcement is layered. The primary mechanism lives inside
// each worker (its watchdog aborts the process and leaves a kill
// record); the supervisor adds a backstop that kills a worker from
// outside when its heartbeats stop or report a request far past the
// budget. The backstop catches the failure mode the in-worker watchdog
// cannot: a worker wedged so hard its own goroutines stop running.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/prefork-sh/prefork/lib/account"
	"github.com/prefork-sh/prefork/lib/config"
	"github.com/prefork-sh/prefork/lib/credential"
)

// Options configures a supervisor.
type Options struct {
	// Config is the validated master configuration.
	Config *config.Config

	// Account is the resolved unprivileged account workers run as.
	Account *account.Account

	// Credential is the provisioned credential artifact, or nil for
	// the uncredentialed variant.
	Credential *credential.Provisioned

	// Logger receives supervisor lifecycle logs.
	Logger *slog.Logger
}

// Supervisor owns the listening socket and the worker pool.
type Supervisor struct {
	cfg    *config.Config
	acct   *account.Account
	cred   *credential.Provisioned
	logger *slog.Logger

	workerBinary string

	// Backstop timings. Defaulted from the package constants; tests
	// tighten them to drive the kill branches quickly.
	staleLimit   time.Duration
	overdueGrace time.Duration
	tickInterval time.Duration

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// New validates the options and locates the worker binary. The state
// directory for kill records is created here so the first watchdog
// kill never races a missing directory.
func New(opts Options) (*Supervisor, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("supervisor requires a config")
	}
	if opts.Account == nil {
		return nil, fmt.Errorf("supervisor requires a resolved service account")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workerBinary := opts.Config.Server.WorkerBinary
	if workerBinary == "" {
		executable, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating worker binary: %w", err)
		}
		workerBinary = filepath.Join(filepath.Dir(executable), "prefork-worker")
	}
	if _, err := os.Stat(workerBinary); err != nil {
		return nil, fmt.Errorf("worker binary %s: %w", workerBinary, err)
	}

	if err := os.MkdirAll(opts.Config.Paths.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	return &Supervisor{
		cfg:          opts.Config,
		acct:         opts.Account,
		cred:         opts.Credential,
		logger:       logger,
		workerBinary: workerBinary,
		staleLimit:   heartbeatStaleLimit,
		overdueGrace: backstopGrace,
		tickInterval: backstopTick,
		ready:        make(chan struct{}),
	}, nil
}

// Addr returns the bound listen address, or nil before Run binds.
func (s *Supervisor) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Ready is closed once the listening socket is bound. Connections
// arriving from then on are queued by the kernel even while workers
// are still starting.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// Run binds the listener, spawns the worker pool, and supervises it
// until ctx is cancelled. Each worker slot restarts its worker on
// death with exponential backoff; Run returns only after every worker
// has been drained or killed.
func (s *Supervisor) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("binding port %d: %w", s.cfg.Server.Port, err)
	}
	defer listener.Close()

	// Dup the socket into a plain file for ExtraFiles. The supervisor
	// never accepts on it; workers do.
	listenerFile, err := listener.(*net.TCPListener).File()
	if err != nil {
		return fmt.Errorf("preparing listener for inheritance: %w", err)
	}
	defer listenerFile.Close()

	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("supervisor listening",
		"addr", listener.Addr().String(),
		"workers", s.cfg.Server.Workers,
		"threads", s.cfg.Server.Threads,
		"request_timeout", s.cfg.Server.RequestTimeout.Std(),
		"account", s.acct.Name,
		"credentialed", s.cred != nil)

	var pool sync.WaitGroup
	for slot := 0; slot < s.cfg.Server.Workers; slot++ {
		pool.Add(1)
		go func(slot int) {
			defer pool.Done()
			s.superviseSlot(ctx, slot, listenerFile)
		}(slot)
	}
	pool.Wait()

	s.logger.Info("supervisor stopped")
	return nil
}

// stableServingPeriod is how long a worker must survive before its
// slot's restart backoff resets. Shorter lifetimes count as part of a
// crash loop and keep escalating the delay.
const stableServingPeriod = 30 * time.Second

// newRestartPolicy returns the per-slot restart backoff: fast first
// restart, capped escalation, and never giving up — the pool is fixed
// size, so a slot always tries again.
func newRestartPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 15 * time.Second
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

// superviseSlot keeps one worker slot occupied: spawn, watch, restart.
func (s *Supervisor) superviseSlot(ctx context.Context, slot int, listenerFile *os.File) {
	policy := newRestartPolicy()

	for ctx.Err() == nil {
		started := time.Now()
		s.runWorker(ctx, slot, listenerFile)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) >= stableServingPeriod {
			policy.Reset()
		}
		delay := policy.NextBackOff()
		s.logger.Info("restarting worker",
			"slot", slot,
			"delay", delay,
			"lifetime", time.Since(started).Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// killRecordPath is where slot's worker writes its watchdog kill
// record.
func (s *Supervisor) killRecordPath(slot int) string {
	return filepath.Join(s.cfg.Paths.StateDir, fmt.Sprintf("worker-%d.killed", slot))
}
