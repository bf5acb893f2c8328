// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// prefork-worker is one member of the pre-fork pool. It is spawned by
// preforkd, never by an operator: its entire contract arrives through
// environment variables and inherited file descriptors, and it exits
// with the startup-failure code when any part of that contract is
// missing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prefork-sh/prefork/internal/worker"
	"github.com/prefork-sh/prefork/lib/process"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With("proc", "worker", "pid", os.Getpid())
	slog.SetDefault(logger)

	opts, err := optionsFromEnv(logger)
	if err != nil {
		logger.Error("invalid spawn contract", "error", err)
		os.Exit(process.ExitStartupFailure)
	}

	listener, err := worker.InheritedListener()
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(process.ExitStartupFailure)
	}

	heartbeatPipe, err := worker.InheritedHeartbeatPipe()
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(process.ExitStartupFailure)
	}

	w, err := worker.New(opts)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(process.ExitStartupFailure)
	}

	// SIGTERM from the supervisor starts the graceful drain.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	if err := w.Serve(ctx, listener, heartbeatPipe); err != nil {
		process.Fatal(err)
	}
}

// optionsFromEnv assembles worker options from the spawn contract.
func optionsFromEnv(logger *slog.Logger) (worker.Options, error) {
	entry := os.Getenv(process.EnvEntry)
	if entry == "" {
		return worker.Options{}, fmt.Errorf("%s is not set", process.EnvEntry)
	}

	threads, err := strconv.Atoi(os.Getenv(process.EnvThreads))
	if err != nil {
		return worker.Options{}, fmt.Errorf("parsing %s: %w", process.EnvThreads, err)
	}

	requestTimeout, err := time.ParseDuration(os.Getenv(process.EnvRequestTimeout))
	if err != nil {
		return worker.Options{}, fmt.Errorf("parsing %s: %w", process.EnvRequestTimeout, err)
	}

	shutdownTimeout, err := time.ParseDuration(os.Getenv(process.EnvShutdownTimeout))
	if err != nil {
		return worker.Options{}, fmt.Errorf("parsing %s: %w", process.EnvShutdownTimeout, err)
	}

	killRecord := os.Getenv(process.EnvKillRecord)
	if killRecord == "" {
		return worker.Options{}, fmt.Errorf("%s is not set", process.EnvKillRecord)
	}

	return worker.Options{
		Entry:           entry,
		Threads:         threads,
		RequestTimeout:  requestTimeout,
		ShutdownTimeout: shutdownTimeout,
		KillRecordPath:  killRecord,
		Logger:          logger,
	}, nil
}
