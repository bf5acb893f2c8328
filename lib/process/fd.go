// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package process

// File descriptor numbers workers inherit from the supervisor. The
// supervisor places these in ExtraFiles in this order; the Go runtime
// maps ExtraFiles[i] to fd 3+i in the child.
const (
	// ListenerFD is the shared listening socket. Every worker accepts
	// on this same inherited socket; the kernel distributes incoming
	// connections across the blocked accept calls.
	ListenerFD = 3

	// HeartbeatFD is the write end of the worker's heartbeat pipe.
	HeartbeatFD = 4
)

// Environment variables carrying the worker's serve contract. The
// supervisor sets these on every spawned worker; together with the
// inherited file descriptors they are the entire spawn interface —
// workers never read the config file.
const (
	// EnvEntry is the application reference (module:attribute).
	EnvEntry = "PREFORK_ENTRY"

	// EnvThreads is the number of concurrent handler slots.
	EnvThreads = "PREFORK_THREADS"

	// EnvRequestTimeout is the hard per-request budget, as a Go
	// duration string.
	EnvRequestTimeout = "PREFORK_REQUEST_TIMEOUT"

	// EnvShutdownTimeout bounds the graceful drain, as a Go duration
	// string.
	EnvShutdownTimeout = "PREFORK_SHUTDOWN_TIMEOUT"

	// EnvKillRecord is the path where the worker's watchdog writes its
	// kill record before aborting.
	EnvKillRecord = "PREFORK_KILL_RECORD"
)
