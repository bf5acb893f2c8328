// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Worker exit codes. The supervisor reads these from the worker's wait
// status to decide how to log and restart. Values stay below 128 so
// they never collide with the shell's 128+signal convention, and away
// from the low codes (1, 2) that flag parsing and generic failures
// produce.
const (
	// ExitWatchdogKill is returned by a worker that aborted itself
	// because a request exceeded the hard timeout. The worker writes
	// a kill record before exiting with this code.
	ExitWatchdogKill = 94

	// ExitStartupFailure is returned by a worker that could not reach
	// the serving state: unresolvable application entry point, bad
	// inherited file descriptors, or a privilege check failure.
	ExitStartupFailure = 95
)

// Fatal writes "error: err" to stderr and exits with code 1. This is
// the standard prefork binary entrypoint error handler. Use it in
// main() for errors from run() where the structured logger may not be
// initialized yet.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
