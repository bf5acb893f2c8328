// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog enforces the hard per-request time budget inside a
// worker process.
//
// Each worker owns one [Table]. The serving middleware arms an entry
// when a request starts and disarms it when the handler returns. If an
// entry reaches its deadline, the table invokes the expiry callback —
// the worker's callback writes a [KillRecord] and aborts the whole
// process. Killing the process rather than the offending goroutine is
// deliberate: a handler stuck in a syscall or a tight loop cannot be
// cancelled from inside the process, so the worker boundary is the
// fault-isolation boundary. The supervisor restarts the worker; its
// siblings keep serving throughout.
//
// The kill record is written atomically (temporary file, fsync,
// rename) so the supervisor never reads a partial record. Staleness
// checking via [CheckKillRecord] prevents attributing an ancient
// record from an unrelated restart to the current kill.
package watchdog
