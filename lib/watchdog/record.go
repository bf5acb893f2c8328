// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/prefork-sh/prefork/lib/codec"
)

// KillRecord captures the request that cost a worker its life. The
// worker writes it immediately before aborting; the supervisor reads
// it after observing the watchdog exit code, logs it, and clears it.
type KillRecord struct {
	// WorkerPID is the PID of the worker that aborted.
	WorkerPID int `cbor:"worker_pid"`

	// RequestID identifies the request that exceeded its budget.
	RequestID uuid.UUID `cbor:"request_id"`

	// Method and Path describe the offending request.
	Method string `cbor:"method"`
	Path   string `cbor:"path"`

	// Started is when the request entered the handler; Deadline is
	// the budget it blew through.
	Started  time.Time `cbor:"started"`
	Deadline time.Time `cbor:"deadline"`

	// Timestamp is when the record was written. Used by
	// CheckKillRecord to discard stale records from unrelated
	// restarts.
	Timestamp time.Time `cbor:"timestamp"`
}

// WriteKillRecord atomically writes a kill record. The file is
// written to a temporary location in the same directory, fsynced for
// durability, and renamed into place, so the supervisor never reads a
// partial record.
//
// The file is created with mode 0600. The parent directory must
// already exist.
func WriteKillRecord(path string, record KillRecord) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling kill record: %w", err)
	}

	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary kill record: %w", err)
	}

	// Write, sync, close — in that order. If any step fails, remove
	// the temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary kill record: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary kill record: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary kill record: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming kill record into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss
	// between rename and the OS flushing directory metadata.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}

// CheckKillRecord reads a kill record and verifies it was written
// recently enough to be relevant. Returns the record and true when
// the file exists and its Timestamp is within maxAge of now. Returns
// a zero record and false when the file does not exist or is older
// than maxAge.
//
// Any other error (permission denied, corrupt data) is returned as-is
// so the caller can distinguish "no record" from "record exists but
// unreadable."
func CheckKillRecord(path string, maxAge time.Duration) (KillRecord, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return KillRecord{}, false, nil
		}
		return KillRecord{}, false, err
	}

	var record KillRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		return KillRecord{}, false, fmt.Errorf("parsing kill record %s: %w", path, err)
	}

	if time.Since(record.Timestamp) > maxAge {
		return KillRecord{}, false, nil
	}
	return record, true, nil
}

// ClearKillRecord removes a kill record file. Idempotent: returns nil
// when the file does not exist.
func ClearKillRecord(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing kill record: %w", err)
	}
	return nil
}
