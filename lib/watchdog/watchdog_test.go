// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/prefork-sh/prefork/lib/testutil"
)

func TestTableFiresExpiredEntry(t *testing.T) {
	expired := make(chan Entry, 1)
	table := NewTable(20*time.Millisecond, func(e Entry) {
		expired <- e
	})
	defer table.Close()

	id := uuid.New()
	table.Arm(id, "GET", "/slow")

	entry := testutil.RequireReceive(t, expired, time.Second)
	if entry.ID != id {
		t.Errorf("expired entry ID: got %v, want %v", entry.ID, id)
	}
	if entry.Method != "GET" || entry.Path != "/slow" {
		t.Errorf("expired entry request: got %s %s", entry.Method, entry.Path)
	}

	// The entry is removed once fired.
	if remaining := table.Snapshot(); len(remaining) != 0 {
		t.Errorf("snapshot after expiry: got %d entries", len(remaining))
	}
}

func TestTableDisarmPreventsFiring(t *testing.T) {
	expired := make(chan Entry, 1)
	table := NewTable(30*time.Millisecond, func(e Entry) {
		expired <- e
	})
	defer table.Close()

	id := uuid.New()
	table.Arm(id, "GET", "/fast")
	table.Disarm(id)

	select {
	case entry := <-expired:
		t.Fatalf("disarmed entry fired: %v", entry.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTableFiresEarliestFirst(t *testing.T) {
	expired := make(chan Entry, 2)
	table := NewTable(25*time.Millisecond, func(e Entry) {
		expired <- e
	})
	defer table.Close()

	first := uuid.New()
	table.Arm(first, "GET", "/first")
	time.Sleep(10 * time.Millisecond)
	second := uuid.New()
	table.Arm(second, "GET", "/second")

	got := testutil.RequireReceive(t, expired, time.Second)
	if got.ID != first {
		t.Errorf("first expiry: got %s, want /first", got.Path)
	}
	got = testutil.RequireReceive(t, expired, time.Second)
	if got.ID != second {
		t.Errorf("second expiry: got %s, want /second", got.Path)
	}
}

func TestTableSnapshot(t *testing.T) {
	table := NewTable(time.Hour, nil)
	defer table.Close()

	table.Arm(uuid.New(), "GET", "/a")
	table.Arm(uuid.New(), "POST", "/b")

	snapshot := table.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("snapshot: got %d entries, want 2", len(snapshot))
	}
	for _, entry := range snapshot {
		if entry.Deadline.Before(entry.Started) {
			t.Errorf("entry %s: deadline before start", entry.Path)
		}
	}
}

func TestTableCloseSuppressesCallback(t *testing.T) {
	expired := make(chan Entry, 1)
	table := NewTable(20*time.Millisecond, func(e Entry) {
		expired <- e
	})

	table.Arm(uuid.New(), "GET", "/pending")
	table.Close()

	select {
	case entry := <-expired:
		t.Fatalf("entry fired after Close: %v", entry.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestKillRecordRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "killed")
	record := KillRecord{
		WorkerPID: 4321,
		RequestID: uuid.New(),
		Method:    "POST",
		Path:      "/reports/generate",
		Started:   time.Now().Add(-2 * time.Minute).UTC(),
		Deadline:  time.Now().UTC(),
		Timestamp: time.Now().UTC(),
	}

	if err := WriteKillRecord(path, record); err != nil {
		t.Fatalf("WriteKillRecord: %v", err)
	}

	got, ok, err := CheckKillRecord(path, time.Minute)
	if err != nil {
		t.Fatalf("CheckKillRecord: %v", err)
	}
	if !ok {
		t.Fatal("fresh record reported as absent")
	}
	if got.WorkerPID != record.WorkerPID || got.RequestID != record.RequestID {
		t.Errorf("record mismatch: got %+v", got)
	}
	if got.Method != "POST" || got.Path != "/reports/generate" {
		t.Errorf("request mismatch: got %s %s", got.Method, got.Path)
	}
}

func TestKillRecordStaleness(t *testing.T) {
	path := filepath.Join(t.TempDir(), "killed")
	record := KillRecord{
		WorkerPID: 99,
		RequestID: uuid.New(),
		Timestamp: time.Now().Add(-time.Hour).UTC(),
	}
	if err := WriteKillRecord(path, record); err != nil {
		t.Fatalf("WriteKillRecord: %v", err)
	}

	_, ok, err := CheckKillRecord(path, time.Minute)
	if err != nil {
		t.Fatalf("CheckKillRecord: %v", err)
	}
	if ok {
		t.Error("hour-old record accepted with a one-minute window")
	}
}

func TestKillRecordAbsent(t *testing.T) {
	_, ok, err := CheckKillRecord(filepath.Join(t.TempDir(), "missing"), time.Minute)
	if err != nil {
		t.Fatalf("CheckKillRecord: %v", err)
	}
	if ok {
		t.Error("missing record reported as present")
	}
}

func TestClearKillRecordIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "killed")
	if err := WriteKillRecord(path, KillRecord{WorkerPID: 1, Timestamp: time.Now()}); err != nil {
		t.Fatalf("WriteKillRecord: %v", err)
	}

	if err := ClearKillRecord(path); err != nil {
		t.Fatalf("ClearKillRecord: %v", err)
	}
	if err := ClearKillRecord(path); err != nil {
		t.Fatalf("second ClearKillRecord: %v", err)
	}
}

func TestKillRecordRejectsCorruptData(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "killed", []byte("not cbor at all"))

	if _, _, err := CheckKillRecord(path, time.Minute); err == nil {
		t.Error("expected error for corrupt record")
	}
}
