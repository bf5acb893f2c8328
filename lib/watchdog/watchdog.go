// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one in-flight request being watched.
type Entry struct {
	// ID is the request ID assigned by the serving middleware.
	ID uuid.UUID

	// Method and Path identify the request in kill records and logs.
	Method string
	Path   string

	// Started is when the request entered the handler.
	Started time.Time

	// Deadline is Started plus the configured timeout.
	Deadline time.Time
}

// Table tracks the deadlines of every in-flight request in a worker.
// Arm and Disarm are called from request goroutines; a single monitor
// goroutine fires the expiry callback.
type Table struct {
	timeout  time.Duration
	onExpire func(Entry)

	mu      sync.Mutex
	entries map[uuid.UUID]Entry
	closed  bool

	// wake nudges the monitor after an Arm changes the earliest
	// deadline.
	wake chan struct{}
	done chan struct{}
}

// NewTable creates a table enforcing the given timeout. onExpire is
// called from the monitor goroutine, once per expired entry; it must
// not call back into the table. Close releases the monitor.
func NewTable(timeout time.Duration, onExpire func(Entry)) *Table {
	t := &Table{
		timeout:  timeout,
		onExpire: onExpire,
		entries:  make(map[uuid.UUID]Entry),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go t.monitor()
	return t
}

// Arm starts watching a request. The deadline is now plus the table's
// timeout.
func (t *Table) Arm(id uuid.UUID, method, path string) {
	now := time.Now()
	entry := Entry{
		ID:       id,
		Method:   method,
		Path:     path,
		Started:  now,
		Deadline: now.Add(t.timeout),
	}

	t.mu.Lock()
	if !t.closed {
		t.entries[id] = entry
	}
	t.mu.Unlock()

	// Nudge the monitor; a buffered send that loses the race with an
	// already-pending nudge is fine.
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Disarm stops watching a request. Idempotent; disarming an unknown
// or already-expired ID is a no-op.
func (t *Table) Disarm(id uuid.UUID) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// Snapshot returns the current in-flight entries, for heartbeat
// frames.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make([]Entry, 0, len(t.entries))
	for _, entry := range t.entries {
		snapshot = append(snapshot, entry)
	}
	return snapshot
}

// Close stops the monitor goroutine. Entries still armed are
// abandoned without firing.
func (t *Table) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	close(t.done)
}

// monitor sleeps until the earliest deadline, fires expired entries,
// and re-arms. With no entries it parks until the next Arm.
func (t *Table) monitor() {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		next, ok := t.earliestDeadline()
		if ok {
			timer.Reset(time.Until(next))
		}

		select {
		case <-t.done:
			timer.Stop()
			return
		case <-t.wake:
			// Deadline set changed; recompute.
			if ok && !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
			t.fireExpired()
		}
	}
}

// earliestDeadline returns the soonest deadline among armed entries.
func (t *Table) earliestDeadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var earliest time.Time
	found := false
	for _, entry := range t.entries {
		if !found || entry.Deadline.Before(earliest) {
			earliest = entry.Deadline
			found = true
		}
	}
	return earliest, found
}

// fireExpired removes and reports every entry past its deadline.
func (t *Table) fireExpired() {
	now := time.Now()

	t.mu.Lock()
	var expired []Entry
	for id, entry := range t.entries {
		if !entry.Deadline.After(now) {
			expired = append(expired, entry)
			delete(t.entries, id)
		}
	}
	callback := t.onExpire
	closed := t.closed
	t.mu.Unlock()

	if closed || callback == nil {
		return
	}
	for _, entry := range expired {
		callback(entry)
	}
}
