// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package heartbeat

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFrameRoundTrip(t *testing.T) {
	var pipe bytes.Buffer
	writer := NewWriter(&pipe)
	reader := NewReader(&pipe)

	sent := Frame{
		PID:    1234,
		SentAt: time.Now().UTC().Truncate(time.Millisecond),
		InFlight: []Request{
			{ID: uuid.New(), Method: "GET", Path: "/search", StartedAt: time.Now().UTC()},
			{ID: uuid.New(), Method: "POST", Path: "/reports", StartedAt: time.Now().UTC()},
		},
	}
	if err := writer.Send(sent); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.PID != sent.PID {
		t.Errorf("pid: got %d, want %d", got.PID, sent.PID)
	}
	if len(got.InFlight) != 2 {
		t.Fatalf("in-flight: got %d requests, want 2", len(got.InFlight))
	}
	if got.InFlight[0].ID != sent.InFlight[0].ID {
		t.Errorf("request ID: got %v, want %v", got.InFlight[0].ID, sent.InFlight[0].ID)
	}
	if got.InFlight[1].Path != "/reports" {
		t.Errorf("request path: got %q", got.InFlight[1].Path)
	}
}

func TestFrameStream(t *testing.T) {
	var pipe bytes.Buffer
	writer := NewWriter(&pipe)

	// Frames are written back to back; the reader must recover each.
	for pid := 1; pid <= 3; pid++ {
		if err := writer.Send(Frame{PID: pid, SentAt: time.Now()}); err != nil {
			t.Fatalf("Send frame %d: %v", pid, err)
		}
	}

	reader := NewReader(&pipe)
	for pid := 1; pid <= 3; pid++ {
		frame, err := reader.Next()
		if err != nil {
			t.Fatalf("Next frame %d: %v", pid, err)
		}
		if frame.PID != pid {
			t.Errorf("frame order: got pid %d, want %d", frame.PID, pid)
		}
	}

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("after last frame: got %v, want io.EOF", err)
	}
}

func TestEmptyInFlight(t *testing.T) {
	var pipe bytes.Buffer
	if err := NewWriter(&pipe).Send(Frame{PID: 7, SentAt: time.Now()}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	frame, err := NewReader(&pipe).Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(frame.InFlight) != 0 {
		t.Errorf("idle frame reported %d in-flight requests", len(frame.InFlight))
	}
}
