// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package heartbeat defines the worker→supervisor liveness protocol.
//
// Each worker inherits the write end of a pipe and sends a [Frame]
// every interval listing its in-flight requests. The supervisor reads
// frames from the other end and uses them as a backstop for the
// in-worker watchdog: if frames stop arriving, or a reported request
// has been in flight longer than the budget plus grace, the supervisor
// kills the worker from outside. A worker stuck badly enough that its
// own watchdog goroutine cannot run is exactly the worker whose
// heartbeats stop.
//
// Frames are CBOR values written back to back on the pipe; CBOR values
// are self-delimiting, so no extra framing is needed.
package heartbeat

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/prefork-sh/prefork/lib/codec"
)

// Interval is how often workers send heartbeat frames.
const Interval = 2 * time.Second

// Request is one in-flight request as reported in a frame.
type Request struct {
	// ID is the request ID assigned by the worker's serving
	// middleware.
	ID uuid.UUID `cbor:"id"`

	// Method and Path describe the request.
	Method string `cbor:"method"`
	Path   string `cbor:"path"`

	// StartedAt is when the request entered the handler.
	StartedAt time.Time `cbor:"started_at"`
}

// Frame is one heartbeat message.
type Frame struct {
	// PID is the sending worker's process ID.
	PID int `cbor:"pid"`

	// SentAt is when the frame was written, by the worker's clock.
	SentAt time.Time `cbor:"sent_at"`

	// InFlight lists every request currently inside a handler.
	InFlight []Request `cbor:"in_flight"`
}

// Writer sends frames on the worker side of the pipe.
type Writer struct {
	encoder *cbor.Encoder
}

// NewWriter wraps the worker's end of the heartbeat pipe.
func NewWriter(w io.Writer) *Writer {
	return &Writer{encoder: codec.NewEncoder(w)}
}

// Send writes one frame. A write error usually means the supervisor
// is gone, which the caller treats as a shutdown signal.
func (w *Writer) Send(frame Frame) error {
	if err := w.encoder.Encode(frame); err != nil {
		return fmt.Errorf("sending heartbeat frame: %w", err)
	}
	return nil
}

// Reader receives frames on the supervisor side of the pipe.
type Reader struct {
	decoder *cbor.Decoder
}

// NewReader wraps the supervisor's end of a worker's heartbeat pipe.
func NewReader(r io.Reader) *Reader {
	return &Reader{decoder: codec.NewDecoder(r)}
}

// Next blocks until the next frame arrives. Returns io.EOF when the
// worker closes its end (normal exit) and other errors for malformed
// frames or broken pipes.
func (r *Reader) Next() (Frame, error) {
	var frame Frame
	if err := r.decoder.Decode(&frame); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("reading heartbeat frame: %w", err)
	}
	return frame, nil
}
