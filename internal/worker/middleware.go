// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler returns the application handler wrapped in the worker's
// serve pipeline: handler-slot admission, request ID assignment,
// watchdog arming, and access logging.
func (w *Worker) Handler() http.Handler {
	slots := make(chan struct{}, w.opts.Threads)

	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		// Admission: block until a handler slot frees up. The slot
		// count bounds concurrent handler execution, mirroring the
		// fixed thread pool; excess accepted connections wait here on
		// their per-connection goroutines.
		slots <- struct{}{}
		defer func() { <-slots }()

		requestID := uuid.New()
		started := time.Now()

		w.table.Arm(requestID, r.Method, r.URL.Path)
		defer w.table.Disarm(requestID)

		recorder := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
		rw.Header().Set("X-Request-Id", requestID.String())
		w.handler.ServeHTTP(recorder, r)

		w.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"bytes", recorder.bytes,
			"duration", time.Since(started),
			"remote", r.RemoteAddr)
	})
}

// statusRecorder captures the response status and size for the access
// log. It forwards the optional ResponseWriter capabilities so
// streaming and connection-upgrading applications behind the wrapper
// keep working.
type statusRecorder struct {
	http.ResponseWriter
	status    int
	bytes     int64
	wroteOnce sync.Once
}

func (s *statusRecorder) WriteHeader(status int) {
	s.wroteOnce.Do(func() { s.status = status })
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	n, err := s.ResponseWriter.Write(p)
	s.bytes += int64(n)
	return n, err
}

func (s *statusRecorder) Flush() {
	if flusher, ok := s.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
