// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package smoke is a built-in application for exercising a deployment
// end to end: a health endpoint, an echo endpoint, and a sleep
// endpoint for provoking the watchdog on purpose.
//
// Reference it as "smoke:app". It registers itself from init, so any
// worker binary that imports this package (the stock prefork-worker
// does, via a blank import) can serve it.
package smoke

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prefork-sh/prefork/lib/appref"
)

func init() {
	appref.Register("smoke", "app", New)
}

// New constructs the smoke application handler.
func New() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", index)
	mux.HandleFunc("GET /healthz", health)
	mux.HandleFunc("GET /sleep", sleep)
	mux.HandleFunc("POST /echo", echo)
	return mux, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"pid":    os.Getpid(),
	})
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// sleep blocks for the requested duration. This is how an operator
// verifies the hard timeout: sleep past the budget and watch the
// worker die and restart while its siblings keep answering.
func sleep(w http.ResponseWriter, r *http.Request) {
	duration, err := time.ParseDuration(r.URL.Query().Get("duration"))
	if err != nil {
		http.Error(w, "sleep requires ?duration=<go duration>", http.StatusBadRequest)
		return
	}
	time.Sleep(duration)
	writeJSON(w, http.StatusOK, map[string]string{"slept": duration.String()})
}

func echo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, r.Body)
}
