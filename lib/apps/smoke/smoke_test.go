// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package smoke

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prefork-sh/prefork/lib/appref"
)

func TestRegisteredAsSmokeApp(t *testing.T) {
	handler, err := appref.Resolve("smoke:app")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if handler == nil {
		t.Fatal("nil handler")
	}
}

func TestIndex(t *testing.T) {
	handler, _ := New()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status: got %d", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field: got %v", body["status"])
	}
}

func TestUnknownPathIs404(t *testing.T) {
	handler, _ := New()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/nope", nil))
	if recorder.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", recorder.Code)
	}
}

func TestSleepRequiresDuration(t *testing.T) {
	handler, _ := New()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/sleep", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/sleep?duration=1ms", nil))
	if recorder.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", recorder.Code)
	}
}

func TestEcho(t *testing.T) {
	handler, _ := New()

	request := httptest.NewRequest("POST", "/echo", strings.NewReader("hello"))
	request.Header.Set("Content-Type", "text/plain")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Body.String() != "hello" {
		t.Errorf("body: got %q", recorder.Body.String())
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("content type: got %q", ct)
	}
}
