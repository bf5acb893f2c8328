// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package appref

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func nopFactory() (http.Handler, error) {
	return http.NotFoundHandler(), nil
}

func TestParse(t *testing.T) {
	ref, err := Parse("search:app")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ref.Module != "search" || ref.Attribute != "app" {
		t.Errorf("got %+v", ref)
	}
	if ref.String() != "search:app" {
		t.Errorf("String: got %q", ref.String())
	}
}

func TestParseFailures(t *testing.T) {
	for _, reference := range []string{"", "search", "search:", ":app", "sea rch:app", "search:app:extra", "1search:app"} {
		if _, err := Parse(reference); err == nil {
			t.Errorf("Parse(%q): expected error", reference)
		}
	}
}

func TestResolve(t *testing.T) {
	var registry Registry
	registry.Register("search", "app", nopFactory)

	handler, err := registry.Resolve(Ref{Module: "search", Attribute: "app"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if handler == nil {
		t.Fatal("Resolve returned nil handler without error")
	}
}

func TestResolveUnknownModuleListsKnown(t *testing.T) {
	var registry Registry
	registry.Register("search", "app", nopFactory)
	registry.Register("admin", "app", nopFactory)

	_, err := registry.Resolve(Ref{Module: "serach", Attribute: "app"})
	if err == nil {
		t.Fatal("expected error for unknown module")
	}
	if !strings.Contains(err.Error(), "admin, search") {
		t.Errorf("error should list registered modules: %v", err)
	}
}

func TestResolveUnknownAttribute(t *testing.T) {
	var registry Registry
	registry.Register("search", "app", nopFactory)

	_, err := registry.Resolve(Ref{Module: "search", Attribute: "application"})
	if err == nil {
		t.Fatal("expected error for unknown attribute")
	}
	if !strings.Contains(err.Error(), `no attribute "application"`) {
		t.Errorf("error should name the missing attribute: %v", err)
	}
}

func TestResolveFactoryError(t *testing.T) {
	var registry Registry
	registry.Register("search", "app", func() (http.Handler, error) {
		return nil, fmt.Errorf("index not built")
	})

	_, err := registry.Resolve(Ref{Module: "search", Attribute: "app"})
	if err == nil || !strings.Contains(err.Error(), "index not built") {
		t.Fatalf("factory error should propagate, got %v", err)
	}
}

func TestResolveNilHandler(t *testing.T) {
	var registry Registry
	registry.Register("search", "app", func() (http.Handler, error) {
		return nil, nil
	})

	if _, err := registry.Resolve(Ref{Module: "search", Attribute: "app"}); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	var registry Registry
	registry.Register("search", "app", nopFactory)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	registry.Register("search", "app", nopFactory)
}
