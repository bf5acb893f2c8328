// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package appref

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Ref is a parsed module:attribute reference.
type Ref struct {
	// Module is the registered module name (e.g., "search").
	Module string

	// Attribute is the named application within the module (e.g.,
	// "app").
	Attribute string
}

// String returns the canonical module:attribute form.
func (r Ref) String() string {
	return r.Module + ":" + r.Attribute
}

// namePattern matches module and attribute names: a leading letter or
// underscore followed by letters, digits, and underscores.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Parse parses a module:attribute reference string.
func Parse(reference string) (Ref, error) {
	module, attribute, found := strings.Cut(reference, ":")
	if !found {
		return Ref{}, fmt.Errorf("application reference %q is not in module:attribute form", reference)
	}
	if !namePattern.MatchString(module) {
		return Ref{}, fmt.Errorf("application reference %q has invalid module name %q", reference, module)
	}
	if !namePattern.MatchString(attribute) {
		return Ref{}, fmt.Errorf("application reference %q has invalid attribute name %q", reference, attribute)
	}
	return Ref{Module: module, Attribute: attribute}, nil
}

// Factory constructs the application handler. Called once per worker,
// at startup; a returned error is fatal for that worker.
type Factory func() (http.Handler, error)

// Registry maps module:attribute references to application factories.
// The zero value is ready to use.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]map[string]Factory
}

// Register adds a factory under module:attribute. Panics on a
// duplicate registration or an invalid name — both are programming
// errors in the application's init, not runtime conditions.
func (r *Registry) Register(module, attribute string, factory Factory) {
	if !namePattern.MatchString(module) || !namePattern.MatchString(attribute) {
		panic(fmt.Sprintf("appref: invalid registration %q:%q", module, attribute))
	}
	if factory == nil {
		panic(fmt.Sprintf("appref: nil factory for %s:%s", module, attribute))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.modules == nil {
		r.modules = make(map[string]map[string]Factory)
	}
	attributes := r.modules[module]
	if attributes == nil {
		attributes = make(map[string]Factory)
		r.modules[module] = attributes
	}
	if _, exists := attributes[attribute]; exists {
		panic(fmt.Sprintf("appref: duplicate registration %s:%s", module, attribute))
	}
	attributes[attribute] = factory
}

// Resolve looks up a reference and constructs the application handler.
// The error for an unknown module lists the registered modules so a
// typo in the config is diagnosed from the log line alone.
func (r *Registry) Resolve(ref Ref) (http.Handler, error) {
	r.mu.RLock()
	attributes, moduleKnown := r.modules[ref.Module]
	var factory Factory
	if moduleKnown {
		factory = attributes[ref.Attribute]
	}
	r.mu.RUnlock()

	if !moduleKnown {
		return nil, fmt.Errorf("no application module %q registered (have: %s)", ref.Module, r.moduleNames())
	}
	if factory == nil {
		return nil, fmt.Errorf("application module %q has no attribute %q", ref.Module, ref.Attribute)
	}

	handler, err := factory()
	if err != nil {
		return nil, fmt.Errorf("constructing application %s: %w", ref, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("application factory %s returned a nil handler", ref)
	}
	return handler, nil
}

// moduleNames returns the sorted registered module names for error
// messages. Returns "none" for an empty registry.
func (r *Registry) moduleNames() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.modules) == 0 {
		return "none"
	}
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Default is the process-wide registry the worker binary resolves
// against. Applications register here from init functions.
var Default Registry

// Register adds a factory to the Default registry.
func Register(module, attribute string, factory Factory) {
	Default.Register(module, attribute, factory)
}

// Resolve parses a reference string and resolves it against the
// Default registry.
func Resolve(reference string) (http.Handler, error) {
	ref, err := Parse(reference)
	if err != nil {
		return nil, err
	}
	return Default.Resolve(ref)
}
