// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Pin is a single pinned dependency from the build manifest.
type Pin struct {
	// Name is the package name as it appears in the manifest.
	Name string `json:"name"`

	// Version is the exact pinned version.
	Version string `json:"version"`
}

// String returns the manifest line form, "name==version".
func (p Pin) String() string {
	return p.Name + "==" + p.Version
}

// namePattern matches package names: letters, digits, and the
// separator characters common in package indexes.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ParseDependencies parses a pinned dependency manifest from path.
// Each non-empty, non-comment line must be exactly "name==version".
// Errors carry the line number so a bad manifest is fixed without
// guessing.
func ParseDependencies(path string) ([]Pin, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dependency manifest: %w", err)
	}
	defer file.Close()

	var pins []Pin
	seen := make(map[string]int)

	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, version, found := strings.Cut(line, "==")
		if !found {
			return nil, fmt.Errorf("%s:%d: %q is not pinned (expected name==version)", path, lineNumber, line)
		}
		name = strings.TrimSpace(name)
		version = strings.TrimSpace(version)

		if !namePattern.MatchString(name) {
			return nil, fmt.Errorf("%s:%d: invalid package name %q", path, lineNumber, name)
		}
		if version == "" || strings.ContainsAny(version, " \t") {
			return nil, fmt.Errorf("%s:%d: invalid version %q for package %q", path, lineNumber, version, name)
		}
		if previous, duplicate := seen[name]; duplicate {
			return nil, fmt.Errorf("%s:%d: package %q already pinned on line %d", path, lineNumber, name, previous)
		}

		seen[name] = lineNumber
		pins = append(pins, Pin{Name: name, Version: version})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading dependency manifest: %w", err)
	}

	if len(pins) == 0 {
		return nil, fmt.Errorf("dependency manifest %s pins no packages", path)
	}
	return pins, nil
}
