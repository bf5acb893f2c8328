// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates a file under dir with the given relative path and
// content, creating parent directories as needed. Fails the test on
// any error. Returns the absolute path of the written file.
func WriteFile(t *testing.T, dir, relativePath string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, relativePath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating parent directory for %s: %v", relativePath, err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing %s: %v", relativePath, err)
	}
	return path
}
