// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileMatchesBytes(t *testing.T) {
	content := []byte("flask==3.0\ngunicorn==22.0\n")
	path := filepath.Join(t.TempDir(), "requirements.txt")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}

	fromFile, err := File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if fromFile != Bytes(content) {
		t.Errorf("File and Bytes disagree for identical content")
	}
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseRoundTrip(t *testing.T) {
	d := Bytes([]byte("content"))

	parsed, err := Parse(d.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != d {
		t.Errorf("round trip mismatch: %s != %s", parsed, d)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", "abcd"},
		{"not hex", strings.Repeat("zz", 32)},
		{"too long", strings.Repeat("ab", 33)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.input); err == nil {
				t.Errorf("Parse(%q): expected error", tc.input)
			}
		})
	}
}
