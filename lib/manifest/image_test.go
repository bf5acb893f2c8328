// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"strings"
	"testing"
	"time"

	"github.com/prefork-sh/prefork/lib/digest"
	"github.com/prefork-sh/prefork/lib/testutil"
)

func TestImageRoundTrip(t *testing.T) {
	imageRoot := t.TempDir()
	original := &Image{
		Entry:        "search:app",
		Dependencies: []Pin{{Name: "flask", Version: "3.0"}},
		Files: []StagedFile{
			{Path: "app/routes.py", Size: 120, Digest: digest.Bytes([]byte("routes"))},
		},
		Compression: "zstd",
		Credential:  "credentials/key.json",
		CreatedAt:   time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC),
	}

	if err := WriteImage(imageRoot, original); err != nil {
		t.Fatalf("WriteImage: %v", err)
	}

	read, err := ReadImage(imageRoot)
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	if read.Entry != original.Entry {
		t.Errorf("entry: got %q", read.Entry)
	}
	if len(read.Files) != 1 || read.Files[0].Digest != original.Files[0].Digest {
		t.Error("staged file digests did not survive the round trip")
	}
	if read.Credential != original.Credential {
		t.Errorf("credential: got %q", read.Credential)
	}
}

func TestReadImageToleratesComments(t *testing.T) {
	imageRoot := t.TempDir()
	content := `{
  // pinned build from the 2026-05-02 release branch
  "entry": "search:app",
  "dependencies": [{"name": "flask", "version": "3.0"},],
  "files": [],
  "created_at": "2026-05-02T12:00:00Z"
}`
	testutil.WriteFile(t, imageRoot, Filename, []byte(content))

	image, err := ReadImage(imageRoot)
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	if image.Entry != "search:app" {
		t.Errorf("entry: got %q", image.Entry)
	}
}

func TestReadImageRejectsMissingEntry(t *testing.T) {
	imageRoot := t.TempDir()
	testutil.WriteFile(t, imageRoot, Filename, []byte(`{"files": []}`))

	_, err := ReadImage(imageRoot)
	if err == nil {
		t.Fatal("expected error for manifest without entry point")
	}
	if !strings.Contains(err.Error(), "entry point") {
		t.Errorf("error should name the missing entry point: %v", err)
	}
}

func TestReadImageMissingManifest(t *testing.T) {
	if _, err := ReadImage(t.TempDir()); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}
