// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/prefork-sh/prefork/lib/digest"
)

// Filename is the image manifest's name inside the image root.
const Filename = "manifest.json"

// StagedFile records one file staged into the image, with the digest
// it had at build time.
type StagedFile struct {
	// Path is relative to the image root, always slash-separated.
	Path string `json:"path"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// Digest is the BLAKE3 digest of the file content.
	Digest digest.Digest `json:"digest"`
}

// Image is the build output manifest. It is the contract between
// `prefork build` and the serve phase: the supervisor refuses to start
// on an image whose files no longer match these digests.
type Image struct {
	// Entry is the application reference in module:attribute form.
	Entry string `json:"entry"`

	// Dependencies are the pins from the build manifest.
	Dependencies []Pin `json:"dependencies"`

	// Files lists every staged file with its digest, sorted by path.
	Files []StagedFile `json:"files"`

	// Compression names the bundle compression algorithm ("zstd",
	// "lz4", "none"). Empty when no bundle was produced.
	Compression string `json:"compression,omitempty"`

	// Credential is the artifact path relative to the image root,
	// empty in the uncredentialed variant.
	Credential string `json:"credential,omitempty"`

	// CreatedAt is the build timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// WriteImage writes the manifest into the image root atomically
// (temporary file, fsync, rename) so a crashed build never leaves a
// half-written manifest that verification would misread.
func WriteImage(imageRoot string, image *Image) error {
	data, err := json.MarshalIndent(image, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling image manifest: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(imageRoot, Filename)
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating temporary manifest file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary manifest file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary manifest file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary manifest file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming manifest into place: %w", err)
	}
	return nil
}

// ReadImage reads and parses the image manifest from the image root.
// The file may be JSONC — comments and trailing commas are stripped
// before parsing.
func ReadImage(imageRoot string) (*Image, error) {
	path := filepath.Join(imageRoot, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image manifest: %w", err)
	}

	var image Image
	if err := json.Unmarshal(jsonc.ToJSON(data), &image); err != nil {
		return nil, fmt.Errorf("parsing image manifest %s: %w", path, err)
	}

	if image.Entry == "" {
		return nil, fmt.Errorf("image manifest %s has no entry point", path)
	}
	return &image, nil
}
