// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest defines the two manifest formats of the build
// phase.
//
// The dependency manifest is the build input: a plain text file of
// pinned name==version pairs, one per line, with # comments and blank
// lines ignored. Parsing is strict — an unpinned or malformed entry
// fails the build, because an image built from a loose manifest is not
// reproducible.
//
// The image manifest is the build output: a JSON document recording
// the application entry point, the dependency pins, every staged file
// with its BLAKE3 digest, the bundle compression algorithm, and the
// credential artifact path. Readers tolerate JSONC (comments and
// trailing commas), so hand-annotated manifests in test fixtures and
// deploy repositories stay valid.
package manifest
