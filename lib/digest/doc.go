// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest computes BLAKE3 digests of staged image files. The
// image manifest records a digest per staged file at build time; the
// supervisor and `prefork verify` re-hash the files against the
// manifest before serving starts, so a corrupted or tampered image
// fails fast instead of serving modified code.
package digest
