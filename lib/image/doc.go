// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package image implements the build phase: staging the application
// source tree and the optional credential artifact into a runtime
// image root, recording a digest per staged file, and producing a
// compressed distribution bundle.
//
// A build is all-or-nothing. Staging happens in a temporary directory
// that is renamed into place only after every input has been located,
// copied, and digested — a missing dependency manifest or credential
// artifact aborts the build and leaves no partial image behind.
//
// Verification is the inverse: re-hash every staged file against the
// image manifest. The supervisor verifies before serving, so an image
// modified after build fails fast instead of serving altered code.
package image
