// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for prefork's internal
// wire and state formats: worker heartbeat frames, watchdog kill
// records, and the supervisor's worker state file.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same logical data always produces identical bytes — state files can
// be compared and content-addressed without a canonicalization pass.
// Decoding accepts standard CBOR and silently ignores unknown fields
// for forward compatibility across binary versions (the supervisor and
// worker binaries may briefly differ during an upgrade).
package codec
