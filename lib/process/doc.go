// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package process defines the process contract shared by the prefork
// binaries: worker exit codes, inherited file descriptor numbers, and
// the spawn environment variables. The supervisor classifies a
// worker's fate from its exit status and hands it its serve contract
// at spawn time, so every constant here binds cmd/preforkd and
// cmd/prefork-worker to each other.
package process
