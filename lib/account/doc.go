// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package account resolves the unprivileged service account that
// workers run as, and implements the ownership grant that lets that
// account read the image root and the staged credential artifact.
//
// The supervisor may start as root (to bind the port and chown the
// image root), but workers never do: the supervisor spawns them with
// the resolved account's uid/gid set via syscall.Credential, and each
// worker independently asserts a non-zero effective uid at startup.
package account
