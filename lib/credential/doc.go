// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential stages the service-account credential artifact
// for the worker pool and wires it into the worker environment.
//
// The artifact is an opaque file baked into the image at build time.
// Provisioning runs once, in the supervisor, before any worker starts:
// it verifies the artifact exists (a missing artifact in the
// credentialed variant is fatal — no degraded startup), grants the
// service account ownership of the image root so unprivileged workers
// can read it, and produces the single well-known environment variable
// that downstream client libraries use to discover the credential
// without explicit configuration.
//
// A sealed artifact (".age" suffix, see lib/sealed) is decrypted with
// an operator-supplied identity key into the run directory instead of
// being read in place, so the image itself never carries plaintext
// secret material. After provisioning the artifact is read-only shared
// state: read-many across all workers and threads, never mutated.
package credential
