// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption and decryption for credential
// artifacts. It wraps filippo.io/age for the specific operations
// prefork needs: generate keypairs, seal a plaintext artifact to one
// or more recipients, and unseal a ciphertext with an identity key.
//
// A sealed artifact is a regular age ciphertext file carrying the
// ".age" suffix. Baking a sealed artifact into an image instead of the
// plaintext key means the image itself never contains usable secret
// material; the supervisor unseals it at provision time with an
// identity key delivered outside the image (see lib/credential).
//
// Identity keys and unsealed plaintext are handled as *secret.Buffer
// values (mmap-backed, locked against swap, excluded from core dumps,
// zeroed on close).
package sealed
