// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for prefork packages.
package testutil
