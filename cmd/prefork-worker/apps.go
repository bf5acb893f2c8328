// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package main

// Applications compiled into this worker binary. Each package
// registers its module:attribute references from init; the supervisor
// selects one via the configured entry point. Deployments with their
// own applications build a worker binary that imports them here.
import (
	_ "github.com/prefork-sh/prefork/lib/apps/smoke"
)
