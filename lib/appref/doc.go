// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package appref resolves the application entry point: the single
// module:attribute reference that names the handler a worker serves.
//
// Applications link into the worker binary and register themselves in
// an init function:
//
//	func init() {
//		appref.Register("search", "app", func() (http.Handler, error) {
//			return newSearchAPI()
//		})
//	}
//
// A worker resolves its configured reference exactly once at startup,
// before accepting connections. Resolution failure is a startup error:
// descriptive, fatal, never deferred to the first request. This is the
// sole interface boundary between the launcher and the application —
// the launcher invokes the resolved handler per request and never
// alters or intercepts its responses.
package appref
