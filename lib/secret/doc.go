// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive material:
// the age identity key that unseals encrypted credential artifacts,
// and the decrypted credential bytes between unsealing and staging.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped.
//
// Because the memory is outside the Go heap, the garbage collector
// never sees it and cannot copy or relocate it — the only way to
// guarantee secret material does not linger in memory after use.
package secret
