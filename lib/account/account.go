// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package account

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
)

// Account is a resolved unprivileged service account.
type Account struct {
	// Name is the account name as configured (e.g., "appserver").
	Name string

	// UID and GID are the resolved numeric IDs.
	UID uint32
	GID uint32
}

// Lookup resolves a named account and verifies it is unprivileged.
// An account that resolves to uid 0 is rejected: the serve phase must
// never run as the superuser, and catching the misconfiguration here
// is cheaper than an assertion failure in every spawned worker.
func Lookup(name string) (*Account, error) {
	if name == "" {
		return nil, fmt.Errorf("service account name is empty")
	}

	entry, err := user.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("resolving service account %q: %w", name, err)
	}

	uid, err := strconv.ParseUint(entry.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing uid %q for account %q: %w", entry.Uid, name, err)
	}
	gid, err := strconv.ParseUint(entry.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing gid %q for account %q: %w", entry.Gid, name, err)
	}

	if uid == 0 {
		return nil, fmt.Errorf("service account %q resolves to uid 0; workers must not run as the superuser", name)
	}

	return &Account{
		Name: name,
		UID:  uint32(uid),
		GID:  uint32(gid),
	}, nil
}

// Credential returns the syscall credential the supervisor sets on
// spawned workers so they run as this account.
func (a *Account) Credential() *syscall.Credential {
	return &syscall.Credential{
		Uid: a.UID,
		Gid: a.GID,
	}
}

// OwnTree transfers ownership of path and everything under it to this
// account. Called on the image root when a credential artifact is
// present, so the unprivileged workers can read it.
//
// Requires the caller to be root; when the current process is already
// unprivileged, OwnTree is a no-op (the tree is assumed to have been
// prepared out of band, e.g. by the image build).
func (a *Account) OwnTree(path string) error {
	if os.Geteuid() != 0 {
		return nil
	}

	return filepath.WalkDir(path, func(entryPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := os.Lchown(entryPath, int(a.UID), int(a.GID)); err != nil {
			return fmt.Errorf("granting %s ownership of %s: %w", a.Name, entryPath, err)
		}
		return nil
	})
}

// AssertUnprivileged verifies the current process is not running as
// the superuser. Workers call this first thing at startup; a failure
// is a startup error, never something to continue past.
func AssertUnprivileged() error {
	if euid := os.Geteuid(); euid == 0 {
		return fmt.Errorf("effective uid is 0; refusing to serve as the superuser")
	}
	return nil
}
