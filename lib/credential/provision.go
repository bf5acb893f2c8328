// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/prefork-sh/prefork/lib/account"
	"github.com/prefork-sh/prefork/lib/sealed"
	"github.com/prefork-sh/prefork/lib/secret"
)

// Spec holds the parameters for provisioning a credential artifact.
type Spec struct {
	// ImageRoot is the built image directory containing the artifact.
	ImageRoot string

	// Artifact is the artifact path relative to ImageRoot (e.g.,
	// "credentials/key.json"). A ".age" suffix marks it sealed.
	// Empty means the uncredentialed variant: Provision returns
	// (nil, nil) and no environment wiring happens.
	Artifact string

	// EnvVar is the environment variable name workers receive with
	// the absolute artifact path. Required when Artifact is set.
	EnvVar string

	// RunDir receives the unsealed plaintext of a sealed artifact.
	// Should be tmpfs-backed so plaintext never touches disk.
	RunDir string

	// IdentityKeyFile is the age identity key for unsealing, or "-"
	// for stdin. Required only for sealed artifacts.
	IdentityKeyFile string
}

// Provisioned describes a staged, readable credential artifact.
// Immutable after Provision returns; the path is read-only shared
// state for the lifetime of the worker pool.
type Provisioned struct {
	// Path is the absolute path workers read the credential from.
	Path string

	// EnvVar is the environment variable name carrying Path.
	EnvVar string
}

// Environ returns the environment entry ("VAR=/abs/path") to append
// to each worker's environment.
func (p *Provisioned) Environ() string {
	return p.EnvVar + "=" + p.Path
}

// envVarPattern is the portable character set for environment
// variable names.
var envVarPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// Provision stages the credential artifact described by spec and
// grants owner read access. Returns (nil, nil) for the uncredentialed
// variant. Every other failure is fatal to startup: the serve phase
// must not begin with a credential the config promised but the image
// cannot deliver.
func Provision(spec Spec, owner *account.Account, logger *slog.Logger) (*Provisioned, error) {
	if spec.Artifact == "" {
		return nil, nil
	}

	if !envVarPattern.MatchString(spec.EnvVar) {
		return nil, fmt.Errorf("invalid credential environment variable name %q", spec.EnvVar)
	}
	if filepath.IsAbs(spec.Artifact) || strings.Contains(spec.Artifact, "..") {
		return nil, fmt.Errorf("credential artifact %q must be a plain path relative to the image root", spec.Artifact)
	}

	artifactPath := filepath.Join(spec.ImageRoot, spec.Artifact)
	if _, err := os.Stat(artifactPath); err != nil {
		return nil, fmt.Errorf("credential artifact missing from image: %w", err)
	}

	stagedPath := artifactPath
	if sealed.IsSealed(spec.Artifact) {
		var err error
		stagedPath, err = unsealArtifact(spec, artifactPath)
		if err != nil {
			return nil, err
		}
		logger.Info("unsealed credential artifact",
			"artifact", spec.Artifact,
			"staged", stagedPath,
		)
	}

	// Ownership grant: the workers run unprivileged, so the image
	// root (and the staged artifact) must be readable by the service
	// account. A no-op when the supervisor itself is unprivileged.
	if owner != nil {
		if err := owner.OwnTree(spec.ImageRoot); err != nil {
			return nil, fmt.Errorf("granting image root ownership: %w", err)
		}
		if stagedPath != artifactPath {
			if err := owner.OwnTree(filepath.Dir(stagedPath)); err != nil {
				return nil, fmt.Errorf("granting staged credential ownership: %w", err)
			}
		}
	}

	// The artifact must be readable by the supervisor now; a worker
	// discovering an unreadable credential after fork is a worse
	// failure mode than refusing to start.
	probe, err := os.Open(stagedPath)
	if err != nil {
		return nil, fmt.Errorf("credential artifact not readable: %w", err)
	}
	probe.Close()

	absolute, err := filepath.Abs(stagedPath)
	if err != nil {
		return nil, fmt.Errorf("resolving credential artifact path: %w", err)
	}

	logger.Info("credential artifact provisioned",
		"path", absolute,
		"env_var", spec.EnvVar,
	)

	return &Provisioned{
		Path:   absolute,
		EnvVar: spec.EnvVar,
	}, nil
}

// unsealArtifact decrypts a sealed artifact into the run directory
// and returns the plaintext path. The plaintext file is created with
// mode 0400: the credential is create-once, read-many, never mutated.
func unsealArtifact(spec Spec, artifactPath string) (string, error) {
	if spec.IdentityKeyFile == "" {
		return "", fmt.Errorf("credential artifact %s is sealed but no identity key file is configured", spec.Artifact)
	}

	identityKey, err := secret.ReadFromPath(spec.IdentityKeyFile)
	if err != nil {
		return "", fmt.Errorf("reading identity key: %w", err)
	}
	defer identityKey.Close()

	ciphertext, err := os.ReadFile(artifactPath)
	if err != nil {
		return "", fmt.Errorf("reading sealed artifact: %w", err)
	}

	plaintext, err := sealed.Unseal(ciphertext, identityKey)
	if err != nil {
		return "", fmt.Errorf("unsealing %s: %w", spec.Artifact, err)
	}
	defer plaintext.Close()

	stagedDir := filepath.Join(spec.RunDir, "credentials")
	if err := os.MkdirAll(stagedDir, 0700); err != nil {
		return "", fmt.Errorf("creating credential staging directory: %w", err)
	}

	stagedPath := filepath.Join(stagedDir, strings.TrimSuffix(filepath.Base(spec.Artifact), sealed.Suffix))
	// A previous run leaves a 0400 file behind; remove it so the
	// write does not fail on the read-only mode.
	if err := os.Remove(stagedPath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("clearing stale staged credential: %w", err)
	}
	if err := os.WriteFile(stagedPath, plaintext.Bytes(), 0400); err != nil {
		return "", fmt.Errorf("staging unsealed credential: %w", err)
	}

	return stagedPath, nil
}
