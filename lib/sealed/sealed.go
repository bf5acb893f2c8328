// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"

	"github.com/prefork-sh/prefork/lib/secret"
)

// Suffix marks a credential artifact as sealed. lib/credential keys
// its staging behavior off this suffix.
const Suffix = ".age"

// IsSealed reports whether an artifact path names a sealed artifact.
func IsSealed(path string) bool {
	return strings.HasSuffix(path, Suffix)
}

// Keypair holds an age x25519 keypair. The identity (private key) is
// stored in a secret.Buffer; the public key is a plain string, safe to
// record in build configs and image manifests.
//
// The caller must call Close when the keypair is no longer needed.
type Keypair struct {
	// Identity is the secret key in AGE-SECRET-KEY-1... format,
	// stored in mmap memory outside the Go heap. Must never be
	// logged, written to the image, or passed in CLI arguments.
	Identity *secret.Buffer

	// PublicKey is the corresponding recipient key in age1...
	// format.
	PublicKey string
}

// Close releases the identity key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.Identity != nil {
		return k.Identity.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair. The identity is
// returned in a secret.Buffer; the caller must Close the keypair when
// done.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// Move the identity string into mmap-backed memory immediately.
	// The heap string returned by age is unavoidable; the mmap buffer
	// is the durable copy.
	identityBytes := []byte(identity.String())
	buffer, err := secret.NewFromBytes(identityBytes)
	if err != nil {
		return nil, fmt.Errorf("protecting identity key: %w", err)
	}

	return &Keypair{
		Identity:  buffer,
		PublicKey: identity.Recipient().String(),
	}, nil
}

// Seal encrypts plaintext to one or more recipients given by their age
// public key strings (age1... format). Returns the binary age
// ciphertext, suitable for writing directly to a .age artifact file.
//
// At least one recipient is required. Typical builds seal to the
// deployment machine's key plus an operator escrow key, so credentials
// remain recoverable without the machine's identity.
func Seal(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}

	return ciphertext.Bytes(), nil
}

// Unseal decrypts an age ciphertext using the given identity key.
// Returns the plaintext in a secret.Buffer (zeroed on close).
//
// The identity key is borrowed (read via String to parse the age
// identity) and is NOT closed by this function.
func Unseal(ciphertext []byte, identityKey *secret.Buffer) (*secret.Buffer, error) {
	identity, err := age.ParseX25519Identity(identityKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing identity key: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting sealed artifact: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted artifact: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed artifact decrypted to empty plaintext")
	}

	// NewFromBytes zeros the intermediate heap copy.
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		return nil, fmt.Errorf("protecting decrypted artifact: %w", err)
	}
	return buffer, nil
}
