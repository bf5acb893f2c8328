// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest. All staged-file digests in image
// manifests are this size.
type Digest [32]byte

// Bytes computes the digest of an in-memory byte slice.
func Bytes(data []byte) Digest {
	return blake3.Sum256(data)
}

// File computes the digest of the file at path. The file is streamed
// through the hash function (via io.Copy) to keep memory usage
// constant regardless of file size.
func File(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d, nil
}

// Hasher incrementally computes a Digest. Use when content is
// streamed somewhere else at the same time (the image build digests
// files while copying them).
type Hasher struct {
	inner *blake3.Hasher
}

// NewHasher returns a ready Hasher.
func NewHasher() *Hasher {
	return &Hasher{inner: blake3.New()}
}

// Write implements io.Writer. It never returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.inner.Write(p)
}

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() Digest {
	var d Digest
	copy(d[:], h.inner.Sum(nil))
	return d
}

// String returns the hex-encoded representation of the digest. This is
// the canonical format used in image manifests and log output.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler so digests serialize
// as hex strings in JSON image manifests.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Parse parses a hex-encoded digest string into a 32-byte Digest.
// Returns an error if the string is not a valid 64-character hex
// encoding of 32 bytes.
func Parse(hexString string) (Digest, error) {
	var d Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return d, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != 32 {
		return d, fmt.Errorf("parsing digest: got %d bytes, want 32", len(decoded))
	}
	copy(d[:], decoded)
	return d, nil
}
