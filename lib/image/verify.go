// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/prefork-sh/prefork/lib/digest"
	"github.com/prefork-sh/prefork/lib/manifest"
)

// Verify re-hashes every staged file in the image against its
// manifest. All findings are reported together so a corrupted image
// is diagnosed in one pass. Returns the manifest on success; the
// supervisor uses it for the entry point and credential path.
func Verify(imageRoot string) (*manifest.Image, error) {
	img, err := manifest.ReadImage(imageRoot)
	if err != nil {
		return nil, err
	}

	var findings []error
	for _, staged := range img.Files {
		path := filepath.Join(imageRoot, filepath.FromSlash(staged.Path))

		info, err := os.Stat(path)
		if err != nil {
			findings = append(findings, fmt.Errorf("%s: missing from image: %w", staged.Path, err))
			continue
		}
		if info.Size() != staged.Size {
			findings = append(findings, fmt.Errorf("%s: size %d does not match manifest size %d",
				staged.Path, info.Size(), staged.Size))
			continue
		}

		actual, err := digest.File(path)
		if err != nil {
			findings = append(findings, fmt.Errorf("%s: %w", staged.Path, err))
			continue
		}
		if actual != staged.Digest {
			findings = append(findings, fmt.Errorf("%s: digest %s does not match manifest digest %s",
				staged.Path, actual, staged.Digest))
		}
	}

	if len(findings) > 0 {
		return nil, fmt.Errorf("image verification failed: %w", errors.Join(findings...))
	}
	return img, nil
}

// ExtractBundle unpacks the image's distribution bundle into
// destination. The compression algorithm comes from the manifest.
func ExtractBundle(imageRoot, destination string) error {
	img, err := manifest.ReadImage(imageRoot)
	if err != nil {
		return err
	}
	tag, err := ParseCompressionTag(img.Compression)
	if err != nil {
		return err
	}

	bundleFile, err := os.Open(filepath.Join(imageRoot, BundleName(tag)))
	if err != nil {
		return fmt.Errorf("opening bundle: %w", err)
	}
	defer bundleFile.Close()

	decompressor, err := newDecompressor(bundleFile, tag)
	if err != nil {
		return err
	}
	defer decompressor.Close()

	tarReader := tar.NewReader(decompressor)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading bundle: %w", err)
		}

		// Reject entries that would escape the destination.
		name := filepath.FromSlash(header.Name)
		if filepath.IsAbs(name) || strings.Contains(name, "..") {
			return fmt.Errorf("bundle entry %q escapes the destination", header.Name)
		}

		target := filepath.Join(destination, name)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("extracting %s: %w", header.Name, err)
		}

		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("extracting %s: %w", header.Name, err)
		}
		if _, err := io.Copy(out, tarReader); err != nil {
			out.Close()
			return fmt.Errorf("extracting %s: %w", header.Name, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("extracting %s: %w", header.Name, err)
		}
	}
}
