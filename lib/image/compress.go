// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the bundle compression algorithm. The tag
// is recorded in the image manifest; readers select the decompressor
// from it.
type CompressionTag uint8

const (
	// CompressionNone disables bundle compression. For source trees
	// dominated by already-compressed content (model weights, media)
	// where compression adds CPU cost without reducing size.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 selects LZ4 frame compression. Fast default
	// when decompression speed matters more than ratio.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd selects zstd compression. Better ratios for
	// the text-heavy trees typical of application source; the
	// default for builds.
	CompressionZstd CompressionTag = 2
)

// String returns the manifest name of the compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseCompressionTag parses a compression tag from its manifest name.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// BundleName returns the bundle filename for a compression tag. The
// name encodes the algorithm so a bundle is identifiable without the
// manifest.
func BundleName(tag CompressionTag) string {
	switch tag {
	case CompressionLZ4:
		return "bundle.tar.lz4"
	case CompressionZstd:
		return "bundle.tar.zst"
	default:
		return "bundle.tar"
	}
}

// newCompressor wraps w with the tag's stream compressor. The caller
// must Close the returned writer to flush the final frame before
// closing w itself.
func newCompressor(w io.Writer, tag CompressionTag) (io.WriteCloser, error) {
	switch tag {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return encoder, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// newDecompressor wraps r with the tag's stream decompressor.
func newDecompressor(r io.Reader, tag CompressionTag) (io.ReadCloser, error) {
	switch tag {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		return decoder.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
