// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/prefork-sh/prefork/lib/appref"
	"github.com/prefork-sh/prefork/lib/digest"
	"github.com/prefork-sh/prefork/lib/manifest"
)

// BuildSpec holds the inputs of a build.
type BuildSpec struct {
	// SourceDir is the application source tree to stage.
	SourceDir string

	// DependencyManifest is the pinned dependency list (see
	// manifest.ParseDependencies). Required; a missing manifest
	// aborts the build.
	DependencyManifest string

	// Entry is the application reference in module:attribute form.
	// Validated here so a bad reference fails the build, not the
	// first worker start.
	Entry string

	// CredentialArtifact is the credential file to bake into the
	// image, or empty for the uncredentialed variant. A configured
	// but missing artifact aborts the build.
	CredentialArtifact string

	// Compression selects the bundle compression algorithm.
	Compression CompressionTag
}

// skippedDirectories are build artifacts never staged into an image.
var skippedDirectories = map[string]bool{
	".git":        true,
	"__pycache__": true,
}

// Build stages spec into a new image at imageRoot and returns the
// written manifest. The build is atomic: staging happens in a
// temporary sibling directory renamed into place on success, so a
// failed build leaves no image at imageRoot.
func Build(spec BuildSpec, imageRoot string, logger *slog.Logger) (*manifest.Image, error) {
	if _, err := appref.Parse(spec.Entry); err != nil {
		return nil, fmt.Errorf("invalid entry point: %w", err)
	}

	pins, err := manifest.ParseDependencies(spec.DependencyManifest)
	if err != nil {
		return nil, err
	}

	sourceInfo, err := os.Stat(spec.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("locating source tree: %w", err)
	}
	if !sourceInfo.IsDir() {
		return nil, fmt.Errorf("source path %s is not a directory", spec.SourceDir)
	}

	if _, err := os.Stat(imageRoot); err == nil {
		return nil, fmt.Errorf("image already exists at %s", imageRoot)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("checking image root: %w", err)
	}

	stagingDir := imageRoot + ".building"
	if err := os.RemoveAll(stagingDir); err != nil {
		return nil, fmt.Errorf("clearing stale staging directory: %w", err)
	}
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	// Any failure from here on discards the staging directory; only
	// the final rename publishes the image.
	success := false
	defer func() {
		if !success {
			os.RemoveAll(stagingDir)
		}
	}()

	files, err := stageSourceTree(spec.SourceDir, stagingDir)
	if err != nil {
		return nil, err
	}

	credentialPath := ""
	if spec.CredentialArtifact != "" {
		staged, err := stageCredential(spec.CredentialArtifact, stagingDir)
		if err != nil {
			return nil, err
		}
		files = append(files, staged)
		credentialPath = staged.Path
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	if err := writeBundle(stagingDir, spec.Compression); err != nil {
		return nil, err
	}

	built := &manifest.Image{
		Entry:        spec.Entry,
		Dependencies: pins,
		Files:        files,
		Compression:  spec.Compression.String(),
		Credential:   credentialPath,
		CreatedAt:    time.Now().UTC(),
	}
	if err := manifest.WriteImage(stagingDir, built); err != nil {
		return nil, err
	}

	if err := os.Rename(stagingDir, imageRoot); err != nil {
		return nil, fmt.Errorf("publishing image: %w", err)
	}
	success = true

	logger.Info("image built",
		"image_root", imageRoot,
		"entry", spec.Entry,
		"files", len(files),
		"dependencies", len(pins),
		"compression", spec.Compression.String(),
		"credentialed", credentialPath != "",
	)
	return built, nil
}

// stageSourceTree copies the application source into stagingDir/app,
// digesting each file as it is copied. Returns the staged file
// records with image-root-relative slash paths.
func stageSourceTree(sourceDir, stagingDir string) ([]manifest.StagedFile, error) {
	var files []manifest.StagedFile

	err := filepath.WalkDir(sourceDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relative, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		if entry.IsDir() {
			if skippedDirectories[entry.Name()] && relative != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return fmt.Errorf("source tree contains non-regular file %s", relative)
		}

		stagedRelative := filepath.ToSlash(filepath.Join("app", relative))
		stagedPath := filepath.Join(stagingDir, "app", relative)
		size, fileDigest, err := copyAndDigest(path, stagedPath, 0644)
		if err != nil {
			return err
		}

		files = append(files, manifest.StagedFile{
			Path:   stagedRelative,
			Size:   size,
			Digest: fileDigest,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("staging source tree: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("source tree %s is empty", sourceDir)
	}
	return files, nil
}

// stageCredential copies the credential artifact into
// stagingDir/credentials with a read-only mode.
func stageCredential(artifactPath, stagingDir string) (manifest.StagedFile, error) {
	if _, err := os.Stat(artifactPath); err != nil {
		return manifest.StagedFile{}, fmt.Errorf("locating credential artifact: %w", err)
	}

	relative := filepath.ToSlash(filepath.Join("credentials", filepath.Base(artifactPath)))
	stagedPath := filepath.Join(stagingDir, "credentials", filepath.Base(artifactPath))
	size, fileDigest, err := copyAndDigest(artifactPath, stagedPath, 0400)
	if err != nil {
		return manifest.StagedFile{}, fmt.Errorf("staging credential artifact: %w", err)
	}

	return manifest.StagedFile{
		Path:   relative,
		Size:   size,
		Digest: fileDigest,
	}, nil
}

// copyAndDigest copies source to destination (creating parents) and
// returns the byte count and BLAKE3 digest of the copied content.
func copyAndDigest(source, destination string, mode os.FileMode) (int64, digest.Digest, error) {
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return 0, digest.Digest{}, fmt.Errorf("creating %s: %w", filepath.Dir(destination), err)
	}

	in, err := os.Open(source)
	if err != nil {
		return 0, digest.Digest{}, fmt.Errorf("opening %s: %w", source, err)
	}
	defer in.Close()

	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return 0, digest.Digest{}, fmt.Errorf("creating %s: %w", destination, err)
	}

	size, copyDigest, err := digestingCopy(out, in)
	if err != nil {
		out.Close()
		return 0, digest.Digest{}, fmt.Errorf("copying %s: %w", source, err)
	}
	if err := out.Close(); err != nil {
		return 0, digest.Digest{}, fmt.Errorf("closing %s: %w", destination, err)
	}
	return size, copyDigest, nil
}

// writeBundle produces the compressed distribution bundle: a tar of
// the staged app tree. The bundle is derived content and therefore
// not listed in the manifest's file table.
func writeBundle(stagingDir string, tag CompressionTag) error {
	bundlePath := filepath.Join(stagingDir, BundleName(tag))
	bundleFile, err := os.OpenFile(bundlePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating bundle: %w", err)
	}
	defer bundleFile.Close()

	compressor, err := newCompressor(bundleFile, tag)
	if err != nil {
		return err
	}

	tarWriter := tar.NewWriter(compressor)
	appRoot := filepath.Join(stagingDir, "app")

	err = filepath.WalkDir(appRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		relative, err := filepath.Rel(appRoot, path)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}

		header := &tar.Header{
			Name:    filepath.ToSlash(relative),
			Mode:    0644,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tarWriter, in)
		in.Close()
		return err
	})
	if err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}

	if err := tarWriter.Close(); err != nil {
		return fmt.Errorf("finalizing bundle tar: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("finalizing bundle compression: %w", err)
	}
	return bundleFile.Sync()
}

// digestingCopy copies r to w while hashing, returning the byte count
// and digest.
func digestingCopy(w io.Writer, r io.Reader) (int64, digest.Digest, error) {
	var buffer [32 * 1024]byte
	hasher := digest.NewHasher()

	var total int64
	for {
		n, readErr := r.Read(buffer[:])
		if n > 0 {
			if _, err := w.Write(buffer[:n]); err != nil {
				return total, digest.Digest{}, err
			}
			hasher.Write(buffer[:n])
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return total, digest.Digest{}, readErr
		}
	}
	return total, hasher.Sum(), nil
}
