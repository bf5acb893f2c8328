// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/prefork-sh/prefork/cmd/prefork/cli"
	"github.com/prefork-sh/prefork/lib/image"
)

func buildCommand() *cli.Command {
	var (
		sourceDir   string
		depsFile    string
		entry       string
		credential  string
		compression string
		output      string
	)

	return &cli.Command{
		Name:    "build",
		Summary: "assemble an application image",
		Description: "Stage an application source tree into an image: copy and digest\n" +
			"every file, parse the pinned dependency manifest, optionally stage a\n" +
			"credential artifact, produce a compressed distribution bundle, and\n" +
			"write the image manifest. The image is published atomically; a failed\n" +
			"build leaves nothing behind.",
		Usage: "prefork build --source <dir> --deps <file> --entry <module:attr> --output <dir> [flags]",
		Examples: []cli.Example{
			{
				Description: "build the search service image",
				Command:     "prefork build --source ./src --deps requirements.txt --entry search:app --output /srv/prefork/image",
			},
			{
				Description: "bake a sealed credential into the image",
				Command:     "prefork build --source ./src --deps requirements.txt --entry search:app --credential key.json.age --output /srv/prefork/image",
			},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("build", pflag.ContinueOnError)
			fs.StringVar(&sourceDir, "source", "", "application source directory (required)")
			fs.StringVar(&depsFile, "deps", "", "pinned dependency manifest, name==version per line (required)")
			fs.StringVar(&entry, "entry", "", "application entry point, module:attribute (required)")
			fs.StringVar(&credential, "credential", "", "credential artifact to stage (a .age suffix marks it sealed)")
			fs.StringVar(&compression, "compression", "zstd", "bundle compression: zstd, lz4, or none")
			fs.StringVar(&output, "output", "", "image output directory (required)")
			return fs
		},
		Run: func(args []string) error {
			if sourceDir == "" || depsFile == "" || entry == "" || output == "" {
				return fmt.Errorf("--source, --deps, --entry, and --output are required")
			}
			tag, err := image.ParseCompressionTag(compression)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			built, err := image.Build(image.BuildSpec{
				SourceDir:          sourceDir,
				DependencyManifest: depsFile,
				Entry:              entry,
				CredentialArtifact: credential,
				Compression:        tag,
			}, output, logger)
			if err != nil {
				return err
			}

			fmt.Printf("built %s: %d files, %d dependencies, entry %s\n",
				output, len(built.Files), len(built.Dependencies), built.Entry)
			return nil
		},
	}
}
