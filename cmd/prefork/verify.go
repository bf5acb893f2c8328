// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/prefork-sh/prefork/cmd/prefork/cli"
	"github.com/prefork-sh/prefork/lib/image"
	"github.com/prefork-sh/prefork/lib/manifest"
)

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:    "verify",
		Summary: "verify an image against its manifest",
		Description: "Re-hash every staged file in the image and compare against the\n" +
			"manifest digests. preforkd runs the same check before serving; this\n" +
			"command runs it standalone, e.g. after copying an image between hosts.",
		Usage: "prefork verify <image-dir>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("verify takes exactly one image directory")
			}
			img, err := image.Verify(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d files verified, entry %s\n", len(img.Files), img.Entry)
			return nil
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:    "inspect",
		Summary: "print an image's manifest",
		Usage:   "prefork inspect <image-dir>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("inspect takes exactly one image directory")
			}
			img, err := manifest.ReadImage(args[0])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "entry:\t%s\n", img.Entry)
			fmt.Fprintf(tw, "created:\t%s\n", img.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Fprintf(tw, "files:\t%d\n", len(img.Files))
			if img.Compression != "" {
				fmt.Fprintf(tw, "compression:\t%s\n", img.Compression)
			}
			if img.Credential != "" {
				fmt.Fprintf(tw, "credential:\t%s\n", img.Credential)
			}
			fmt.Fprintf(tw, "dependencies:\t%d\n", len(img.Dependencies))
			tw.Flush()

			for _, pin := range img.Dependencies {
				fmt.Printf("  %s\n", pin)
			}
			return nil
		},
	}
}

func extractCommand() *cli.Command {
	var output string

	return &cli.Command{
		Name:    "extract",
		Summary: "unpack an image's distribution bundle",
		Usage:   "prefork extract --output <dir> <image-dir>",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("extract", pflag.ContinueOnError)
			fs.StringVar(&output, "output", "", "destination directory (required)")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("extract takes exactly one image directory")
			}
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			if err := image.ExtractBundle(args[0], output); err != nil {
				return err
			}
			fmt.Printf("extracted bundle from %s into %s\n", args[0], output)
			return nil
		},
	}
}
