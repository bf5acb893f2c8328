// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// The prefork CLI is the operator's build-phase tool: it assembles
// application images, verifies and inspects them, and manages sealed
// credential artifacts. The serve phase is preforkd's job.
package main

import (
	"fmt"
	"os"

	"github.com/prefork-sh/prefork/cmd/prefork/cli"
	"github.com/prefork-sh/prefork/lib/version"
)

func main() {
	root := &cli.Command{
		Name:    "prefork",
		Summary: "build, verify, and inspect prefork application images",
		Description: "prefork assembles application source trees, pinned dependency\n" +
			"manifests, and optional credential artifacts into verifiable images\n" +
			"that preforkd serves.",
		Subcommands: []*cli.Command{
			buildCommand(),
			verifyCommand(),
			inspectCommand(),
			extractCommand(),
			keygenCommand(),
			sealCommand(),
			{
				Name:    "version",
				Summary: "print version information",
				Run: func(args []string) error {
					fmt.Println(version.Full())
					return nil
				},
			},
		},
	}

	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
