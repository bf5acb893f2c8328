// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/prefork-sh/prefork/cmd/prefork/cli"
	"github.com/prefork-sh/prefork/lib/sealed"
	"github.com/prefork-sh/prefork/lib/secret"
)

func keygenCommand() *cli.Command {
	var output string

	return &cli.Command{
		Name:    "keygen",
		Summary: "generate an identity key for sealed credentials",
		Description: "Generate an age x25519 keypair. The identity (secret) key is\n" +
			"written to the --output file with mode 0600; the public recipient key\n" +
			"is printed to stdout for use with 'prefork seal --recipient'.",
		Usage: "prefork keygen --output <identity-file>",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			fs.StringVar(&output, "output", "", "identity key file to write (required)")
			return fs
		},
		Run: func(args []string) error {
			if output == "" {
				return fmt.Errorf("--output is required; the identity key is never printed")
			}

			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			// Write the buffer bytes and the trailing newline as two
			// writes: concatenating them would copy the identity key
			// onto the heap, outside the buffer's zeroing.
			file, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("creating identity key file: %w", err)
			}
			if _, err := file.Write(keypair.Identity.Bytes()); err != nil {
				file.Close()
				return fmt.Errorf("writing identity key: %w", err)
			}
			if _, err := file.Write([]byte{'\n'}); err != nil {
				file.Close()
				return fmt.Errorf("writing identity key: %w", err)
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("writing identity key: %w", err)
			}

			fmt.Println(keypair.PublicKey)
			return nil
		},
	}
}

func sealCommand() *cli.Command {
	var (
		recipients []string
		output     string
	)

	return &cli.Command{
		Name:    "seal",
		Summary: "seal a credential artifact for baking into an image",
		Description: "Encrypt a credential file to one or more age recipients. The\n" +
			"sealed output carries the ciphertext only; bake it into an image with\n" +
			"'prefork build --credential' and preforkd unseals it at provision time\n" +
			"with the machine's identity key.",
		Usage: "prefork seal --recipient <age1...> [--output <file>] <credential-file>",
		Examples: []cli.Example{
			{
				Description: "seal a service account key to the deployment machine",
				Command:     "prefork seal --recipient age1machine... --recipient age1escrow... key.json",
			},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("seal", pflag.ContinueOnError)
			fs.StringArrayVar(&recipients, "recipient", nil, "age recipient public key (repeatable, at least one required)")
			fs.StringVar(&output, "output", "", "sealed output file (default: input plus "+sealed.Suffix+")")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("seal takes exactly one credential file")
			}
			if len(recipients) == 0 {
				return fmt.Errorf("at least one --recipient is required")
			}
			input := args[0]
			if sealed.IsSealed(input) {
				return fmt.Errorf("%s already carries the %s suffix", input, sealed.Suffix)
			}
			if output == "" {
				output = input + sealed.Suffix
			} else if !strings.HasSuffix(output, sealed.Suffix) {
				return fmt.Errorf("sealed output %s must carry the %s suffix", output, sealed.Suffix)
			}

			plaintext, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("reading credential: %w", err)
			}
			defer secret.Zero(plaintext)

			ciphertext, err := sealed.Seal(plaintext, recipients)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, ciphertext, 0644); err != nil {
				return fmt.Errorf("writing sealed credential: %w", err)
			}

			fmt.Printf("sealed %s to %d recipient(s): %s\n", input, len(recipients), output)
			return nil
		},
	}
}
