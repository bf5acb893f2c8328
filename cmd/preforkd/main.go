// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

// preforkd is the serve-phase daemon: it verifies the built image,
// provisions the credential artifact, and runs the pre-fork supervisor
// until terminated.
//
// It is the only prefork process that may start as root; it uses that
// privilege exactly twice (granting the service account the image tree,
// spawning workers as that account) and never serves a request itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prefork-sh/prefork/internal/supervisor"
	"github.com/prefork-sh/prefork/lib/account"
	"github.com/prefork-sh/prefork/lib/config"
	"github.com/prefork-sh/prefork/lib/credential"
	"github.com/prefork-sh/prefork/lib/image"
	"github.com/prefork-sh/prefork/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to prefork.yaml (defaults to $PREFORK_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("preforkd %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With("proc", "preforkd")
	slog.SetDefault(logger)

	// The image must verify before anything touches it. A tampered or
	// truncated image is refused outright, not served degraded.
	img, err := image.Verify(cfg.Paths.ImageRoot)
	if err != nil {
		return err
	}
	if img.Entry != cfg.App.Entry {
		return fmt.Errorf("config entry %q does not match image entry %q", cfg.App.Entry, img.Entry)
	}
	logger.Info("image verified",
		"image_root", cfg.Paths.ImageRoot,
		"files", len(img.Files),
		"entry", img.Entry)

	acct, err := account.Lookup(cfg.Identity.Account)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Paths.RunDir, 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	// The image manifest is authoritative for which credential was
	// baked in; the config supplies the unseal key and env var name.
	artifact := img.Credential
	if artifact == "" {
		artifact = cfg.Credential.Artifact
	}
	provisioned, err := credential.Provision(credential.Spec{
		ImageRoot:       cfg.Paths.ImageRoot,
		Artifact:        artifact,
		EnvVar:          cfg.Credential.EnvVar,
		RunDir:          cfg.Paths.RunDir,
		IdentityKeyFile: cfg.Credential.IdentityKeyFile,
	}, acct, logger)
	if err != nil {
		return err
	}

	s, err := supervisor.New(supervisor.Options{
		Config:     cfg,
		Account:    acct,
		Credential: provisioned,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	return s.Run(ctx)
}
