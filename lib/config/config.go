// Copyright 2026 The Prefork Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Duration wraps time.Duration for YAML config fields. Values are Go
// duration strings ("120s", "2m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"120s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the master configuration for prefork.
type Config struct {
	// Environment identifies the deployment type (development,
	// staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Server configures the pre-fork serve phase.
	Server ServerConfig `yaml:"server"`

	// Identity configures the unprivileged service account.
	Identity IdentityConfig `yaml:"identity"`

	// Credential configures credential artifact provisioning.
	// All fields empty means the uncredentialed variant.
	Credential CredentialConfig `yaml:"credential"`

	// App configures the application entry point.
	App AppConfig `yaml:"app"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per
// environment.
type ConfigOverrides struct {
	Paths      *PathsConfig      `yaml:"paths,omitempty"`
	Server     *ServerConfig     `yaml:"server,omitempty"`
	Identity   *IdentityConfig   `yaml:"identity,omitempty"`
	Credential *CredentialConfig `yaml:"credential,omitempty"`
	App        *AppConfig        `yaml:"app,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// ImageRoot is the built image directory the workers serve from.
	ImageRoot string `yaml:"image_root"`

	// RunDir holds ephemeral runtime state (unsealed credentials,
	// worker state file). Should be tmpfs-backed in production.
	RunDir string `yaml:"run_dir"`

	// StateDir holds persistent state (watchdog kill records).
	StateDir string `yaml:"state_dir"`
}

// ServerConfig configures the pre-fork serve phase.
type ServerConfig struct {
	// Port is the TCP port the supervisor binds on all interfaces.
	Port int `yaml:"port"`

	// Workers is the number of worker processes in the pool. The
	// pool is fixed size; there is no dynamic scaling.
	Workers int `yaml:"workers"`

	// Threads is the number of concurrent request handler slots per
	// worker. Total in-flight capacity is Workers × Threads.
	Threads int `yaml:"threads"`

	// RequestTimeout is the hard per-request budget. A request still
	// running at the deadline costs its whole worker process; the
	// supervisor restarts it.
	RequestTimeout Duration `yaml:"request_timeout"`

	// ShutdownTimeout bounds the graceful drain when the supervisor
	// stops.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// WorkerBinary is the path to the prefork-worker binary.
	// Auto-detected next to the supervisor binary if empty.
	WorkerBinary string `yaml:"worker_binary"`
}

// IdentityConfig configures the service account.
type IdentityConfig struct {
	// Account is the unprivileged account workers run as. Required.
	Account string `yaml:"account"`
}

// CredentialConfig configures credential artifact provisioning.
type CredentialConfig struct {
	// Artifact is the credential file baked into the image. A ".age"
	// suffix marks it sealed; it is then unsealed into RunDir at
	// provision time.
	Artifact string `yaml:"artifact"`

	// EnvVar is the environment variable workers receive with the
	// absolute artifact path. Defaults to
	// GOOGLE_APPLICATION_CREDENTIALS, the variable cloud client
	// libraries discover without explicit configuration.
	EnvVar string `yaml:"env_var"`

	// IdentityKeyFile is the age identity key used to unseal a
	// sealed artifact. "-" reads the key from stdin. Required only
	// when Artifact is sealed.
	IdentityKeyFile string `yaml:"identity_key_file"`
}

// AppConfig configures the application entry point.
type AppConfig struct {
	// Entry is the application reference in module:attribute form
	// (e.g., "search:app"). Each worker resolves it exactly once at
	// startup; resolution failure is fatal for the worker.
	Entry string `yaml:"entry"`
}

// Default returns the default configuration. These defaults ensure
// all fields have sensible zero-values before the config file is
// merged in; the config file itself is required.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			ImageRoot: "/srv/prefork/image",
			RunDir:    "/run/prefork",
			StateDir:  "/var/lib/prefork",
		},
		Server: ServerConfig{
			Port:            5001,
			Workers:         2,
			Threads:         4,
			RequestTimeout:  Duration(120 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Credential: CredentialConfig{
			EnvVar: "GOOGLE_APPLICATION_CREDENTIALS",
		},
	}
}

// Load loads configuration from the PREFORK_CONFIG environment
// variable. There are no fallbacks: if PREFORK_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("PREFORK_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("PREFORK_CONFIG environment variable not set; " +
			"set it to the path of your prefork.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override config values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific override
// section matching c.Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.ImageRoot != "" {
			c.Paths.ImageRoot = overrides.Paths.ImageRoot
		}
		if overrides.Paths.RunDir != "" {
			c.Paths.RunDir = overrides.Paths.RunDir
		}
		if overrides.Paths.StateDir != "" {
			c.Paths.StateDir = overrides.Paths.StateDir
		}
	}

	if overrides.Server != nil {
		if overrides.Server.Port != 0 {
			c.Server.Port = overrides.Server.Port
		}
		if overrides.Server.Workers != 0 {
			c.Server.Workers = overrides.Server.Workers
		}
		if overrides.Server.Threads != 0 {
			c.Server.Threads = overrides.Server.Threads
		}
		if overrides.Server.RequestTimeout != 0 {
			c.Server.RequestTimeout = overrides.Server.RequestTimeout
		}
		if overrides.Server.ShutdownTimeout != 0 {
			c.Server.ShutdownTimeout = overrides.Server.ShutdownTimeout
		}
		if overrides.Server.WorkerBinary != "" {
			c.Server.WorkerBinary = overrides.Server.WorkerBinary
		}
	}

	if overrides.Identity != nil {
		if overrides.Identity.Account != "" {
			c.Identity.Account = overrides.Identity.Account
		}
	}

	if overrides.Credential != nil {
		if overrides.Credential.Artifact != "" {
			c.Credential.Artifact = overrides.Credential.Artifact
		}
		if overrides.Credential.EnvVar != "" {
			c.Credential.EnvVar = overrides.Credential.EnvVar
		}
		if overrides.Credential.IdentityKeyFile != "" {
			c.Credential.IdentityKeyFile = overrides.Credential.IdentityKeyFile
		}
	}

	if overrides.App != nil {
		if overrides.App.Entry != "" {
			c.App.Entry = overrides.App.Entry
		}
	}
}

// Validate checks the configuration for errors. All findings are
// reported together so a bad config file is fixed in one pass.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Paths.ImageRoot == "" {
		errs = append(errs, fmt.Errorf("paths.image_root is required"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.Workers < 1 {
		errs = append(errs, fmt.Errorf("server.workers must be positive, got %d", c.Server.Workers))
	}
	if c.Server.Threads < 1 {
		errs = append(errs, fmt.Errorf("server.threads must be positive, got %d", c.Server.Threads))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout must be positive"))
	}
	if c.Identity.Account == "" {
		errs = append(errs, fmt.Errorf("identity.account is required"))
	}
	if c.App.Entry == "" {
		errs = append(errs, fmt.Errorf("app.entry is required"))
	}
	if c.Credential.Artifact != "" && c.Credential.EnvVar == "" {
		errs = append(errs, fmt.Errorf("credential.env_var is required when credential.artifact is set"))
	}

	return errors.Join(errs...)
}
