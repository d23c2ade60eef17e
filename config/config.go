// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads engine configuration from YAML files and
// turns it into ready-to-use handles.
package config // import "tablelog.io/config"

import (
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v2"

	"tablelog.io/checkpoint"
	"tablelog.io/commit"
	"tablelog.io/errors"
	"tablelog.io/log"
	"tablelog.io/storage"
	"tablelog.io/table"

	// Registered storage backends.
	_ "tablelog.io/storage/disk"
)

// Config holds the settings for one engine instance.
type Config struct {
	// Backend names a registered storage backend, such as "disk".
	Backend string `yaml:"backend"`
	// BackendOptions are backend-specific dial options, such as
	// basePath for the disk backend.
	BackendOptions map[string]string `yaml:"backendOptions"`
	// CheckpointInterval is the commit interval at which automatic
	// checkpoints are written. Zero disables them.
	CheckpointInterval int `yaml:"checkpointInterval"`
	// CommitRetries bounds rebase attempts per commit.
	CommitRetries int `yaml:"commitRetries"`
	// CacheSize is the number of snapshots cached per table handle.
	CacheSize int `yaml:"cacheSize"`
	// LogLevel is one of debug, info, error, disabled.
	LogLevel string `yaml:"logLevel"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Backend:            "disk",
		CheckpointInterval: 10,
		CommitRetries:      10,
		CacheSize:          16,
		LogLevel:           "info",
	}
}

// FromFile reads the YAML configuration at name, applying defaults
// for fields the file leaves unset. Unknown fields are an error so
// that typos are caught early.
func FromFile(name string) (Config, error) {
	const op errors.Op = "config.FromFile"
	cfg := Default()
	data, err := os.ReadFile(name)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, errors.E(op, errors.NotExist, err)
		}
		return cfg, errors.E(op, errors.PermanentIO, err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, errors.E(op, errors.Invalid, errors.Errorf("%s: %v", filepath.Base(name), err))
	}
	if err := cfg.valid(); err != nil {
		return cfg, errors.E(op, err)
	}
	return cfg, nil
}

func (c Config) valid() error {
	if c.Backend == "" {
		return errors.E(errors.Invalid, errors.Str("no storage backend configured"))
	}
	if c.CheckpointInterval < 0 {
		return errors.E(errors.Invalid, errors.Errorf("negative checkpointInterval %d", c.CheckpointInterval))
	}
	if c.CommitRetries < 0 {
		return errors.E(errors.Invalid, errors.Errorf("negative commitRetries %d", c.CommitRetries))
	}
	switch c.LogLevel {
	case "", "debug", "info", "error", "disabled":
	default:
		return errors.E(errors.Invalid, errors.Errorf("unknown logLevel %q", c.LogLevel))
	}
	return nil
}

// Apply sets process-wide settings, currently just the log level.
func (c Config) Apply() error {
	const op errors.Op = "config.Apply"
	if c.LogLevel == "" {
		return nil
	}
	if err := log.SetLevel(c.LogLevel); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Storage dials the configured storage backend.
func (c Config) Storage() (storage.Storage, error) {
	const op errors.Op = "config.Storage"
	var opts []storage.DialOpts
	for k, v := range c.BackendOptions {
		opts = append(opts, storage.WithKeyValue(k, v))
	}
	store, err := storage.Dial(c.Backend, opts...)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return store, nil
}

// TableOptions builds the table.Options implied by the configuration,
// using the given store.
func (c Config) TableOptions(store storage.Storage) table.Options {
	return table.Options{
		Store:            store,
		CheckpointPolicy: checkpoint.Policy{Interval: c.CheckpointInterval},
		CacheSize:        c.CacheSize,
		Commit:           &commit.Options{MaxRetries: c.CommitRetries},
	}
}
